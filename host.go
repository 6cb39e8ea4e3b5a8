package offlinecache

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Host wires routers to an HTTP server.
// It runs the install and activate lifecycle for each new router and hands requests
// to the router that currently controls the clients.
type Host struct {
	// network for requests no router intercepts
	network Network
	log     zerolog.Logger
	current atomic.Pointer[Router]
	// deploys are serialized, so an activation never overlaps another install
	deployMutex sync.Mutex
}

// NewHost creates a host. Until the first deploy every request goes to the network.
func NewHost(network Network, logger *zerolog.Logger) *Host {
	h := &Host{network: network}
	if logger == nil {
		h.log = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		h.log = *logger
	}
	return h
}

// Current returns the controlling router, or nil before the first deploy.
func (h *Host) Current() *Router {
	return h.current.Load()
}

// Deploy installs and activates the router, then lets it take control immediately.
// If installation fails the previously controlling router stays in place.
func (h *Host) Deploy(ctx context.Context, router *Router) error {
	h.deployMutex.Lock()
	defer h.deployMutex.Unlock()

	if err := router.Install(ctx); err != nil {
		return err
	}
	// skip waiting: activate without waiting for the previous router's clients to go away
	if err := router.Activate(ctx); err != nil {
		return err
	}
	previous := h.current.Swap(router)
	h.log.Info().Str("version", router.VersionTag()).Msg("Router claimed clients")
	if previous != nil && previous != router {
		go h.retire(previous)
	}
	return nil
}

// retire waits for the background work of a replaced router, bounded by its network timeout.
func (h *Host) retire(router *Router) {
	ctx := context.Background()
	if timeout := router.config.NetworkTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*timeout)
		defer cancel()
	}
	if err := router.DrainContext(ctx); err != nil {
		h.log.Warn().Err(err).Str("version", router.VersionTag()).Msg("Replaced router still has background work")
		return
	}
	h.log.Debug().Str("version", router.VersionTag()).Msg("Replaced router drained")
}

// ServeHTTP implements the http.Handler interface.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if router := h.current.Load(); router != nil {
		if res, ok := router.HandleFetch(r); ok {
			if err := Respond(w, res); err != nil {
				h.log.Error().Err(err).Msg("Could not write response body to client")
			}
			return
		}
	}
	h.passthrough(w, r)
}

// passthrough is the default handling of requests that are not intercepted.
func (h *Host) passthrough(w http.ResponseWriter, r *http.Request) {
	h.log.Trace().Msgf("Passing through %s %s", r.Method, r.URL.String())
	res, err := h.network.Fetch(r.Context(), r)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not fetch response from server")
		http.Error(w, "Error contacting origin", http.StatusBadGateway)
		return
	}
	cs := CacheStatus{}
	cs.Forward(CacheStatusFwdBypass)
	res.Header.Add("Cache-Status", cs.String())
	if err := Respond(w, res); err != nil {
		h.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// RunRollover redeploys whenever the version tag changes, checking every interval.
// build creates the router for a point in time. It returns when ctx is done.
//
// A failed deploy is retried on the next check.
func (h *Host) RunRollover(ctx context.Context, interval time.Duration, build func(time.Time) *Router) {
	h.log.Info().Msgf("Starting version rollover loop with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next := build(now())
		if current := h.current.Load(); current != nil && current.VersionTag() == next.VersionTag() {
			h.log.Trace().Msg("Version unchanged, pausing rollover")
			continue
		}
		h.log.Info().Str("version", next.VersionTag()).Msg("Version changed, deploying")
		if err := h.Deploy(ctx, next); err != nil {
			h.log.Warn().Err(err).Str("version", next.VersionTag()).Msg("Could not deploy new version")
		}
	}
}
