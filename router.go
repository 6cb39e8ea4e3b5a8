package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/pkg/route"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	// Storage for the cache stores.
	Storage cache.Storage
	// Network used for everything that is not answered from a store.
	Network Network
	// URL of the site origin. Requests for other origins are not intercepted.
	OriginURL url.URL
	// Version tag, store names and limits. See NewCacheConfig.
	Cache CacheConfig
	// Optional rules forcing a strategy for some paths.
	Rules route.Rules
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Worker is the set of operations the host wires to its lifecycle and request events.
type Worker interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	// HandleFetch answers an intercepted request.
	// It returns false if the request is not intercepted and should get default handling.
	HandleFetch(r *http.Request) (*http.Response, bool)
}

// Router is one version of the offline cache.
// It answers same-origin GET requests from its stores or the network.
type Router struct {
	storage   cache.Storage
	network   Network
	originURL url.URL
	keyer     cachekey.CacheKeyer
	config    CacheConfig
	rules     route.Rules
	log       zerolog.Logger
	activated atomic.Bool
	// background work that outlives the request, e.g. revalidation and trimming
	background sync.WaitGroup
}

var _ Worker = (*Router)(nil)

// New creates the router for one version of the stores.
func New(config Config) *Router {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("version", config.Cache.VersionTag).
		Logger()

	return &Router{
		storage:   config.Storage,
		network:   config.Network,
		originURL: config.OriginURL,
		keyer:     cachekey.NewCacheKeyer(config.OriginURL.String()),
		config:    config.Cache,
		rules:     config.Rules,
		log:       logger,
	}
}

// VersionTag returns the version this router serves.
func (rt *Router) VersionTag() string {
	return rt.config.VersionTag
}

// StoreNames returns the names of the stores this router owns.
func (rt *Router) StoreNames() StoreNames {
	return rt.config.StoreNames
}

// Activated reports whether Activate has completed.
func (rt *Router) Activated() bool {
	return rt.activated.Load()
}

// Drain waits for background work started by earlier requests.
func (rt *Router) Drain() {
	rt.background.Wait()
}

// DrainContext is Drain bounded by ctx. It returns the context error if ctx is done first.
func (rt *Router) DrainContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rt.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goBackground runs fn after the request has been answered.
func (rt *Router) goBackground(fn func()) {
	rt.background.Add(1)
	go func() {
		defer rt.background.Done()
		fn()
	}()
}

// HandleFetch classifies the request and dispatches it to a strategy.
// Cross-origin and non-GET requests are not intercepted.
func (rt *Router) HandleFetch(r *http.Request) (*http.Response, bool) {
	if r.Method != http.MethodGet || !rt.sameOrigin(r) {
		return nil, false
	}
	strategy := rt.rules.Strategy(r)
	key, err := rt.keyer.Key(r)
	if err != nil {
		return nil, false
	}
	log := rt.log.With().Str("key", key).Str("strategy", string(strategy)).Logger()
	log.Trace().Msgf("Incoming request: %s %s", r.Method, r.URL.Path)

	var res *http.Response
	var cs CacheStatus
	switch strategy {
	case route.StrategyBypass:
		return nil, false
	case route.StrategyNetworkFirst:
		res, cs = rt.networkFirst(r, key, log)
	case route.StrategyStaleWhileRevalidate:
		res, cs = rt.staleWhileRevalidate(r, key, log)
	case route.StrategyCacheFirst:
		res, cs = rt.cacheFirst(r, key, log)
	default:
		res, cs = rt.cacheThenNetwork(r, key, log)
	}
	res.Header.Add("Cache-Status", cs.String())
	if res.Request == nil {
		res.Request = r
	}
	logResponse(log, r, res, cs)
	return res, true
}

// sameOrigin reports whether the request targets the site origin.
// Requests with relative URLs are made to the router itself and therefore same-origin.
func (rt *Router) sameOrigin(r *http.Request) bool {
	if !r.URL.IsAbs() {
		return true
	}
	return strings.EqualFold(r.URL.Scheme, rt.originURL.Scheme) &&
		strings.EqualFold(r.URL.Host, rt.originURL.Host)
}

// put stores a copy of the response. The live response stays readable.
func (rt *Router) put(store cache.Store, key string, res *http.Response, log zerolog.Logger) bool {
	bts, err := serializer.ToBytes(serializer.StoredResponse{Response: res, StoredAt: now()})
	if err != nil {
		log.Error().Err(err).Msg("Could not serialize response")
		return false
	}
	if err := store.Put(key, bts); err != nil {
		if errors.Is(err, cache.ErrReleased) {
			// a newer version took over while this request was in flight
			log.Debug().Str("store", store.Name()).Msg("Store released, response not stored")
			return false
		}
		log.Error().Err(err).Str("store", store.Name()).Msg("Could not write to cache")
		return false
	}
	log.Trace().Str("store", store.Name()).Msg("Cache write")
	return true
}

// open opens a store, logging failures.
func (rt *Router) open(name string, log zerolog.Logger) (cache.Store, bool) {
	store, err := rt.storage.Open(name)
	if err != nil {
		log.Error().Err(err).Str("store", name).Msg("Could not open store")
		return nil, false
	}
	return store, true
}

// match looks the key up in one store, or in every store if store is nil.
func (rt *Router) match(store cache.Store, key string, r *http.Request, log zerolog.Logger) *http.Response {
	var entry cache.Entry
	var ok bool
	var err error
	if store != nil {
		entry, ok, err = store.Match(key)
	} else {
		entry, ok, err = rt.storage.Match(key)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Could not read from cache")
		return nil
	}
	if !ok {
		return nil
	}
	sRes, err := serializer.FromBytes(entry.Bytes, r)
	if err != nil {
		// a corrupted entry is as good as a missing one
		log.Error().Err(err).Msg("Could not read stored response")
		return nil
	}
	return sRes.Response
}

// Respond writes the response to the client.
func Respond(w http.ResponseWriter, res *http.Response) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Del("Connection")
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	_, err := io.Copy(w, res.Body)
	return err
}

func logResponse(log zerolog.Logger, r *http.Request, res *http.Response, cs CacheStatus) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("code", res.StatusCode).
		Str("status", string(cs.status)).
		Str("fwd", string(cs.fwdReason)).
		Bool("stored", cs.stored).
		Str("detail", cs.detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
