package offlinecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// networkFirst answers navigations from the network, bounded by the navigation timeout.
// A successful response is copied into the runtime store.
// If the network fails, any stored response for the key is used, then the shell document, then a 503.
func (rt *Router) networkFirst(r *http.Request, key string, log zerolog.Logger) (*http.Response, CacheStatus) {
	var cs CacheStatus
	res, err := fetchWithTimeout(r.Context(), rt.network, r, rt.config.NavigationTimeout)
	if err == nil {
		cs.Forward(CacheStatusFwdRequest)
		if store, ok := rt.open(rt.config.StoreNames.Runtime, log); ok && rt.put(store, key, res, log) {
			cs.Stored()
		}
		return res, cs
	}
	log.Debug().Err(err).Msg("Network failed for navigation, falling back to cache")

	if cached := rt.match(nil, key, r, log); cached != nil {
		cs.Hit()
		cs.Detail(CacheStatusDetailOffline)
		return cached, cs
	}
	if shell := rt.match(nil, rt.keyer.KeyForURI(rt.config.ShellURL), r, log); shell != nil {
		cs.Hit()
		cs.Detail(CacheStatusDetailShell)
		return shell, cs
	}
	cs.Forward(CacheStatusFwdUriMiss)
	cs.Detail(CacheStatusDetailSynthesized)
	return synthesize(r, http.StatusServiceUnavailable, "Offline", "Offline"), cs
}

type revalidation struct {
	res    *http.Response
	stored bool
}

// staleWhileRevalidate answers styles and scripts from the runtime store when possible,
// while always refreshing the stored copy from the network in the background.
// Without a stored copy it waits for the network, and answers 504 if that fails too.
func (rt *Router) staleWhileRevalidate(r *http.Request, key string, log zerolog.Logger) (*http.Response, CacheStatus) {
	var cs CacheStatus
	store, storeOk := rt.open(rt.config.StoreNames.Runtime, log)
	var cached *http.Response
	if storeOk {
		cached = rt.match(store, key, r, log)
	}

	// the update must outlive the client request
	req := r.Clone(context.WithoutCancel(r.Context()))
	fresh := make(chan revalidation, 1)
	rt.goBackground(func() {
		res, err := fetchWithTimeout(req.Context(), rt.network, req, rt.config.NetworkTimeout)
		if err != nil {
			log.Debug().Err(err).Msg("Could not revalidate")
			fresh <- revalidation{}
			return
		}
		stored := false
		if storeOk && isOK(res) {
			stored = rt.put(store, key, res, log)
		}
		fresh <- revalidation{res: res, stored: stored}
	})

	if cached != nil {
		cs.Hit()
		return cached, cs
	}
	cs.Forward(CacheStatusFwdUriMiss)
	if result := <-fresh; result.res != nil {
		if result.stored {
			cs.Stored()
		}
		return result.res, cs
	}
	cs.Detail(CacheStatusDetailSynthesized)
	return synthesize(r, http.StatusGatewayTimeout, "", ""), cs
}

// cacheFirst answers images from the image store without contacting the network.
// Misses are fetched, stored if successful, and the image store is trimmed afterwards.
func (rt *Router) cacheFirst(r *http.Request, key string, log zerolog.Logger) (*http.Response, CacheStatus) {
	var cs CacheStatus
	store, storeOk := rt.open(rt.config.StoreNames.Images, log)
	if storeOk {
		if cached := rt.match(store, key, r, log); cached != nil {
			cs.Hit()
			return cached, cs
		}
	}
	cs.Forward(CacheStatusFwdUriMiss)
	res, err := fetchWithTimeout(r.Context(), rt.network, r, rt.config.NetworkTimeout)
	if err != nil {
		log.Debug().Err(err).Msg("Could not fetch image")
		cs.Detail(CacheStatusDetailSynthesized)
		return synthesize(r, http.StatusGatewayTimeout, "", ""), cs
	}
	if storeOk && isOK(res) && rt.put(store, key, res, log) {
		cs.Stored()
		rt.goBackground(func() {
			rt.trimImages(store, log)
		})
	}
	return res, cs
}

// cacheThenNetwork answers from any store, otherwise from the network without storing.
func (rt *Router) cacheThenNetwork(r *http.Request, key string, log zerolog.Logger) (*http.Response, CacheStatus) {
	var cs CacheStatus
	if cached := rt.match(nil, key, r, log); cached != nil {
		cs.Hit()
		return cached, cs
	}
	cs.Forward(CacheStatusFwdUriMiss)
	res, err := fetchWithTimeout(r.Context(), rt.network, r, rt.config.NetworkTimeout)
	if err != nil {
		log.Debug().Err(err).Msg("Could not fetch")
		cs.Detail(CacheStatusDetailSynthesized)
		return synthesize(r, http.StatusGatewayTimeout, "", ""), cs
	}
	return res, cs
}

// isOK is true for 2xx responses.
func isOK(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode < 300
}

// synthesize creates a plain text response for when neither stores nor network can answer.
func synthesize(r *http.Request, code int, statusText string, body string) *http.Response {
	if statusText == "" {
		statusText = http.StatusText(code)
	}
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", code, statusText),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
