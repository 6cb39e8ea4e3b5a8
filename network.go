package offlinecache

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"

	"github.com/jmgilman/go/errors"
)

// Network performs the real request for a strategy.
// Responses with any status are returned without error, only transport failures are errors.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// NetworkFunc adapts a function to the Network interface.
type NetworkFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f NetworkFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// OriginNetwork fetches from the site origin over HTTP.
type OriginNetwork struct {
	originURL  url.URL
	originHost string
	httpClient http.Client
}

// NewOriginNetwork creates a network for the origin.
// The optional host is used for the Host header and TLS negotiation,
// e.g. if the origin URL is just an IP address.
func NewOriginNetwork(originURL url.URL, host string) *OriginNetwork {
	n := &OriginNetwork{
		originURL:  originURL,
		originHost: host,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	// use provided hostname for origin if configured
	if host != "" {
		n.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
	return n
}

// Fetch the resource specified in the incoming request from the origin.
// Absolute request URLs are fetched as-is.
func (n *OriginNetwork) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	uri := r.URL.String()
	if !r.URL.IsAbs() {
		uri = n.originURL.String() + r.URL.RequestURI()
	}
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "could not create request for %s", uri)
	}
	if n.originHost != "" && !r.URL.IsAbs() {
		req.Host = n.originHost
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")

	res, err := n.httpClient.Do(req)
	if err != nil {
		return nil, networkError(ctx, err, uri)
	}
	return res, nil
}

// HandlerNetwork serves requests from an in-process handler, e.g. a static file server.
type HandlerNetwork struct {
	Handler http.Handler
}

func (n HandlerNetwork) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	req := r.Clone(ctx)
	type result struct {
		res *http.Response
		err error
	}
	done := make(chan result, 1)
	go func() {
		rs := tee.NewResponseSaver()
		n.Handler.ServeHTTP(rs, req)
		res, err := rs.Result(req)
		done <- result{res, err}
	}()
	select {
	case result := <-done:
		return result.res, result.err
	case <-ctx.Done():
		return nil, networkError(ctx, ctx.Err(), r.URL.String())
	}
}

// networkError classifies transport failures, deadline misses become timeouts.
func networkError(ctx context.Context, err error, uri string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(err, errors.CodeTimeout, "fetching %s timed out", uri)
	}
	return errors.Wrapf(err, errors.CodeNetwork, "could not fetch %s", uri)
}

// fetchWithTimeout bounds the request, including reading the body, by timeout.
// The returned response is fully buffered.
func fetchWithTimeout(ctx context.Context, network Network, req *http.Request, timeout time.Duration) (*http.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := network.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := serializer.Buffer(res); err != nil {
		return nil, networkError(ctx, err, req.URL.String())
	}
	return res, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
