package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const (
	originSeparator = ":"
	methodSeparator = ":"
)

// CacheKeyer derives the canonical store key for a request.
// Stores only ever hold GET responses, so the key is the origin plus the request URI.
type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// Key returns the cache key for a GET request.
// The fragment is never part of the key.
func (c CacheKeyer) Key(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	return c.KeyForURI(r.URL.RequestURI()), nil
}

// KeyForURI returns the key a GET request for the given request URI would have.
func (c CacheKeyer) KeyForURI(uri string) string {
	return c.OriginPrefix + http.MethodGet + methodSeparator + uri
}

// RequestFromKey generates a request that would result in the provided key.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) RequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.OriginPrefix) {
		return nil, fmt.Errorf("Key and origin do not match")
	}
	method, uri, found := strings.Cut(strings.TrimPrefix(key, c.OriginPrefix), methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
