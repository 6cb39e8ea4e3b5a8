package route

import (
	"net/http"
	"regexp"
	"strings"
)

// Strategy names the way a request is answered.
type Strategy string

const (
	// Not intercepted, the request goes to the network as-is.
	StrategyBypass Strategy = "bypass"
	// Network with timeout, falling back to stored responses and the shell document.
	StrategyNetworkFirst Strategy = "network-first"
	// Stored response immediately, refreshed from the network in the background.
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	// Stored image if present, otherwise network; the image store is bounded.
	StrategyCacheFirst Strategy = "cache-first"
	// Any stored response, otherwise network without storing.
	StrategyCacheThenNetwork Strategy = "cache-then-network"
)

var imagePattern = regexp.MustCompile(`\.(png|jpg|jpeg|webp|gif)$`)

// Classify picks the strategy for a same-origin GET request.
// The first matching condition wins.
func Classify(r *http.Request) Strategy {
	if IsNavigation(r) {
		return StrategyNetworkFirst
	}
	dest := r.Header.Get("Sec-Fetch-Dest")
	if dest == "style" || dest == "script" ||
		strings.HasSuffix(r.URL.Path, ".css") || strings.HasSuffix(r.URL.Path, ".js") {
		return StrategyStaleWhileRevalidate
	}
	if dest == "image" || imagePattern.MatchString(r.URL.Path) {
		return StrategyCacheFirst
	}
	return StrategyCacheThenNetwork
}

// IsNavigation reports whether the request is a page navigation,
// either by its fetch mode or by asking for HTML.
func IsNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(accept, "text/html") {
			return true
		}
	}
	return false
}
