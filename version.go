package offlinecache

import (
	"time"
)

const (
	DefaultVersionPrefix     = "v1"
	DefaultMaxImageEntries   = 60
	DefaultNavigationTimeout = 7 * time.Second
	DefaultNetworkTimeout    = 8 * time.Second
	DefaultShellURL          = "/index.html"
)

// DefaultPrecacheURLs is the application shell needed for minimal offline operation.
var DefaultPrecacheURLs = []string{
	"/",
	"/index.html",
	"/assets/theme.css",
	"/assets/theme.js",
}

// StoreNames are the names of the three stores belonging to one version.
type StoreNames struct {
	Precache string
	Runtime  string
	Images   string
}

// All returns the current store names.
func (n StoreNames) All() []string {
	return []string{n.Precache, n.Runtime, n.Images}
}

// Has reports whether the store name belongs to this version.
func (n StoreNames) Has(name string) bool {
	return name == n.Precache || name == n.Runtime || name == n.Images
}

// VersionTag derives the tag that namespaces all stores, e.g. "v1::2024-05-01".
// The date is taken in UTC so that every instance deployed on the same day agrees.
func VersionTag(prefix string, now time.Time) string {
	return prefix + "::" + now.UTC().Format("2006-01-02")
}

// NamesForTag returns the store names for a version tag.
func NamesForTag(tag string) StoreNames {
	return StoreNames{
		Precache: tag + "::precache",
		Runtime:  tag + "::runtime",
		Images:   tag + "::images",
	}
}

// CacheConfig is everything a router needs to know about its stores.
// It is computed once and owned by the router.
type CacheConfig struct {
	VersionTag string
	StoreNames StoreNames
	// Request URIs stored in the precache store on install.
	PrecacheURLs []string
	// Request URI of the document served to navigations when offline and nothing better is stored.
	ShellURL string
	// Upper bound of the image store, trimmed oldest-inserted first.
	MaxImageEntries int
	// Network deadline for navigations.
	NavigationTimeout time.Duration
	// Network deadline for every other fetch, including background revalidation and install.
	// Zero means no deadline.
	NetworkTimeout time.Duration
}

// NewCacheConfig returns the default configuration for the version derived from prefix and now.
func NewCacheConfig(prefix string, now time.Time) CacheConfig {
	if prefix == "" {
		prefix = DefaultVersionPrefix
	}
	tag := VersionTag(prefix, now)
	return CacheConfig{
		VersionTag:        tag,
		StoreNames:        NamesForTag(tag),
		PrecacheURLs:      append([]string(nil), DefaultPrecacheURLs...),
		ShellURL:          DefaultShellURL,
		MaxImageEntries:   DefaultMaxImageEntries,
		NavigationTimeout: DefaultNavigationTimeout,
		NetworkTimeout:    DefaultNetworkTimeout,
	}
}

// now is the clock used for version tags and stored-at times.
var now = time.Now
