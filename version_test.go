package offlinecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVersionTagUsesUTCDate(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC
	now := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*60*60))
	assert.Equal(t, "v1::2024-05-02", VersionTag("v1", now))
}

func TestNewCacheConfig(t *testing.T) {
	cfg := NewCacheConfig("", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	assert.Equal(t, "v1::2024-05-01", cfg.VersionTag)
	assert.Equal(t, StoreNames{
		Precache: "v1::2024-05-01::precache",
		Runtime:  "v1::2024-05-01::runtime",
		Images:   "v1::2024-05-01::images",
	}, cfg.StoreNames)
	assert.Equal(t, []string{"/", "/index.html", "/assets/theme.css", "/assets/theme.js"}, cfg.PrecacheURLs)
	assert.Equal(t, 60, cfg.MaxImageEntries)
	assert.Equal(t, 7*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 8*time.Second, cfg.NetworkTimeout)
	assert.Equal(t, "/index.html", cfg.ShellURL)

	assert.True(t, cfg.StoreNames.Has("v1::2024-05-01::images"))
	assert.False(t, cfg.StoreNames.Has("v1::2024-04-30::images"))
	assert.Len(t, cfg.StoreNames.All(), 3)
}
