package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/pkg/route"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	filename := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(filename, []byte(contents), 0644))
	return filename
}

func TestGetConfigDefaults(t *testing.T) {
	config, err := getConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "v1", config.VersionPrefix)
	assert.Equal(t, 60, config.MaxImageEntries)
	assert.Equal(t, 7*time.Second, config.NavigationTimeout)
	assert.Equal(t, 8*time.Second, config.NetworkTimeout)
	assert.Equal(t, "/index.html", config.ShellURL)
}

func TestGetConfigFromFile(t *testing.T) {
	filename := writeConfig(t, `
origin: https://example.com
port: 9000
versionPrefix: v2
precache:
  - /
  - /offline.html
maxImageEntries: 20
navigationTimeout: 3s
networkTimeout: 5s
rules:
  - prefix: /api/
    strategy: network-first
`)
	config, err := getConfig(filename)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", config.Origin)
	assert.Equal(t, 9000, config.Port)
	assert.Equal(t, []string{"/", "/offline.html"}, config.Precache)
	assert.Equal(t, 3*time.Second, config.NavigationTimeout)
	require.Len(t, config.Rules, 1)
	assert.Equal(t, route.StrategyNetworkFirst, config.Rules[0].Strategy)

	cacheConfig := config.cacheConfig(time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "v2::2024-05-01", cacheConfig.VersionTag)
	assert.Equal(t, "v2::2024-05-01::images", cacheConfig.StoreNames.Images)
	assert.Equal(t, 20, cacheConfig.MaxImageEntries)
	assert.Equal(t, 5*time.Second, cacheConfig.NetworkTimeout)
}

func TestGetConfigEnvironmentOverridesFile(t *testing.T) {
	filename := writeConfig(t, "origin: https://example.com\nport: 9000\n")
	t.Setenv("OFFLINE_CACHE_PORT", "9100")
	t.Setenv("OFFLINE_CACHE_PRECACHE", "/,/app.js")

	config, err := getConfig(filename)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Port)
	assert.Equal(t, []string{"/", "/app.js"}, config.Precache)
}

func TestGetConfigRejectsUnknownStrategy(t *testing.T) {
	filename := writeConfig(t, `
rules:
  - path: /feed
    strategy: cache-forever
`)
	_, err := getConfig(filename)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestGetConfigRejectsDisabledLimits(t *testing.T) {
	tests := map[string]string{
		"navigation timeout": "navigationTimeout: 0s\n",
		"network timeout":    "networkTimeout: 0s\n",
		"max image entries":  "maxImageEntries: 0\n",
		"negative entries":   "maxImageEntries: -1\n",
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := getConfig(writeConfig(t, contents))
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}

func TestGetConfigMissingFile(t *testing.T) {
	_, err := getConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestConfigOrigin(t *testing.T) {
	config := Config{Origin: "https://10.0.0.1", Host: "example.com"}
	originURL, host, err := config.origin()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", originURL.Host)
	assert.Equal(t, "example.com", host)

	_, _, err = Config{Origin: "example.com"}.origin()
	assert.Error(t, err)
	_, _, err = Config{}.origin()
	assert.Error(t, err)
}
