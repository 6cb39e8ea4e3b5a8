package main

import (
	"net/url"
	"os"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/pkg/route"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Origin            string        `yaml:"origin" env:"ORIGIN"`
	Host              string        `yaml:"host" env:"HOST"`
	Port              int           `yaml:"port" env:"PORT"`
	DB                string        `yaml:"db" env:"DB"`
	VersionPrefix     string        `yaml:"versionPrefix" env:"VERSION_PREFIX"`
	Precache          []string      `yaml:"precache" env:"PRECACHE"`
	ShellURL          string        `yaml:"shell" env:"SHELL_URL"`
	MaxImageEntries   int           `yaml:"maxImageEntries" env:"MAX_IMAGE_ENTRIES"`
	NavigationTimeout time.Duration `yaml:"navigationTimeout" env:"NAVIGATION_TIMEOUT"`
	NetworkTimeout    time.Duration `yaml:"networkTimeout" env:"NETWORK_TIMEOUT"`
	RolloverInterval  time.Duration `yaml:"rolloverInterval" env:"ROLLOVER_INTERVAL"`
	Rules             route.Rules   `yaml:"rules"`
}

func defaultConfig() Config {
	return Config{
		Port:              8080,
		DB:                "cache.db",
		VersionPrefix:     offlinecache.DefaultVersionPrefix,
		Precache:          append([]string(nil), offlinecache.DefaultPrecacheURLs...),
		ShellURL:          offlinecache.DefaultShellURL,
		MaxImageEntries:   offlinecache.DefaultMaxImageEntries,
		NavigationTimeout: offlinecache.DefaultNavigationTimeout,
		NetworkTimeout:    offlinecache.DefaultNetworkTimeout,
		RolloverInterval:  time.Minute,
	}
}

// getConfig reads the optional config file and applies OFFLINE_CACHE_* environment overrides.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, errors.Wrapf(err, errors.CodeNotFound, "could not read config %s", filename)
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, errors.Wrapf(err, errors.CodeInvalidConfig, "could not parse config %s", filename)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: "OFFLINE_CACHE_"}); err != nil {
		return config, errors.Wrap(err, errors.CodeInvalidConfig, "could not parse environment")
	}
	return config, config.validate()
}

func (c Config) validate() error {
	if c.Port <= 0 {
		return errors.Newf(errors.CodeInvalidConfig, "invalid port %d", c.Port)
	}
	if c.RolloverInterval <= 0 {
		return errors.New(errors.CodeInvalidConfig, "rollover interval must be positive")
	}
	if c.NavigationTimeout <= 0 {
		return errors.New(errors.CodeInvalidConfig, "navigation timeout must be positive")
	}
	if c.NetworkTimeout <= 0 {
		return errors.New(errors.CodeInvalidConfig, "network timeout must be positive")
	}
	if c.MaxImageEntries <= 0 {
		return errors.New(errors.CodeInvalidConfig, "max image entries must be positive")
	}
	if err := c.Rules.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid rules")
	}
	return nil
}

// cacheConfig derives the router configuration for the version current at the given time.
func (c Config) cacheConfig(at time.Time) offlinecache.CacheConfig {
	cfg := offlinecache.NewCacheConfig(c.VersionPrefix, at)
	cfg.PrecacheURLs = append([]string(nil), c.Precache...)
	cfg.ShellURL = c.ShellURL
	cfg.MaxImageEntries = c.MaxImageEntries
	cfg.NavigationTimeout = c.NavigationTimeout
	cfg.NetworkTimeout = c.NetworkTimeout
	return cfg
}

// origin returns the origin to proxy to and the hostname to send it.
func (c Config) origin() (url.URL, string, error) {
	if c.Origin == "" {
		return url.URL{}, "", errors.New(errors.CodeInvalidConfig, "no origin configured")
	}
	originURL, err := url.Parse(c.Origin)
	if err != nil {
		return url.URL{}, "", errors.Wrapf(err, errors.CodeInvalidConfig, "could not parse origin %s", c.Origin)
	}
	if originURL.Scheme == "" || originURL.Host == "" {
		return url.URL{}, "", errors.Newf(errors.CodeInvalidConfig, "origin %s is not an absolute URL", c.Origin)
	}
	return *originURL, c.Host, nil
}
