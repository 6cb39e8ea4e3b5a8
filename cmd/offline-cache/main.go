package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	originFlag         string
	addrFlag           string
	hostFlag           string
	dbFilenameFlag     string
	versionPrefixFlag  string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory stores, default cache.db)")
	flag.StringVar(&versionPrefixFlag, "version-prefix", "", "Prefix of the cache version tag (default v1)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	config, err := getConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	applyFlags(&config)

	originURL, originHost, err := config.origin()
	if err != nil {
		log.Fatal().Err(err).Msg("Please specify origin")
	}

	var storage cache.Storage
	if config.DB == "memory" {
		storage = cache.NewMemStorage()
	} else {
		sqliteStorage, err := cache.NewSQLiteStorage(config.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open cache DB")
		}
		defer sqliteStorage.Close()
		storage = sqliteStorage
	}

	network := offlinecache.NewOriginNetwork(originURL, originHost)
	host := offlinecache.NewHost(network, &log.Logger)
	build := func(at time.Time) *offlinecache.Router {
		return offlinecache.New(offlinecache.Config{
			Storage:   storage,
			Network:   network,
			OriginURL: originURL,
			Cache:     config.cacheConfig(at),
			Rules:     config.Rules,
			Logger:    &log.Logger,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a failed first install leaves the host passing requests through until the next rollover check
	if err := host.Deploy(ctx, build(time.Now())); err != nil {
		log.Warn().Err(err).Msg("Initial install failed, passing requests through")
	}
	go host.RunRollover(ctx, config.RolloverInterval, build)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: newServer(log.Logger, host, storage, build),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, originURL.String(), originHost)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
	if current := host.Current(); current != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := current.DrainContext(drainCtx); err != nil {
			log.Warn().Err(err).Msg("Background work did not finish before shutdown")
		}
	}
}

// applyFlags overrides file and environment configuration with flags given on the command line.
func applyFlags(config *Config) {
	if originFlag != "" {
		config.Origin = originFlag
	} else if addrFlag != "" {
		config.Origin = "https://" + addrFlag
		config.Host = hostFlag
	}
	if portFlag != 0 {
		config.Port = portFlag
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	if versionPrefixFlag != "" {
		config.VersionPrefix = versionPrefixFlag
	}
}
