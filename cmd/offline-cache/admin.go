package main

import (
	"encoding/json"
	"net/http"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const adminPrefix = "/.offline-cache"

type storeSummary struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

type storesResponse struct {
	Version string         `json:"version"`
	Stores  []storeSummary `json:"stores"`
}

// newServer mounts the admin routes next to the host, which gets every other request.
func newServer(logger zerolog.Logger, host *offlinecache.Host, storage cache.Storage, build func(time.Time) *offlinecache.Router) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))

	r.Route(adminPrefix, func(r chi.Router) {
		r.Get("/stores", listStores(host, storage))
		r.Post("/deploy", deploy(host, build))
	})
	r.Handle("/*", host)
	return r
}

func listStores(host *offlinecache.Host, storage cache.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		names, err := storage.Names()
		if err != nil {
			logger.Error().Err(err).Msg("Could not list stores")
			http.Error(w, "could not list stores", http.StatusInternalServerError)
			return
		}
		response := storesResponse{Stores: make([]storeSummary, 0, len(names))}
		current := host.Current()
		if current != nil {
			response.Version = current.VersionTag()
		}
		for _, name := range names {
			store, ok, err := storage.Lookup(name)
			if err != nil {
				logger.Error().Err(err).Str("store", name).Msg("Could not open store")
				http.Error(w, "could not open store", http.StatusInternalServerError)
				return
			}
			if !ok {
				// deleted by an activation since it was listed
				continue
			}
			keys, err := store.Keys()
			if err != nil {
				logger.Error().Err(err).Str("store", name).Msg("Could not list keys")
				http.Error(w, "could not list keys", http.StatusInternalServerError)
				return
			}
			response.Stores = append(response.Stores, storeSummary{
				Name:    name,
				Entries: len(keys),
				Current: current != nil && current.StoreNames().Has(name),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error().Err(err).Msg("Could not write store listing")
		}
	}
}

// deploy installs and activates a fresh router for the current version.
func deploy(host *offlinecache.Host, build func(time.Time) *offlinecache.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		router := build(time.Now())
		if err := host.Deploy(r.Context(), router); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Deploy failed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
