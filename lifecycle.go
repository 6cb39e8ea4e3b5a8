package offlinecache

import (
	"context"
	"net/http"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"
)

// Install populates the precache store with the shell URLs.
// Either every URL is fetched successfully and stored, or nothing is stored and an error is returned.
func (rt *Router) Install(ctx context.Context) error {
	names := rt.config.StoreNames
	rt.log.Info().Str("store", names.Precache).Msgf("Installing %d precache URLs", len(rt.config.PrecacheURLs))

	if err := rt.storage.Claim(names.All()...); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not claim stores")
	}

	responses := make([]*http.Response, len(rt.config.PrecacheURLs))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range rt.config.PrecacheURLs {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, uri, nil)
			if err != nil {
				return errors.Wrapf(err, errors.CodeInvalidConfig, "invalid precache URL %s", uri)
			}
			res, err := fetchWithTimeout(gctx, rt.network, req, rt.config.NetworkTimeout)
			if err != nil {
				return err
			}
			if !isOK(res) {
				res.Body.Close()
				return errors.Newf(errors.CodeNetwork, "precache of %s failed with status %d", uri, res.StatusCode)
			}
			responses[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rt.log.Error().Err(err).Msg("Install failed")
		return err
	}

	store, err := rt.storage.Open(names.Precache)
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "could not open %s", names.Precache)
	}
	for i, uri := range rt.config.PrecacheURLs {
		bts, err := serializer.ToBytes(serializer.StoredResponse{Response: responses[i], StoredAt: now()})
		if err != nil {
			return errors.Wrapf(err, errors.CodeInternal, "could not serialize %s", uri)
		}
		if err := store.Put(rt.keyer.KeyForURI(uri), bts); err != nil {
			return errors.Wrapf(err, errors.CodeDatabase, "could not store %s", uri)
		}
	}
	rt.log.Info().Str("store", names.Precache).Msg("Installed")
	return nil
}

// Activate deletes every store that does not belong to this version and marks the router active.
// Deletion is unconditional and cannot be rolled back.
// Claims of other versions are released first, so their requests still in flight cannot recreate the stores.
func (rt *Router) Activate(ctx context.Context) error {
	if err := rt.storage.Retain(rt.config.StoreNames.All()...); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not release stale stores")
	}
	names, err := rt.storage.Names()
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not list stores")
	}

	g, _ := errgroup.WithContext(ctx)
	for _, name := range names {
		if rt.config.StoreNames.Has(name) {
			continue
		}
		g.Go(func() error {
			rt.log.Debug().Str("store", name).Msg("Deleting stale store")
			if _, err := rt.storage.Delete(name); err != nil {
				return errors.Wrapf(err, errors.CodeDatabase, "could not delete %s", name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rt.log.Error().Err(err).Msg("Activation failed")
		return err
	}

	rt.activated.Store(true)
	rt.log.Info().Msg("Activated")
	return nil
}
