package offlinecache

import (
	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

// TrimStore deletes the oldest inserted entries of the store until at most max remain.
// It returns the number of deleted entries.
//
// Eviction is first-in first-out by insertion. Reading an entry does not make it younger;
// least-recently-used eviction would need access times tracked next to the keys.
func TrimStore(store cache.Store, max int) (int, error) {
	keys, err := store.Keys()
	if err != nil {
		return 0, err
	}
	if len(keys) <= max {
		return 0, nil
	}
	deleted := 0
	for _, key := range keys[:len(keys)-max] {
		ok, err := store.Delete(key)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// trimImages bounds the image store. A non-positive maximum leaves it unbounded.
func (rt *Router) trimImages(store cache.Store, log zerolog.Logger) {
	max := rt.config.MaxImageEntries
	if max <= 0 {
		return
	}
	deleted, err := TrimStore(store, max)
	if err != nil {
		log.Warn().Err(err).Str("store", store.Name()).Msg("Could not trim store")
		return
	}
	if deleted > 0 {
		log.Trace().Str("store", store.Name()).Int("deleted", deleted).Msg("Trimmed store")
	}
}
