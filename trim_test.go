package offlinecache

import (
	"fmt"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimStoreEvictsFirstInserted(t *testing.T) {
	store, err := cache.NewMemStorage().Open("images")
	require.NoError(t, err)
	for i := 0; i < 65; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("img-%02d", i), []byte{byte(i)}))
	}
	// reading an entry does not protect it from eviction
	_, _, err = store.Match("img-00")
	require.NoError(t, err)

	deleted, err := TrimStore(store, 60)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	keys, err := store.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 60)
	assert.Equal(t, "img-05", keys[0])
	assert.Equal(t, "img-64", keys[59])
	for i := 0; i < 5; i++ {
		_, ok, err := store.Match(fmt.Sprintf("img-%02d", i))
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestTrimStoreBelowMaximum(t *testing.T) {
	store, err := cache.NewMemStorage().Open("images")
	require.NoError(t, err)
	require.NoError(t, store.Put("a", nil))

	deleted, err := TrimStore(store, 60)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
