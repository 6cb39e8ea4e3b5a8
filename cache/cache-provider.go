package cache

import (
	"sort"
	"sync"
	"time"
)

// Storage is the set of named cache stores available to the router.
// It stores and retrieves []byte values, which represent HTTP responses.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the store with the given name, creating it if needed and the name is claimed.
	// The handle of an unclaimed store matches nothing and drops writes.
	Open(name string) (Store, error)
	// Lookup returns the store with the given name only if it exists. It never creates a store.
	Lookup(name string) (Store, bool, error)
	// Claim allows the named stores to be created. Once anything is claimed,
	// stores with unclaimed names are never created again.
	Claim(names ...string) error
	// Retain drops every claim except the given names.
	// It waits for writes in progress, so a store listed afterwards is not recreated by them.
	Retain(names ...string) error
	// Has checks if a store with the given name exists.
	Has(name string) (bool, error)
	// Names returns the names of all stores, in creation order.
	Names() ([]string, error)
	// Delete removes the named store and all of its entries.
	// It returns false if there was no such store.
	Delete(name string) (bool, error)
	// Match returns the entry for the key from the first store (in creation order) holding it.
	Match(key string) (Entry, bool, error)
}

// Store is a single named mapping from request key to response.
// There is at most one entry per key.
type Store interface {
	Name() string
	// Match returns the entry stored for the key, if any.
	Match(key string) (Entry, bool, error)
	// Put stores the bytes under the key, creating the store if its name is claimed.
	// An existing entry for the key is replaced and moves to the end of the insertion order.
	// It returns ErrReleased if the name is not claimed.
	Put(key string, bytes []byte) error
	// Delete removes the entry for the key, returning false if there was none.
	Delete(key string) (bool, error)
	// Keys returns all keys in insertion order, oldest first.
	Keys() ([]string, error)
}

type Entry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

type memEntry struct {
	seq      uint64
	storedAt time.Time
	bytes    []byte
}

type memBucket struct {
	created uint64
	entries map[string]memEntry
}

// MemStorage keeps all stores in memory.
// Store handles only carry the store name, so a handle outlives the deletion of its store.
type MemStorage struct {
	mutex   *sync.RWMutex
	seq     *uint64
	buckets map[string]*memBucket
	claims  *claimSet
}

func NewMemStorage() MemStorage {
	var seq uint64
	return MemStorage{
		mutex:   &sync.RWMutex{},
		seq:     &seq,
		buckets: make(map[string]*memBucket),
		claims:  &claimSet{},
	}
}

// next must be called with the write lock held.
func (m MemStorage) next() uint64 {
	*m.seq++
	return *m.seq
}

// bucket must be called with the write lock held.
func (m MemStorage) bucket(name string) *memBucket {
	b, ok := m.buckets[name]
	if !ok {
		b = &memBucket{
			created: m.next(),
			entries: make(map[string]memEntry),
		}
		m.buckets[name] = b
	}
	return b
}

func (m MemStorage) Open(name string) (Store, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.claims.allows(name) {
		m.bucket(name)
	}
	return memStore{storage: m, name: name}, nil
}

func (m MemStorage) Lookup(name string) (Store, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.buckets[name]; !ok {
		return nil, false, nil
	}
	return memStore{storage: m, name: name}, true, nil
}

func (m MemStorage) Claim(names ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.claims.claim(names)
	return nil
}

func (m MemStorage) Retain(names ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.claims.retain(names)
	return nil
}

func (m MemStorage) Has(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.buckets[name]
	return ok, nil
}

func (m MemStorage) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.buckets[names[i]].created < m.buckets[names[j]].created
	})
	return names, nil
}

func (m MemStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.buckets[name]
	delete(m.buckets, name)
	return ok, nil
}

func (m MemStorage) Match(key string) (Entry, bool, error) {
	names, _ := m.Names()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, name := range names {
		b, ok := m.buckets[name]
		if !ok {
			continue
		}
		if e, ok := b.entries[key]; ok {
			return Entry{Key: key, StoredAt: e.storedAt, Bytes: e.bytes}, true, nil
		}
	}
	return Entry{}, false, nil
}

type memStore struct {
	storage MemStorage
	name    string
}

func (s memStore) Name() string {
	return s.name
}

func (s memStore) Match(key string) (Entry, bool, error) {
	s.storage.mutex.RLock()
	defer s.storage.mutex.RUnlock()
	b, ok := s.storage.buckets[s.name]
	if !ok {
		return Entry{}, false, nil
	}
	e, ok := b.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Key: key, StoredAt: e.storedAt, Bytes: e.bytes}, true, nil
}

func (s memStore) Put(key string, bytes []byte) error {
	s.storage.mutex.Lock()
	defer s.storage.mutex.Unlock()
	if !s.storage.claims.allows(s.name) {
		return ErrReleased
	}
	b := s.storage.bucket(s.name)
	b.entries[key] = memEntry{
		seq:      s.storage.next(),
		storedAt: time.Now(),
		bytes:    bytes,
	}
	return nil
}

func (s memStore) Delete(key string) (bool, error) {
	s.storage.mutex.Lock()
	defer s.storage.mutex.Unlock()
	b, ok := s.storage.buckets[s.name]
	if !ok {
		return false, nil
	}
	_, ok = b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

func (s memStore) Keys() ([]string, error) {
	s.storage.mutex.RLock()
	defer s.storage.mutex.RUnlock()
	b, ok := s.storage.buckets[s.name]
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return b.entries[keys[i]].seq < b.entries[keys[j]].seq
	})
	return keys, nil
}
