package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmgilman/go/errors"
)

// SQLiteStorage persists stores in a single SQLite database.
// Insertion order is the AUTOINCREMENT sequence of the entries table,
// store creation order is the rowid of the stores table.
// Claims are held in memory, per process.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	claims     *claimSet
}

var sqliteSchema = []string{
	"CREATE TABLE IF NOT EXISTS stores (name TEXT PRIMARY KEY)",
	`CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		bytes BLOB,
		UNIQUE (store, key)
	)`,
	"CREATE INDEX IF NOT EXISTS entries_key_idx ON entries (key)",
	"PRAGMA journal_mode=WAL",
}

// NewSQLiteStorage opens (or creates) the database at filename.
// Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteStorage(filename string) (SQLiteStorage, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStorage{}, errors.Wrapf(err, errors.CodeDatabase, "could not open %s", filename)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStorage{}, errors.Wrap(err, errors.CodeDatabase, "could not create schema")
		}
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
		claims:     &claimSet{},
	}, nil
}

func (s SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s SQLiteStorage) Open(name string) (Store, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.claims.allows(name) {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO stores (name) VALUES (?)", name); err != nil {
			return nil, errors.Wrapf(err, errors.CodeDatabase, "could not open store %s", name)
		}
	}
	return sqliteStore{storage: s, name: name}, nil
}

func (s SQLiteStorage) Lookup(name string) (Store, bool, error) {
	has, err := s.Has(name)
	if err != nil || !has {
		return nil, false, err
	}
	return sqliteStore{storage: s, name: name}, true, nil
}

func (s SQLiteStorage) Claim(names ...string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	s.claims.claim(names)
	return nil
}

func (s SQLiteStorage) Retain(names ...string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	s.claims.retain(names)
	return nil
}

func (s SQLiteStorage) Has(name string) (bool, error) {
	var found int
	err := s.db.QueryRow("SELECT 1 FROM stores WHERE name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not look up store")
	}
	return true, nil
}

func (s SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY rowid ASC")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "could not list stores")
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, errors.Wrap(err, errors.CodeDatabase, "could not read store name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "could not delete entries of %s", name)
	}
	result, err := tx.Exec("DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "could not delete store %s", name)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not count deleted stores")
	}
	return deleted > 0, tx.Commit()
}

func (s SQLiteStorage) Match(key string) (Entry, bool, error) {
	row := s.db.QueryRow(`SELECT e.stored_at, e.bytes FROM entries e
		JOIN stores s ON s.name = e.store
		WHERE e.key = ?
		ORDER BY s.rowid ASC LIMIT 1`, key)
	return scanEntry(key, row)
}

func scanEntry(key string, row *sql.Row) (Entry, bool, error) {
	var storedAt int64
	entry := Entry{Key: key}
	err := row.Scan(&storedAt, &entry.Bytes)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "could not read entry")
	}
	entry.StoredAt = time.UnixMilli(storedAt)
	return entry, true, nil
}

type sqliteStore struct {
	storage SQLiteStorage
	name    string
}

func (s sqliteStore) Name() string {
	return s.name
}

func (s sqliteStore) Match(key string) (Entry, bool, error) {
	row := s.storage.db.QueryRow("SELECT stored_at, bytes FROM entries WHERE store = ? AND key = ?", s.name, key)
	return scanEntry(key, row)
}

func (s sqliteStore) Put(key string, bytes []byte) error {
	s.storage.writeMutex.Lock()
	defer s.storage.writeMutex.Unlock()
	if !s.storage.claims.allows(s.name) {
		return ErrReleased
	}
	tx, err := s.storage.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT OR IGNORE INTO stores (name) VALUES (?)", s.name); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "could not create store %s", s.name)
	}
	// delete first so that the new row gets a fresh sequence number
	if _, err := tx.Exec("DELETE FROM entries WHERE store = ? AND key = ?", s.name, key); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not replace entry")
	}
	if _, err := tx.Exec("INSERT INTO entries (store, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		s.name, key, time.Now().UnixMilli(), bytes); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "could not insert entry")
	}
	return tx.Commit()
}

func (s sqliteStore) Delete(key string) (bool, error) {
	s.storage.writeMutex.Lock()
	defer s.storage.writeMutex.Unlock()
	result, err := s.storage.db.Exec("DELETE FROM entries WHERE store = ? AND key = ?", s.name, key)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not delete entry")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "could not count deleted entries")
	}
	return deleted > 0, nil
}

func (s sqliteStore) Keys() ([]string, error) {
	rows, err := s.storage.db.Query("SELECT key FROM entries WHERE store = ? ORDER BY seq ASC", s.name)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "could not list keys")
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, errors.Wrap(err, errors.CodeDatabase, "could not read key")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
