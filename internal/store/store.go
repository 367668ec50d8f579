// Package store is the persistent key/value state store. Values live in a
// single SQLite table partitioned by namespace; each namespace is claimed by
// exactly one owner (a governor or the pump controller) per process.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaKV = `
CREATE TABLE IF NOT EXISTS kv (
    namespace TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (namespace, key)
);
`

var (
	// ErrNamespaceClaimed is returned when a second owner claims a namespace.
	ErrNamespaceClaimed = errors.New("store: namespace already claimed")

	// ErrReadOnly is returned by writes through a read-only namespace view.
	ErrReadOnly = errors.New("store: namespace is read-only")
)

// Store holds the database handle and the set of claimed namespaces.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	claimed map[string]bool
}

// Open opens or creates the SQLite database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// One writer; the daemon loop is the only caller anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaKV); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply kv schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return New(db), nil
}

// New wraps an existing database handle. The kv table must already exist.
func New(db *sql.DB) *Store {
	return &Store{db: db, claimed: make(map[string]bool)}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Claim returns the writable view of a namespace. Each namespace may be
// claimed once per Store.
func (s *Store) Claim(namespace string) (*Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[namespace] {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceClaimed, namespace)
	}
	s.claimed[namespace] = true
	return &Namespace{db: s.db, name: namespace}, nil
}

// ReadOnly returns a view of a namespace that rejects writes. Used for
// diagnostics, never by owners.
func (s *Store) ReadOnly(namespace string) *Namespace {
	return &Namespace{db: s.db, name: namespace, readOnly: true}
}
