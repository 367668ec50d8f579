package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
)

const (
	upsertSQL = `
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`
	selectSQL = `SELECT value FROM kv WHERE namespace=? AND key=?`
	deleteSQL = `DELETE FROM kv WHERE namespace=? AND key=?`
	keysSQL   = `SELECT key FROM kv WHERE namespace=? ORDER BY key ASC`
)

// Namespace is a view of one key namespace.
type Namespace struct {
	db       *sql.DB
	name     string
	readOnly bool
}

// Name returns the namespace identifier.
func (n *Namespace) Name() string { return n.name }

func (n *Namespace) put(key string, value any) error {
	if n.readOnly {
		return ErrReadOnly
	}
	if _, err := n.db.Exec(upsertSQL, n.name, key, value); err != nil {
		return fmt.Errorf("store %s/%s: %w", n.name, key, err)
	}
	return nil
}

// get scans the value for key into dest. found is false when the key is absent.
func (n *Namespace) get(key string, dest any) (found bool, err error) {
	err = n.db.QueryRow(selectSQL, n.name, key).Scan(dest)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s/%s: %w", n.name, key, err)
	}
	return true, nil
}

// Uint32 returns the value stored under key, or def when absent.
func (n *Namespace) Uint32(key string, def uint32) (uint32, error) {
	var v int64
	found, err := n.get(key, &v)
	if err != nil || !found {
		return def, err
	}
	if v < 0 || v > math.MaxUint32 {
		return def, fmt.Errorf("load %s/%s: value %d out of uint32 range", n.name, key, v)
	}
	return uint32(v), nil
}

// PutUint32 stores v under key.
func (n *Namespace) PutUint32(key string, v uint32) error {
	return n.put(key, int64(v))
}

// Int64 returns the value stored under key, or def when absent.
func (n *Namespace) Int64(key string, def int64) (int64, error) {
	var v int64
	found, err := n.get(key, &v)
	if err != nil || !found {
		return def, err
	}
	return v, nil
}

// PutInt64 stores v under key.
func (n *Namespace) PutInt64(key string, v int64) error {
	return n.put(key, v)
}

// String returns the value stored under key, or def when absent.
func (n *Namespace) String(key, def string) (string, error) {
	var v string
	found, err := n.get(key, &v)
	if err != nil || !found {
		return def, err
	}
	return v, nil
}

// PutString stores v under key.
func (n *Namespace) PutString(key, v string) error {
	return n.put(key, v)
}

// Bytes returns the blob stored under key. found is false when absent.
func (n *Namespace) Bytes(key string) (data []byte, found bool, err error) {
	found, err = n.get(key, &data)
	return data, found, err
}

// PutBytes stores a blob under key.
func (n *Namespace) PutBytes(key string, v []byte) error {
	return n.put(key, v)
}

// Remove deletes key. Removing an absent key is not an error.
func (n *Namespace) Remove(key string) error {
	if n.readOnly {
		return ErrReadOnly
	}
	if _, err := n.db.Exec(deleteSQL, n.name, key); err != nil {
		return fmt.Errorf("remove %s/%s: %w", n.name, key, err)
	}
	return nil
}

// Keys lists the keys present in the namespace in ascending order.
func (n *Namespace) Keys() ([]string, error) {
	rows, err := n.db.Query(keysSQL, n.name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", n.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list %s: %w", n.name, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
