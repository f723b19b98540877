package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Namespace is a flat string key-value space backed by the kv table. All
// keys of one namespace can be wiped at once with Clear.
type Namespace struct {
	db   *sql.DB
	name string
}

// Namespace returns a handle on the named key-value namespace.
func (s *Store) Namespace(name string) *Namespace {
	return &Namespace{db: s.db, name: name}
}

// Get returns the stored value. ok is false when the key is absent.
func (n *Namespace) Get(ctx context.Context, key string) (val string, ok bool, err error) {
	err = n.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, n.name, key,
	).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading key %q: %w", key, err)
	}
	return val, true, nil
}

// Set upserts a key.
func (n *Namespace) Set(ctx context.Context, key, value string) error {
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		n.name, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (n *Namespace) Delete(ctx context.Context, key string) error {
	if _, err := n.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, n.name, key); err != nil {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	return nil
}

// Clear removes every key in the namespace.
func (n *Namespace) Clear(ctx context.Context) error {
	if _, err := n.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, n.name); err != nil {
		return fmt.Errorf("clearing namespace %q: %w", n.name, err)
	}
	return nil
}

// Keys lists the keys of the namespace in lexical order.
func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	rows, err := n.db.QueryContext(ctx, `SELECT key FROM kv WHERE namespace = ? ORDER BY key`, n.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
