// Package registry implements the durable, prefix-keyed record store that
// backs application identity, leases, schedules, operation logs, and cost
// snapshots. It is a single Postgres table addressed like a key-value
// store, matching the persisted-state layout's literal key-prefix design
// rather than a normalized relational schema: each item is an opaque
// JSONB blob keyed by its prefixed string key.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConditionKind enumerates the conditional-write semantics Put and Delete
// support, matching the contract's if_cond: presence check and attribute
// (version) equality.
type ConditionKind int

const (
	// NoCondition always succeeds (last-writer-wins), used for discovery's
	// additive registry projections.
	NoCondition ConditionKind = iota
	// IfAbsent succeeds only when no item currently exists at the key.
	IfAbsent
	// IfVersionEquals succeeds only when the existing item's version
	// matches exactly.
	IfVersionEquals
)

// Condition is passed to Put/Delete to express optimistic-concurrency
// requirements. The zero value is NoCondition.
type Condition struct {
	Kind    ConditionKind
	Version int64
}

// Item is a single record read back from the store.
type Item struct {
	Key       string
	Value     json.RawMessage
	Version   int64
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// Store is a Postgres-backed implementation of the registry contract.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool. Callers are
// expected to have already run the registry_items migration.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get fetches the item at key. Expired items (an expires_at in the past)
// are treated as absent, matching LeaseRecord.Live semantics even though
// the distributed lease manager now lives in Redis; the TTL column still
// backs operation-log retention.
func (s *Store) Get(ctx context.Context, key string) (*Item, error) {
	const query = `SELECT key, value, version, expires_at, updated_at
		FROM registry_items
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	row := s.pool.QueryRow(ctx, query, key)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting registry item %q: %w", key, err)
	}
	return item, nil
}

// Put writes value (marshaled to JSON) at key, subject to cond. ttl of zero
// means the item never expires. On success it returns the item's new
// version.
func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration, cond Condition) (int64, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshaling registry value for %q: %w", key, err)
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existingVersion, exists, err := s.currentVersion(ctx, tx, key)
	if err != nil {
		return 0, err
	}

	switch cond.Kind {
	case IfAbsent:
		if exists {
			return 0, ErrConditionFailed
		}
	case IfVersionEquals:
		if !exists || existingVersion != cond.Version {
			return 0, ErrConditionFailed
		}
	}

	newVersion := existingVersion + 1

	const upsert = `INSERT INTO registry_items (key, value, version, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, version = $3, expires_at = $4, updated_at = now()`

	if _, err := tx.Exec(ctx, upsert, key, raw, newVersion, expiresAt); err != nil {
		return 0, fmt.Errorf("writing registry item %q: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing registry write for %q: %w", key, err)
	}
	return newVersion, nil
}

// Delete removes the item at key, subject to cond. NoCondition deletes
// unconditionally (a no-op if the item is already absent).
func (s *Store) Delete(ctx context.Context, key string, cond Condition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existingVersion, exists, err := s.currentVersion(ctx, tx, key)
	if err != nil {
		return err
	}

	switch cond.Kind {
	case IfAbsent:
		// Deleting conditioned on absence never makes sense, but honor it
		// literally: succeed only if nothing is there to delete.
		if exists {
			return ErrConditionFailed
		}
		return tx.Commit(ctx)
	case IfVersionEquals:
		if !exists || existingVersion != cond.Version {
			return ErrConditionFailed
		}
	}

	if !exists {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM registry_items WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting registry item %q: %w", key, err)
	}
	return tx.Commit(ctx)
}

// Scan returns every non-expired item whose key has the given prefix, as a
// single consistent logical snapshot taken at scan start (a single SELECT
// under Postgres's read-committed isolation).
func (s *Store) Scan(ctx context.Context, prefix string) ([]Item, error) {
	const query = `SELECT key, value, version, expires_at, updated_at
		FROM registry_items
		WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key`

	rows, err := s.pool.Query(ctx, query, escapeLikePrefix(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("scanning registry prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning registry row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registry rows: %w", err)
	}
	return items, nil
}

func (s *Store) currentVersion(ctx context.Context, tx pgx.Tx, key string) (version int64, exists bool, err error) {
	const query = `SELECT version FROM registry_items WHERE key = $1 FOR UPDATE`
	err = tx.QueryRow(ctx, query, key).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading current version for %q: %w", key, err)
	}
	return version, true, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	if err := row.Scan(&item.Key, &item.Value, &item.Version, &item.ExpiresAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

// escapeLikePrefix escapes LIKE metacharacters so prefixes containing '%'
// or '_' (none of the fixed key prefixes do, but app/host names are
// operator-controlled) are matched literally.
func escapeLikePrefix(prefix string) string {
	out := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
