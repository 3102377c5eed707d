// Package lease implements atomic, TTL-bounded acquire/release of named
// resource leases, fenced by owner id. Leases are held in Redis (SET NX PX
// for Acquire, a Lua compare-and-delete script for Release) rather than
// emulated as conditional writes against the Postgres-backed registry,
// since Redis gives key expiry natively.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/haloworks/fleetctl/internal/telemetry"
)

// ErrNotAcquired is returned by Acquire when the resource is already held
// by a live lease after all retries are exhausted.
var ErrNotAcquired = errors.New("lease: not acquired")

// ErrNotOwner is returned by Release when owner_id does not match the
// current holder; a lease is never stolen by Release.
var ErrNotOwner = errors.New("lease: caller is not the owner")

const keyPrefix = "LOCK#DB#"

// releaseScript atomically deletes key only if its value equals owner,
// the standard Redis fenced-unlock pattern: without this, a Release call
// racing a lease's natural expiry-then-reacquisition-by-another-owner
// could delete a lease it no longer holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Manager implements lease acquire/release against a Redis client.
type Manager struct {
	rdb        *redis.Client
	logger     *slog.Logger
	maxRetries int
}

// NewManager constructs a Manager. maxRetries bounds Acquire's contention
// backoff loop; zero or negative falls back to 3.
func NewManager(rdb *redis.Client, logger *slog.Logger, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{rdb: rdb, logger: logger, maxRetries: maxRetries}
}

// Key returns the lease key for a resource, exported so callers can log or
// compare it without duplicating the prefix.
func Key(resourceID string) string {
	return keyPrefix + resourceID
}

// Lease is a held lease's identity, returned by Acquire and required by
// Release.
type Lease struct {
	Key        string
	OwnerID    string
	AcquiredAt time.Time
}

// Acquire attempts to take an exclusive lease on resourceID for ttl. It
// retries on contention with exponential backoff and jitter up to
// maxRetries attempts; ErrNotAcquired is returned only after all attempts
// fail.
func (m *Manager) Acquire(ctx context.Context, resourceID string, ttl time.Duration) (*Lease, error) {
	key := Key(resourceID)
	ownerID := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	lease, err := backoff.Retry(ctx, func() (*Lease, error) {
		ok, err := m.rdb.SetNX(ctx, key, ownerID, ttl).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			telemetry.LeaseContentionTotal.WithLabelValues(resourceID).Inc()
			return nil, ErrNotAcquired
		}
		return &Lease{Key: key, OwnerID: ownerID, AcquiredAt: time.Now()}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(m.maxRetries)))

	if err != nil {
		if errors.Is(err, ErrNotAcquired) {
			return nil, ErrNotAcquired
		}
		return nil, fmt.Errorf("acquiring lease %q: %w", resourceID, err)
	}
	return lease, nil
}

// Release deletes the lease at l.Key only if it is still owned by
// l.OwnerID. A mismatch (lease expired and reacquired by someone else, or
// never held) returns ErrNotOwner without touching the key.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, m.rdb, []string{l.Key}, l.OwnerID).Int64()
	if err != nil {
		return fmt.Errorf("releasing lease %q: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}
