package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweep deletes expired items in a single statement. Reads already filter
// out expired rows, so this is housekeeping rather than a correctness
// requirement; it keeps the table from accumulating expired oplog rows
// indefinitely, since Postgres has no native per-row TTL.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM registry_items WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired registry items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunSweepLoop periodically sweeps expired items until ctx is cancelled.
func (s *Store) RunSweepLoop(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Error("registry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("swept expired registry items", "count", n)
			}
		}
	}
}
