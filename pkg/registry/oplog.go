package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PutOperationLog appends an operation log entry under a timestamp-suffixed
// key, retained for ttl. The operation log is append-only: entries are
// never updated, so this always writes unconditionally to a fresh key.
func (s *Store) PutOperationLog(ctx context.Context, entry OperationLogEntry, ttl time.Duration) error {
	key := OplogKey(entry.App, entry.StartedAt)
	if _, err := s.Put(ctx, key, entry, ttl, Condition{}); err != nil {
		return fmt.Errorf("writing operation log entry %q: %w", key, err)
	}
	return nil
}

// ListOperationLog returns an app's operation log entries, most recent first.
func (s *Store) ListOperationLog(ctx context.Context, appName string) ([]OperationLogEntry, error) {
	items, err := s.Scan(ctx, OplogPrefix(appName))
	if err != nil {
		return nil, fmt.Errorf("listing operation log for %q: %w", appName, err)
	}
	entries := make([]OperationLogEntry, 0, len(items))
	for _, item := range items {
		var entry OperationLogEntry
		if err := json.Unmarshal(item.Value, &entry); err != nil {
			return nil, fmt.Errorf("decoding operation log entry %q: %w", item.Key, err)
		}
		entries = append(entries, entry)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// MostRecentOperation returns the newest operation log entry for appName,
// or nil if none exist. Used by the schedule evaluator to decide whether a
// recent opposite user action should suppress an automated one.
func (s *Store) MostRecentOperation(ctx context.Context, appName string) (*OperationLogEntry, error) {
	entries, err := s.ListOperationLog(ctx, appName)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}
