package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetApplication fetches and decodes the ApplicationRecord for appName.
func (s *Store) GetApplication(ctx context.Context, appName string) (*ApplicationRecord, error) {
	item, err := s.Get(ctx, AppKey(appName))
	if err != nil {
		return nil, err
	}
	var rec ApplicationRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return nil, fmt.Errorf("decoding application record %q: %w", appName, err)
	}
	return &rec, nil
}

// PutApplication writes rec unconditionally (last-writer-wins), the
// projection-write mode discovery uses since ordering does not matter
// across reconciliation runs.
func (s *Store) PutApplication(ctx context.Context, rec ApplicationRecord) error {
	_, err := s.Put(ctx, AppKey(rec.AppName), rec, 0, Condition{})
	if err != nil {
		return fmt.Errorf("writing application record %q: %w", rec.AppName, err)
	}
	return nil
}

// ListApplications returns every application record currently in the
// registry, decoded, in key order.
func (s *Store) ListApplications(ctx context.Context) ([]ApplicationRecord, error) {
	items, err := s.Scan(ctx, AppPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing application records: %w", err)
	}
	recs := make([]ApplicationRecord, 0, len(items))
	for _, item := range items {
		var rec ApplicationRecord
		if err := json.Unmarshal(item.Value, &rec); err != nil {
			return nil, fmt.Errorf("decoding application record %q: %w", item.Key, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
