package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetSchedule fetches an app's schedule toggle. A not-found app is treated
// by callers as enabled=false (automation opt-in).
func (s *Store) GetSchedule(ctx context.Context, appName string) (*ScheduleRecord, error) {
	item, err := s.Get(ctx, ScheduleKey(appName))
	if err != nil {
		return nil, err
	}
	var rec ScheduleRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return nil, fmt.Errorf("decoding schedule record %q: %w", appName, err)
	}
	return &rec, nil
}

// PutSchedule writes the enabled toggle for appName. The control API is
// the only caller that mutates a ScheduleRecord.
func (s *Store) PutSchedule(ctx context.Context, rec ScheduleRecord) error {
	_, err := s.Put(ctx, ScheduleKey(rec.AppName), rec, 0, Condition{})
	if err != nil {
		return fmt.Errorf("writing schedule record %q: %w", rec.AppName, err)
	}
	return nil
}

// ListEnabledSchedules returns every app with an enabled schedule toggle.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	items, err := s.Scan(ctx, schedulePrefix)
	if err != nil {
		return nil, fmt.Errorf("listing schedule records: %w", err)
	}
	var recs []ScheduleRecord
	for _, item := range items {
		var rec ScheduleRecord
		if err := json.Unmarshal(item.Value, &rec); err != nil {
			return nil, fmt.Errorf("decoding schedule record %q: %w", item.Key, err)
		}
		if rec.Enabled {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}
