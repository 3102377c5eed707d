package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// PutCostSnapshot writes a dated snapshot plus updates the "latest" pointer
// key, both unconditionally.
func (s *Store) PutCostSnapshot(ctx context.Context, snap CostSnapshot) error {
	if _, err := s.Put(ctx, CostKey(snap.App, snap.Date), snap, 0, Condition{}); err != nil {
		return fmt.Errorf("writing cost snapshot %s/%s: %w", snap.App, snap.Date, err)
	}
	if _, err := s.Put(ctx, CostLatestKey(snap.App), snap, 0, Condition{}); err != nil {
		return fmt.Errorf("writing latest cost snapshot for %q: %w", snap.App, err)
	}
	return nil
}

// GetLatestCostSnapshot fetches the most recent cost snapshot for an app.
func (s *Store) GetLatestCostSnapshot(ctx context.Context, appName string) (*CostSnapshot, error) {
	item, err := s.Get(ctx, CostLatestKey(appName))
	if err != nil {
		return nil, err
	}
	var snap CostSnapshot
	if err := json.Unmarshal(item.Value, &snap); err != nil {
		return nil, fmt.Errorf("decoding cost snapshot for %q: %w", appName, err)
	}
	return &snap, nil
}
