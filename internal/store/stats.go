package store

import "context"

// GetStats returns aggregate counters across the whole store, used by
// the status/summary surface.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := s.DB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM watches),
		(SELECT COUNT(*) FROM snapshots),
		(SELECT COUNT(*) FROM changes),
		(SELECT COUNT(*) FROM changes WHERE notified = 1)
	`)
	if err := row.Scan(&st.WatchCount, &st.SnapshotCount, &st.ChangeCount, &st.NotifiedCount); err != nil {
		return nil, err
	}
	return &st, nil
}
