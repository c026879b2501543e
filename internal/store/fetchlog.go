package store

import "context"

// InsertFetchLog records the outcome of a single fetch attempt, success
// or failure, for the watch's diagnostic history (spec.md §4.10).
func (s *Store) InsertFetchLog(ctx context.Context, e *FetchLogEntry) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO fetch_log (id, watch_id, status, status_code, content_hash, error_message, duration_ms, fetched_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.WatchID, e.Status, e.StatusCode, e.ContentHash, e.ErrorMessage, e.DurationMs, e.FetchedAt)
	return err
}

// FetchHistory returns the most recent fetch attempts for a watch,
// newest first.
func (s *Store) FetchHistory(ctx context.Context, watchID string, limit int) ([]*FetchLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, watch_id, status, status_code, content_hash, error_message, duration_ms, fetched_at
		FROM fetch_log WHERE watch_id = ? ORDER BY fetched_at DESC LIMIT ?`, watchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*FetchLogEntry
	for rows.Next() {
		var e FetchLogEntry
		if err := rows.Scan(&e.ID, &e.WatchID, &e.Status, &e.StatusCode, &e.ContentHash,
			&e.ErrorMessage, &e.DurationMs, &e.FetchedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PruneFetchLog deletes fetch_log rows older than the given cutoff,
// keeping the diagnostic table bounded over long uptimes.
func (s *Store) PruneFetchLog(ctx context.Context, olderThan int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM fetch_log WHERE fetched_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
