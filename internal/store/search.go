package store

import "context"

// Search runs a full-text query over recorded diffs and extracted
// content, best FTS5 rank first, bounded by limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT change_id, watch_id, snippet(changes_fts, 2, '[', ']', '…', 12)
		FROM changes_fts WHERE changes_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChangeID, &r.WatchID, &r.Snippet); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}
