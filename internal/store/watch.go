package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup by ID/name finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateName is returned when a watch name collides with an
// existing watch. Names are globally unique (spec.md §3 invariant).
var ErrDuplicateName = errors.New("store: watch name already exists")

const watchColumns = `id, name, url, engine, extraction_mode, extraction_css,
	strip_whitespace, strip_dates, strip_random_ids, filters_json,
	agent_enabled, agent_instr, agent_use_profile, interval_secs, enabled,
	headers_json, cookie_file, storage_state, notify_target, tags_json,
	last_checked_at, last_hash, last_etag, last_modified, last_status, last_error, fail_count,
	created_at, updated_at`

// InsertWatch adds a new watch. Returns ErrDuplicateName if the name is
// already taken by another watch.
func (s *Store) InsertWatch(ctx context.Context, w *Watch) error {
	now := time.Now().UnixMilli()
	if w.CreatedAt == 0 {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if w.LastStatus == "" {
		w.LastStatus = "pending"
	}
	if w.FiltersJSON == "" {
		w.FiltersJSON = "[]"
	}
	if w.HeadersJSON == "" {
		w.HeadersJSON = "{}"
	}
	if w.TagsJSON == "" {
		w.TagsJSON = "[]"
	}

	existing, err := s.GetWatchByName(ctx, w.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateName, w.Name)
	}

	_, err = s.DB.ExecContext(ctx, `INSERT INTO watches (`+watchColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Name, w.URL, w.Engine, w.ExtractionMode, w.ExtractionCSS,
		w.StripWhitespace, w.StripDates, w.StripRandomIDs, w.FiltersJSON,
		w.AgentEnabled, w.AgentInstr, w.AgentUseProfile, w.IntervalSecs, w.Enabled,
		w.HeadersJSON, w.CookieFile, w.StorageState, w.NotifyTarget, w.TagsJSON,
		w.LastCheckedAt, w.LastHash, w.LastETag, w.LastModified, w.LastStatus, w.LastError, w.FailCount,
		w.CreatedAt, w.UpdatedAt,
	)
	return err
}

// GetWatch retrieves a watch by ID.
func (s *Store) GetWatch(ctx context.Context, id string) (*Watch, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+watchColumns+` FROM watches WHERE id = ?`, id)
	return scanWatch(row)
}

// GetWatchByName retrieves a watch by its unique name.
func (s *Store) GetWatchByName(ctx context.Context, name string) (*Watch, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+watchColumns+` FROM watches WHERE name = ?`, name)
	return scanWatch(row)
}

// GetWatchByNameOrID tries name first, then ID — convenient for CLI-style
// lookups where the caller doesn't know which the user supplied.
func (s *Store) GetWatchByNameOrID(ctx context.Context, nameOrID string) (*Watch, error) {
	w, err := s.GetWatchByName(ctx, nameOrID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.GetWatch(ctx, nameOrID)
}

// ListFilter narrows ListWatches to a tag set and/or enabled state.
type ListFilter struct {
	Tag     string // if non-empty, watch must carry this tag
	Enabled *bool  // if non-nil, watch.Enabled must match
}

// ListWatches returns all watches matching filter, newest first.
func (s *Store) ListWatches(ctx context.Context, filter ListFilter) ([]*Watch, error) {
	query := `SELECT ` + watchColumns + ` FROM watches`
	var args []any
	var where []string
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if len(where) > 0 {
		query += " WHERE " + where[0]
		for _, w := range where[1:] {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watches []*Watch
	for rows.Next() {
		w, err := scanWatchRows(rows)
		if err != nil {
			return nil, err
		}
		if filter.Tag != "" && !hasTag(w.TagsJSON, filter.Tag) {
			continue
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// UpdateWatch updates a watch's mutable configuration fields.
func (s *Store) UpdateWatch(ctx context.Context, w *Watch) error {
	w.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `UPDATE watches SET
		name=?, url=?, engine=?, extraction_mode=?, extraction_css=?,
		strip_whitespace=?, strip_dates=?, strip_random_ids=?, filters_json=?,
		agent_enabled=?, agent_instr=?, agent_use_profile=?, interval_secs=?, enabled=?,
		headers_json=?, cookie_file=?, storage_state=?, notify_target=?, tags_json=?,
		updated_at=?
		WHERE id=?`,
		w.Name, w.URL, w.Engine, w.ExtractionMode, w.ExtractionCSS,
		w.StripWhitespace, w.StripDates, w.StripRandomIDs, w.FiltersJSON,
		w.AgentEnabled, w.AgentInstr, w.AgentUseProfile, w.IntervalSecs, w.Enabled,
		w.HeadersJSON, w.CookieFile, w.StorageState, w.NotifyTarget, w.TagsJSON,
		w.UpdatedAt, w.ID,
	)
	return err
}

// DeleteWatch removes a watch; snapshots, changes, and agent memory
// cascade via the declared foreign keys.
func (s *Store) DeleteWatch(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM watches WHERE id = ?`, id)
	return err
}

// CountWatches returns the total number of watches.
func (s *Store) CountWatches(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM watches`).Scan(&n)
	return n, err
}

// DueWatches returns enabled watches whose next check is due: either
// never checked, or last_checked_at + interval_secs has passed. Watches
// with fail_count >= maxFailCount are excluded until ResetWatch clears
// their failure state.
func (s *Store) DueWatches(ctx context.Context, maxFailCount int) ([]*Watch, error) {
	now := time.Now().UnixMilli()
	rows, err := s.DB.QueryContext(ctx, `SELECT `+watchColumns+` FROM watches
		WHERE enabled = 1
		  AND fail_count < ?
		  AND (last_checked_at IS NULL OR last_checked_at + interval_secs * 1000 <= ?)
		ORDER BY last_checked_at ASC NULLS FIRST`, maxFailCount, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watches []*Watch
	for rows.Next() {
		w, err := scanWatchRows(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// RecordCheckSuccess updates a watch after a pipeline run that fetched
// new (possibly unchanged) content successfully. etag and lastMod are
// the upstream response headers for the next conditional GET (spec.md
// §4.2); either may be empty if the server didn't send one.
func (s *Store) RecordCheckSuccess(ctx context.Context, id, hash, status, etag, lastMod string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `UPDATE watches SET
		last_checked_at=?, last_hash=?, last_etag=?, last_modified=?, last_status=?, last_error='', fail_count=0, updated_at=?
		WHERE id=?`, now, hash, etag, lastMod, status, now, id)
	return err
}

// RecordCheckError updates a watch after a failed fetch/extract. The
// scheduler still re-arms next-due by interval_secs regardless (spec.md
// §4.10) — this only tracks fail_count for the health/backoff story.
func (s *Store) RecordCheckError(ctx context.Context, id, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `UPDATE watches SET
		last_checked_at=?, last_status='error', last_error=?, fail_count=fail_count+1, updated_at=?
		WHERE id=?`, now, errMsg, now, id)
	return err
}

// ResetWatch clears a watch's failure state so the scheduler picks it
// up again immediately.
func (s *Store) ResetWatch(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `UPDATE watches SET
		fail_count=0, last_status='pending', last_error='', last_checked_at=NULL, updated_at=?
		WHERE id=?`, now, id)
	return err
}

// ListBrokenWatches returns watches whose fail_count has reached maxFailCount.
func (s *Store) ListBrokenWatches(ctx context.Context, maxFailCount int) ([]*Watch, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+watchColumns+` FROM watches
		WHERE fail_count >= ? ORDER BY updated_at DESC`, maxFailCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watches []*Watch
	for rows.Next() {
		w, err := scanWatchRows(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

func scanWatch(row *sql.Row) (*Watch, error) {
	var w Watch
	var enabled, stripWS, stripDates, stripIDs, agentEnabled, agentProfile int
	err := row.Scan(
		&w.ID, &w.Name, &w.URL, &w.Engine, &w.ExtractionMode, &w.ExtractionCSS,
		&stripWS, &stripDates, &stripIDs, &w.FiltersJSON,
		&agentEnabled, &w.AgentInstr, &agentProfile, &w.IntervalSecs, &enabled,
		&w.HeadersJSON, &w.CookieFile, &w.StorageState, &w.NotifyTarget, &w.TagsJSON,
		&w.LastCheckedAt, &w.LastHash, &w.LastETag, &w.LastModified, &w.LastStatus, &w.LastError, &w.FailCount,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan watch: %w", err)
	}
	w.Enabled = enabled != 0
	w.StripWhitespace = stripWS != 0
	w.StripDates = stripDates != 0
	w.StripRandomIDs = stripIDs != 0
	w.AgentEnabled = agentEnabled != 0
	w.AgentUseProfile = agentProfile != 0
	return &w, nil
}

func scanWatchRows(rows *sql.Rows) (*Watch, error) {
	var w Watch
	var enabled, stripWS, stripDates, stripIDs, agentEnabled, agentProfile int
	err := rows.Scan(
		&w.ID, &w.Name, &w.URL, &w.Engine, &w.ExtractionMode, &w.ExtractionCSS,
		&stripWS, &stripDates, &stripIDs, &w.FiltersJSON,
		&agentEnabled, &w.AgentInstr, &agentProfile, &w.IntervalSecs, &enabled,
		&w.HeadersJSON, &w.CookieFile, &w.StorageState, &w.NotifyTarget, &w.TagsJSON,
		&w.LastCheckedAt, &w.LastHash, &w.LastETag, &w.LastModified, &w.LastStatus, &w.LastError, &w.FailCount,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan watch: %w", err)
	}
	w.Enabled = enabled != 0
	w.StripWhitespace = stripWS != 0
	w.StripDates = stripDates != 0
	w.StripRandomIDs = stripIDs != 0
	w.AgentEnabled = agentEnabled != 0
	w.AgentUseProfile = agentProfile != 0
	return &w, nil
}

func hasTag(tagsJSON, tag string) bool {
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return false
	}
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
