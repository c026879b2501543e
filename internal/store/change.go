package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordObservation persists a new snapshot, prunes raw retention, and —
// when change is non-nil — inserts that Change row and indexes it for
// search, all in a single transaction (spec.md §4.9 step 5). It does not
// compare hashes itself: the caller passes a nil change when no prior
// snapshot existed or hashes matched, and otherwise populates the
// change's ID/OldSnapshotID/NewSnapshotID fields.
func (s *Store) RecordObservation(ctx context.Context, snap *Snapshot, change *Change) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record observation: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, watch_id, fetched_at, raw, extracted, content_hash)
		 VALUES (?,?,?,?,?,?)`,
		snap.ID, snap.WatchID, snap.FetchedAt, snap.Raw, snap.Extracted, snap.ContentHash); err != nil {
		return fmt.Errorf("record observation: insert snapshot: %w", err)
	}

	if err := pruneRawTx(ctx, tx, snap.WatchID); err != nil {
		return fmt.Errorf("record observation: prune: %w", err)
	}

	if change != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (id, watch_id, detected_at, old_snapshot_id, new_snapshot_id,
			 diff, filter_passed, notified, notify_attempts, next_notify_at)
			 VALUES (?,?,?,?,?,?,?,?,?,?)`,
			change.ID, change.WatchID, change.DetectedAt, change.OldSnapshotID, change.NewSnapshotID,
			change.Diff, change.FilterPassed, change.Notified, change.NotifyAttempts, change.NextNotifyAt,
		); err != nil {
			return fmt.Errorf("record observation: insert change: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes_fts (change_id, watch_id, diff, extracted) VALUES (?,?,?,?)`,
			change.ID, change.WatchID, change.Diff, snap.Extracted); err != nil {
			return fmt.Errorf("record observation: index change: %w", err)
		}
	}

	return tx.Commit()
}

// GetChange retrieves a change by ID.
func (s *Store) GetChange(ctx context.Context, id string) (*Change, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, watch_id, detected_at, old_snapshot_id,
		new_snapshot_id, diff, filter_passed, agent_response, notified, notify_attempts, next_notify_at
		FROM changes WHERE id = ?`, id)
	return scanChange(row)
}

// ListChanges returns the most recent changes for a watch, newest first.
func (s *Store) ListChanges(ctx context.Context, watchID string, limit int) ([]*Change, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, watch_id, detected_at, old_snapshot_id,
		new_snapshot_id, diff, filter_passed, agent_response, notified, notify_attempts, next_notify_at
		FROM changes WHERE watch_id = ? ORDER BY detected_at DESC LIMIT ?`, watchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		c, err := scanChangeRows(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// PendingNotifications returns a watch's changes that still need a
// notification attempt: filter_passed, not yet notified, and past
// their backoff deadline (next_notify_at <= now). Used by the pipeline
// to retry a change whose earlier dispatch was suppressed by quiet
// hours or failed in transport (spec.md §4.8).
func (s *Store) PendingNotifications(ctx context.Context, watchID string, now int64) ([]*Change, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, watch_id, detected_at, old_snapshot_id,
		new_snapshot_id, diff, filter_passed, agent_response, notified, notify_attempts, next_notify_at
		FROM changes WHERE watch_id = ? AND filter_passed = 1 AND notified = 0 AND next_notify_at <= ?
		ORDER BY detected_at ASC`, watchID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		c, err := scanChangeRows(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// MarkChangeNotified marks a change as notified. Guarantees at-most-once
// alerting: the UPDATE only affects rows where notified was still 0.
func (s *Store) MarkChangeNotified(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE changes SET notified = 1 WHERE id = ? AND notified = 0`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mark notified: %w: change %s already notified or missing", ErrNotFound, id)
	}
	return nil
}

// ScheduleNotifyRetry records a failed notification attempt and sets
// the next retry deadline (exponential backoff, capped by the caller).
func (s *Store) ScheduleNotifyRetry(ctx context.Context, id string, nextAttemptAt int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE changes SET notify_attempts = notify_attempts + 1, next_notify_at = ?
		 WHERE id = ? AND notified = 0`, nextAttemptAt, id)
	return err
}

// DeferNotification sets a change's next retry deadline without
// counting it as a failed attempt — used when dispatch is suppressed
// by quiet hours rather than failing in transport, so the backoff
// schedule isn't inflated by a suppression that wasn't a failure.
func (s *Store) DeferNotification(ctx context.Context, id string, nextAttemptAt int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE changes SET next_notify_at = ? WHERE id = ? AND notified = 0`, nextAttemptAt, id)
	return err
}

// SetAgentResponse records the agent's structured verdict against a
// change, merging any memory_updates into agent_memory in the same
// transaction (spec.md §4.7).
func (s *Store) SetAgentResponse(ctx context.Context, changeID, watchID, agentResponseJSON string, memoryJSON string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE changes SET agent_response = ? WHERE id = ?`, agentResponseJSON, changeID); err != nil {
		return fmt.Errorf("set agent response: %w", err)
	}

	if memoryJSON != "" {
		now := nowMillis()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_memory (watch_id, memory_json, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(watch_id) DO UPDATE SET memory_json = json_patch(agent_memory.memory_json, excluded.memory_json), updated_at = excluded.updated_at
		`, watchID, memoryJSON, now); err != nil {
			return fmt.Errorf("set agent response: memory: %w", err)
		}
	}

	return tx.Commit()
}

// SetFilterPassed updates filter_passed and, when the watch's
// notify_target is the literal "none", also marks the change notified
// immediately (spec.md §9: suppressed intentionally, not pending retry).
func (s *Store) SetFilterPassed(ctx context.Context, changeID string, passed bool, suppressNotify bool) error {
	notified := 0
	if suppressNotify {
		notified = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE changes SET filter_passed = ?, notified = CASE WHEN ? = 1 THEN 1 ELSE notified END WHERE id = ?`,
		passed, notified, changeID)
	return err
}

func scanChange(row *sql.Row) (*Change, error) {
	var c Change
	var filterPassed, notified int
	err := row.Scan(&c.ID, &c.WatchID, &c.DetectedAt, &c.OldSnapshotID, &c.NewSnapshotID,
		&c.Diff, &filterPassed, &c.AgentResponse, &notified, &c.NotifyAttempts, &c.NextNotifyAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan change: %w", err)
	}
	c.FilterPassed = filterPassed != 0
	c.Notified = notified != 0
	return &c, nil
}

func scanChangeRows(rows *sql.Rows) (*Change, error) {
	var c Change
	var filterPassed, notified int
	err := rows.Scan(&c.ID, &c.WatchID, &c.DetectedAt, &c.OldSnapshotID, &c.NewSnapshotID,
		&c.Diff, &filterPassed, &c.AgentResponse, &notified, &c.NotifyAttempts, &c.NextNotifyAt)
	if err != nil {
		return nil, fmt.Errorf("scan change: %w", err)
	}
	c.FilterPassed = filterPassed != 0
	c.Notified = notified != 0
	return &c, nil
}
