package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RawRetention is the number of most-recent snapshots per watch that
// keep their raw bytes (spec.md §3 invariant).
const RawRetention = 5

// InsertSnapshot stores a new snapshot and prunes raw bytes from older
// snapshots of the same watch in one transaction, so the retention
// window (RawRetention) is never temporarily exceeded.
func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, watch_id, fetched_at, raw, extracted, content_hash)
		 VALUES (?,?,?,?,?,?)`,
		snap.ID, snap.WatchID, snap.FetchedAt, snap.Raw, snap.Extracted, snap.ContentHash); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if err := pruneRawTx(ctx, tx, snap.WatchID); err != nil {
		return fmt.Errorf("insert snapshot: prune: %w", err)
	}

	return tx.Commit()
}

// PruneRaw nulls out raw bytes on all but the RawRetention most recent
// snapshots of a watch. Exposed standalone for maintenance/backfill use;
// InsertSnapshot already calls it transactionally on every write.
func (s *Store) PruneRaw(ctx context.Context, watchID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := pruneRawTx(ctx, tx, watchID); err != nil {
		return err
	}
	return tx.Commit()
}

func pruneRawTx(ctx context.Context, tx *sql.Tx, watchID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE snapshots SET raw = NULL
		WHERE watch_id = ? AND raw IS NOT NULL AND id NOT IN (
			SELECT id FROM snapshots WHERE watch_id = ?
			ORDER BY fetched_at DESC LIMIT ?
		)`, watchID, watchID, RawRetention)
	return err
}

// LatestSnapshot returns the most recent snapshot for a watch, or
// ErrNotFound if the watch has never been fetched.
func (s *Store) LatestSnapshot(ctx context.Context, watchID string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, watch_id, fetched_at, raw, extracted, content_hash
		FROM snapshots WHERE watch_id = ? ORDER BY fetched_at DESC LIMIT 1`, watchID)
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.WatchID, &snap.FetchedAt, &snap.Raw, &snap.Extracted, &snap.ContentHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, watch_id, fetched_at, raw, extracted, content_hash
		FROM snapshots WHERE id = ?`, id)
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.WatchID, &snap.FetchedAt, &snap.Raw, &snap.Extracted, &snap.ContentHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snap, nil
}

// CountSnapshotsWithRaw returns how many snapshots of a watch still
// carry raw bytes — used by retention tests.
func (s *Store) CountSnapshotsWithRaw(ctx context.Context, watchID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE watch_id = ? AND raw IS NOT NULL`, watchID).Scan(&n)
	return n, err
}
