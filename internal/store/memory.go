package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetAgentMemory returns the per-watch agent memory blob, or an empty
// "{}" memory if the agent has never written one for this watch.
func (s *Store) GetAgentMemory(ctx context.Context, watchID string) (*AgentMemory, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT watch_id, memory_json, updated_at FROM agent_memory WHERE watch_id = ?`, watchID)
	var m AgentMemory
	err := row.Scan(&m.WatchID, &m.Memory, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &AgentMemory{WatchID: watchID, Memory: "{}"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent memory: %w", err)
	}
	return &m, nil
}

// PutAgentMemory overwrites the per-watch memory blob outright (used by
// the memory-reset admin path, as opposed to SetAgentResponse's merge).
func (s *Store) PutAgentMemory(ctx context.Context, watchID, memoryJSON string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO agent_memory (watch_id, memory_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(watch_id) DO UPDATE SET memory_json = excluded.memory_json, updated_at = excluded.updated_at
	`, watchID, memoryJSON, nowMillis())
	return err
}

// GetGlobalMemory returns the single cross-watch memory row, creating an
// empty one on first access.
func (s *Store) GetGlobalMemory(ctx context.Context) (*GlobalMemory, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT memory_json, updated_at FROM global_memory WHERE id = 1`)
	var m GlobalMemory
	err := row.Scan(&m.Memory, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &GlobalMemory{Memory: "{}"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get global memory: %w", err)
	}
	return &m, nil
}

// PutGlobalMemory overwrites the single global memory row.
func (s *Store) PutGlobalMemory(ctx context.Context, memoryJSON string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO global_memory (id, memory_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET memory_json = excluded.memory_json, updated_at = excluded.updated_at
	`, memoryJSON, nowMillis())
	return err
}
