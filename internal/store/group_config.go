package store

import (
	"context"
	"errors"
	"fmt"

	"buildrelay.app/relay/core/db"
	"buildrelay.app/relay/internal/model"
	"github.com/jackc/pgx/v5"
)

type groupConfigStore struct {
	queries db.Querier
}

func newGroupConfigStore(queries db.Querier) GroupConfigStore {
	return &groupConfigStore{queries: queries}
}

func (s *groupConfigStore) GetByGroup(ctx context.Context, groupID int64) (*model.GroupConfig, error) {
	row := s.queries.QueryRow(ctx, `
		SELECT id, group_id, job_path, configured_by, created_at, updated_at
		FROM group_configs
		WHERE group_id = $1`, groupID)

	var cfg model.GroupConfig
	if err := row.Scan(&cfg.ID, &cfg.GroupID, &cfg.JobPath, &cfg.ConfiguredBy, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting group config: %w", err)
	}
	return &cfg, nil
}

// Upsert keys on group_id, so a second /setup in the same group overwrites the
// first link in a single statement instead of delete-then-insert.
func (s *groupConfigStore) Upsert(ctx context.Context, cfg *model.GroupConfig) error {
	row := s.queries.QueryRow(ctx, `
		INSERT INTO group_configs (id, group_id, job_path, configured_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id) DO UPDATE
		SET job_path = EXCLUDED.job_path,
		    configured_by = EXCLUDED.configured_by,
		    updated_at = now()
		RETURNING id, created_at, updated_at`,
		cfg.ID, cfg.GroupID, cfg.JobPath, cfg.ConfiguredBy)

	if err := row.Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return fmt.Errorf("upserting group config: %w", err)
	}
	return nil
}
