package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"buildrelay.app/relay/common/id"
	"buildrelay.app/relay/internal/model"
	"buildrelay.app/relay/internal/store"
)

type GroupService interface {
	// Get returns store.ErrNotFound when the group has no linked job.
	Get(ctx context.Context, groupID int64) (*model.GroupConfig, error)
	// Link replaces any existing link for groupID.
	Link(ctx context.Context, groupID int64, jobPath string, configuredBy int64) error
}

type groupService struct {
	configs store.GroupConfigStore
}

func NewGroupService(configs store.GroupConfigStore) GroupService {
	return &groupService{configs: configs}
}

func (s *groupService) Get(ctx context.Context, groupID int64) (*model.GroupConfig, error) {
	cfg, err := s.configs.GetByGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading group config: %w", err)
	}
	return cfg, nil
}

func (s *groupService) Link(ctx context.Context, groupID int64, jobPath string, configuredBy int64) error {
	cfg := &model.GroupConfig{
		ID:           id.New(),
		GroupID:      groupID,
		JobPath:      jobPath,
		ConfiguredBy: configuredBy,
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("linking group: %w", err)
	}
	slog.InfoContext(ctx, "group linked to job",
		"group_id", groupID,
		"job_path", jobPath,
		"configured_by", configuredBy)
	return nil
}
