package store

import (
	"context"
	"errors"

	"buildrelay.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// UserCredentialStore defines the contract for CI credential data access
type UserCredentialStore interface {
	Get(ctx context.Context, userID int64) (*model.UserCredential, error)
	Exists(ctx context.Context, userID int64) (bool, error)
	Upsert(ctx context.Context, cred *model.UserCredential) error
	Delete(ctx context.Context, userID int64) (bool, error)
}

// GroupConfigStore defines the contract for group ↔ job links
type GroupConfigStore interface {
	GetByGroup(ctx context.Context, groupID int64) (*model.GroupConfig, error)
	// Upsert replaces any existing link for cfg.GroupID atomically.
	Upsert(ctx context.Context, cfg *model.GroupConfig) error
}

// BuildRequestStore defines the contract for the build request ledger
type BuildRequestStore interface {
	Create(ctx context.Context, req *model.BuildRequest) error
	GetByRequestID(ctx context.Context, requestID string) (*model.BuildRequest, error)
	// GetLatestByJob returns the most recently created request for jobPath.
	GetLatestByJob(ctx context.Context, jobPath string) (*model.BuildRequest, error)
	// SetBuildNumber fills in the build number of a request that has none yet.
	// It reports whether a row was updated.
	SetBuildNumber(ctx context.Context, requestID string, buildNumber int64) (bool, error)
}
