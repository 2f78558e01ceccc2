package store

import (
	"context"
	"errors"
	"fmt"

	"buildrelay.app/relay/core/db"
	"buildrelay.app/relay/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type buildRequestStore struct {
	queries db.Querier
}

func newBuildRequestStore(queries db.Querier) BuildRequestStore {
	return &buildRequestStore{queries: queries}
}

const buildRequestColumns = `request_id, job_path, build_number, group_id, requester_id, target, created_at`

func (s *buildRequestStore) Create(ctx context.Context, req *model.BuildRequest) error {
	row := s.queries.QueryRow(ctx, `
		INSERT INTO build_requests (request_id, job_path, build_number, group_id, requester_id, target)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		req.RequestID, req.JobPath, int64PtrToPgInt8(req.BuildNumber), req.GroupID, req.RequesterID, req.Target)

	if err := row.Scan(&req.CreatedAt); err != nil {
		return fmt.Errorf("inserting build request: %w", err)
	}
	return nil
}

func (s *buildRequestStore) GetByRequestID(ctx context.Context, requestID string) (*model.BuildRequest, error) {
	return s.scanOne(s.queries.QueryRow(ctx,
		`SELECT `+buildRequestColumns+` FROM build_requests WHERE request_id = $1`, requestID))
}

func (s *buildRequestStore) GetLatestByJob(ctx context.Context, jobPath string) (*model.BuildRequest, error) {
	return s.scanOne(s.queries.QueryRow(ctx, `
		SELECT `+buildRequestColumns+`
		FROM build_requests
		WHERE job_path = $1
		ORDER BY created_at DESC
		LIMIT 1`, jobPath))
}

func (s *buildRequestStore) SetBuildNumber(ctx context.Context, requestID string, buildNumber int64) (bool, error) {
	tag, err := s.queries.Exec(ctx, `
		UPDATE build_requests
		SET build_number = $2
		WHERE request_id = $1 AND build_number IS NULL`, requestID, buildNumber)
	if err != nil {
		return false, fmt.Errorf("updating build number: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *buildRequestStore) scanOne(row pgx.Row) (*model.BuildRequest, error) {
	var (
		req         model.BuildRequest
		buildNumber pgtype.Int8
	)
	if err := row.Scan(&req.RequestID, &req.JobPath, &buildNumber, &req.GroupID, &req.RequesterID, &req.Target, &req.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting build request: %w", err)
	}
	if buildNumber.Valid {
		req.BuildNumber = &buildNumber.Int64
	}
	return &req, nil
}

func int64PtrToPgInt8(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}
