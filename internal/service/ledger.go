package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"buildrelay.app/relay/internal/model"
	"buildrelay.app/relay/internal/store"
)

// Ledger correlates triggered builds with the group and user to notify.
type Ledger interface {
	Put(ctx context.Context, req *model.BuildRequest) error
	Get(ctx context.Context, requestID string) (*model.BuildRequest, error)
	GetLatestByJob(ctx context.Context, jobPath string) (*model.BuildRequest, error)
	SetBuildNumber(ctx context.Context, requestID string, buildNumber int64) (bool, error)

	// Resolve finds the request a completion event belongs to. A request id wins when
	// it is known; otherwise the latest request for jobPath is used, which is only a
	// best-effort guess when the job runs concurrently. Returns ErrNoBuildRequest on a miss.
	Resolve(ctx context.Context, requestID, jobPath string) (*model.BuildRequest, error)

	// Correlate is Resolve plus back-filling the build number, in one transaction.
	Correlate(ctx context.Context, requestID, jobPath string, buildNumber int64) (*model.BuildRequest, error)
}

type ledger struct {
	requests store.BuildRequestStore
	txRunner TxRunner
}

func NewLedger(requests store.BuildRequestStore, txRunner TxRunner) Ledger {
	return &ledger{requests: requests, txRunner: txRunner}
}

func (l *ledger) Put(ctx context.Context, req *model.BuildRequest) error {
	if req == nil || req.RequestID == "" || req.JobPath == "" {
		return ErrInvalidBuildRequest
	}
	if err := l.requests.Create(ctx, req); err != nil {
		return fmt.Errorf("recording build request: %w", err)
	}
	slog.InfoContext(ctx, "build request recorded",
		"request_id", req.RequestID,
		"job_path", req.JobPath,
		"group_id", req.GroupID,
		"requester_id", req.RequesterID)
	return nil
}

func (l *ledger) Get(ctx context.Context, requestID string) (*model.BuildRequest, error) {
	return l.requests.GetByRequestID(ctx, requestID)
}

func (l *ledger) GetLatestByJob(ctx context.Context, jobPath string) (*model.BuildRequest, error) {
	return l.requests.GetLatestByJob(ctx, jobPath)
}

func (l *ledger) SetBuildNumber(ctx context.Context, requestID string, buildNumber int64) (bool, error) {
	return l.requests.SetBuildNumber(ctx, requestID, buildNumber)
}

func (l *ledger) Resolve(ctx context.Context, requestID, jobPath string) (*model.BuildRequest, error) {
	return resolve(ctx, l.requests, requestID, jobPath)
}

func (l *ledger) Correlate(ctx context.Context, requestID, jobPath string, buildNumber int64) (*model.BuildRequest, error) {
	var req *model.BuildRequest
	err := l.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		requests := stores.BuildRequests()

		found, err := resolve(ctx, requests, requestID, jobPath)
		if err != nil {
			return err
		}

		if found.BuildNumber == nil && buildNumber > 0 {
			updated, err := requests.SetBuildNumber(ctx, found.RequestID, buildNumber)
			if err != nil {
				return fmt.Errorf("setting build number: %w", err)
			}
			if updated {
				found.BuildNumber = &buildNumber
			}
		}

		req = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func resolve(ctx context.Context, requests store.BuildRequestStore, requestID, jobPath string) (*model.BuildRequest, error) {
	if requestID != "" {
		req, err := requests.GetByRequestID(ctx, requestID)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up build request %s: %w", requestID, err)
		}
		slog.WarnContext(ctx, "unknown build request id, falling back to job lookup",
			"request_id", requestID,
			"job_path", jobPath)
	}

	if jobPath == "" {
		return nil, ErrNoBuildRequest
	}

	req, err := requests.GetLatestByJob(ctx, jobPath)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoBuildRequest
	}
	if err != nil {
		return nil, fmt.Errorf("looking up latest build request for %s: %w", jobPath, err)
	}

	slog.WarnContext(ctx, "correlating by latest request for job; ambiguous under concurrent builds",
		"job_path", jobPath,
		"request_id", req.RequestID)
	return req, nil
}
