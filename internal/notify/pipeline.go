// Package notify delivers build completion results to the chat group that
// requested the build.
//
// One event moves through Received, Correlated and CredentialsResolved before
// it is Delivered, PartiallyDelivered or Failed. The status message is always
// sent before any artifact work starts, so a failing upload can only add a
// warning and never hide the build outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/model"
	"buildrelay.app/relay/internal/service"
	"buildrelay.app/relay/internal/store"
)

type Stage string

const (
	StageReceived            Stage = "received"
	StageCorrelated          Stage = "correlated"
	StageCredentialsResolved Stage = "credentials_resolved"
	StageDelivered           Stage = "delivered"
)

type Outcome string

const (
	OutcomeRejected     Outcome = "rejected"
	OutcomeUncorrelated Outcome = "uncorrelated"
	OutcomeFailed       Outcome = "failed"
	OutcomeDelivered    Outcome = "delivered"
	OutcomePartial      Outcome = "partially_delivered"
)

// Result describes how far an event got.
type Result struct {
	Stage   Stage
	Outcome Outcome
	GroupID int64
	// Artifact is the delivered file name, empty when none was sent.
	Artifact string
	// Warning is the supplementary notice sent after the status message.
	Warning string
}

type Ledger interface {
	Correlate(ctx context.Context, requestID, jobPath string, buildNumber int64) (*model.BuildRequest, error)
}

type Clients interface {
	ClientFor(ctx context.Context, userID int64) (ci.Server, error)
}

type Deps struct {
	Messenger chat.Messenger
	Ledger    Ledger
	Clients   Clients
	Artifacts store.ArtifactStore
}

type Config struct {
	PropertiesFile string
	PathKey        string
	FetchTimeout   time.Duration
	Clock          clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		PropertiesFile: "build_info.properties",
		PathKey:        "LATEST_BUILD_FILE",
		FetchTimeout:   30 * time.Second,
	}
}

type Pipeline struct {
	messenger chat.Messenger
	ledger    Ledger
	clients   Clients
	artifacts store.ArtifactStore
	cfg       Config
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.PropertiesFile == "" {
		cfg.PropertiesFile = def.PropertiesFile
	}
	if cfg.PathKey == "" {
		cfg.PathKey = def.PathKey
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		messenger: deps.Messenger,
		ledger:    deps.Ledger,
		clients:   deps.Clients,
		artifacts: deps.Artifacts,
		cfg:       cfg,
	}
}

// Process runs one event to completion. It returns an error only while nothing
// has been delivered and the failure may pass on retry, so a retried event never
// duplicates a message. Everything after the first delivery is handled here.
func (p *Pipeline) Process(ctx context.Context, ev Event) (Result, error) {
	jobName := ev.JobName
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobPath:   &jobName,
		Component: "relay.notify.pipeline",
	})
	if ev.RequestID != "" {
		requestID := ev.RequestID
		ctx = logger.WithLogFields(ctx, logger.LogFields{RequestID: &requestID})
	}

	sc := logger.StartSpan(ctx, "notify.pipeline")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("ci.job", ev.JobName),
		attribute.Int64("ci.build_number", ev.BuildNumber),
		attribute.String("ci.status", ev.Status),
	)

	if err := ev.Validate(); err != nil {
		slog.WarnContext(ctx, "rejecting completion event", "error", err)
		return Result{Stage: StageReceived, Outcome: OutcomeRejected}, err
	}

	slog.InfoContext(ctx, "processing completion event",
		"build_number", ev.BuildNumber,
		"status", ev.Status,
		"target", ev.Target)

	req, err := p.ledger.Correlate(ctx, ev.RequestID, ev.JobName, ev.BuildNumber)
	if errors.Is(err, service.ErrNoBuildRequest) {
		slog.WarnContext(ctx, "no build request found for event, nobody to notify",
			"build_number", ev.BuildNumber)
		return Result{Stage: StageReceived, Outcome: OutcomeUncorrelated}, nil
	}
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "correlating completion event failed", "error", err)
		return Result{Stage: StageReceived, Outcome: OutcomeFailed}, fmt.Errorf("correlating event: %w", err)
	}

	groupID, requester := req.GroupID, req.RequesterID
	ctx = logger.WithLogFields(ctx, logger.LogFields{ChatID: &groupID, UserID: &requester})
	if ev.Target == "" {
		ev.Target = req.Target
	}
	res := Result{Stage: StageCorrelated, GroupID: groupID}

	client, err := p.clients.ClientFor(ctx, requester)
	if err != nil {
		slog.ErrorContext(ctx, "resolving requester credentials failed", "error", err)
		if _, sendErr := p.messenger.Send(ctx, groupID, chat.Plain(msgInternal)); sendErr != nil {
			slog.ErrorContext(ctx, "failed to notify group about missing credentials", "error", sendErr)
			res.Outcome = OutcomeFailed
			return res, fmt.Errorf("sending internal error notice: %w", sendErr)
		}
		res.Outcome = OutcomeFailed
		return res, nil
	}
	res.Stage = StageCredentialsResolved

	jobURL := client.JobURL(ev.JobName)
	status := statusText(ev, jobURL)
	msgID, err := p.messenger.Send(ctx, groupID, chat.Markdown(status))
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "sending status message failed", "error", err)
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("sending status message: %w", err)
	}
	res.Stage = StageDelivered
	res.Outcome = OutcomeDelivered

	if ev.Succeeded() {
		p.deliverArtifact(ctx, ev, client, groupID, msgID, status, &res)
	}

	slog.InfoContext(ctx, "completion event delivered",
		"outcome", res.Outcome,
		"artifact", res.Artifact)
	return res, nil
}

// deliverArtifact locates and uploads the build output. Every failure here is
// reported to the group as a follow-up and never returned.
func (p *Pipeline) deliverArtifact(ctx context.Context, ev Event, client ci.Server, groupID int64, msgID int, status string, res *Result) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	data, err := client.WorkspaceFile(fetchCtx, ev.JobName, p.cfg.PropertiesFile)
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "could not fetch build properties, sending status only",
			"error", err,
			"file", p.cfg.PropertiesFile)
		return
	}

	path := parseProperties(data)[p.cfg.PathKey]
	if path == "" {
		slog.InfoContext(ctx, "no artifact named in build properties", "key", p.cfg.PathKey)
		p.warn(ctx, groupID, msgNoArtifact, res, OutcomeDelivered)
		return
	}

	artifact, err := p.artifacts.Open(ctx, path)
	switch {
	case errors.Is(err, store.ErrArtifactNotFound):
		slog.ErrorContext(ctx, "artifact named in properties not found on disk", "path", path)
		p.warn(ctx, groupID, missingFileText(path), res, OutcomePartial)
		return
	case errors.Is(err, store.ErrArtifactPathTraversal), errors.Is(err, store.ErrInvalidArtifactPath):
		slog.ErrorContext(ctx, "artifact path rejected", "path", path, "error", err)
		p.warn(ctx, groupID, disallowedFileText(path), res, OutcomePartial)
		return
	case err != nil:
		slog.ErrorContext(ctx, "opening artifact failed", "path", path, "error", err)
		p.warn(ctx, groupID, sendFailedText(err), res, OutcomePartial)
		return
	}
	defer artifact.Close()

	if err := p.messenger.Edit(ctx, groupID, msgID, chat.Markdown(status+uploadingNote)); err != nil {
		slog.WarnContext(ctx, "could not add uploading note to status message", "error", err)
	}

	name := ArtifactName(artifact.Name, ev.Target)
	started := p.cfg.Clock.Now()
	err = p.messenger.SendDocument(ctx, groupID, chat.Document{Name: name, Reader: artifact})
	if editErr := p.messenger.Edit(ctx, groupID, msgID, chat.Markdown(status)); editErr != nil {
		slog.WarnContext(ctx, "could not remove uploading note", "error", editErr)
	}
	if err != nil {
		slog.ErrorContext(ctx, "sending artifact failed",
			"error", err,
			"path", path,
			"size", artifact.Size)
		p.warn(ctx, groupID, sendFailedText(err), res, OutcomePartial)
		return
	}

	res.Artifact = name
	slog.InfoContext(ctx, "artifact sent",
		"path", path,
		"file_name", name,
		"size", artifact.Size,
		"duration_ms", p.cfg.Clock.Since(started).Milliseconds())
}

func (p *Pipeline) warn(ctx context.Context, groupID int64, body string, res *Result, outcome Outcome) {
	res.Warning = body
	res.Outcome = outcome
	if _, err := p.messenger.Send(ctx, groupID, chat.Markdown(body)); err != nil {
		slog.ErrorContext(ctx, "sending artifact warning failed", "error", err)
	}
}
