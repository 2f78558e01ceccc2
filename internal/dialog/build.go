package dialog

import (
	"context"
	"errors"
	"log/slog"

	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/model"
	"buildrelay.app/relay/internal/store"
)

// Build parameters the CI job is expected to declare and accept.
const (
	ParamBranch    = "GIT_BRANCH"
	ParamTarget    = "BUILD_TARGET"
	ParamRequestID = "BUILD_REQUEST_ID"
)

func (e *Engine) enterBuild(ctx context.Context, s *Session, in Interaction) (func(*Session), *chat.Text) {
	if !in.InGroup {
		return nil, textPtr(chat.Plain(msgGroupOnly))
	}

	cfg, err := e.groups.Get(ctx, in.ChatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, textPtr(chat.Plain(msgNotConfigured))
		}
		slog.ErrorContext(ctx, "loading group config failed", "error", err)
		return nil, textPtr(chat.Plain(msgInternal))
	}
	jobPath := cfg.JobPath
	ctx = logger.WithLogFields(ctx, logger.LogFields{JobPath: &jobPath})

	e.editIfOpen(ctx, s, loadingParamsText(jobPath))

	client, failure := e.clientFor(ctx, in.From.ID)
	if failure != nil {
		return nil, failure
	}

	// Fetched once; later steps and Back render from this snapshot.
	params, err := client.Parameters(ctx, jobPath)
	if err != nil {
		slog.WarnContext(ctx, "fetching job parameters failed", "error", err)
		return nil, textPtr(failureText("❌ An error occurred while fetching job info from Jenkins.", ci.Describe(err)))
	}

	branches := params.Choices(ParamBranch)
	if len(branches) == 0 {
		return nil, textPtr(chat.Plain("❌ Could not find any GIT_BRANCH parameter for this job."))
	}
	if len(params.Choices(ParamTarget)) == 0 {
		return nil, textPtr(chat.Plain("❌ Could not find any BUILD_TARGET parameter for this job."))
	}

	return func(s *Session) {
		s.client = client
		s.JobPath = jobPath
		s.Params = params
		s.Options = branches
	}, nil
}

// trigger queues the build and records it. The ledger row is written only
// after Jenkins accepted the trigger.
func (e *Engine) trigger(ctx context.Context, s *Session, target string, client ci.Server) chat.Text {
	s.mu.Lock()
	chatID, owner, jobPath, branch := s.ChatID, s.OwnerID, s.JobPath, s.Branch
	s.Target = target
	s.mu.Unlock()

	requestID := e.cfg.NewRequestID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{RequestID: &requestID, JobPath: &jobPath})

	queueItem, err := client.TriggerBuild(ctx, jobPath, map[string]string{
		ParamBranch:    branch,
		ParamTarget:    target,
		ParamRequestID: requestID,
	})
	if err != nil {
		slog.ErrorContext(ctx, "triggering build failed", "error", err)
		return failureText("❌ Failed to start the build on Jenkins.", ci.Describe(err))
	}

	slog.InfoContext(ctx, "build triggered",
		"branch", branch,
		"target", target,
		"queue_item", queueItem)

	body := buildTriggeredText(jobPath, branch, target)
	req := &model.BuildRequest{
		RequestID:   requestID,
		JobPath:     jobPath,
		GroupID:     chatID,
		RequesterID: owner,
		Target:      target,
	}
	if err := e.ledger.Put(ctx, req); err != nil {
		slog.ErrorContext(ctx, "recording build request failed", "error", err)
		body += "\n\n⚠️ This build could not be recorded, so its result may not be delivered here\\."
	}
	return chat.Markdown(body)
}

func (e *Engine) commit(ctx context.Context, s *Session, r rule, choice string, client ci.Server) {
	var text chat.Text
	switch r.effect {
	case effectLinkJob:
		text = e.linkJob(ctx, s, choice)
	case effectTrigger:
		text = e.trigger(ctx, s, choice, client)
	default:
		slog.ErrorContext(ctx, "no handler for terminal transition", "effect", r.effect.String())
		text = chat.Plain(msgInternal)
	}

	s.mu.Lock()
	s.State = r.next
	s.closed = true
	s.committing = false
	s.busy = false
	s.mu.Unlock()
	e.drop(s)

	e.edit(ctx, s.key(), text)
}
