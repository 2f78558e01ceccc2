package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/service"
	"buildrelay.app/relay/internal/store"
	"buildrelay.app/relay/internal/timeout"
)

// Prompt answers /setup or /build with the Start/Cancel message. No session
// exists until someone presses Start.
func (e *Engine) Prompt(ctx context.Context, cmd Command) error {
	if !cmd.InGroup {
		if _, err := e.messenger.Send(ctx, cmd.ChatID, chat.Plain(msgGroupOnly)); err != nil {
			return fmt.Errorf("sending group-only notice: %w", err)
		}
		return nil
	}

	if cmd.Wizard == WizardBuild {
		if _, err := e.groups.Get(ctx, cmd.ChatID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("loading group config: %w", err)
			}
			if _, err := e.messenger.Send(ctx, cmd.ChatID, chat.Plain(msgNotConfigured)); err != nil {
				return fmt.Errorf("sending not-configured notice: %w", err)
			}
			return nil
		}
	}

	msgID, err := e.messenger.Send(ctx, cmd.ChatID, promptText(cmd.Wizard))
	if err != nil {
		return fmt.Errorf("sending prompt: %w", err)
	}
	e.rememberPrompt(timeout.Key{ChatID: cmd.ChatID, MessageID: msgID}, cmd.Wizard)

	slog.InfoContext(ctx, "prompt sent",
		"wizard", cmd.Wizard,
		"chat_id", cmd.ChatID,
		"message_id", msgID,
		"user_id", cmd.From.ID)
	return nil
}

func (e *Engine) enterSetup(ctx context.Context, s *Session, in Interaction) (func(*Session), *chat.Text) {
	if !in.InGroup {
		return nil, textPtr(chat.Plain(msgGroupOnly))
	}

	loggedIn, err := e.accounts.IsLoggedIn(ctx, in.From.ID)
	if err != nil {
		slog.ErrorContext(ctx, "checking login state failed", "error", err)
		return nil, textPtr(chat.Plain(msgInternal))
	}
	if !loggedIn {
		return nil, textPtr(chat.Plain(msgNeedLogin))
	}

	e.editIfOpen(ctx, s, chat.Plain("🔍 Loading your projects..."))

	client, failure := e.clientFor(ctx, in.From.ID)
	if failure != nil {
		return nil, failure
	}

	folders, err := client.ListFolders(ctx)
	if err != nil {
		slog.WarnContext(ctx, "listing folders failed", "error", err)
		return nil, textPtr(failureText("❌ An error occurred while fetching projects.", ci.Describe(err)))
	}
	if len(folders) == 0 {
		return nil, textPtr(chat.Plain("❌ No project folders found."))
	}

	return func(s *Session) {
		s.client = client
		s.Folders = folders
		s.Options = folders
	}, nil
}

func (e *Engine) listJobs(ctx context.Context, client ci.Server, folder string) (func(*Session), *chat.Text) {
	jobs, err := client.ListJobs(ctx, folder)
	if err != nil {
		slog.WarnContext(ctx, "listing jobs failed", "error", err, "folder", folder)
		return nil, textPtr(failureText("❌ Error accessing folder.", ci.Describe(err)))
	}
	if len(jobs) == 0 {
		return nil, textPtr(chat.Plain(fmt.Sprintf("❌ No jobs found in folder '%s'.", folder)))
	}

	return func(s *Session) {
		s.Folder = folder
		s.Options = jobs
	}, nil
}

// linkJob stores the group link; a second run for the same group replaces it.
func (e *Engine) linkJob(ctx context.Context, s *Session, job string) chat.Text {
	s.mu.Lock()
	chatID, owner, folder := s.ChatID, s.OwnerID, s.Folder
	s.mu.Unlock()

	if folder == "" {
		return chat.Plain("Error: Project folder not found in session. Please start over.")
	}
	jobPath := folder + "/" + job

	if err := e.groups.Link(ctx, chatID, jobPath, owner); err != nil {
		slog.ErrorContext(ctx, "saving group config failed", "error", err, "job_path", jobPath)
		return chat.Plain("❌ An error occurred during setup.")
	}

	s.mu.Lock()
	s.JobPath = jobPath
	s.mu.Unlock()

	slog.InfoContext(ctx, "group linked to job", "job_path", jobPath)
	return setupDoneText(folder, job, jobPath)
}

// clientFor maps credential lookup errors to the message the user should see.
func (e *Engine) clientFor(ctx context.Context, userID int64) (ci.Server, *chat.Text) {
	client, err := e.clients.ClientFor(ctx, userID)
	switch {
	case err == nil:
		return client, nil
	case errors.Is(err, service.ErrNotLoggedIn):
		return nil, textPtr(chat.Plain(msgNeedLogin))
	case errors.Is(err, service.ErrCredentialsUnusable):
		slog.WarnContext(ctx, "stored credentials unusable", "error", err)
		return nil, textPtr(chat.Plain(msgRelogin))
	default:
		slog.ErrorContext(ctx, "resolving ci client failed", "error", err)
		return nil, textPtr(chat.Plain(msgInternal))
	}
}

func textPtr(t chat.Text) *chat.Text {
	return &t
}
