package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/dialog"
)

const DefaultLoginTTL = 10 * time.Minute

type Accounts interface {
	IsLoggedIn(ctx context.Context, userID int64) (bool, error)
	Login(ctx context.Context, userID int64, creds ci.Credentials) (*ci.Identity, error)
	Logout(ctx context.Context, userID int64) (bool, error)
}

// Dialogs is the slice of dialog.Engine the router drives.
type Dialogs interface {
	Prompt(ctx context.Context, cmd dialog.Command) error
	Handle(ctx context.Context, in dialog.Interaction)
}

type Deps struct {
	Messenger chat.Messenger
	Accounts  Accounts
	Dialogs   Dialogs
}

type Config struct {
	LoginTTL time.Duration
	Clock    clockwork.Clock
}

// Bot routes inbound chat updates to commands, the login conversation and the
// wizard engine.
type Bot struct {
	messenger chat.Messenger
	accounts  Accounts
	dialogs   Dialogs
	logins    *logins

	inflight sync.WaitGroup

	mu sync.Mutex
	// queued holds private-chat updates waiting behind one already running
	// for the same user. A key is present while that user has a handler.
	queued map[int64][]chat.Update
}

func New(deps Deps, cfg Config) *Bot {
	if cfg.LoginTTL <= 0 {
		cfg.LoginTTL = DefaultLoginTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Bot{
		messenger: deps.Messenger,
		accounts:  deps.Accounts,
		dialogs:   deps.Dialogs,
		logins:    newLogins(cfg.Clock, cfg.LoginTTL),
		queued:    make(map[int64][]chat.Update),
	}
}

// Run handles updates until the channel closes or ctx is done, then waits for
// handlers still running. Private messages from one user are handled in the
// order they arrived so login answers cannot overtake each other; everything
// else runs concurrently.
func (b *Bot) Run(ctx context.Context, updates <-chan chat.Update) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.bot"})
	defer b.inflight.Wait()

	slog.InfoContext(ctx, "bot started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "bot stopping")
			return
		case upd, ok := <-updates:
			if !ok {
				slog.InfoContext(ctx, "update channel closed")
				return
			}
			b.dispatch(context.WithoutCancel(ctx), upd)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, upd chat.Update) {
	if !upd.IsPrivate() || upd.Callback != nil {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.handleSafe(ctx, upd)
		}()
		return
	}

	userID := upd.From.ID
	b.mu.Lock()
	if q, busy := b.queued[userID]; busy {
		b.queued[userID] = append(q, upd)
		b.mu.Unlock()
		return
	}
	b.queued[userID] = nil
	b.mu.Unlock()

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		for {
			b.handleSafe(ctx, upd)

			b.mu.Lock()
			q := b.queued[userID]
			if len(q) == 0 {
				delete(b.queued, userID)
				b.mu.Unlock()
				return
			}
			upd, b.queued[userID] = q[0], q[1:]
			b.mu.Unlock()
		}
	}()
}

func (b *Bot) handleSafe(ctx context.Context, upd chat.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in update handler",
				"panic", fmt.Sprint(r),
				"chat_id", upd.ChatID)
		}
	}()
	b.HandleUpdate(ctx, upd)
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, upd chat.Update) {
	chatID, userID := upd.ChatID, upd.From.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{ChatID: &chatID, UserID: &userID})

	switch {
	case upd.Callback != nil:
		b.handleCallback(ctx, upd)
	case upd.Command != "":
		b.handleCommand(ctx, upd)
	case upd.Text != "" && upd.IsPrivate():
		b.handleLoginReply(ctx, upd)
	}
}

func (b *Bot) handleCallback(ctx context.Context, upd chat.Update) {
	action, err := dialog.ParseAction(upd.Callback.Data)
	if err != nil {
		slog.WarnContext(ctx, "ignoring malformed callback", "error", err)
		if err := b.messenger.Answer(ctx, upd.Callback.ID, msgUnknownAction, false); err != nil {
			slog.WarnContext(ctx, "failed to answer callback", "error", err)
		}
		return
	}

	b.dialogs.Handle(ctx, dialog.Interaction{
		CallbackID: upd.Callback.ID,
		ChatID:     upd.ChatID,
		MessageID:  upd.Callback.MessageID,
		InGroup:    upd.IsGroup(),
		From:       upd.From,
		Action:     action,
	})
}

func (b *Bot) reply(ctx context.Context, chatID int64, msg chat.Text) {
	if _, err := b.messenger.Send(ctx, chatID, msg); err != nil {
		slog.WarnContext(ctx, "failed to send reply", "error", err)
	}
}
