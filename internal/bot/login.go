package bot

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/service"
)

type loginStep int

const (
	stepServerURL loginStep = iota + 1
	stepUserID
	stepToken
)

type loginState struct {
	step      loginStep
	serverURL string
	userID    string
	expires   time.Time
}

// logins holds the text conversations started by /login, one per user.
type logins struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	pending map[int64]*loginState
}

func newLogins(clock clockwork.Clock, ttl time.Duration) *logins {
	return &logins{clock: clock, ttl: ttl, pending: make(map[int64]*loginState)}
}

func (l *logins) begin(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	l.pending[userID] = &loginState{step: stepServerURL, expires: l.clock.Now().Add(l.ttl)}
}

func (l *logins) cancel(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	_, ok := l.pending[userID]
	delete(l.pending, userID)
	return ok
}

func (l *logins) current(userID int64) (loginStep, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	st, ok := l.pending[userID]
	if !ok {
		return 0, false
	}
	return st.step, true
}

// consume records one answer and returns the state as it was before it. The
// token answer ends the conversation.
func (l *logins) consume(userID int64, answer string) (loginState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()

	st, ok := l.pending[userID]
	if !ok {
		return loginState{}, false
	}
	before := *st

	switch st.step {
	case stepServerURL:
		st.serverURL = answer
		st.step = stepUserID
	case stepUserID:
		st.userID = answer
		st.step = stepToken
	case stepToken:
		delete(l.pending, userID)
	}
	st.expires = l.clock.Now().Add(l.ttl)
	return before, true
}

func (l *logins) pruneLocked() {
	now := l.clock.Now()
	for id, st := range l.pending {
		if now.After(st.expires) {
			delete(l.pending, id)
		}
	}
}

func (b *Bot) startLogin(ctx context.Context, upd chat.Update) {
	if !upd.IsPrivate() {
		b.reply(ctx, upd.ChatID, chat.Plain(msgLoginPrivateOnly))
		return
	}

	loggedIn, err := b.accounts.IsLoggedIn(ctx, upd.From.ID)
	if err != nil {
		slog.ErrorContext(ctx, "checking login state failed", "error", err)
		b.reply(ctx, upd.ChatID, chat.Plain(msgInternal))
		return
	}
	if loggedIn {
		b.reply(ctx, upd.ChatID, chat.Plain(msgAlreadyLoggedIn))
		return
	}

	b.logins.begin(upd.From.ID)
	slog.InfoContext(ctx, "login conversation started")
	b.reply(ctx, upd.ChatID, chat.Plain(msgAskServerURL))
}

func (b *Bot) cancelLogin(ctx context.Context, upd chat.Update) {
	if b.logins.cancel(upd.From.ID) {
		slog.InfoContext(ctx, "login conversation cancelled")
		b.reply(ctx, upd.ChatID, chat.Plain(msgLoginCancelled))
		return
	}
	b.reply(ctx, upd.ChatID, chat.Plain(msgNothingToCancel))
}

func (b *Bot) handleLoginReply(ctx context.Context, upd chat.Update) {
	answer := strings.TrimSpace(upd.Text)
	if answer == "" {
		return
	}

	if step, ok := b.logins.current(upd.From.ID); ok && step == stepServerURL && !validServerURL(answer) {
		b.reply(ctx, upd.ChatID, chat.Plain(msgBadServerURL))
		return
	}

	st, ok := b.logins.consume(upd.From.ID, answer)
	if !ok {
		return
	}

	switch st.step {
	case stepServerURL:
		b.reply(ctx, upd.ChatID, chat.Plain(msgAskUserID))
	case stepUserID:
		b.reply(ctx, upd.ChatID, chat.Plain(msgAskToken))
	case stepToken:
		b.finishLogin(ctx, upd, ci.Credentials{
			ServerURL: st.serverURL,
			UserID:    st.userID,
			Token:     answer,
		})
	}
}

func (b *Bot) finishLogin(ctx context.Context, upd chat.Update, creds ci.Credentials) {
	b.reply(ctx, upd.ChatID, chat.Plain(msgVerifying))

	identity, err := b.accounts.Login(ctx, upd.From.ID, creds)
	if err != nil {
		slog.WarnContext(ctx, "login failed",
			"error", err,
			"server_url", creds.ServerURL,
			"ci_user", creds.UserID)
		b.reply(ctx, upd.ChatID, chat.Plain(loginFailedText(err)))
		return
	}

	name := identity.FullName
	if name == "" {
		name = creds.UserID
	}
	b.reply(ctx, upd.ChatID, chat.Plain("✅ Success! Connected as '"+name+"'."))
}

func loginFailedText(err error) string {
	var statusErr *ci.StatusError
	switch {
	case errors.Is(err, service.ErrAlreadyLoggedIn):
		return msgAlreadyLoggedIn
	case errors.Is(err, ci.ErrUnauthorized):
		return "❌ Authentication failed: Jenkins rejected these credentials. Please use /login to try again."
	case errors.As(err, &statusErr), errors.Is(err, ci.ErrNotFound), errors.Is(err, ci.ErrUnavailable):
		return "❌ Authentication failed: " + ci.Describe(err) + " Please use /login to try again."
	case errors.Is(err, ci.ErrInvalidServerURL):
		return "❌ Authentication failed: the server URL is not valid. Please use /login to try again."
	default:
		return "❌ Authentication failed: could not reach Jenkins with these details. Please use /login to try again."
	}
}

func validServerURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
