package dialog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"buildrelay.app/relay/common/id"
	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/model"
	"buildrelay.app/relay/internal/timeout"
)

const (
	DefaultSetupTTL = 300 * time.Second
	DefaultBuildTTL = 600 * time.Second
)

// Registry is the slice of timeout.Registry the engine drives.
type Registry interface {
	Register(key timeout.Key, kind timeout.Kind, ttl time.Duration)
	Touch(key timeout.Key, ttl time.Duration) bool
	Unregister(key timeout.Key) bool
}

type Accounts interface {
	IsLoggedIn(ctx context.Context, userID int64) (bool, error)
}

type Clients interface {
	ClientFor(ctx context.Context, userID int64) (ci.Server, error)
}

type Groups interface {
	Get(ctx context.Context, groupID int64) (*model.GroupConfig, error)
	Link(ctx context.Context, groupID int64, jobPath string, configuredBy int64) error
}

type Ledger interface {
	Put(ctx context.Context, req *model.BuildRequest) error
}

type Deps struct {
	Messenger chat.Messenger
	Registry  Registry
	Accounts  Accounts
	Clients   Clients
	Groups    Groups
	Ledger    Ledger
}

type Config struct {
	SetupTTL     time.Duration
	BuildTTL     time.Duration
	NewRequestID func() string
	Clock        clockwork.Clock
}

// Command is a /setup or /build invocation.
type Command struct {
	Wizard  Wizard
	ChatID  int64
	InGroup bool
	From    chat.User
}

// Interaction is a button press on a prompt message.
type Interaction struct {
	CallbackID string
	ChatID     int64
	MessageID  int
	InGroup    bool
	From       chat.User
	Action     Action
}

type pendingPrompt struct {
	wizard   Wizard
	issuedAt time.Time
}

// Engine runs the setup and build wizards. Sessions live in memory for the
// lifetime of the process and are keyed by their prompt message.
type Engine struct {
	messenger chat.Messenger
	registry  Registry
	accounts  Accounts
	clients   Clients
	groups    Groups
	ledger    Ledger
	cfg       Config

	mu       sync.Mutex
	sessions map[timeout.Key]*Session
	prompts  map[timeout.Key]pendingPrompt
}

var _ timeout.ExpiryListener = (*Engine)(nil)

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.SetupTTL <= 0 {
		cfg.SetupTTL = DefaultSetupTTL
	}
	if cfg.BuildTTL <= 0 {
		cfg.BuildTTL = DefaultBuildTTL
	}
	if cfg.NewRequestID == nil {
		cfg.NewRequestID = id.NewRequestID
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Engine{
		messenger: deps.Messenger,
		registry:  deps.Registry,
		accounts:  deps.Accounts,
		clients:   deps.Clients,
		groups:    deps.Groups,
		ledger:    deps.Ledger,
		cfg:       cfg,
		sessions:  make(map[timeout.Key]*Session),
		prompts:   make(map[timeout.Key]pendingPrompt),
	}
}

// Session returns a copy of the live session for a prompt.
func (e *Engine) Session(key timeout.Key) (Snapshot, bool) {
	e.mu.Lock()
	s, ok := e.sessions[key]
	e.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Len is the number of live sessions.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Handle applies one button press. It always answers the callback exactly once.
func (e *Engine) Handle(ctx context.Context, in Interaction) {
	chatID, userID := in.ChatID, in.From.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ChatID:    &chatID,
		UserID:    &userID,
		Component: "relay.dialog",
	})

	sc := logger.StartSpan(ctx, "dialog.handle")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("dialog.wizard", string(in.Action.Wizard)),
		attribute.String("dialog.action", in.Action.Kind.String()),
	)

	key := timeout.Key{ChatID: in.ChatID, MessageID: in.MessageID}

	if in.Action.Kind == ActionStart {
		e.start(ctx, in, key)
		return
	}

	e.mu.Lock()
	s := e.sessions[key]
	e.mu.Unlock()

	if s == nil {
		if in.Action.Kind == ActionCancel && e.takePrompt(key, in.Action.Wizard) {
			e.answer(ctx, in, "", false)
			e.edit(ctx, key, cancelledText(in.Action.Wizard))
			slog.InfoContext(ctx, "prompt cancelled before start", "wizard", in.Action.Wizard)
			return
		}
		e.answer(ctx, in, msgInactive, false)
		return
	}

	e.step(ctx, in, s)
}

// PromptExpired closes the session whose prompt the sweep just timed out.
func (e *Engine) PromptExpired(ctx context.Context, entry timeout.Entry) {
	e.mu.Lock()
	s, ok := e.sessions[entry.Key]
	if ok {
		delete(e.sessions, entry.Key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.closed = true
	s.registered = false
	s.mu.Unlock()

	slog.InfoContext(ctx, "dialog session expired",
		"chat_id", entry.Key.ChatID,
		"message_id", entry.Key.MessageID,
		"wizard", s.Wizard)
}

func (e *Engine) step(ctx context.Context, in Interaction, s *Session) {
	a := in.Action

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		e.answer(ctx, in, msgInactive, false)
		return
	case !IsOwner(s, in.From.ID):
		s.mu.Unlock()
		slog.InfoContext(ctx, "rejected input from non-owner", "owner_id", s.OwnerID)
		e.answer(ctx, in, msgNotOwner, true)
		return
	case a.Wizard != s.Wizard:
		s.mu.Unlock()
		e.answer(ctx, in, msgStale, false)
		return
	}

	r, ok := lookup(s.Wizard, s.State, a.Kind)
	if !ok {
		s.mu.Unlock()
		e.answer(ctx, in, msgStale, false)
		return
	}

	if a.Kind == ActionCancel {
		e.cancel(ctx, in, s, r)
		return
	}

	switch {
	case a.Rev != s.Rev:
		s.mu.Unlock()
		e.answer(ctx, in, msgStale, false)
		return
	case s.busy:
		s.mu.Unlock()
		e.answer(ctx, in, msgBusy, false)
		return
	case a.Kind == ActionChoose && (a.Index < 0 || a.Index >= len(s.Options)):
		s.mu.Unlock()
		e.answer(ctx, in, msgStale, false)
		return
	}

	var choice string
	if a.Kind == ActionChoose {
		choice = s.Options[a.Index]
	}
	client := s.client

	if r.terminal {
		// Claim the prompt before any side effect. If the sweep got here first
		// the dialog is already over.
		if !e.registry.Unregister(s.key()) {
			s.closed = true
			s.registered = false
			s.mu.Unlock()
			e.drop(s)
			e.answer(ctx, in, msgInactive, false)
			return
		}
		s.registered = false
		s.committing = true
		s.busy = true
		s.Rev++
		s.mu.Unlock()

		e.answer(ctx, in, "", false)
		e.commit(ctx, s, r, choice, client)
		return
	}

	s.busy = true
	s.Rev++
	s.mu.Unlock()

	e.answer(ctx, in, "", false)
	apply, failure := e.run(ctx, s, r, choice, client)
	e.finish(ctx, s, r, apply, failure)
}

func (e *Engine) cancel(ctx context.Context, in Interaction, s *Session, r rule) {
	if s.committing {
		s.mu.Unlock()
		e.answer(ctx, in, msgCommitting, true)
		return
	}

	key := s.key()
	s.closed = true
	s.State = r.next
	lost := s.registered && !e.registry.Unregister(key)
	s.registered = false
	if !lost {
		e.edit(ctx, key, cancelledText(s.Wizard))
	}
	s.mu.Unlock()
	e.drop(s)

	if lost {
		e.answer(ctx, in, msgInactive, false)
		return
	}
	e.answer(ctx, in, "", false)
	slog.InfoContext(ctx, "dialog cancelled", "wizard", s.Wizard)
}

// run performs the effect of a non-terminal step without holding any lock. It
// returns either a mutation to apply or a terminal failure message.
func (e *Engine) run(ctx context.Context, s *Session, r rule, choice string, client ci.Server) (func(*Session), *chat.Text) {
	switch r.effect {
	case effectListJobs:
		return e.listJobs(ctx, client, choice)
	case effectShowFolders:
		return func(s *Session) {
			s.Folder = ""
			s.Options = s.Folders
		}, nil
	case effectShowTargets:
		return func(s *Session) {
			s.Branch = choice
			s.Options = s.Params.Choices(ParamTarget)
		}, nil
	case effectShowBranches:
		return func(s *Session) {
			s.Branch = ""
			s.Options = s.Params.Choices(ParamBranch)
		}, nil
	default:
		slog.ErrorContext(ctx, "no handler for transition", "effect", r.effect.String(), "state", s.State)
		t := chat.Plain(msgInternal)
		return nil, &t
	}
}

func (e *Engine) start(ctx context.Context, in Interaction, key timeout.Key) {
	if !e.takePrompt(key, in.Action.Wizard) {
		e.answer(ctx, in, msgInactive, false)
		return
	}

	r, ok := lookup(in.Action.Wizard, StateIdle, ActionStart)
	if !ok {
		e.answer(ctx, in, msgStale, false)
		return
	}

	s := &Session{
		Wizard:    in.Action.Wizard,
		State:     StateIdle,
		OwnerID:   in.From.ID,
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		Rev:       1,
		busy:      true,
	}
	e.mu.Lock()
	e.sessions[key] = s
	e.mu.Unlock()

	e.answer(ctx, in, "", false)
	slog.InfoContext(ctx, "dialog started", "wizard", s.Wizard)

	var (
		apply   func(*Session)
		failure *chat.Text
	)
	switch r.effect {
	case effectListFolders:
		apply, failure = e.enterSetup(ctx, s, in)
	case effectLoadParams:
		apply, failure = e.enterBuild(ctx, s, in)
	}
	e.finish(ctx, s, r, apply, failure)
}

// finish applies the outcome of a non-terminal step and re-renders the prompt.
// The render happens under the session lock so a concurrent cancel cannot be
// overwritten by a late step.
func (e *Engine) finish(ctx context.Context, s *Session, r rule, apply func(*Session), failure *chat.Text) {
	key := s.key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.busy = false
		slog.InfoContext(ctx, "discarding step result for closed session", "effect", r.effect.String())
		return
	}

	if failure != nil {
		s.closed = true
		lost := s.registered && !e.registry.Unregister(key)
		s.registered = false
		if !lost {
			e.edit(ctx, key, *failure)
		}
		e.drop(s)
		return
	}

	apply(s)
	s.State = r.next
	s.busy = false

	kind, ttl := e.timeoutFor(s.Wizard)
	if !s.registered {
		e.registry.Register(key, kind, ttl)
		s.registered = true
	} else if !e.registry.Touch(key, ttl) {
		// The sweep evicted the prompt while the step ran; its edit stands.
		s.closed = true
		s.registered = false
		e.drop(s)
		return
	}

	e.edit(ctx, key, stepText(s))
}

// editIfOpen shows an interim status while a step is in flight.
func (e *Engine) editIfOpen(ctx context.Context, s *Session, msg chat.Text) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e.edit(ctx, s.key(), msg)
}

func (e *Engine) timeoutFor(w Wizard) (timeout.Kind, time.Duration) {
	if w == WizardSetup {
		return timeout.KindSetup, e.cfg.SetupTTL
	}
	return timeout.KindBuild, e.cfg.BuildTTL
}

// takePrompt consumes an unstarted prompt. Only the first Start or Cancel on a
// prompt gets true.
func (e *Engine) takePrompt(key timeout.Key, w Wizard) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prompts[key]
	if !ok || p.wizard != w {
		return false
	}
	delete(e.prompts, key)
	return true
}

func (e *Engine) rememberPrompt(key timeout.Key, w Wizard) {
	now := e.cfg.Clock.Now()
	maxAge := max(e.cfg.SetupTTL, e.cfg.BuildTTL)

	e.mu.Lock()
	defer e.mu.Unlock()
	for k, p := range e.prompts {
		if now.Sub(p.issuedAt) > maxAge {
			delete(e.prompts, k)
		}
	}
	e.prompts[key] = pendingPrompt{wizard: w, issuedAt: now}
}

func (e *Engine) drop(s *Session) {
	key := s.key()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[key] == s {
		delete(e.sessions, key)
	}
}

func (e *Engine) answer(ctx context.Context, in Interaction, text string, alert bool) {
	if in.CallbackID == "" {
		return
	}
	if err := e.messenger.Answer(ctx, in.CallbackID, text, alert); err != nil {
		slog.WarnContext(ctx, "failed to answer callback", "error", err)
	}
}

func (e *Engine) edit(ctx context.Context, key timeout.Key, msg chat.Text) {
	if err := e.messenger.Edit(ctx, key.ChatID, key.MessageID, msg); err != nil {
		slog.WarnContext(ctx, "failed to edit prompt",
			"error", err,
			"message_id", key.MessageID)
	}
}
