package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/chat"
)

const DefaultSweepInterval = 30 * time.Second

// Key identifies a displayed prompt.
type Key struct {
	ChatID    int64
	MessageID int
}

// Kind names the wizard that owns a prompt.
type Kind string

const (
	KindSetup Kind = "setup"
	KindBuild Kind = "build"
)

func (k Kind) title() string {
	s := string(k)
	if s == "" {
		return "Conversation"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type Entry struct {
	Key      Key
	Kind     Kind
	Deadline time.Time
}

// Editor rewrites a prompt message in place.
type Editor interface {
	Edit(ctx context.Context, chatID int64, messageID int, msg chat.Text) error
}

// ExpiryListener is told about every entry the sweep evicts, after the edit.
type ExpiryListener interface {
	PromptExpired(ctx context.Context, entry Entry)
}

type Config struct {
	SweepInterval time.Duration
	Clock         clockwork.Clock
}

type table struct {
	entries map[Key]Entry
	ticker  clockwork.Ticker
}

// Registry tracks prompts awaiting input. The table is owned by the Run
// goroutine; every other method talks to it over a channel.
type Registry struct {
	clock    clockwork.Clock
	interval time.Duration
	editor   Editor
	listener ExpiryListener

	ops       chan func(*table)
	stopCh    chan struct{}
	stoppedCh chan struct{}
	inflight  sync.WaitGroup
}

func New(editor Editor, cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Registry{
		clock:     cfg.Clock,
		interval:  cfg.SweepInterval,
		editor:    editor,
		ops:       make(chan func(*table)),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// SetListener must be called before Run.
func (r *Registry) SetListener(l ExpiryListener) {
	r.listener = l
}

func (r *Registry) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.timeout.registry"})
	defer close(r.stoppedCh)

	t := &table{entries: make(map[Key]Entry)}
	defer func() {
		if t.ticker != nil {
			t.ticker.Stop()
		}
	}()

	slog.InfoContext(ctx, "timeout registry started", "sweep_interval", r.interval)

	for {
		var tick <-chan time.Time
		if t.ticker != nil {
			tick = t.ticker.Chan()
		}

		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "timeout registry stopping", "pending", len(t.entries))
			return
		case op := <-r.ops:
			op(t)
		case now := <-tick:
			expired := r.evictExpired(t, now)
			if len(expired) == 0 {
				continue
			}
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				r.expire(ctx, expired)
			}()
		}
	}
}

// Stop ends Run and waits for in-flight expiry edits.
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
	r.inflight.Wait()
}

func (r *Registry) Register(key Key, kind Kind, ttl time.Duration) {
	deadline := r.clock.Now().Add(ttl)
	r.call(func(t *table) {
		t.entries[key] = Entry{Key: key, Kind: kind, Deadline: deadline}
		r.activate(t)
	})
}

// Touch pushes the deadline of an existing entry. It reports false when the
// entry is gone so the caller knows the prompt already expired.
func (r *Registry) Touch(key Key, ttl time.Duration) bool {
	deadline := r.clock.Now().Add(ttl)
	var ok bool
	r.call(func(t *table) {
		e, found := t.entries[key]
		if !found {
			return
		}
		e.Deadline = deadline
		t.entries[key] = e
		ok = true
	})
	return ok
}

// Unregister removes the entry if present. Exactly one of Unregister and the
// sweep observes the entry; the return value says whether this call did.
func (r *Registry) Unregister(key Key) bool {
	var ok bool
	r.call(func(t *table) {
		if _, found := t.entries[key]; !found {
			return
		}
		delete(t.entries, key)
		ok = true
		r.deactivateIfIdle(t)
	})
	return ok
}

func (r *Registry) Get(key Key) (Entry, bool) {
	var (
		e  Entry
		ok bool
	)
	r.call(func(t *table) {
		e, ok = t.entries[key]
	})
	return e, ok
}

func (r *Registry) Len() int {
	var n int
	r.call(func(t *table) {
		n = len(t.entries)
	})
	return n
}

// Active reports whether the periodic sweep is running.
func (r *Registry) Active() bool {
	var active bool
	r.call(func(t *table) {
		active = t.ticker != nil
	})
	return active
}

// Sweep expires every entry whose deadline is at or before now and returns
// how many it handled. The edits happen after the entries are evicted.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	var expired []Entry
	r.call(func(t *table) {
		expired = r.evictExpired(t, now)
	})
	r.expire(ctx, expired)
	return len(expired)
}

func (r *Registry) call(fn func(*table)) {
	done := make(chan struct{})
	select {
	case r.ops <- func(t *table) {
		fn(t)
		close(done)
	}:
		<-done
	case <-r.stoppedCh:
	}
}

func (r *Registry) activate(t *table) {
	if t.ticker == nil {
		t.ticker = r.clock.NewTicker(r.interval)
	}
}

func (r *Registry) deactivateIfIdle(t *table) {
	if len(t.entries) == 0 && t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}

func (r *Registry) evictExpired(t *table, now time.Time) []Entry {
	var expired []Entry
	for key, e := range t.entries {
		if !e.Deadline.After(now) {
			expired = append(expired, e)
			delete(t.entries, key)
		}
	}
	r.deactivateIfIdle(t)
	return expired
}

func (r *Registry) expire(ctx context.Context, expired []Entry) {
	for _, e := range expired {
		msg := chat.Plain(fmt.Sprintf("⏰ %s timed out due to inactivity.\n\nPlease start over by using the command again.", e.Kind.title()))
		if err := r.editor.Edit(ctx, e.Key.ChatID, e.Key.MessageID, msg); err != nil {
			slog.WarnContext(ctx, "could not edit timed out prompt",
				"error", err,
				"chat_id", e.Key.ChatID,
				"message_id", e.Key.MessageID,
				"kind", e.Kind)
		} else {
			slog.InfoContext(ctx, "prompt timed out",
				"chat_id", e.Key.ChatID,
				"message_id", e.Key.MessageID,
				"kind", e.Kind)
		}

		if r.listener != nil {
			r.listener.PromptExpired(ctx, e)
		}
	}
}
