package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/notify"
	"buildrelay.app/relay/internal/queue"
)

// DefaultHeartbeatInterval keeps in-flight messages well under the
// reclaimer's default MinIdle.
const DefaultHeartbeatInterval = 30 * time.Second

type Config struct {
	MaxAttempts int
	Concurrency int
	// HeartbeatInterval is how often an in-flight message's idle time is reset.
	// It must be shorter than the reclaimer's MinIdle.
	HeartbeatInterval time.Duration
	Clock             clockwork.Clock
}

// Worker drains the notification stream, running each message's pipeline on
// its own goroutine up to Concurrency at a time.
type Worker struct {
	consumer  Consumer
	processor notify.Processor
	cfg       Config
	sem       *semaphore.Weighted
	inflight  sync.WaitGroup

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

func New(consumer Consumer, processor notify.Processor, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called. In-flight messages are
// finished before it returns.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.worker"})
	defer close(w.stoppedCh)
	defer w.inflight.Wait()

	slog.InfoContext(ctx, "worker started",
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-w.cfg.Clock.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			// Left pending; the reclaimer picks it up.
			return err
		}
		w.inflight.Add(1)
		go func(msg queue.Message) {
			defer w.inflight.Done()
			defer w.sem.Release(1)
			w.Handle(context.WithoutCancel(ctx), msg)
		}(msg)
	}

	return nil
}

// Handle processes msg and settles it on the stream: ack on success, requeue on
// a retryable failure, DLQ when attempts are exhausted or the task is invalid.
// Exported so it can be reused by the reclaimer.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	msgID := msg.ID
	jobName := msg.JobName
	fields := logger.LogFields{MessageID: &msgID, JobPath: &jobName}
	if msg.RequestID != "" {
		requestID := msg.RequestID
		fields.RequestID = &requestID
	}
	ctx = logger.WithLogFields(ctx, fields)

	stopHeartbeat := w.heartbeat(ctx, msg)
	err := w.processMessageSafe(ctx, msg)
	stopHeartbeat()
	if err == nil {
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			// Redelivery is harmless for a message that already settled.
			slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
		}
		return
	}

	slog.ErrorContext(ctx, "message processing failed",
		"error", err,
		"attempt", msg.Attempt)
	w.handleFailedMessage(ctx, msg, err)
}

// heartbeat touches msg every HeartbeatInterval until the returned func is
// called, so a slow upload is not mistaken for a dead consumer and re-driven.
func (w *Worker) heartbeat(ctx context.Context, msg queue.Message) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	ticker := w.cfg.Clock.NewTicker(w.cfg.HeartbeatInterval)

	go func() {
		defer close(stopped)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				if err := w.consumer.Touch(ctx, msg); err != nil {
					slog.WarnContext(ctx, "failed to extend message claim", "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", fmt.Sprint(r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processMessage(ctx, msg)
}

func (w *Worker) processMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.notification",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("messaging.message.id", msg.ID),
		attribute.Int("messaging.attempt", msg.Attempt),
	)

	slog.InfoContext(ctx, "processing message",
		"build_number", msg.BuildNumber,
		"status", msg.Status,
		"attempt", msg.Attempt)

	start := w.cfg.Clock.Now()
	res, err := w.processor.Process(ctx, msg.Event())
	if err != nil {
		sc.RecordError(err)
		return err
	}

	slog.InfoContext(ctx, "message processed",
		"outcome", res.Outcome,
		"duration_ms", w.cfg.Clock.Since(start).Milliseconds())
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if errors.Is(err, notify.ErrInvalidEvent) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "not retrying message, sending to DLQ",
			"attempts", msg.Attempt,
			"error", err)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
