package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/internal/notify"
)

// Producer appends notification tasks to the stream. It is also the webhook's
// notify.Dispatcher when the redis backend is configured.
type Producer interface {
	notify.Dispatcher
	Enqueue(ctx context.Context, task NotificationTask) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Dispatch(ctx context.Context, ev notify.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	task := TaskFromEvent(ev)
	if task.TraceID == "" {
		task.TraceID = logger.TraceIDFromContext(ctx)
	}
	return p.Enqueue(ctx, task)
}

func (p *redisProducer) Enqueue(ctx context.Context, task NotificationTask) error {
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.values(attempt),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued notification task",
		"message_id", id,
		"job_name", task.JobName,
		"build_number", task.BuildNumber,
		"build_request_id", task.RequestID,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
