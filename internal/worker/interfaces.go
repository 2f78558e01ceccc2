package worker

import (
	"context"

	"buildrelay.app/relay/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	// Touch resets the idle time of a message that is still being processed.
	Touch(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

var _ Consumer = (*queue.RedisConsumer)(nil)
