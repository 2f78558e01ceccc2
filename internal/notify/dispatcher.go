package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher hands a validated event off for asynchronous processing. Dispatch
// must return quickly; the webhook responds as soon as it does.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

type Processor interface {
	Process(ctx context.Context, ev Event) (Result, error)
}

// InlineDispatcher runs each event on its own goroutine inside this process.
// Events dispatched before Wait returns are always processed to completion.
type InlineDispatcher struct {
	processor Processor
	wg        sync.WaitGroup
}

func NewInlineDispatcher(processor Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: processor}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	// The request context ends with the HTTP response.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "panic recovered in notification pipeline",
					"panic", fmt.Sprint(r),
					"job_name", ev.JobName,
					"build_number", ev.BuildNumber)
			}
		}()

		res, err := d.processor.Process(ctx, ev)
		if err != nil {
			slog.ErrorContext(ctx, "notification pipeline failed",
				"error", err,
				"stage", res.Stage,
				"job_name", ev.JobName,
				"build_number", ev.BuildNumber)
		}
	}()
	return nil
}

// Wait blocks until every dispatched event has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
