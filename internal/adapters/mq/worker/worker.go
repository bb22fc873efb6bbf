// Package worker applies queued decisions to the rating engine.
//
// Exactly one Writer consumes the queue, so decisions reach the engine in
// the order they were enqueued.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/duel/internal/adapters/mq/queue"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Command is what the writer reads off the queue.
type Command = queue.Command

// Recorder applies one decision.
type Recorder interface {
	RecordDecision(ctx context.Context, winnerID, loserID string) (rating.Result, error)
}

// Queue defines how the writer receives commands. Close is optional and
// used by Shutdown to drain.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Command
}

// Worker processes commands until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is drained.
	Run(ctx context.Context)

	// Shutdown closes the queue and waits for pending commands to be applied.
	Shutdown(ctx context.Context) error
}

// Writer is the single consumer of the decision queue.
type Writer struct {
	queue    Queue
	recorder Recorder
	name     string

	onApplied  func(ctx context.Context, cmd Command, res rating.Result)
	onRejected func(ctx context.Context, cmd Command, err error)

	done   chan struct{}
	logger logger.Logger
}

// NewWriter creates the decision writer with configuration options.
func NewWriter(q Queue, r Recorder, opts ...Option) *Writer {
	w := &Writer{
		queue:      q,
		recorder:   r,
		name:       "writer",
		onApplied:  func(context.Context, Command, rating.Result) {},
		onRejected: func(context.Context, Command, error) {},
		done:       make(chan struct{}),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run implements Worker. It returns when ctx is canceled or the queue is
// closed and empty.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)

	commands := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if err := w.process(ctx, cmd); err != nil {
				w.logger.Warn(ctx, "decision not applied", logger.Error(err))
			}
		}
	}
}

// Shutdown implements Worker.
func (w *Writer) Shutdown(ctx context.Context) error {
	if closer, ok := w.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			w.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

func (w *Writer) process(ctx context.Context, cmd Command) error {
	start := time.Now()

	res, err := w.recorder.RecordDecision(ctx, cmd.WinnerID, cmd.LoserID)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "record_decision")
		w.onRejected(ctx, cmd, err)
		return fmt.Errorf("request %s: %w", cmd.RequestID, err)
	}

	metrics.RecordWorkerProcessed(float64(time.Since(start).Microseconds()) / 1000)
	w.onApplied(ctx, cmd, res)
	return nil
}
