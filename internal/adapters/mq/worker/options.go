package worker

import (
	"context"

	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Writer.
type Option func(*Writer)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Writer) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnApplied registers a callback run after each applied decision.
func WithOnApplied(fn func(ctx context.Context, cmd Command, res rating.Result)) Option {
	return func(w *Writer) {
		if fn != nil {
			w.onApplied = fn
		}
	}
}

// WithOnRejected registers a callback run when a decision fails.
func WithOnRejected(fn func(ctx context.Context, cmd Command, err error)) Option {
	return func(w *Writer) {
		if fn != nil {
			w.onRejected = fn
		}
	}
}
