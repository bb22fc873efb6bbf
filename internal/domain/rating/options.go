package rating

import (
	"time"

	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithKFactor sets the K-factor. Non-positive values are ignored.
func WithKFactor(k float64) Option {
	return func(e *Engine) {
		if k > 0 {
			e.kFactor = k
		}
	}
}

// WithDefaultRating sets the rating given to an entity on its first decision.
func WithDefaultRating(r float64) Option {
	return func(e *Engine) {
		e.defaultRating = r
	}
}

// WithClock sets the time source for decisions and record updates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the decision id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
