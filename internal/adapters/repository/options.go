package repository

import "time"

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithMetricsUpdateInterval sets the interval for background gauge updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *TreapStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithPrioritySource overrides the treap priority generator.
func WithPrioritySource(fn func() uint64) Option {
	return func(s *TreapStore) {
		if fn != nil {
			s.priority = fn
		}
	}
}
