// Package history is the append-only decision log.
//
// The log keeps every decision in memory. Retention is left to the caller,
// which may snapshot it through the persistence adapters.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Log is an append-only, concurrency-safe decision log.
type Log struct {
	mu        sync.RWMutex
	decisions []model.Decision
	judged    []string
	seen      map[string]struct{}
}

// New returns an empty log.
func New() *Log {
	return &Log{seen: make(map[string]struct{})}
}

// Append adds d to the end of the log.
func (l *Log) Append(_ context.Context, d model.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
	l.markJudged(d.WinnerID)
	l.markJudged(d.LoserID)
}

func (l *Log) markJudged(id string) {
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.judged = append(l.judged, id)
}

// Len returns the number of decisions.
func (l *Log) Len(_ context.Context) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.decisions)
}

// All returns a copy of every decision in submission order.
func (l *Log) All(_ context.Context) []model.Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.Decision(nil), l.decisions...)
}

// Recent returns up to n most recent decisions, newest first.
// n <= 0 returns all of them.
func (l *Log) Recent(_ context.Context, n int) []model.Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.decisions) {
		n = len(l.decisions)
	}
	out := make([]model.Decision, 0, n)
	for i := len(l.decisions) - 1; i >= len(l.decisions)-n; i-- {
		out = append(out, l.decisions[i])
	}
	return out
}

// Since returns decisions created at or after t, in submission order.
func (l *Log) Since(_ context.Context, t time.Time) []model.Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.Decision
	for _, d := range l.decisions {
		if !d.CreatedAt.Before(t) {
			out = append(out, d)
		}
	}
	return out
}

// CountSince counts decisions created at or after t.
func (l *Log) CountSince(_ context.Context, t time.Time) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, d := range l.decisions {
		if !d.CreatedAt.Before(t) {
			count++
		}
	}
	return count
}

// JudgedEntityIDs returns every entity that took part in a decision, in
// the order each first appeared.
func (l *Log) JudgedEntityIDs(_ context.Context) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.judged...)
}
