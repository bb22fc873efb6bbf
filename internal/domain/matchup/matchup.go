// Package matchup draws pairs of distinct entities for comparison.
package matchup

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// ErrInsufficientCandidates is returned when fewer than two entities are eligible.
var ErrInsufficientCandidates = errors.New("insufficient candidates")

// Source provides uniform integers in [0, n).
type Source interface {
	Intn(n int) int
}

// lockedSource makes a *rand.Rand safe for concurrent callers.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func newLockedSource(seed int64) *lockedSource {
	return &lockedSource{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // selection fairness, not security
}

// Option applies a configuration option to the Generator.
type Option func(*Generator)

// WithSource sets the randomness source.
func WithSource(src Source) Option {
	return func(g *Generator) {
		if src != nil {
			g.src = src
		}
	}
}

// WithSeed seeds the default source. Zero keeps the time-based seed.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		if seed != 0 {
			g.src = newLockedSource(seed)
		}
	}
}

// Generator selects matchups. It holds no rating state.
type Generator struct {
	src Source
}

// NewGenerator creates a generator with a time-seeded source unless overridden.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{src: newLockedSource(time.Now().UnixNano())}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Eligible returns the entities carrying at least one of tags, or all
// entities when tags is empty.
func Eligible(entities []model.Entity, tags []string) []model.Entity {
	if len(tags) == 0 {
		return entities
	}
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if e.HasAnyTag(tags) {
			out = append(out, e)
		}
	}
	return out
}

// Generate draws two distinct entities uniformly without replacement from
// the eligible pool. A and B carry no meaning beyond display position.
func (g *Generator) Generate(_ context.Context, entities []model.Entity, tags []string) (model.Matchup, error) {
	pool := Eligible(entities, tags)
	n := len(pool)
	if n < 2 {
		return model.Matchup{}, fmt.Errorf("pool of %d for tags %v: %w", n, tags, ErrInsufficientCandidates)
	}

	// Two steps of Fisher-Yates over virtual indices: the first draw picks
	// slot 0, the second picks from the remaining n-1 slots.
	first := g.src.Intn(n)
	second := 1 + g.src.Intn(n-1)
	// Slot 0 now holds pool[first] and slot first holds pool[0].
	secondIdx := second
	if second == first {
		secondIdx = 0
	}

	a, b := pool[first], pool[secondIdx]
	if a.ID == b.ID {
		// Only reachable when the catalog itself repeats an id.
		return model.Matchup{}, fmt.Errorf("duplicate id %q in pool: %w", a.ID, ErrInsufficientCandidates)
	}
	return model.Matchup{A: a, B: b}, nil
}
