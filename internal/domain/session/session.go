// Package session drives one caller through repeated matchups.
//
// A session is either presenting a matchup or not. Generate presents one;
// Submit and Skip resolve it and immediately present the next, reusing the
// session's last tag filter.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/duel/internal/domain/matchup"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Catalog lists the entities a session draws from.
type Catalog interface {
	All(ctx context.Context) []model.Entity
}

// Generator draws matchups.
type Generator interface {
	Generate(ctx context.Context, entities []model.Entity, tags []string) (model.Matchup, error)
}

// Recorder applies decisions.
type Recorder interface {
	RecordDecision(ctx context.Context, winnerID, loserID string) (rating.Result, error)
}

// State is the session's position in the matchup loop.
type State int

// Session states.
const (
	StateNoMatchup State = iota
	StatePresented
)

func (s State) String() string {
	if s == StatePresented {
		return "matchup_presented"
	}
	return "no_matchup"
}

// Outcome reports what a Submit or Skip did.
type Outcome struct {
	// Result is set when a decision was recorded.
	Result *rating.Result
	// Skipped is true when the matchup was dismissed without a decision.
	Skipped bool
	// Next is the follow-up matchup, nil when none could be generated.
	Next *model.Matchup
}

// Counters are per-session activity totals.
type Counters struct {
	Decisions int `json:"decisions"`
	Skips     int `json:"skips"`
}

// Session is safe for concurrent use; calls are serialized.
type Session struct {
	mu         sync.Mutex
	id         string
	catalog    Catalog
	gen        Generator
	rec        Recorder
	current    *model.Matchup
	tags       []string
	counters   Counters
	lastActive time.Time
	now        func() time.Time
	log        logger.Logger
}

// New creates a session in the NoMatchup state.
func New(id string, c Catalog, g Generator, r Recorder, opts ...Option) *Session {
	s := &Session{
		id:      id,
		catalog: c,
		gen:     g,
		rec:     r,
		now:     time.Now,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastActive = s.now()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Generate presents a new matchup filtered by tags, replacing any current one.
// On failure the session is left with no matchup.
func (s *Session) Generate(ctx context.Context, tags []string) (model.Matchup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	s.tags = append([]string(nil), tags...)
	m, err := s.draw(ctx, s.tags)
	if err != nil {
		s.current = nil
		return model.Matchup{}, err
	}
	s.current = &m
	return m, nil
}

// Submit resolves the current matchup with choice. ChoiceSkip behaves like Skip.
func (s *Session) Submit(ctx context.Context, choice model.Choice) (Outcome, error) {
	if choice == model.ChoiceSkip {
		return s.Skip(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if s.current == nil {
		return Outcome{}, fmt.Errorf("session %s: %w", s.id, ErrNoMatchup)
	}
	winnerID, loserID, err := s.current.Resolve(choice)
	if err != nil {
		return Outcome{}, err
	}
	res, err := s.rec.RecordDecision(ctx, winnerID, loserID)
	if err != nil {
		return Outcome{}, err
	}
	s.counters.Decisions++
	return Outcome{Result: &res, Next: s.advance(ctx)}, nil
}

// Skip dismisses the current matchup. Ratings and history are untouched.
func (s *Session) Skip(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if s.current == nil {
		return Outcome{}, fmt.Errorf("session %s: %w", s.id, ErrNoMatchup)
	}
	s.counters.Skips++
	metrics.RecordSkip()
	return Outcome{Skipped: true, Next: s.advance(ctx)}, nil
}

// Current returns the presented matchup, if any.
func (s *Session) Current() (model.Matchup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Matchup{}, false
	}
	return *s.current, true
}

// State reports whether a matchup is presented.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return StateNoMatchup
	}
	return StatePresented
}

// Counters returns the session's activity totals.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// LastActive returns the time of the last call that changed the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// advance presents the follow-up matchup. When the session's filter no
// longer yields two candidates it falls back to the whole catalog.
// Must be called with s.mu held.
func (s *Session) advance(ctx context.Context) *model.Matchup {
	s.current = nil
	m, err := s.draw(ctx, s.tags)
	if errors.Is(err, matchup.ErrInsufficientCandidates) && len(s.tags) > 0 {
		s.log.Info(ctx, "tag filter exhausted, widening to full catalog",
			logger.String("session", s.id),
			logger.Strings("tags", s.tags))
		m, err = s.draw(ctx, nil)
	}
	if err != nil {
		s.log.Warn(ctx, "no follow-up matchup", logger.String("session", s.id), logger.Error(err))
		return nil
	}
	s.current = &m
	return &m
}

func (s *Session) draw(ctx context.Context, tags []string) (model.Matchup, error) {
	m, err := s.gen.Generate(ctx, s.catalog.All(ctx), tags)
	if err != nil {
		if errors.Is(err, matchup.ErrInsufficientCandidates) {
			metrics.RecordInsufficientCandidates()
		}
		return model.Matchup{}, err
	}
	metrics.RecordMatchupGenerated()
	return m, nil
}

func (s *Session) touch() {
	s.lastActive = s.now()
}
