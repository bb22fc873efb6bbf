// Package rating implements the ELO-style rating engine.
package rating

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Catalog resolves entity ids.
type Catalog interface {
	Get(ctx context.Context, id string) (model.Entity, bool)
}

// Table is the mutable rating table.
type Table interface {
	Get(ctx context.Context, entityID string) (model.RatingRecord, bool)
	Put(ctx context.Context, rec model.RatingRecord) error
}

// Log receives every applied decision.
type Log interface {
	Append(ctx context.Context, d model.Decision)
}

// Result is the outcome of one applied decision.
type Result struct {
	Winner   model.RatingRecord
	Loser    model.RatingRecord
	Decision model.Decision
}

// ExpectedScore is the logistic probability that an entity rated rA beats
// one rated rB.
func ExpectedScore(rA, rB float64) float64 {
	return 1 / (1 + math.Pow(10, (rB-rA)/400))
}

// Engine applies decisions to the rating table. All mutations are
// serialized: each decision is one read-modify-write of both records.
type Engine struct {
	mu            sync.Mutex
	catalog       Catalog
	table         Table
	history       Log
	kFactor       float64
	defaultRating float64
	now           func() time.Time
	newID         func() string
	log           logger.Logger
}

// NewEngine creates an engine over the given catalog, table and log.
func NewEngine(c Catalog, t Table, l Log, opts ...Option) *Engine {
	e := &Engine{
		catalog:       c,
		table:         t,
		history:       l,
		kFactor:       model.DefaultKFactor,
		defaultRating: model.DefaultRating,
		now:           time.Now,
		newID:         newDecisionID,
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newDecisionID returns a time-ordered UUIDv7, falling back to v4.
func newDecisionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// KFactor returns the configured K-factor.
func (e *Engine) KFactor() float64 { return e.kFactor }

// RecordDecision applies "winnerID beat loserID". Both expected scores are
// taken from the pre-update ratings. Entities are initialized lazily at the
// default rating on their first decision.
func (e *Engine) RecordDecision(ctx context.Context, winnerID, loserID string) (Result, error) {
	winnerID = strings.TrimSpace(winnerID)
	loserID = strings.TrimSpace(loserID)
	if err := e.validate(ctx, winnerID, loserID); err != nil {
		metrics.RecordInvalidDecision()
		metrics.RecordErrorByComponent("rating", "invalid_decision")
		e.log.Warn(ctx, "rejected decision",
			logger.String("winner", winnerID),
			logger.String("loser", loserID),
			logger.Error(err))
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.recordFor(ctx, winnerID)
	l := e.recordFor(ctx, loserID)

	ew := ExpectedScore(w.Rating, l.Rating)
	el := 1 - ew // E_w + E_l = 1
	deltaW := e.kFactor * (1 - ew)
	deltaL := e.kFactor * (0 - el)

	now := e.now()
	w.Rating += deltaW
	w.Wins++
	w.TotalDecisions++
	w.UpdatedAt = now
	l.Rating += deltaL
	l.Losses++
	l.TotalDecisions++
	l.UpdatedAt = now

	if err := e.table.Put(ctx, w); err != nil {
		return Result{}, fmt.Errorf("store winner %q: %w", winnerID, err)
	}
	if err := e.table.Put(ctx, l); err != nil {
		return Result{}, fmt.Errorf("store loser %q: %w", loserID, err)
	}

	d := model.Decision{ID: e.newID(), WinnerID: winnerID, LoserID: loserID, CreatedAt: now}
	e.history.Append(ctx, d)

	metrics.RecordDecision(deltaW)
	e.log.Debug(ctx, "decision applied",
		logger.String("decision", d.ID),
		logger.String("winner", winnerID),
		logger.String("loser", loserID),
		logger.Float64("winner_rating", w.Rating),
		logger.Float64("loser_rating", l.Rating),
		logger.Float64("delta", deltaW))

	return Result{Winner: w, Loser: l, Decision: d}, nil
}

func (e *Engine) validate(ctx context.Context, winnerID, loserID string) error {
	if winnerID == "" || loserID == "" {
		return fmt.Errorf("empty entity id: %w", ErrInvalidDecision)
	}
	if winnerID == loserID {
		return fmt.Errorf("entity %q cannot beat itself: %w", winnerID, ErrInvalidDecision)
	}
	for _, id := range [...]string{winnerID, loserID} {
		if _, ok := e.catalog.Get(ctx, id); !ok {
			return fmt.Errorf("entity %q not in catalog: %w", id, ErrInvalidDecision)
		}
	}
	return nil
}

// recordFor returns the stored record or a fresh one at the default rating.
// Must be called with e.mu held.
func (e *Engine) recordFor(ctx context.Context, id string) model.RatingRecord {
	if rec, ok := e.table.Get(ctx, id); ok {
		return rec
	}
	return model.NewRatingRecord(id, e.defaultRating)
}
