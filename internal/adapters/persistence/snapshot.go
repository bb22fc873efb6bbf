// Package persistence snapshots the rating table and decision log so they
// survive restarts.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Snapshot is the persisted ranking state.
type Snapshot struct {
	Ratings   []model.RatingRecord `json:"ratings"`
	Decisions []model.Decision     `json:"decisions"`
	SavedAt   time.Time            `json:"saved_at"`
}

// Validate checks the counter invariants of a loaded snapshot.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Ratings))
	total := 0
	for _, r := range s.Ratings {
		if r.EntityID == "" {
			return fmt.Errorf("rating with empty entity id: %w", ErrCorruptSnapshot)
		}
		if _, dup := seen[r.EntityID]; dup {
			return fmt.Errorf("duplicate rating for %q: %w", r.EntityID, ErrCorruptSnapshot)
		}
		seen[r.EntityID] = struct{}{}
		if r.Wins+r.Losses != r.TotalDecisions {
			return fmt.Errorf("rating %q counters %d+%d != %d: %w",
				r.EntityID, r.Wins, r.Losses, r.TotalDecisions, ErrCorruptSnapshot)
		}
		total += r.TotalDecisions
	}
	if total != 2*len(s.Decisions) {
		return fmt.Errorf("%d rating decisions for %d logged decisions: %w",
			total, len(s.Decisions), ErrCorruptSnapshot)
	}
	return nil
}

// Store loads and saves snapshots.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Load returns the latest snapshot or ErrNoSnapshot.
	Load(ctx context.Context) (Snapshot, error)
	// Save persists s, replacing the previous snapshot.
	Save(ctx context.Context, s Snapshot) error
	// Close releases backend resources.
	Close(ctx context.Context) error
}
