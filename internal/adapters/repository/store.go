// Package repository holds the rating table and its leaderboard ordering.
package repository

import (
	"context"

	"github.com/okian/duel/internal/domain/model"
)

// Entry is a ranked rating record.
type Entry struct {
	Rank int
	model.RatingRecord
}

// Store provides read/write access to the rating table.
type Store interface {
	// Get returns the record for an entity. The bool is false for entities
	// that were never judged.
	Get(ctx context.Context, entityID string) (model.RatingRecord, bool)
	// Put inserts or replaces a record and repositions it in the ordering.
	Put(ctx context.Context, rec model.RatingRecord) error

	// Rank returns the ranked row for an entity.
	// Returns ErrNotFound if the entity has no record.
	Rank(ctx context.Context, entityID string) (Entry, error)

	// TopN returns up to n rows ordered by rating desc. n <= 0 returns all.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of judged entities.
	Count(ctx context.Context) int

	// All returns every record in leaderboard order.
	All(ctx context.Context) []model.RatingRecord
}
