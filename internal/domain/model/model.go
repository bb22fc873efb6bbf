// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Rating system constants.
const (
	DefaultRating  = 1500.0 // rating assigned on an entity's first decision
	DefaultKFactor = 32.0   // sensitivity of a single decision
)

// ErrInvalidChoice is returned when a choice string cannot be parsed.
var ErrInvalidChoice = errors.New("invalid choice")

// Entity is a rankable catalog item. The ranking core never mutates it.
type Entity struct {
	ID       string   `json:"id" koanf:"id"`
	Name     string   `json:"name,omitempty" koanf:"name"`
	Brand    string   `json:"brand,omitempty" koanf:"brand"`
	Category string   `json:"category,omitempty" koanf:"category"`
	Tags     []string `json:"tags,omitempty" koanf:"tags"`
}

// HasAnyTag reports whether the entity carries at least one of tags.
func (e Entity) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range e.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// RatingRecord holds the rating and counters for one judged entity.
// TotalDecisions always equals Wins + Losses.
type RatingRecord struct {
	EntityID       string    `json:"entity_id" bson:"entityId"`
	Rating         float64   `json:"rating" bson:"rating"`
	Wins           int       `json:"wins" bson:"wins"`
	Losses         int       `json:"losses" bson:"losses"`
	TotalDecisions int       `json:"total_decisions" bson:"totalDecisions"`
	UpdatedAt      time.Time `json:"updated_at" bson:"updatedAt"`
}

// NewRatingRecord returns a fresh record at the given starting rating.
func NewRatingRecord(entityID string, rating float64) RatingRecord {
	return RatingRecord{EntityID: entityID, Rating: rating}
}

// WinRate is wins over total decisions, or 0 for an unjudged record.
func (r RatingRecord) WinRate() float64 {
	if r.TotalDecisions == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.TotalDecisions)
}

// Decision is one resolved comparison. Decisions are append-only.
type Decision struct {
	ID        string    `json:"id" bson:"_id"`
	WinnerID  string    `json:"winner_id" bson:"winnerId"`
	LoserID   string    `json:"loser_id" bson:"loserId"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
}

// Involves reports whether the decision touched entityID.
func (d Decision) Involves(entityID string) bool {
	return d.WinnerID == entityID || d.LoserID == entityID
}

// Matchup is a transient pair presented for comparison. A.ID != B.ID.
type Matchup struct {
	A Entity `json:"a"`
	B Entity `json:"b"`
}

// Resolve maps a positional choice to winner and loser ids.
func (m Matchup) Resolve(c Choice) (winnerID, loserID string, err error) {
	switch c {
	case ChoiceA:
		return m.A.ID, m.B.ID, nil
	case ChoiceB:
		return m.B.ID, m.A.ID, nil
	default:
		return "", "", fmt.Errorf("resolve %q: %w", c, ErrInvalidChoice)
	}
}

// Choice is the caller's answer to a matchup.
type Choice string

// Supported choices.
const (
	ChoiceA    Choice = "A"
	ChoiceB    Choice = "B"
	ChoiceSkip Choice = "skip"
)

// ParseChoice accepts "A", "B" or "skip" (case-insensitive).
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return ChoiceA, nil
	case "b":
		return ChoiceB, nil
	case "skip":
		return ChoiceSkip, nil
	}
	return "", fmt.Errorf("parse %q: %w", s, ErrInvalidChoice)
}

// DecisionCommand is an asynchronously submitted decision awaiting the
// single writer. RequestID is the caller's idempotency key.
type DecisionCommand struct {
	RequestID  string    `json:"request_id"`
	WinnerID   string    `json:"winner_id"`
	LoserID    string    `json:"loser_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
