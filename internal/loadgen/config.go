// Package loadgen plays simulated shoppers against a running duel server
// and reports how closely the resulting leaderboard tracks their taste.
package loadgen

import (
	"time"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/types"
)

// Config holds configuration for a simulation run
type Config struct {
	BaseURL  string        // Base URL of the service
	Sessions int           // Number of simulated shoppers
	Rounds   int           // Choices made per shopper
	Workers  int           // Number of concurrent workers
	Timeout  time.Duration // HTTP request timeout
	Tags     []string      // Optional tag filter for every session
	SkipRate float64       // Probability a shopper skips a matchup
	Seed     int64         // Seed for hidden preferences and choices
	TopN     int           // Leaderboard rows fetched for the report
	Verbose  bool          // Log every session
}

// Report summarizes a finished run.
type Report struct {
	Sessions         int
	Decisions        int
	Skips            int
	Failed           int
	LeaderboardSize  int
	Agreement        float64 // share of leaderboard pairs ordered like the hidden strengths
	TopMatchesHidden bool
	Duration         time.Duration
	Leaderboard      []types.Entry
}

type matchupResponse struct {
	SessionID string       `json:"session_id"`
	A         model.Entity `json:"a"`
	B         model.Entity `json:"b"`
}

type choiceResponse struct {
	SessionID string         `json:"session_id"`
	Skipped   bool           `json:"skipped"`
	Next      *model.Matchup `json:"next,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
