// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and DUEL_* environment variables over them.
// - Errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// CatalogPath points at a YAML catalog. Empty uses the embedded sample.
	CatalogPath string `koanf:"catalog_path"`

	// KFactor is the rating sensitivity per decision.
	KFactor float64 `koanf:"k_factor"`

	// DefaultRating is assigned to an entity on its first decision.
	DefaultRating float64 `koanf:"default_rating"`

	// RandomSeed fixes matchup selection. Zero seeds from the clock.
	RandomSeed int64 `koanf:"random_seed"`

	// LeaderboardDefaultLimit is used when GET /leaderboard has no limit.
	LeaderboardDefaultLimit int `koanf:"leaderboard_default_limit"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// QueueSize bounds the asynchronous decision queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize sets how many request ids are remembered for idempotency.
	DedupeSize int `koanf:"dedupe_size"`

	// SnapshotPath enables the JSON file snapshot store when set.
	SnapshotPath string `koanf:"snapshot_path"`

	// SnapshotInterval is how often state is saved while running. Zero saves
	// only on shutdown.
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`

	// MongoURI enables the MongoDB snapshot store when set. Takes precedence
	// over SnapshotPath.
	MongoURI string `koanf:"mongo_uri"`

	// MongoDatabase names the MongoDB database.
	MongoDatabase string `koanf:"mongo_database"`

	// CORSAllowedOrigins lists origins allowed to call the API.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// SessionTags is the tag filter used when a matchup request has none.
	SessionTags []string `koanf:"session_tags"`

	// SessionIdleTTL drops sessions idle for longer than this.
	SessionIdleTTL time.Duration `koanf:"session_idle_ttl"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":9080",
		KFactor:                 model.DefaultKFactor,
		DefaultRating:           model.DefaultRating,
		LeaderboardDefaultLimit: 10,
		MaxLeaderboardLimit:     100,
		QueueSize:               10_000,
		DedupeSize:              100_000,
		SnapshotInterval:        time.Minute,
		MongoDatabase:           "duel",
		CORSAllowedOrigins:      []string{"*"},
		SessionIdleTTL:          30 * time.Minute,
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("addr must not be empty: %w", ErrInvalidConfig)
	case c.KFactor <= 0 || math.IsNaN(c.KFactor) || math.IsInf(c.KFactor, 0):
		return fmt.Errorf("k_factor %v must be positive: %w", c.KFactor, ErrInvalidConfig)
	case math.IsNaN(c.DefaultRating) || math.IsInf(c.DefaultRating, 0):
		return fmt.Errorf("default_rating %v must be finite: %w", c.DefaultRating, ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1:
		return fmt.Errorf("max_leaderboard_limit %d must be positive: %w", c.MaxLeaderboardLimit, ErrInvalidConfig)
	case c.LeaderboardDefaultLimit < 1 || c.LeaderboardDefaultLimit > c.MaxLeaderboardLimit:
		return fmt.Errorf("leaderboard_default_limit %d must be in [1, %d]: %w",
			c.LeaderboardDefaultLimit, c.MaxLeaderboardLimit, ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("queue_size %d must be positive: %w", c.QueueSize, ErrInvalidConfig)
	case c.SnapshotInterval < 0 || c.SessionIdleTTL < 0:
		return fmt.Errorf("intervals must not be negative: %w", ErrInvalidConfig)
	case c.MongoURI != "" && c.MongoDatabase == "":
		return fmt.Errorf("mongo_database required with mongo_uri: %w", ErrInvalidConfig)
	}
	return nil
}
