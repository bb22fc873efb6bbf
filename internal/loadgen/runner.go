package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/duel/pkg/logger"
)

// ErrNoWork is returned when the configuration asks for no sessions or rounds.
var ErrNoWork = errors.New("nothing to simulate")

type counters struct {
	sessions  atomic.Int64
	decisions atomic.Int64
	skips     atomic.Int64
	failed    atomic.Int64
}

// Run executes the complete simulation and returns its report.
func Run(ctx context.Context, config *Config) (*Report, error) {
	if config.Sessions <= 0 || config.Rounds <= 0 {
		return nil, ErrNoWork
	}
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}
	topN := config.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	log := logger.Named("loadgen")
	start := time.Now()
	log.Info(ctx, "starting duel simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("sessions", config.Sessions),
		logger.Int("rounds", config.Rounds),
		logger.Int("workers", workers),
		logger.Strings("tags", config.Tags))

	client := NewClient(config.BaseURL, config.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	prefs := NewPreferences(config.Seed)
	var c counters

	jobs := make(chan int, workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(config.Seed + int64(workerID) + 1)) //nolint:gosec // simulation only
			for range jobs {
				if err := playSession(ctx, client, config, prefs, r, &c); err != nil {
					c.failed.Add(1)
					if config.Verbose {
						log.Warn(ctx, "session failed", logger.Error(err))
					}
				}
			}
		}(w)
	}

	go func() {
		defer close(jobs)
		for i := 0; i < config.Sessions; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulation interrupted: %w", err)
	}

	rows, err := client.Leaderboard(ctx, topN)
	if err != nil {
		return nil, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	agreement, topOK := prefs.Agreement(rows)

	report := &Report{
		Sessions:         int(c.sessions.Load()),
		Decisions:        int(c.decisions.Load()),
		Skips:            int(c.skips.Load()),
		Failed:           int(c.failed.Load()),
		LeaderboardSize:  len(rows),
		Agreement:        agreement,
		TopMatchesHidden: topOK,
		Duration:         time.Since(start),
		Leaderboard:      rows,
	}
	displayReport(ctx, log, report)
	return report, nil
}

// playSession runs one shopper through config.Rounds choices.
func playSession(ctx context.Context, client *Client, config *Config, prefs *Preferences, r *rand.Rand, c *counters) error {
	m, err := client.Matchup(ctx, uuid.NewString(), config.Tags)
	if err != nil {
		return err
	}
	c.sessions.Add(1)

	a, b := m.A.ID, m.B.ID
	for round := 0; round < config.Rounds; round++ {
		choice := "B"
		switch {
		case r.Float64() < config.SkipRate:
			choice = "skip"
		case prefs.Prefer(a, b, r.Float64()):
			choice = "A"
		}

		out, err := client.Choose(ctx, m.SessionID, choice)
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		if out.Skipped {
			c.skips.Add(1)
		} else {
			c.decisions.Add(1)
		}
		if out.Next == nil {
			return nil
		}
		a, b = out.Next.A.ID, out.Next.B.ID
	}
	return nil
}

func displayReport(ctx context.Context, log logger.Logger, r *Report) {
	var perSecond float64
	if r.Duration > 0 {
		perSecond = float64(r.Decisions+r.Skips) / r.Duration.Seconds()
	}
	log.Info(ctx, "simulation finished",
		logger.Int("sessions", r.Sessions),
		logger.Int("decisions", r.Decisions),
		logger.Int("skips", r.Skips),
		logger.Int("failed", r.Failed),
		logger.Int("leaderboardSize", r.LeaderboardSize),
		logger.Float64("agreement", r.Agreement),
		logger.Bool("topMatchesHidden", r.TopMatchesHidden),
		logger.Duration("duration", r.Duration),
		logger.Float64("choicesPerSecond", perSecond))
}
