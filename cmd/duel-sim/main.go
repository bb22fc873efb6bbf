package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/okian/duel/internal/loadgen"
	"github.com/okian/duel/pkg/logger"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		sessions = flag.Int("sessions", loadgen.DefaultSessions, "Number of simulated shoppers")
		rounds   = flag.Int("rounds", loadgen.DefaultRounds, "Choices made per shopper")
		workers  = flag.Int("workers", runtime.NumCPU(), "Number of concurrent workers")
		timeout  = flag.Duration("timeout", loadgen.DefaultTimeout, "HTTP request timeout")
		tags     = flag.String("tags", "", "Comma separated tag filter for every session")
		skipRate = flag.Float64("skip-rate", loadgen.DefaultSkipRate, "Probability a shopper skips a matchup")
		seed     = flag.Int64("seed", 1, "Seed for hidden preferences")
		topN     = flag.Int("top", loadgen.DefaultTopN, "Leaderboard rows compared against the hidden taste")
		verbose  = flag.Bool("verbose", false, "Log failed sessions")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := &loadgen.Config{
		BaseURL:  *baseURL,
		Sessions: *sessions,
		Rounds:   *rounds,
		Workers:  *workers,
		Timeout:  *timeout,
		Tags:     splitTags(*tags),
		SkipRate: *skipRate,
		Seed:     *seed,
		TopN:     *topN,
		Verbose:  *verbose,
	}

	if _, err := loadgen.Run(ctx, config); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
