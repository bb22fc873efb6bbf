package loadgen

import "time"

// Default run parameters.
const (
	DefaultSessions = 50
	DefaultRounds   = 40
	DefaultTopN     = 100
	DefaultTimeout  = 10 * time.Second
	DefaultSkipRate = 0.05
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Hidden strengths are drawn on the rating scale so the simulated
// shopper agrees with the ELO expectation.
const (
	strengthMean   = 1500.0
	strengthSpread = 300.0
	eloScale       = 400.0
)
