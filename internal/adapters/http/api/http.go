// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/duel/internal/domain/dedupe"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/session"
	"github.com/okian/duel/internal/domain/types"
)

// Default query limits.
const (
	defaultLeaderboardLimit = 10
	defaultMaxLimit         = 100
	defaultHistoryLimit     = 50
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper
	MatchupDependencies
	DecisionDependencies
	LeaderboardDependencies
	RankDependencies
	HistoryDependencies
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	matchupHandler     *MatchupHandler
	decisionsHandler   *DecisionsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	historyHandler     *HistoryHandler
	live               http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	defaultLimit int
	maxLimit     int
	live         http.Handler
}

// WithLimits sets the default and maximum row counts for list endpoints.
func WithLimits(defaultLimit, maxLimit int) ServerOption {
	return func(c *serverConfig) {
		if maxLimit > 0 {
			c.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			c.defaultLimit = defaultLimit
		}
	}
}

// WithLiveHandler mounts h at /ws/live.
func WithLiveHandler(h http.Handler) ServerOption {
	return func(c *serverConfig) {
		c.live = h
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...ServerOption) *Server {
	cfg := serverConfig{defaultLimit: defaultLeaderboardLimit, maxLimit: defaultMaxLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.defaultLimit > cfg.maxLimit {
		cfg.defaultLimit = cfg.maxLimit
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		matchupHandler:     NewMatchupHandler(deps),
		decisionsHandler:   NewDecisionsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, cfg.defaultLimit, cfg.maxLimit),
		rankHandler:        NewRankHandler(deps),
		historyHandler:     NewHistoryHandler(deps, cfg.maxLimit),
		live:               cfg.live,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/matchup", MetricsMiddleware(s.matchupHandler.HandlePostMatchup, "matchup"))
	mux.HandleFunc("/choice", MetricsMiddleware(s.matchupHandler.HandlePostChoice, "choice"))
	mux.HandleFunc("/decisions", MetricsMiddleware(s.decisionsHandler.HandlePostDecision, "decisions"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/history", MetricsMiddleware(s.historyHandler.HandleGetHistory, "history"))
	if s.live != nil {
		mux.Handle("/ws/live", s.live)
	}
}

// matchupRequest mirrors the OpenAPI schema for POST /matchup.
type matchupRequest struct {
	SessionID string   `json:"session_id"`
	Tags      []string `json:"tags"`
}

// choiceRequest mirrors the OpenAPI schema for POST /choice.
type choiceRequest struct {
	SessionID string `json:"session_id"`
	Choice    string `json:"choice"`
}

// decisionRequest mirrors the OpenAPI schema for POST /decisions.
type decisionRequest struct {
	RequestID string `json:"request_id"`
	WinnerID  string `json:"winner_id"`
	LoserID   string `json:"loser_id"`
}

type matchupResponse struct {
	SessionID string       `json:"session_id"`
	A         model.Entity `json:"a"`
	B         model.Entity `json:"b"`
}

type choiceResponse struct {
	SessionID string              `json:"session_id"`
	Skipped   bool                `json:"skipped"`
	Winner    *model.RatingRecord `json:"winner,omitempty"`
	Loser     *model.RatingRecord `json:"loser,omitempty"`
	Decision  *model.Decision     `json:"decision,omitempty"`
	Next      *model.Matchup      `json:"next,omitempty"`
	Counters  session.Counters    `json:"counters"`
}

type ackResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Duplicate bool   `json:"duplicate"`
}

type historyResponse struct {
	Decisions []model.Decision `json:"decisions"`
	Count     int              `json:"count"`
	Since     *time.Time       `json:"since,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError writes err with the status its kind maps to.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}
