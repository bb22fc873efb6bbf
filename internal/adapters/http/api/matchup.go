// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/session"
)

// MatchupDependencies drives sessions on behalf of HTTP callers.
type MatchupDependencies interface {
	GenerateMatchup(ctx context.Context, sessionID string, tags []string) (string, model.Matchup, error)
	Submit(ctx context.Context, sessionID string, choice model.Choice) (session.Outcome, session.Counters, error)
}

// MatchupHandler serves the interactive session endpoints.
type MatchupHandler struct {
	deps MatchupDependencies
}

// NewMatchupHandler creates a new matchup handler.
func NewMatchupHandler(deps MatchupDependencies) *MatchupHandler {
	return &MatchupHandler{deps: deps}
}

// HandlePostMatchup handles POST /matchup requests.
func (h *MatchupHandler) HandlePostMatchup(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_matchup"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req matchupRequest
	// An empty body starts an unfiltered matchup for a new session.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	id, m, err := h.deps.GenerateMatchup(r.Context(), req.SessionID, tags)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, matchupResponse{SessionID: id, A: m.A, B: m.B})
}

// HandlePostChoice handles POST /choice requests.
func (h *MatchupHandler) HandlePostChoice(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_choice"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req choiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing session_id")))
		return
	}
	choice, err := model.ParseChoice(req.Choice)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}

	out, counters, err := h.deps.Submit(r.Context(), req.SessionID, choice)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	resp := choiceResponse{
		SessionID: req.SessionID,
		Skipped:   out.Skipped,
		Next:      out.Next,
		Counters:  counters,
	}
	if out.Result != nil {
		resp.Winner = &out.Result.Winner
		resp.Loser = &out.Result.Loser
		resp.Decision = &out.Result.Decision
	}
	writeJSON(w, http.StatusOK, resp)
}
