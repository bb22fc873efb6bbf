// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/duel/internal/domain/dedupe"
	"github.com/okian/duel/internal/domain/model"
)

// DecisionDependencies defines the interface for asynchronous decision intake.
type DecisionDependencies interface {
	dedupe.Deduper
	EnqueueDecision(ctx context.Context, cmd model.DecisionCommand) error
}

// DecisionsHandler handles direct decision submissions.
type DecisionsHandler struct {
	deps DecisionDependencies
}

// NewDecisionsHandler creates a new decisions handler.
func NewDecisionsHandler(deps DecisionDependencies) *DecisionsHandler {
	return &DecisionsHandler{deps: deps}
}

func (d decisionRequest) validate() error {
	switch {
	case strings.TrimSpace(d.WinnerID) == "":
		return errors.New("missing winner_id")
	case strings.TrimSpace(d.LoserID) == "":
		return errors.New("missing loser_id")
	case d.WinnerID == d.LoserID:
		return errors.New("winner_id and loser_id must differ")
	}
	return nil
}

// HandlePostDecision handles POST /decisions requests.
func (h *DecisionsHandler) HandlePostDecision(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_decision"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_decision", WrapKind(op, ErrBadRequest, err))
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	// Idempotency check - mark as seen first
	if h.deps.SeenAndRecord(r.Context(), req.RequestID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", RequestID: req.RequestID, Duplicate: true})
		return
	}

	err := h.deps.EnqueueDecision(r.Context(), model.DecisionCommand{
		RequestID: req.RequestID,
		WinnerID:  req.WinnerID,
		LoserID:   req.LoserID,
	})
	if err != nil {
		// Rollback the "seen" status so the caller can retry
		h.deps.Unrecord(r.Context(), req.RequestID)
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", RequestID: req.RequestID})
}
