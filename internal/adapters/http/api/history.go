package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// HistoryDependencies exposes the decision log.
type HistoryDependencies interface {
	RecentDecisions(ctx context.Context, n int) []model.Decision
	DecisionsSince(ctx context.Context, t time.Time) []model.Decision
}

// HistoryHandler handles decision history requests.
type HistoryHandler struct {
	deps     HistoryDependencies
	maxLimit int
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps HistoryDependencies, maxLimit int) *HistoryHandler {
	return &HistoryHandler{deps: deps, maxLimit: maxLimit}
}

// HandleGetHistory handles GET /history?limit=N&since=RFC3339 requests.
// Without since it returns the newest decisions first; with since it returns
// decisions at or after that instant in the order they were made.
func (h *HistoryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	n, err := parseLimit(q.Get("limit"), defaultHistoryLimit, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	resp := historyResponse{}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		resp.Since = &since
		resp.Decisions = h.deps.DecisionsSince(r.Context(), since)
		if len(resp.Decisions) > n {
			resp.Decisions = resp.Decisions[:n]
		}
	} else {
		resp.Decisions = h.deps.RecentDecisions(r.Context(), n)
	}
	if resp.Decisions == nil {
		resp.Decisions = []model.Decision{}
	}
	resp.Count = len(resp.Decisions)
	writeJSON(w, http.StatusOK, resp)
}
