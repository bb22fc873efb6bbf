package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/duel/internal/adapters/http/api"
	"github.com/okian/duel/internal/adapters/mq/queue"
	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/matchup"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/internal/domain/session"
	"github.com/okian/duel/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockDeduper struct {
	seen map[string]bool
}

func (m *mockDeduper) SeenAndRecord(_ context.Context, id string) bool {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[id] {
		return true
	}
	m.seen[id] = true
	return false
}

func (m *mockDeduper) Unrecord(_ context.Context, id string) {
	delete(m.seen, id)
}

func (m *mockDeduper) Size() int64 {
	return int64(len(m.seen))
}

type mockDependencies struct {
	mockDeduper

	sessionID   string
	matchup     model.Matchup
	generateErr error
	lastTags    []string

	outcome    session.Outcome
	counters   session.Counters
	submitErr  error
	lastChoice model.Choice

	enqueueErr error
	enqueued   []model.DecisionCommand

	top       []types.Entry
	topErr    error
	lastLimit int

	rank    types.Entry
	rankErr error

	recent      []model.Decision
	since       []model.Decision
	lastRecentN int
	lastSince   time.Time

	stats types.Stats
}

func (m *mockDependencies) GenerateMatchup(_ context.Context, sessionID string, tags []string) (string, model.Matchup, error) {
	m.lastTags = tags
	if m.generateErr != nil {
		return "", model.Matchup{}, m.generateErr
	}
	if sessionID == "" {
		sessionID = m.sessionID
	}
	return sessionID, m.matchup, nil
}

func (m *mockDependencies) Submit(_ context.Context, _ string, choice model.Choice) (session.Outcome, session.Counters, error) {
	m.lastChoice = choice
	if m.submitErr != nil {
		return session.Outcome{}, session.Counters{}, m.submitErr
	}
	return m.outcome, m.counters, nil
}

func (m *mockDependencies) EnqueueDecision(_ context.Context, cmd model.DecisionCommand) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, cmd)
	return nil
}

func (m *mockDependencies) TopEntities(_ context.Context, limit int) ([]types.Entry, error) {
	m.lastLimit = limit
	if m.topErr != nil {
		return nil, m.topErr
	}
	if limit < len(m.top) {
		return m.top[:limit], nil
	}
	return m.top, nil
}

func (m *mockDependencies) Rank(_ context.Context, _ string) (types.Entry, error) {
	if m.rankErr != nil {
		return types.Entry{}, m.rankErr
	}
	return m.rank, nil
}

func (m *mockDependencies) RecentDecisions(_ context.Context, n int) []model.Decision {
	m.lastRecentN = n
	return m.recent
}

func (m *mockDependencies) DecisionsSince(_ context.Context, t time.Time) []model.Decision {
	m.lastSince = t
	return m.since
}

func (m *mockDependencies) GetStats(context.Context) types.Stats {
	return m.stats
}

func newMux(deps *mockDependencies, opts ...api.ServerOption) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, opts...).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var resp struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Code
}

func products() (model.Entity, model.Entity) {
	return model.Entity{ID: "p1", Tags: []string{"y2k"}}, model.Entity{ID: "p2", Tags: []string{"y2k"}}
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := &mockDependencies{}
		live := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		mux := newMux(deps, api.WithLiveHandler(live))

		Convey("Then health endpoint should be accessible", func() {
			So(do(mux, "GET", "/healthz", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("And stats endpoint should be accessible", func() {
			So(do(mux, "GET", "/stats", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("And leaderboard endpoint should be accessible", func() {
			So(do(mux, "GET", "/leaderboard", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("And the live feed is mounted", func() {
			So(do(mux, "GET", "/ws/live", "").Code, ShouldEqual, http.StatusTeapot)
		})

		Convey("And unknown paths are not found", func() {
			So(do(mux, "GET", "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("And wrong methods are not found", func() {
			So(do(mux, "GET", "/matchup", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, "GET", "/choice", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, "GET", "/decisions", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, "POST", "/leaderboard", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, "POST", "/history", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a server without a live handler", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("Then /ws/live is not routed", func() {
			So(do(mux, "GET", "/ws/live", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestMatchupHandler_HandlePostMatchup(t *testing.T) {
	Convey("Given a matchup handler", t, func() {
		a, b := products()
		deps := &mockDependencies{sessionID: "fresh", matchup: model.Matchup{A: a, B: b}}
		mux := newMux(deps)

		Convey("When the body is empty", func() {
			w := do(mux, "POST", "/matchup", "")

			Convey("Then a matchup for a new session is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["session_id"], ShouldEqual, "fresh")
				So(resp["a"].(map[string]any)["id"], ShouldEqual, "p1")
				So(resp["b"].(map[string]any)["id"], ShouldEqual, "p2")
				So(deps.lastTags, ShouldBeEmpty)
			})
		})

		Convey("When tags are given", func() {
			w := do(mux, "POST", "/matchup", `{"session_id":"s1","tags":[" y2k ",""]}`)

			Convey("Then blank tags are dropped and the session is kept", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastTags, ShouldResemble, []string{"y2k"})
				So(w.Body.String(), ShouldContainSubstring, `"session_id":"s1"`)
			})
		})

		Convey("When too few entities match", func() {
			deps.generateErr = fmt.Errorf("pool of 1: %w", matchup.ErrInsufficientCandidates)
			w := do(mux, "POST", "/matchup", `{"tags":["vintage"]}`)

			Convey("Then it responds with conflict", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "insufficient_candidates")
			})
		})

		Convey("When the body is malformed", func() {
			w := do(mux, "POST", "/matchup", `{"tags":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			})
		})
	})
}

func TestMatchupHandler_HandlePostChoice(t *testing.T) {
	Convey("Given a choice handler", t, func() {
		a, b := products()
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When a decision is recorded", func() {
			next := model.Matchup{A: b, B: a}
			deps.outcome = session.Outcome{
				Result: &rating.Result{
					Winner:   model.RatingRecord{EntityID: "p1", Rating: 1516, Wins: 1, TotalDecisions: 1},
					Loser:    model.RatingRecord{EntityID: "p2", Rating: 1484, Losses: 1, TotalDecisions: 1},
					Decision: model.Decision{ID: "d1", WinnerID: "p1", LoserID: "p2"},
				},
				Next: &next,
			}
			deps.counters = session.Counters{Decisions: 1}
			w := do(mux, "POST", "/choice", `{"session_id":"s1","choice":"a"}`)

			Convey("Then the updated records and next matchup are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastChoice, ShouldEqual, model.ChoiceA)
				var resp struct {
					Skipped bool                `json:"skipped"`
					Winner  *model.RatingRecord `json:"winner"`
					Loser   *model.RatingRecord `json:"loser"`
					Next    *model.Matchup      `json:"next"`
					Counts  session.Counters    `json:"counters"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Skipped, ShouldBeFalse)
				So(resp.Winner.Rating, ShouldEqual, 1516.0)
				So(resp.Loser.Rating, ShouldEqual, 1484.0)
				So(resp.Next.A.ID, ShouldEqual, "p2")
				So(resp.Counts.Decisions, ShouldEqual, 1)
			})
		})

		Convey("When the matchup is skipped", func() {
			deps.outcome = session.Outcome{Skipped: true}
			w := do(mux, "POST", "/choice", `{"session_id":"s1","choice":"skip"}`)

			Convey("Then no records are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastChoice, ShouldEqual, model.ChoiceSkip)
				So(w.Body.String(), ShouldContainSubstring, `"skipped":true`)
				So(w.Body.String(), ShouldNotContainSubstring, `"winner"`)
			})
		})

		Convey("When the choice cannot be parsed", func() {
			w := do(mux, "POST", "/choice", `{"session_id":"s1","choice":"C"}`)

			Convey("Then it is an invalid decision", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_decision")
			})
		})

		Convey("When the session id is missing", func() {
			w := do(mux, "POST", "/choice", `{"choice":"A"}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			})
		})

		Convey("When the session has no matchup", func() {
			deps.submitErr = fmt.Errorf("session s1: %w", session.ErrNoMatchup)
			w := do(mux, "POST", "/choice", `{"session_id":"s1","choice":"B"}`)

			Convey("Then it responds with conflict", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "no_matchup")
			})
		})
	})
}

func TestDecisionsHandler_HandlePostDecision(t *testing.T) {
	Convey("Given a decisions handler", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When a valid decision is posted", func() {
			w := do(mux, "POST", "/decisions", `{"request_id":"r1","winner_id":"p1","loser_id":"p2"}`)

			Convey("Then it is accepted and enqueued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.enqueued, ShouldHaveLength, 1)
				So(deps.enqueued[0].RequestID, ShouldEqual, "r1")
				So(deps.enqueued[0].WinnerID, ShouldEqual, "p1")
			})

			Convey("And posting it again is a duplicate", func() {
				w := do(mux, "POST", "/decisions", `{"request_id":"r1","winner_id":"p1","loser_id":"p2"}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
				So(deps.enqueued, ShouldHaveLength, 1)
			})
		})

		Convey("When no request id is given", func() {
			w := do(mux, "POST", "/decisions", `{"winner_id":"p1","loser_id":"p2"}`)

			Convey("Then one is assigned", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.enqueued[0].RequestID, ShouldNotBeEmpty)
			})
		})

		Convey("When winner and loser are the same", func() {
			w := do(mux, "POST", "/decisions", `{"winner_id":"p1","loser_id":"p1"}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_decision")
				So(deps.enqueued, ShouldBeEmpty)
			})
		})

		Convey("When an id is missing", func() {
			w := do(mux, "POST", "/decisions", `{"winner_id":"p1"}`)

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "missing loser_id")
			})
		})

		Convey("When the service rejects unknown ids", func() {
			deps.enqueueErr = fmt.Errorf("unknown entity x: %w", rating.ErrInvalidDecision)
			w := do(mux, "POST", "/decisions", `{"request_id":"r2","winner_id":"x","loser_id":"p2"}`)

			Convey("Then it is an invalid decision and the key is released", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_decision")
				So(deps.seen["r2"], ShouldBeFalse)
			})
		})

		Convey("When the queue is full", func() {
			deps.enqueueErr = queue.ErrFull
			w := do(mux, "POST", "/decisions", `{"request_id":"r3","winner_id":"p1","loser_id":"p2"}`)

			Convey("Then it applies backpressure", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(errorCode(w), ShouldEqual, "backpressure")
			})

			Convey("And a retry succeeds once there is room", func() {
				deps.enqueueErr = nil
				w := do(mux, "POST", "/decisions", `{"request_id":"r3","winner_id":"p1","loser_id":"p2"}`)
				So(w.Code, ShouldEqual, http.StatusAccepted)
			})
		})

		Convey("When the queue is closed", func() {
			deps.enqueueErr = queue.ErrClosed
			w := do(mux, "POST", "/decisions", `{"winner_id":"p1","loser_id":"p2"}`)

			Convey("Then the service is unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When the body is malformed", func() {
			w := do(mux, "POST", "/decisions", `not json`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestLeaderboardHandler_HandleGetLeaderboard(t *testing.T) {
	Convey("Given a leaderboard handler", t, func() {
		deps := &mockDependencies{}
		for i := 0; i < 30; i++ {
			deps.top = append(deps.top, types.Entry{Rank: i + 1, EntityID: fmt.Sprintf("p%d", i)})
		}
		mux := newMux(deps, api.WithLimits(10, 20))

		Convey("When no limit is given", func() {
			w := do(mux, "GET", "/leaderboard", "")

			Convey("Then the default limit applies", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastLimit, ShouldEqual, 10)
				var rows []types.Entry
				So(json.Unmarshal(w.Body.Bytes(), &rows), ShouldBeNil)
				So(rows, ShouldHaveLength, 10)
				So(rows[0].EntityID, ShouldEqual, "p0")
			})
		})

		Convey("When the limit exceeds the maximum", func() {
			w := do(mux, "GET", "/leaderboard?limit=500", "")

			Convey("Then it is capped", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastLimit, ShouldEqual, 20)
			})
		})

		Convey("When the limit is invalid", func() {
			So(do(mux, "GET", "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, "GET", "/leaderboard?limit=-3", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, "GET", "/leaderboard?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When nothing has been judged", func() {
			deps.top = nil
			w := do(mux, "GET", "/leaderboard", "")

			Convey("Then an empty list is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When the store fails", func() {
			deps.topErr = errors.New("boom")
			w := do(mux, "GET", "/leaderboard", "")

			Convey("Then it is an internal error", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
			})
		})
	})
}

func TestRankHandler_HandleGetRank(t *testing.T) {
	Convey("Given a rank handler", t, func() {
		deps := &mockDependencies{rank: types.Entry{Rank: 2, EntityID: "p2", Rating: 1500.7}}
		mux := newMux(deps)

		Convey("When the entity is ranked", func() {
			w := do(mux, "GET", "/rank/p2", "")

			Convey("Then its row is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var e types.Entry
				So(json.Unmarshal(w.Body.Bytes(), &e), ShouldBeNil)
				So(e.Rank, ShouldEqual, 2)
			})
		})

		Convey("When the entity was never judged", func() {
			deps.rankErr = fmt.Errorf("rank p9: %w", repository.ErrNotFound)
			w := do(mux, "GET", "/rank/p9", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(errorCode(w), ShouldEqual, "not_found")
			})
		})

		Convey("When the path is malformed", func() {
			So(do(mux, "GET", "/rank/", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, "GET", "/rank/a/b", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestHistoryHandler_HandleGetHistory(t *testing.T) {
	Convey("Given a history handler", t, func() {
		ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		deps := &mockDependencies{
			recent: []model.Decision{{ID: "d2"}, {ID: "d1"}},
			since:  []model.Decision{{ID: "d1"}, {ID: "d2"}, {ID: "d3"}},
		}
		mux := newMux(deps)

		Convey("When no since is given", func() {
			w := do(mux, "GET", "/history", "")

			Convey("Then recent decisions are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastRecentN, ShouldEqual, 50)
				So(w.Body.String(), ShouldContainSubstring, `"count":2`)
			})
		})

		Convey("When since and limit are given", func() {
			w := do(mux, "GET", "/history?since="+ts.Format(time.RFC3339)+"&limit=2", "")

			Convey("Then decisions since that instant are truncated", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastSince.Equal(ts), ShouldBeTrue)
				var resp struct {
					Decisions []model.Decision `json:"decisions"`
					Count     int              `json:"count"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Count, ShouldEqual, 2)
				So(resp.Decisions[0].ID, ShouldEqual, "d1")
			})
		})

		Convey("When the maximum is below the default history size", func() {
			capped := newMux(deps, api.WithLimits(5, 20))
			w := do(capped, "GET", "/history", "")

			Convey("Then the default is capped too", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastRecentN, ShouldEqual, 20)
			})
		})

		Convey("When since is not RFC3339", func() {
			w := do(mux, "GET", "/history?since=yesterday", "")

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	Convey("Given a health handler", t, func() {
		handler := api.NewHealthHandler()

		Convey("When scraping it", func() {
			w := httptest.NewRecorder()
			handler.HandleHealth(w, httptest.NewRequest("GET", "/healthz", nil))

			Convey("Then service metrics are exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "duel_ranking_matchups_generated_total")
			})
		})
	})
}

func TestStatsHandler_HandleStats(t *testing.T) {
	Convey("Given a stats handler", t, func() {
		deps := &mockDependencies{stats: types.Stats{TotalDecisions: 2, JudgedEntities: 3, CatalogSize: 12}}
		handler := api.NewStatsHandler(deps)

		Convey("When requesting stats", func() {
			w := httptest.NewRecorder()
			handler.HandleStats(w, httptest.NewRequest("GET", "/stats", nil))

			Convey("Then totals are encoded as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
				var s types.Stats
				So(json.Unmarshal(w.Body.Bytes(), &s), ShouldBeNil)
				So(s.TotalDecisions, ShouldEqual, 2)
				So(s.JudgedEntities, ShouldEqual, 3)
			})
		})
	})
}

func TestCORS(t *testing.T) {
	Convey("Given the API behind CORS", t, func() {
		handler := api.CORS(newMux(&mockDependencies{}), []string{"https://shop.example"})

		Convey("When an allowed origin sends a preflight", func() {
			req := httptest.NewRequest(http.MethodOptions, "/matchup", nil)
			req.Header.Set("Origin", "https://shop.example")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			Convey("Then the origin is allowed", func() {
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://shop.example")
			})
		})

		Convey("When another origin calls", func() {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			req.Header.Set("Origin", "https://evil.example")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			Convey("Then no CORS header is set", func() {
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldBeEmpty)
			})
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given a wrapped kind", t, func() {
		cause := errors.New("eof")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		Convey("Then both kind and cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldStartWith, "api.op: ")
		})

		Convey("And helpers handle nil causes", func() {
			So(errors.Is(api.WrapKind("op", api.ErrNotFound, nil), api.ErrNotFound), ShouldBeTrue)
			So(api.Wrap("op", nil), ShouldBeNil)
			So(errors.Is(api.NewKind("op", api.ErrBackpressure), api.ErrBackpressure), ShouldBeTrue)
		})
	})
}
