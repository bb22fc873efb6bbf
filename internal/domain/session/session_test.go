package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/catalog"
	"github.com/okian/duel/internal/domain/history"
	"github.com/okian/duel/internal/domain/matchup"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

// zeroSource always draws the lowest index: matchups are (pool[0], pool[1]).
type zeroSource struct{}

func (zeroSource) Intn(int) int { return 0 }

// shrinkingCatalog lets a test change the entity list between calls.
type shrinkingCatalog struct {
	entities []model.Entity
}

func (c *shrinkingCatalog) All(context.Context) []model.Entity { return c.entities }

type failingRecorder struct{ err error }

func (f failingRecorder) RecordDecision(context.Context, string, string) (rating.Result, error) {
	return rating.Result{}, f.err
}

type harness struct {
	session *session.Session
	store   *repository.TreapStore
	history *history.Log
}

func newHarness(t *testing.T, c session.Catalog, entities []model.Entity) harness {
	t.Helper()
	cat, err := catalog.New(entities)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if c == nil {
		c = cat
	}
	store := repository.NewTreapStore(context.Background())
	t.Cleanup(func() { _ = store.Close() })
	log := history.New()
	engine := rating.NewEngine(cat, store, log)
	gen := matchup.NewGenerator(matchup.WithSource(zeroSource{}))
	return harness{
		session: session.New("s1", c, gen, engine),
		store:   store,
		history: log,
	}
}

func products() []model.Entity {
	return []model.Entity{
		{ID: "p1", Tags: []string{"y2k"}},
		{ID: "p2", Tags: []string{"y2k", "minimal"}},
		{ID: "p3", Tags: []string{"minimal"}},
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh session", t, func() {
		h := newHarness(t, nil, products())

		Convey("Then no matchup is presented", func() {
			So(h.session.State(), ShouldEqual, session.StateNoMatchup)
			So(h.session.ID(), ShouldEqual, "s1")
			_, ok := h.session.Current()
			So(ok, ShouldBeFalse)
		})

		Convey("When submitting or skipping before generating", func() {
			_, errSubmit := h.session.Submit(ctx, model.ChoiceA)
			_, errSkip := h.session.Skip(ctx)

			Convey("Then both report no matchup", func() {
				So(errors.Is(errSubmit, session.ErrNoMatchup), ShouldBeTrue)
				So(errors.Is(errSkip, session.ErrNoMatchup), ShouldBeTrue)
			})
		})

		Convey("When a matchup is generated", func() {
			m, err := h.session.Generate(ctx, nil)
			So(err, ShouldBeNil)

			Convey("Then it is presented", func() {
				So(m.A.ID, ShouldEqual, "p1")
				So(m.B.ID, ShouldEqual, "p2")
				So(h.session.State(), ShouldEqual, session.StatePresented)
				So(h.session.State().String(), ShouldEqual, "matchup_presented")
			})

			Convey("And submitting B records B as the winner", func() {
				out, err := h.session.Submit(ctx, model.ChoiceB)
				So(err, ShouldBeNil)
				So(out.Result, ShouldNotBeNil)
				So(out.Result.Winner.EntityID, ShouldEqual, "p2")
				So(out.Result.Loser.EntityID, ShouldEqual, "p1")
				So(out.Skipped, ShouldBeFalse)

				Convey("Then the next matchup is presented", func() {
					So(out.Next, ShouldNotBeNil)
					So(h.session.State(), ShouldEqual, session.StatePresented)
					So(h.session.Counters(), ShouldResemble, session.Counters{Decisions: 1})
					So(h.history.Len(ctx), ShouldEqual, 1)
				})
			})

			Convey("And skipping never touches ratings or history", func() {
				out, err := h.session.Skip(ctx)
				So(err, ShouldBeNil)
				So(out.Skipped, ShouldBeTrue)
				So(out.Result, ShouldBeNil)
				So(out.Next, ShouldNotBeNil)

				_, err = h.session.Submit(ctx, model.ChoiceSkip)
				So(err, ShouldBeNil)

				So(h.store.Count(ctx), ShouldEqual, 0)
				So(h.history.Len(ctx), ShouldEqual, 0)
				So(h.session.Counters(), ShouldResemble, session.Counters{Skips: 2})
			})

			Convey("And an unparseable choice keeps the matchup", func() {
				_, err := h.session.Submit(ctx, model.Choice("C"))
				So(errors.Is(err, model.ErrInvalidChoice), ShouldBeTrue)
				So(h.session.State(), ShouldEqual, session.StatePresented)
			})
		})

		Convey("When generating with a filter that matches one entity", func() {
			_, err := h.session.Generate(ctx, []string{"vintage"})

			Convey("Then generation fails and nothing is presented", func() {
				So(errors.Is(err, matchup.ErrInsufficientCandidates), ShouldBeTrue)
				So(h.session.State(), ShouldEqual, session.StateNoMatchup)
			})
		})

		Convey("When a filtered matchup is resolved", func() {
			m, err := h.session.Generate(ctx, []string{"minimal"})
			So(err, ShouldBeNil)
			So(m.A.ID, ShouldEqual, "p2")
			So(m.B.ID, ShouldEqual, "p3")

			out, err := h.session.Submit(ctx, model.ChoiceA)

			Convey("Then the follow-up reuses the filter", func() {
				So(err, ShouldBeNil)
				So(out.Next.A.ID, ShouldEqual, "p2")
				So(out.Next.B.ID, ShouldEqual, "p3")
			})
		})
	})
}

func TestSessionFollowUp(t *testing.T) {
	ctx := context.Background()

	Convey("Given a catalog that shrinks after the first matchup", t, func() {
		cat := &shrinkingCatalog{entities: products()}
		h := newHarness(t, cat, products())
		_, err := h.session.Generate(ctx, []string{"y2k"})
		So(err, ShouldBeNil)

		Convey("When the filter no longer yields two candidates", func() {
			cat.entities = []model.Entity{products()[0], products()[2]}
			out, err := h.session.Submit(ctx, model.ChoiceA)

			Convey("Then the follow-up widens to the whole catalog", func() {
				So(err, ShouldBeNil)
				So(out.Next, ShouldNotBeNil)
				So(out.Next.A.ID, ShouldEqual, "p1")
				So(out.Next.B.ID, ShouldEqual, "p3")
			})
		})

		Convey("When even the whole catalog is too small", func() {
			cat.entities = products()[:1]
			out, err := h.session.Skip(ctx)

			Convey("Then the session returns to no matchup", func() {
				So(err, ShouldBeNil)
				So(out.Next, ShouldBeNil)
				So(h.session.State(), ShouldEqual, session.StateNoMatchup)
			})
		})
	})

	Convey("Given a recorder that rejects decisions", t, func() {
		cat, _ := catalog.New(products())
		gen := matchup.NewGenerator(matchup.WithSource(zeroSource{}))
		s := session.New("s2", cat, gen, failingRecorder{err: rating.ErrInvalidDecision})
		_, err := s.Generate(ctx, nil)
		So(err, ShouldBeNil)

		Convey("When submitting", func() {
			_, err := s.Submit(ctx, model.ChoiceA)

			Convey("Then the error surfaces and the matchup stays", func() {
				So(errors.Is(err, rating.ErrInvalidDecision), ShouldBeTrue)
				So(s.State(), ShouldEqual, session.StatePresented)
				So(s.Counters().Decisions, ShouldEqual, 0)
			})
		})
	})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	Convey("Given a registry", t, func() {
		cat, _ := catalog.New(products())
		gen := matchup.NewGenerator()
		clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		r := session.NewRegistry(func(id string) *session.Session {
			return session.New(id, cat, gen, failingRecorder{}, session.WithClock(func() time.Time { return clock }))
		})

		Convey("When the same id is requested twice", func() {
			a := r.GetOrCreate(ctx, "abc")
			b := r.GetOrCreate(ctx, " abc ")

			Convey("Then the same session is returned", func() {
				So(a, ShouldEqual, b)
				So(r.Len(), ShouldEqual, 1)
				got, ok := r.Get(ctx, "abc")
				So(ok, ShouldBeTrue)
				So(got, ShouldEqual, a)
			})
		})

		Convey("When no id is given", func() {
			a := r.GetOrCreate(ctx, "")
			b := r.GetOrCreate(ctx, "")

			Convey("Then fresh ids are assigned", func() {
				So(a.ID(), ShouldNotBeEmpty)
				So(a.ID(), ShouldNotEqual, b.ID())
				So(r.Len(), ShouldEqual, 2)
			})
		})

		Convey("When idle sessions are pruned", func() {
			r.GetOrCreate(ctx, "old")
			pruned := r.Prune(ctx, clock.Add(time.Minute))

			Convey("Then they are dropped", func() {
				So(pruned, ShouldEqual, 1)
				So(r.Len(), ShouldEqual, 0)
				So(r.Prune(ctx, clock.Add(-time.Minute)), ShouldEqual, 0)
			})
		})
	})
}
