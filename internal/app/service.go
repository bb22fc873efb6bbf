// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/duel/internal/adapters/live"
	eventqueue "github.com/okian/duel/internal/adapters/mq/queue"
	"github.com/okian/duel/internal/adapters/mq/worker"
	"github.com/okian/duel/internal/adapters/persistence"
	repository "github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/catalog"
	"github.com/okian/duel/internal/domain/dedupe"
	"github.com/okian/duel/internal/domain/history"
	"github.com/okian/duel/internal/domain/matchup"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/internal/domain/session"
	"github.com/okian/duel/internal/domain/types"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Service defaults.
const (
	defaultQueueSize        = 10000
	defaultDedupeSize       = 100000
	defaultSnapshotInterval = time.Minute
	defaultSessionIdleTTL   = 30 * time.Minute
	minPruneInterval        = time.Second
)

// ErrUnknownSession is returned when a choice names a session that does not exist.
var ErrUnknownSession = errors.New("unknown session")

// Service implements the API dependencies for the ranking system.
type Service struct {
	mu sync.Mutex

	// Core components
	catalog   catalog.Catalog
	generator *matchup.Generator
	engine    *rating.Engine
	history   *history.Log
	ratings   *repository.TreapStore
	sessions  *session.Registry
	deduper   dedupe.Deduper
	queue     *eventqueue.InMemoryQueue
	writer    *worker.Writer
	hub       *live.Hub
	snapshots persistence.Store

	// commitMu orders decisions against snapshot capture.
	commitMu sync.Mutex

	// Configuration
	kFactor          float64
	defaultRating    float64
	source           matchup.Source
	seed             int64
	queueSize        int
	dedupeSize       int
	snapshotInterval time.Duration
	sessionIdleTTL   time.Duration
	defaultTags      []string
	clock            func() time.Time

	// State
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastSaved atomic.Int64 // decisions covered by the last save

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKFactor sets the rating sensitivity.
func WithKFactor(k float64) Option {
	return func(s *Service) {
		if k > 0 {
			s.kFactor = k
		}
	}
}

// WithDefaultRating sets the rating of never-judged entities.
func WithDefaultRating(r float64) Option {
	return func(s *Service) {
		s.defaultRating = r
	}
}

// WithSeed makes matchup generation reproducible. Zero keeps a random seed.
func WithSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// WithRandomSource injects the matchup randomness, overriding WithSeed.
func WithRandomSource(src matchup.Source) Option {
	return func(s *Service) {
		s.source = src
	}
}

// WithQueueSize sets the maximum number of pending async decisions.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many request ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithSnapshotStore enables restore on Start and periodic saves.
func WithSnapshotStore(store persistence.Store) Option {
	return func(s *Service) {
		s.snapshots = store
	}
}

// WithSnapshotInterval sets the periodic save interval.
func WithSnapshotInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.snapshotInterval = d
		}
	}
}

// WithSessionIdleTTL sets how long an idle session is kept. Zero disables pruning.
func WithSessionIdleTTL(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.sessionIdleTTL = d
		}
	}
}

// WithDefaultTags sets the filter used when a matchup request names no tags.
func WithDefaultTags(tags []string) Option {
	return func(s *Service) {
		s.defaultTags = append([]string(nil), tags...)
	}
}

// WithClock overrides time.Now for decisions, sessions and stats.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// New constructs the service over catalog c.
func New(c catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		catalog:          c,
		kFactor:          model.DefaultKFactor,
		defaultRating:    model.DefaultRating,
		queueSize:        defaultQueueSize,
		dedupeSize:       defaultDedupeSize,
		snapshotInterval: defaultSnapshotInterval,
		sessionIdleTTL:   defaultSessionIdleTTL,
		clock:            time.Now,
		logger:           logger.Nop(),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	genOpts := []matchup.Option{}
	switch {
	case s.source != nil:
		genOpts = append(genOpts, matchup.WithSource(s.source))
	case s.seed != 0:
		genOpts = append(genOpts, matchup.WithSeed(s.seed))
	}
	s.generator = matchup.NewGenerator(genOpts...)
	s.history = history.New()
	s.ratings = repository.NewTreapStore(context.Background())
	s.engine = rating.NewEngine(c, s.ratings, s.history,
		rating.WithKFactor(s.kFactor),
		rating.WithDefaultRating(s.defaultRating),
		rating.WithClock(s.clock),
		rating.WithLogger(s.logger.Named("rating")),
	)
	s.sessions = session.NewRegistry(func(id string) *session.Session {
		return session.New(id, c, s.generator, s,
			session.WithLogger(s.logger.Named("session")),
			session.WithClock(s.clock),
		)
	})
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.writer = worker.NewWriter(s.queue, s,
		worker.WithLogger(s.logger),
		worker.WithOnApplied(s.onApplied),
		worker.WithOnRejected(s.onRejected),
	)
	s.hub = live.NewHub(live.WithLogger(s.logger.Named("live")))
	return s
}

// Start restores the last snapshot and starts the background components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return errors.New("service: cannot restart a stopped service")
	}

	s.logger.Info(ctx, "starting ranking service...")

	if s.snapshots != nil {
		if err := s.restore(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(runCtx)
	}()

	// The writer drains on Shutdown rather than on cancellation.
	go s.writer.Run(context.WithoutCancel(ctx))

	if s.snapshots != nil {
		s.wg.Add(1)
		go s.snapshotLoop(runCtx)
	}
	if s.sessionIdleTTL > 0 {
		s.wg.Add(1)
		go s.pruneLoop(runCtx)
	}

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.Int("catalogSize", s.catalog.Len(ctx)),
		logger.Float64("kFactor", s.engine.KFactor()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("restoredDecisions", s.history.Len(ctx)),
	)
	return nil
}

// Stop drains pending decisions, saves a final snapshot and releases
// resources. ctx bounds the drain.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	s.logger.Info(ctx, "stopping ranking service...")

	var errs []error
	if s.started {
		if err := s.writer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.cancel()
		s.wg.Wait()
	} else {
		_ = s.queue.Close()
		s.hub.Close()
	}

	if s.snapshots != nil {
		if s.started {
			if err := s.SaveSnapshot(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.snapshots.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s snapshot store: %w", s.snapshots.Name(), err))
		}
	}
	_ = s.ratings.Close()

	s.started = false
	s.logger.Info(ctx, "ranking service stopped", logger.Int("decisions", s.history.Len(ctx)))
	return errors.Join(errs...)
}

// LiveHandler serves the websocket decision feed.
func (s *Service) LiveHandler() http.Handler {
	return s.hub
}

// GenerateMatchup presents a new matchup in the caller's session, creating
// the session when sessionID is empty or unknown.
func (s *Service) GenerateMatchup(ctx context.Context, sessionID string, tags []string) (string, model.Matchup, error) {
	if len(tags) == 0 {
		tags = s.defaultTags
	}
	sess := s.sessions.GetOrCreate(ctx, sessionID)
	m, err := sess.Generate(ctx, tags)
	if err != nil {
		return sess.ID(), model.Matchup{}, err
	}
	return sess.ID(), m, nil
}

// Submit resolves the session's current matchup with choice.
func (s *Service) Submit(ctx context.Context, sessionID string, choice model.Choice) (session.Outcome, session.Counters, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return session.Outcome{}, session.Counters{}, err
	}
	out, err := sess.Submit(ctx, choice)
	return out, sess.Counters(), err
}

// Skip dismisses the session's current matchup without a decision.
func (s *Service) Skip(ctx context.Context, sessionID string) (session.Outcome, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return session.Outcome{}, err
	}
	return sess.Skip(ctx)
}

func (s *Service) session(ctx context.Context, id string) (*session.Session, error) {
	id = strings.TrimSpace(id)
	sess, ok := s.sessions.Get(ctx, id)
	if !ok {
		// A session nobody created has no matchup to resolve.
		return nil, fmt.Errorf("session %q: %w: %w", id, ErrUnknownSession, session.ErrNoMatchup)
	}
	return sess, nil
}

// RecordDecision applies "winnerID beat loserID" synchronously and publishes
// the result on the live feed.
func (s *Service) RecordDecision(ctx context.Context, winnerID, loserID string) (rating.Result, error) {
	s.commitMu.Lock()
	res, err := s.engine.RecordDecision(ctx, winnerID, loserID)
	s.commitMu.Unlock()
	if err != nil {
		return rating.Result{}, err
	}
	metrics.UpdateHistoryLength(s.history.Len(ctx))
	s.hub.PublishDecision(ctx, res.Decision, res.Winner, res.Loser)
	return res, nil
}

// EnqueueDecision submits a decision to the single writer. Ids are checked
// against the catalog up front so callers learn about typos immediately.
func (s *Service) EnqueueDecision(ctx context.Context, cmd model.DecisionCommand) error {
	cmd.WinnerID = strings.TrimSpace(cmd.WinnerID)
	cmd.LoserID = strings.TrimSpace(cmd.LoserID)
	if cmd.WinnerID == cmd.LoserID {
		metrics.RecordInvalidDecision()
		return fmt.Errorf("entity %q cannot beat itself: %w", cmd.WinnerID, rating.ErrInvalidDecision)
	}
	for _, id := range [...]string{cmd.WinnerID, cmd.LoserID} {
		if _, ok := s.catalog.Get(ctx, id); !ok {
			metrics.RecordInvalidDecision()
			return fmt.Errorf("entity %q not in catalog: %w", id, rating.ErrInvalidDecision)
		}
	}
	cmd.EnqueuedAt = s.clock()
	if err := s.queue.Enqueue(ctx, cmd); err != nil {
		return fmt.Errorf("enqueue decision %s: %w", cmd.RequestID, err)
	}
	return nil
}

func (s *Service) onApplied(ctx context.Context, cmd worker.Command, res rating.Result) {
	s.logger.Debug(ctx, "async decision applied",
		logger.String("requestID", cmd.RequestID),
		logger.String("decision", res.Decision.ID),
		logger.Duration("queued", res.Decision.CreatedAt.Sub(cmd.EnqueuedAt)),
	)
}

func (s *Service) onRejected(ctx context.Context, cmd worker.Command, err error) {
	// The id was checked at enqueue time; release it so a corrected retry goes through.
	s.deduper.Unrecord(ctx, cmd.RequestID)
	s.logger.Warn(ctx, "async decision rejected",
		logger.String("requestID", cmd.RequestID),
		logger.Error(err),
	)
}

// SeenAndRecord atomically checks if a request id was seen and records it if not.
// Returns true if the request was already seen, false if it was newly recorded.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordDuplicateDecision()
	}
	return seen
}

// Unrecord removes a request id from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	return s.deduper.Size()
}

// TopEntities returns leaderboard rows, best first. limit <= 0 returns all
// judged entities.
func (s *Service) TopEntities(ctx context.Context, limit int) ([]types.Entry, error) {
	start := time.Now()
	entries, err := s.ratings.TopN(ctx, limit)
	metrics.RecordStoreQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return nil, err
	}

	// Convert to API format
	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[i] = toEntry(e)
	}
	return out, nil
}

// Rank returns the leaderboard row for entityID, or repository.ErrNotFound
// when the entity was never judged.
func (s *Service) Rank(ctx context.Context, entityID string) (types.Entry, error) {
	e, err := s.ratings.Rank(ctx, entityID)
	if err != nil {
		return types.Entry{}, err
	}
	return toEntry(e), nil
}

func toEntry(e repository.Entry) types.Entry {
	return types.Entry{
		Rank:           e.Rank,
		EntityID:       e.EntityID,
		Rating:         e.Rating,
		Wins:           e.Wins,
		Losses:         e.Losses,
		TotalDecisions: e.TotalDecisions,
	}
}

// TotalDecisions returns the number of recorded decisions.
func (s *Service) TotalDecisions(ctx context.Context) int {
	return s.history.Len(ctx)
}

// JudgedEntityIDs returns every entity that took part in a decision, in
// first-seen order.
func (s *Service) JudgedEntityIDs(ctx context.Context) []string {
	return s.history.JudgedEntityIDs(ctx)
}

// RecentDecisions returns up to n decisions, newest first.
func (s *Service) RecentDecisions(ctx context.Context, n int) []model.Decision {
	return s.history.Recent(ctx, n)
}

// DecisionsSince returns decisions made at or after t, oldest first.
func (s *Service) DecisionsSince(ctx context.Context, t time.Time) []model.Decision {
	return s.history.Since(ctx, t)
}

// GetStats returns service statistics for display and monitoring.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	now := s.clock()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	judged := s.history.JudgedEntityIDs(ctx)

	stats := types.Stats{
		TotalDecisions:  s.history.Len(ctx),
		DecisionsToday:  s.history.CountSince(ctx, midnight),
		JudgedEntities:  len(judged),
		CatalogSize:     s.catalog.Len(ctx),
		JudgedEntityIDs: judged,
		QueueLength:     s.queue.Len(ctx),
		ActiveSessions:  s.sessions.Len(),
		LiveClients:     s.hub.Clients(),
	}

	// Update metrics
	metrics.UpdateQueueSize(stats.QueueLength)
	metrics.UpdateHistoryLength(stats.TotalDecisions)
	return stats
}

// Snapshot captures a consistent copy of the rating table and decision log.
func (s *Service) Snapshot(ctx context.Context) persistence.Snapshot {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return persistence.Snapshot{
		Ratings:   s.ratings.All(ctx),
		Decisions: s.history.All(ctx),
		SavedAt:   s.clock().UTC(),
	}
}

// SaveSnapshot persists the current state when a snapshot store is configured.
func (s *Service) SaveSnapshot(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	snap := s.Snapshot(ctx)
	start := time.Now()
	err := s.snapshots.Save(ctx, snap)
	metrics.RecordSnapshot(s.snapshots.Name(), err, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.logger.Error(ctx, "snapshot save failed", logger.String("backend", s.snapshots.Name()), logger.Error(err))
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.lastSaved.Store(int64(len(snap.Decisions)))
	s.logger.Debug(ctx, "snapshot saved",
		logger.String("backend", s.snapshots.Name()),
		logger.Int("ratings", len(snap.Ratings)),
		logger.Int("decisions", len(snap.Decisions)),
	)
	return nil
}

// restore loads the latest snapshot into the empty rating table and log.
func (s *Service) restore(ctx context.Context) error {
	start := time.Now()
	snap, err := s.snapshots.Load(ctx)
	if errors.Is(err, persistence.ErrNoSnapshot) {
		s.logger.Info(ctx, "no snapshot to restore", logger.String("backend", s.snapshots.Name()))
		return nil
	}
	if err == nil {
		err = snap.Validate()
	}
	if err == nil {
		err = s.checkCatalog(ctx, snap)
	}
	metrics.RecordSnapshot(s.snapshots.Name(), err, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fmt.Errorf("restore snapshot from %s: %w", s.snapshots.Name(), err)
	}

	for _, rec := range snap.Ratings {
		if err := s.ratings.Put(ctx, rec); err != nil {
			return fmt.Errorf("restore rating %q: %w", rec.EntityID, err)
		}
	}
	for _, d := range snap.Decisions {
		s.history.Append(ctx, d)
	}
	s.lastSaved.Store(int64(len(snap.Decisions)))
	metrics.UpdateHistoryLength(len(snap.Decisions))
	s.logger.Info(ctx, "snapshot restored",
		logger.String("backend", s.snapshots.Name()),
		logger.Int("ratings", len(snap.Ratings)),
		logger.Int("decisions", len(snap.Decisions)),
		logger.String("savedAt", snap.SavedAt.Format(time.RFC3339)),
	)
	return nil
}

// checkCatalog rejects snapshots naming entities the catalog no longer has.
func (s *Service) checkCatalog(ctx context.Context, snap persistence.Snapshot) error {
	known := func(id string) bool {
		_, ok := s.catalog.Get(ctx, id)
		return ok
	}
	for _, r := range snap.Ratings {
		if !known(r.EntityID) {
			return fmt.Errorf("rating for %q not in catalog: %w", r.EntityID, persistence.ErrCorruptSnapshot)
		}
	}
	for _, d := range snap.Decisions {
		for _, id := range [...]string{d.WinnerID, d.LoserID} {
			if !known(id) {
				return fmt.Errorf("decision %s names %q not in catalog: %w", d.ID, id, persistence.ErrCorruptSnapshot)
			}
		}
	}
	return nil
}

func (s *Service) snapshotLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if int64(s.history.Len(ctx)) == s.lastSaved.Load() {
				continue
			}
			_ = s.SaveSnapshot(ctx)
		}
	}
}

func (s *Service) pruneLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.sessionIdleTTL / 2
	if interval < minPruneInterval {
		interval = minPruneInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Prune(ctx, s.clock().Add(-s.sessionIdleTTL)); n > 0 {
				s.logger.Debug(ctx, "pruned idle sessions", logger.Int("count", n))
			}
		}
	}
}
