package repository

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: rating DESC, then entityID ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the leaderboard
// from best to worst. Node sizes give positions in O(log n).

const defaultMetricsUpdateInterval = 5 * time.Second

// treap node
type node struct {
	id     string
	rating float64
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aRating, aID) should appear before (bRating, bID).
func less(aRating float64, aID string, bRating float64, bID string) bool {
	if aRating != bRating {
		return aRating > bRating
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, rating float64, prio uint64) *node {
	if n == nil {
		return &node{id: id, rating: rating, prio: prio, size: 1}
	}
	if less(rating, id, n.rating, n.id) {
		n.left = insert(n.left, id, rating, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, rating, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, rating float64) *node {
	if n == nil {
		return nil
	}
	if rating == n.rating && id == n.id {
		// Rotate the higher-priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, rating)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, rating)
		}
	} else if less(rating, id, n.rating, n.id) {
		n.left = deleteNode(n.left, id, rating)
	} else {
		n.right = deleteNode(n.right, id, rating)
	}
	fix(n)
	return n
}

// position returns the zero-based in-order index of (id, rating).
func position(n *node, id string, rating float64) int {
	pos := 0
	for n != nil {
		switch {
		case n.id == id && n.rating == rating:
			return pos + nsize(n.left)
		case less(rating, id, n.rating, n.id):
			n = n.left
		default:
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return -1
}

// collectTopN appends up to limit records in rank order.
func collectTopN(n *node, limit int, records map[string]model.RatingRecord, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, records, out)
	if len(*out) < limit {
		if rec, ok := records[n.id]; ok {
			*out = append(*out, Entry{RatingRecord: rec})
		}
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, records, out)
	}
}

// TreapStore is the in-memory rating table.
type TreapStore struct {
	mu                    sync.RWMutex
	root                  *node
	byID                  map[string]model.RatingRecord
	priority              func() uint64
	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a treap store with configuration options.
// The background gauge updater stops on Close or when ctx is done.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:                  make(map[string]model.RatingRecord),
		priority:              rand.Uint64,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background goroutine.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Get implements Store.Get.
func (s *TreapStore) Get(_ context.Context, entityID string) (model.RatingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[entityID]
	return rec, ok
}

// Put implements Store.Put with O(log n) expected time.
func (s *TreapStore) Put(_ context.Context, rec model.RatingRecord) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if strings.TrimSpace(rec.EntityID) == "" {
		return fmt.Errorf("empty entity id: %w", ErrInvalidRecord)
	}
	if math.IsNaN(rec.Rating) || math.IsInf(rec.Rating, 0) {
		return fmt.Errorf("entity %q rating %v: %w", rec.EntityID, rec.Rating, ErrInvalidRecord)
	}

	s.mu.Lock()
	if old, ok := s.byID[rec.EntityID]; ok {
		s.root = deleteNode(s.root, rec.EntityID, old.Rating)
	}
	s.byID[rec.EntityID] = rec
	s.root = insert(s.root, rec.EntityID, rec.Rating, s.priority())
	count := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateRatedEntities(count)
	return nil
}

// Rank returns the ranked row for an entity in O(log n + rank).
func (s *TreapStore) Rank(_ context.Context, entityID string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[entityID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, fmt.Errorf("rank %q: %w", entityID, ErrNotFound)
	}

	pos := position(s.root, entityID, rec.Rating)
	prefix := make([]Entry, 0, pos+1)
	collectTopN(s.root, pos+1, s.byID, &prefix)
	assignRanksWithTies(prefix)
	return prefix[len(prefix)-1], nil
}

// TopN returns the top n rows ordered by rating desc. n <= 0 returns all.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.byID) {
		n = len(s.byID)
	}
	out := make([]Entry, 0, n)
	collectTopN(s.root, n, s.byID, &out)
	assignRanksWithTies(out)
	return out, nil
}

// Count returns the number of judged entities.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// All returns every record in leaderboard order.
func (s *TreapStore) All(_ context.Context) []model.RatingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.byID))
	collectTopN(s.root, len(s.byID), s.byID, &entries)
	out := make([]model.RatingRecord, len(entries))
	for i, e := range entries {
		out[i] = e.RatingRecord
	}
	return out
}

func (s *TreapStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateRatedEntities(s.Count(ctx))
			}
		}
	}()
}

// assignRanksWithTies assigns dense ranks: equal ratings share a rank and
// the next distinct rating takes the following rank.
func assignRanksWithTies(entries []Entry) {
	currentRank := 0
	for i := range entries {
		if i == 0 || entries[i].Rating != entries[i-1].Rating {
			currentRank++
		}
		entries[i].Rank = currentRank
	}
}
