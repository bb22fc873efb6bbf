package loadgen

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/okian/duel/internal/domain/types"
)

// Preferences assigns every product a hidden strength shared by all
// simulated shoppers. Strengths are derived from the seed and the
// product id, so they do not depend on the order products are seen.
type Preferences struct {
	seed int64

	mu        sync.Mutex
	strengths map[string]float64
}

// NewPreferences creates hidden preferences for the given seed.
func NewPreferences(seed int64) *Preferences {
	return &Preferences{seed: seed, strengths: make(map[string]float64)}
}

// Strength returns the hidden strength of a product.
func (p *Preferences) Strength(id string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.strengths[id]; ok {
		return s
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	r := rand.New(rand.NewSource(p.seed ^ int64(h.Sum64()))) //nolint:gosec // simulation only
	s := strengthMean + r.NormFloat64()*strengthSpread
	p.strengths[id] = s
	return s
}

// Prefer reports whether a shopper picks a over b. u must be uniform in [0,1).
func (p *Preferences) Prefer(a, b string, u float64) bool {
	ea := 1 / (1 + math.Pow(10, (p.Strength(b)-p.Strength(a))/eloScale))
	return u < ea
}

// Agreement returns the share of leaderboard pairs ordered the same way
// as the hidden strengths, and whether the leader is the strongest
// product on the board.
func (p *Preferences) Agreement(rows []types.Entry) (float64, bool) {
	if len(rows) < 2 {
		return 1, len(rows) == 1
	}

	concordant, pairs := 0, 0
	for i := 0; i < len(rows); i++ {
		si := p.Strength(rows[i].EntityID)
		for j := i + 1; j < len(rows); j++ {
			pairs++
			if si >= p.Strength(rows[j].EntityID) {
				concordant++
			}
		}
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.EntityID
	}
	sort.SliceStable(ids, func(i, j int) bool { return p.Strength(ids[i]) > p.Strength(ids[j]) })

	return float64(concordant) / float64(pairs), ids[0] == rows[0].EntityID
}
