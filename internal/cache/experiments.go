// Package cache bounds hot-path experiment reads. The assignment endpoint
// is called once per visitor, so serving slightly stale variant layouts
// from an LRU beats a store round trip; anything that changes layout
// (lifecycle transitions) invalidates the entry.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/liftlab/adpilot/internal/experiment"
)

// ExperimentCache is a size-bounded, TTL-expiring snapshot cache for
// experiments, keyed per brand. Safe for concurrent access.
type ExperimentCache struct {
	mu     sync.Mutex
	cache  *lru.Cache[string, *snapshot]
	ttl    time.Duration
	hits   uint64
	misses uint64
}

type snapshot struct {
	exp       *experiment.Experiment
	expiresAt time.Time
}

// NewExperimentCache creates a cache holding up to size experiments, each
// valid for ttl (0 = never expires).
func NewExperimentCache(size int, ttl time.Duration) (*ExperimentCache, error) {
	inner, err := lru.New[string, *snapshot](size)
	if err != nil {
		return nil, err
	}
	return &ExperimentCache{cache: inner, ttl: ttl}, nil
}

func cacheKey(brandID, experimentID string) string {
	return brandID + "/" + experimentID
}

// Get returns a cached experiment snapshot, or nil on miss/expiry.
func (c *ExperimentCache) Get(brandID, experimentID string) *experiment.Experiment {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.cache.Get(cacheKey(brandID, experimentID))
	if !ok || (c.ttl > 0 && time.Now().After(s.expiresAt)) {
		c.misses++
		return nil
	}
	c.hits++
	return s.exp
}

// Put stores a snapshot.
func (c *ExperimentCache) Put(exp *experiment.Experiment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(cacheKey(exp.BrandID, exp.ID), &snapshot{
		exp:       exp,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Invalidate drops a snapshot, e.g. after a lifecycle transition.
func (c *ExperimentCache) Invalidate(brandID, experimentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(cacheKey(brandID, experimentID))
}

// Stats reports hit/miss counts for observability.
func (c *ExperimentCache) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.cache.Len()
}
