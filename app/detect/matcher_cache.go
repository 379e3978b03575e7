package detect

import (
	"sync"
	"time"
)

// MatcherCache amortizes matcher construction across single-item detection
// tasks triggered by notifications. Batch runs build their own matcher once
// and do not go through the cache.
type MatcherCache struct {
	detector *Detector
	ttl      time.Duration

	mu      sync.Mutex
	matcher *Matcher
	builtAt time.Time
}

func NewMatcherCache(detector *Detector, ttl time.Duration) *MatcherCache {
	return &MatcherCache{
		detector: detector,
		ttl:      ttl,
	}
}

// Get returns the cached matcher, rebuilding it from the registry when the
// cache is cold or stale.
func (c *MatcherCache) Get() (*Matcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.matcher != nil && time.Since(c.builtAt) < c.ttl {
		return c.matcher, nil
	}

	matcher, err := c.detector.BuildMatcher()
	if err != nil {
		return nil, err
	}

	c.matcher = matcher
	c.builtAt = time.Now()

	return matcher, nil
}

// Invalidate drops the cached matcher. Called after registry writes.
func (c *MatcherCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matcher = nil
}
