package bus

import (
	"sync"
	"time"
)

// DedupeCache is a TTL-bounded set of recently seen keys. It sits in front
// of enqueue to absorb webhook retries and double-taps; the queue's own
// at-least-once semantics are handled downstream by idempotent writes.
// Safe for concurrent use.
type DedupeCache struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	ttl        time.Duration
	maxEntries int
}

// NewDedupeCache creates a dedupe cache with the given TTL and size cap.
func NewDedupeCache(ttl time.Duration, maxEntries int) *DedupeCache {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	return &DedupeCache{
		seen:       make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// IsDuplicate records the key and reports whether it was already present
// within the TTL window.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if ts, ok := c.seen[key]; ok && now.Sub(ts) < c.ttl {
		return true
	}

	// Prune expired entries when at capacity; hard-evict if pruning wasn't enough.
	if len(c.seen) >= c.maxEntries {
		for k, ts := range c.seen {
			if now.Sub(ts) >= c.ttl {
				delete(c.seen, k)
			}
		}
		for len(c.seen) >= c.maxEntries {
			for k := range c.seen {
				delete(c.seen, k)
				break
			}
		}
	}

	c.seen[key] = now
	return false
}
