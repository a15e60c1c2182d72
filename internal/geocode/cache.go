package geocode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// Cache is a small in-memory TTL cache in front of a Reverser, keyed by
// coordinates rounded to six decimals. Failures are never cached.
type Cache struct {
	next Reverser
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	v  string
	ts time.Time
}

// NewCache wraps next with the provided TTL. now may be nil.
func NewCache(next Reverser, ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{next: next, ttl: ttl, now: now, store: make(map[string]cacheEntry)}
}

func keyFor(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

func (c *Cache) Reverse(ctx context.Context, at models.Coord) (string, error) {
	if v, ok := c.get(at); ok {
		observability.GeocodeCacheHits.Inc()
		return v, nil
	}
	v, err := c.next.Reverse(ctx, at)
	if err != nil {
		return "", err
	}
	c.set(at, v)
	return v, nil
}

func (c *Cache) get(at models.Coord) (string, bool) {
	k := keyFor(at)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return "", false
	}
	return e.v, true
}

func (c *Cache) set(at models.Coord, v string) {
	c.mu.Lock()
	c.store[keyFor(at)] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}
