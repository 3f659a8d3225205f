// Package cache memoizes translations between poll cycles so a headline that
// stays in a feed for hours is translated once.
package cache

import (
	"sync"
	"time"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 2000
)

type key struct {
	lang string
	text string
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache is a TTL cache of translations keyed by target language and source
// text. When full, the entry closest to expiry is evicted.
type Cache struct {
	mu         sync.Mutex
	entries    map[key]entry
	ttl        time.Duration
	maxEntries int
	hits       int
	misses     int

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// New starts a cache with an hourly sweep of expired entries. Call Stop to
// end the sweep.
func New(ttl time.Duration, maxEntries int) *Cache {
	c := newCache(ttl, maxEntries, time.Now)
	go c.sweepLoop(time.Hour)
	return c
}

func newCache(ttl time.Duration, maxEntries int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[key]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		stop:       make(chan struct{}),
	}
}

func (c *Cache) Get(lang, text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{lang, text}
	e, ok := c.entries[k]
	if ok && c.now().After(e.expiresAt) {
		delete(c.entries, k)
		ok = false
	}
	if !ok {
		c.misses++
		return "", false
	}
	c.hits++
	return e.value, true
}

func (c *Cache) Put(lang, text, translated string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{lang, text}
	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[k] = entry{value: translated, expiresAt: c.now().Add(c.ttl)}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) evictLocked() {
	var (
		oldest key
		found  bool
		at     time.Time
	)
	for k, e := range c.entries {
		if !found || e.expiresAt.Before(at) {
			oldest, at, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(c.entries, oldest)
	}
}
