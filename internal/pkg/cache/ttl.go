package cache

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so expiry can be driven by tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type ttlEntry struct {
	value     string
	expiresAt time.Time
}

// TTLCache is a process-local string cache whose entries expire at a fixed instant.
// Expiry is checked on every read; Close drops all entries and disables the cache.
type TTLCache struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]ttlEntry
	closed  bool
}

func NewTTLCache(clock Clock) *TTLCache {
	if clock == nil {
		clock = SystemClock
	}
	return &TTLCache{clock: clock, entries: make(map[string]ttlEntry)}
}

// Put stores value until now+ttl. Non-positive ttl is ignored.
func (c *TTLCache) Put(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.entries[key] = ttlEntry{value: value, expiresAt: c.clock.Now().Add(ttl)}
}

// Get returns the cached value if it has not yet expired. Expired entries are evicted.
func (c *TTLCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTLCache) Close() {
	c.mu.Lock()
	c.entries = make(map[string]ttlEntry)
	c.closed = true
	c.mu.Unlock()
}
