package workflow

import (
	"sync"
	"time"
)

type cacheEntry struct {
	view     *Projection
	lastSeen time.Time
}

// ProjectionCache is the per-worker sticky cache. A hit lets the engine fold
// only the events appended since the last task for that instance; a miss (or
// an entry past the sticky timeout) forces a full replay from history.
// Correctness never depends on a hit.
type ProjectionCache struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[string]*cacheEntry
}

func NewProjectionCache(stickyTimeout time.Duration) *ProjectionCache {
	return &ProjectionCache{
		timeout: stickyTimeout,
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the cached projection, refreshing its sticky deadline. Entries
// past the sticky timeout are evicted and reported as a miss.
func (c *ProjectionCache) Get(instanceID string) (*Projection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[instanceID]
	if !ok {
		return nil, false
	}

	if c.timeout > 0 && time.Since(entry.lastSeen) > c.timeout {
		delete(c.entries, instanceID)

		return nil, false
	}

	entry.lastSeen = time.Now()

	return entry.view, true
}

// Put stores a projection. Terminal instances are dropped instead: no
// further task will need them.
func (c *ProjectionCache) Put(instanceID string, view *Projection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if view.Status.Terminal() {
		delete(c.entries, instanceID)

		return
	}

	c.entries[instanceID] = &cacheEntry{view: view, lastSeen: time.Now()}
}

// Invalidate drops an instance's entry, forcing the next task to replay.
func (c *ProjectionCache) Invalidate(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, instanceID)
}

// EvictStale drops every entry past the sticky timeout and returns how many
// were evicted. The worker janitor runs this periodically.
func (c *ProjectionCache) EvictStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout <= 0 {
		return 0
	}

	evicted := 0

	for instanceID, entry := range c.entries {
		if time.Since(entry.lastSeen) > c.timeout {
			delete(c.entries, instanceID)

			evicted++
		}
	}

	return evicted
}

// Len returns the number of cached projections.
func (c *ProjectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
