package permissions

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCapacity bounds the number of cached entries
	DefaultCapacity = 10000

	// DefaultTTL is the lifetime of a cached permission entry
	DefaultTTL = 5 * time.Minute
)

// cacheKey identifies a (subject, resource) pair
type cacheKey struct {
	subjectID int64
	owner     string
	resource  string
}

// Entry is a resolved permission held in the cache
type Entry struct {
	SubjectID int64         `json:"subject_id"`
	Owner     string        `json:"owner"`
	Resource  string        `json:"resource"`
	Level     Level         `json:"level"`
	Role      string        `json:"role"`
	CachedAt  time.Time     `json:"cached_at"`
	TTL       time.Duration `json:"-"`
}

// Stale reports whether the entry has outlived its TTL
func (e *Entry) Stale(now time.Time) bool {
	return now.After(e.CachedAt.Add(e.TTL))
}

// Stats holds cache statistics for observability
type Stats struct {
	Size               int     `json:"size"`
	Capacity           int     `json:"capacity"`
	UtilizationPercent float64 `json:"utilization_percent"`
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	Evictions          int64   `json:"evictions"`
}

// Cache is a time-bounded, capacity-bounded store of resolved permissions
// keyed by (subject, resource). When full, Set evicts the entry with the
// smallest CachedAt. Insertion time is never refreshed on read, so this is
// oldest-inserted eviction, not LRU: a frequently read old entry is still
// evicted before a rarely read new one. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[cacheKey]*Entry
	capacity   int
	defaultTTL time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewCache creates a permission cache. Non-positive capacity or TTL fall back
// to the defaults.
func NewCache(capacity int, defaultTTL time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[cacheKey]*Entry),
		capacity:   capacity,
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached entry for the pair if present and fresh. A stale
// entry is deleted as part of the read and reported as a miss.
func (c *Cache) Get(subjectID int64, owner, resource string) (*Entry, bool) {
	key := cacheKey{subjectID: subjectID, owner: owner, resource: resource}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if entry.Stale(time.Now()) {
		delete(c.entries, key)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	dup := *entry
	return &dup, true
}

// Set inserts or replaces the entry for the pair. A non-positive ttl uses the
// cache default. If the cache is at capacity and the pair is not already
// present, exactly one entry is evicted first: the one with the smallest
// CachedAt.
func (c *Cache) Set(subjectID int64, owner, resource string, level Level, ttl time.Duration) *Entry {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := cacheKey{subjectID: subjectID, owner: owner, resource: resource}
	entry := &Entry{
		SubjectID: subjectID,
		Owner:     owner,
		Resource:  resource,
		Level:     level,
		Role:      level.RoleLabel(),
		CachedAt:  time.Now(),
		TTL:       ttl,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = entry

	dup := *entry
	return &dup
}

// evictOldestLocked removes the entry with the smallest CachedAt. Caller must
// hold the lock.
func (c *Cache) evictOldestLocked() {
	var oldestKey cacheKey
	var oldest time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.CachedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.CachedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions.Add(1)
	}
}

// Invalidate removes the entry for one pair if present; absent pairs are a
// no-op.
func (c *Cache) Invalidate(subjectID int64, owner, resource string) {
	key := cacheKey{subjectID: subjectID, owner: owner, resource: resource}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes every entry for the subject and returns the count
// removed.
func (c *Cache) InvalidateAll(subjectID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if key.subjectID == subjectID {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]*Entry)
	c.mu.Unlock()
}

// SweepExpired removes every stale entry and returns the count removed. Runs
// on a schedule, independent of the eviction-on-insert path.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if entry.Stale(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	capacity := c.capacity
	c.mu.Unlock()

	return Stats{
		Size:               size,
		Capacity:           capacity,
		UtilizationPercent: float64(size) / float64(capacity) * 100,
		Hits:               c.hits.Load(),
		Misses:             c.misses.Load(),
		Evictions:          c.evictions.Load(),
	}
}
