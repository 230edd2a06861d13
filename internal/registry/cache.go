package registry

import (
	"sync"
	"time"
)

// DefaultTagCacheTTL bounds how long a repository's tag list is reused.
const DefaultTagCacheTTL = 6 * time.Hour

type cachedTags struct {
	tags      []string
	fetchedAt time.Time
}

// TagCache keeps successful tag listings per repository.
type TagCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]cachedTags
}

// NewTagCache creates a cache. A non-positive ttl uses DefaultTagCacheTTL.
func NewTagCache(ttl time.Duration) *TagCache {
	if ttl <= 0 {
		ttl = DefaultTagCacheTTL
	}
	return &TagCache{
		ttl:     ttl,
		entries: make(map[string]cachedTags),
	}
}

// Get returns a copy of the cached tags for repo while they are younger than the ttl.
func (c *TagCache) Get(repo string, now time.Time) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[repo]
	if !ok || now.Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return append([]string(nil), e.tags...), true
}

// Put stores tags for repo.
func (c *TagCache) Put(repo string, tags []string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[repo] = cachedTags{
		tags:      append([]string(nil), tags...),
		fetchedAt: now,
	}
}

// Purge drops expired entries and returns how many were removed.
func (c *TagCache) Purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for repo, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, repo)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached repositories.
func (c *TagCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
