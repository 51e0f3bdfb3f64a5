package feed

import (
	"strconv"
	"sync"
	"time"
)

// Scope keys. Each names one unit of freshness.
const (
	scopeCategories = "categories"
	scopeVirtual    = "virtual"
	scopeCache      = "cache"
)

func feedsScope(categoryID int) string {
	return "feeds:" + strconv.Itoa(categoryID)
}

func articlesScope(id int, isCategory bool) string {
	if isCategory {
		return "articles:cat:" + strconv.Itoa(id)
	}
	return "articles:feed:" + strconv.Itoa(id)
}

// scopeClock remembers when each scope was last synced. It lives in memory
// only, so the first request after a restart always fetches.
type scopeClock struct {
	mu       sync.Mutex
	stamps   map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func newScopeClock(interval time.Duration, now func() time.Time) *scopeClock {
	return &scopeClock{stamps: make(map[string]time.Time), interval: interval, now: now}
}

func (c *scopeClock) stale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.stamps[key]
	return !ok || c.now().Sub(last) >= c.interval
}

func (c *scopeClock) touch(key string) {
	c.mu.Lock()
	c.stamps[key] = c.now()
	c.mu.Unlock()
}

// invalidate makes key stale, or every key when key is empty.
func (c *scopeClock) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		clear(c.stamps)
		return
	}
	delete(c.stamps, key)
}

func (c *scopeClock) lastSync(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.stamps[key]
	return t, ok
}
