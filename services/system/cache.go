package system

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "system_access_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "system_access_cache_miss_total"})
)

type access struct {
	lastSuccess time.Time
	lastAttempt time.Time
}

// AccessCache remembers the last successful and last attempted contact per
// system id. It only exists to stop every worker from re-probing a system
// already known to be failing; it is never authoritative and a stale entry
// is discarded on read.
type AccessCache struct {
	mu     sync.RWMutex
	items  map[string]*access
	window time.Duration
	group  singleflight.Group
}

func NewAccessCache(window time.Duration) *AccessCache {
	return &AccessCache{
		items:  make(map[string]*access),
		window: window,
	}
}

// LastSuccess returns the most recent successful contact, dropping entries
// older than the cache window.
func (c *AccessCache) LastSuccess(systemID string) (time.Time, bool) {
	c.mu.RLock()
	v, ok := c.items[systemID]
	c.mu.RUnlock()

	if !ok || v.lastSuccess.IsZero() {
		cacheMiss.Inc()
		return time.Time{}, false
	}
	if c.window > 0 && time.Since(v.lastSuccess) > c.window {
		c.mu.Lock()
		if cur, still := c.items[systemID]; still && cur.lastSuccess.Equal(v.lastSuccess) {
			cur.lastSuccess = time.Time{}
		}
		c.mu.Unlock()
		cacheMiss.Inc()
		return time.Time{}, false
	}

	cacheHits.Inc()
	return v.lastSuccess, true
}

// LastAttempt returns the most recent contact attempt, successful or not.
func (c *AccessCache) LastAttempt(systemID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[systemID]
	if !ok || v.lastAttempt.IsZero() {
		return time.Time{}, false
	}
	return v.lastAttempt, true
}

func (c *AccessCache) RecordAttempt(systemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[systemID]
	if !ok {
		v = &access{}
		c.items[systemID] = v
	}
	v.lastAttempt = time.Now()
}

func (c *AccessCache) RecordSuccess(systemID string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[systemID]
	if !ok {
		v = &access{}
		c.items[systemID] = v
	}
	v.lastAttempt = now
	v.lastSuccess = now
}

// Probe runs fn at most once concurrently per system id, recording the
// attempt and, on success, the contact time.
func (c *AccessCache) Probe(ctx context.Context, systemID string, fn func(context.Context) error) error {
	_, err, _ := c.group.Do(systemID, func() (any, error) {
		c.RecordAttempt(systemID)
		if err := fn(ctx); err != nil {
			return nil, err
		}
		c.RecordSuccess(systemID)
		return nil, nil
	})
	return err
}
