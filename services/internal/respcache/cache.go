// Package respcache memoizes query responses for a short time.
package respcache

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"meteo-dashboard/services/internal/metrics"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultSize = 20
)

// Key identifies a query. Device filters should be normalized by the caller.
type Key struct {
	Depth    int
	Forecast int
	Device   string
}

func (k Key) String() string {
	return fmt.Sprintf("depth=%d forecast=%d device=%s", k.Depth, k.Forecast, k.Device)
}

// Cache holds at most size entries for ttl each. Once full, the oldest
// inserted entry is evicted first: reads never refresh an entry's position.
// Safe for concurrent use.
type Cache[V any] struct {
	lru *expirable.LRU[Key, V]
}

// New returns an empty cache. Non-positive arguments select the defaults.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{lru: expirable.NewLRU[Key, V](size, nil, ttl)}
}

// Get returns the live entry for k.
func (c *Cache[V]) Get(k Key) (V, bool) {
	// Peek keeps insertion order; Get would turn eviction into LRU.
	v, ok := c.lru.Peek(k)
	if ok {
		metrics.ResponseCache.WithLabelValues("hit").Inc()
	} else {
		metrics.ResponseCache.WithLabelValues("miss").Inc()
	}
	return v, ok
}

// Set stores v under k, replacing any previous entry and restarting its TTL.
func (c *Cache[V]) Set(k Key, v V) {
	c.lru.Add(k, v)
}

// Invalidate drops one entry.
func (c *Cache[V]) Invalidate(k Key) {
	c.lru.Remove(k)
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Len counts entries, expired ones not yet collected included.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
