// Package devicemeta caches the rarely changing display attributes of every
// device (label and series colours).
package devicemeta

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"meteo-dashboard/services/internal/metrics"
)

// DefaultTTL is how long a snapshot is served before the next bulk refresh.
const DefaultTTL = time.Minute

// Hash fields read for every device.
const (
	FieldLabel     = "label"
	FieldTempColor = "tempColor"
	FieldHumColor  = "humColor"
)

var fields = []string{FieldLabel, FieldTempColor, FieldHumColor}

// Metadata holds a device's display attributes. Empty strings mean "not set".
type Metadata struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	TempColor string `json:"tempColor,omitempty"`
	HumColor  string `json:"humColor,omitempty"`
}

// DisplayLabel returns the label, or the id when no label is set.
func (m Metadata) DisplayLabel() string {
	if m.Label != "" {
		return m.Label
	}
	return m.ID
}

// Source is the part of the store adapter the cache reads from.
type Source interface {
	ListDevices(ctx context.Context) ([]string, error)
	BatchGetFields(ctx context.Context, keys, fields []string) ([]map[string]string, error)
}

// Cache serves device metadata from an in-memory snapshot of all devices.
// The snapshot is rebuilt in bulk once it is older than the TTL; concurrent
// callers that find it stale share one refresh.
type Cache struct {
	src    Source
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	byID     map[string]Metadata
	loadedAt time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns an empty cache; the first Get or All triggers a refresh.
func New(src Source, opts ...Option) *Cache {
	c := &Cache{
		src:    src,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
		byID:   map[string]Metadata{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the metadata of one device. It never fails: an unknown device,
// or a store failure with nothing cached, yields Metadata{ID: id}.
func (c *Cache) Get(ctx context.Context, id string) Metadata {
	c.ensureFresh(ctx)

	c.mu.RLock()
	meta, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return Metadata{ID: id}
	}
	return meta
}

// All returns every cached device sorted by id.
func (c *Cache) All(ctx context.Context) []Metadata {
	c.ensureFresh(ctx)

	c.mu.RLock()
	out := make([]Metadata, 0, len(c.byID))
	for _, meta := range c.byID {
		out = append(out, meta)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invalidate marks the snapshot stale; the next read refreshes it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

// Refresh rebuilds the snapshot now. Concurrent calls collapse into one
// store round trip. On failure the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	// The shared refresh must not die with whichever caller started it.
	ctx = context.WithoutCancel(ctx)
	_, err, shared := c.group.Do("refresh", func() (any, error) {
		return nil, c.load(ctx)
	})
	if shared {
		c.logger.Debug("device metadata refresh shared")
	}
	return err
}

// StartAutoRefresh refreshes the snapshot every TTL until ctx is done, so
// request paths rarely pay for a refresh.
func (c *Cache) StartAutoRefresh(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("device metadata auto-refresh failed", "error", err)
			}
		}
	}
}

func (c *Cache) ensureFresh(ctx context.Context) {
	c.mu.RLock()
	stale := c.loadedAt.IsZero() || c.now().Sub(c.loadedAt) >= c.ttl
	c.mu.RUnlock()
	if !stale {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("device metadata refresh failed, serving previous snapshot", "error", err)
	}
}

func (c *Cache) load(ctx context.Context) error {
	next, err := c.fetch(ctx)
	metrics.DeviceCacheRefresh.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.byID = next
	c.loadedAt = c.now()
	c.mu.Unlock()

	c.logger.Debug("device metadata refreshed", "devices", len(next))
	return nil
}

func (c *Cache) fetch(ctx context.Context) (map[string]Metadata, error) {
	ids, err := c.src.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.src.BatchGetFields(ctx, ids, fields)
	if err != nil {
		return nil, err
	}

	next := make(map[string]Metadata, len(ids))
	for i, id := range ids {
		meta := Metadata{ID: id}
		if i < len(rows) {
			meta.Label = rows[i][FieldLabel]
			meta.TempColor = rows[i][FieldTempColor]
			meta.HumColor = rows[i][FieldHumColor]
		}
		next[id] = meta
	}
	return next, nil
}
