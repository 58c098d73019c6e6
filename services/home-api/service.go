package main

import (
	"context"
	"log/slog"
	"strings"

	"meteo-dashboard/services/internal/devicemeta"
	"meteo-dashboard/services/internal/respcache"
	"meteo-dashboard/services/internal/series"
)

// Querier is what the service needs from the alignment engine.
type Querier interface {
	Query(ctx context.Context, w series.Window) (*series.Result, error)
	Yearly(ctx context.Context, device string) (*series.YearResult, error)
}

// DeviceLister lists the known devices with their display attributes.
type DeviceLister interface {
	All(ctx context.Context) []devicemeta.Metadata
}

// cached is one response cache entry; exactly one field is set.
type cached struct {
	window *series.Result
	yearly *series.YearResult
}

// Service puts the response cache in front of the engine.
type Service struct {
	engine  Querier
	devices DeviceLister
	cache   *respcache.Cache[cached]
	logger  *slog.Logger
}

// NewService puts cache in front of engine.
func NewService(engine Querier, devices DeviceLister, cache *respcache.Cache[cached], logger *slog.Logger) *Service {
	return &Service{engine: engine, devices: devices, cache: cache, logger: logger}
}

// Data answers /data: a window query, or the yearly view once the depth
// reaches a year.
func (s *Service) Data(ctx context.Context, w series.Window) (any, error) {
	if w.Depth >= series.YearlyDepth {
		return s.Yearly(ctx, w.Device)
	}
	return s.Window(ctx, w)
}

// Window returns the chart for w, from cache when an identical query was
// answered within the TTL. Failures are never cached.
func (s *Service) Window(ctx context.Context, w series.Window) (*series.Result, error) {
	w.Device = normalizeDevice(w.Device)
	key := respcache.Key{Depth: w.Depth, Forecast: w.Forecast, Device: w.Device}
	if hit, ok := s.cache.Get(key); ok && hit.window != nil {
		s.logger.Debug("response cache hit", "key", key.String())
		return hit.window, nil
	}

	res, err := s.engine.Query(ctx, w)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, cached{window: res})
	return res, nil
}

// Yearly returns the weekly candles of one device, cached like Window.
func (s *Service) Yearly(ctx context.Context, device string) (*series.YearResult, error) {
	device = normalizeDevice(device)
	key := respcache.Key{Depth: series.YearlyDepth, Device: device}
	if hit, ok := s.cache.Get(key); ok && hit.yearly != nil {
		s.logger.Debug("response cache hit", "key", key.String())
		return hit.yearly, nil
	}

	res, err := s.engine.Yearly(ctx, device)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, cached{yearly: res})
	return res, nil
}

// Summary returns only the summary rows of a window query.
func (s *Service) Summary(ctx context.Context, w series.Window) ([]series.SummaryRow, error) {
	res, err := s.Window(ctx, w)
	if err != nil {
		return nil, err
	}
	return res.Summary, nil
}

// Devices lists every known device sorted by id. The label falls back to
// the id.
func (s *Service) Devices(ctx context.Context) []DeviceDTO {
	all := s.devices.All(ctx)
	out := make([]DeviceDTO, 0, len(all))
	for _, meta := range all {
		out = append(out, DeviceDTO{ID: meta.ID, Label: meta.DisplayLabel()})
	}
	return out
}

// normalizeDevice folds every spelling of "all" so they share cache entries.
func normalizeDevice(device string) string {
	device = strings.TrimSpace(device)
	if series.IsAll(device) {
		return series.AllDevices
	}
	return device
}
