// Package series assembles the chart responses: it fetches raw samples for a
// window, merges every device onto one sorted time axis, computes the summary
// statistics and, for the yearly view, regroups a device's year into weekly
// candles.
package series

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"meteo-dashboard/services/internal/devicemeta"
	"meteo-dashboard/services/internal/metrics"
	"meteo-dashboard/services/internal/timekey"
)

// DefaultRainDevice is the forecast source whose rain series is charted.
const DefaultRainDevice = "infoclimat1"

// Store is the part of the store adapter the engine reads samples from.
type Store interface {
	ListDevices(ctx context.Context) ([]string, error)
	BatchRangeQuery(ctx context.Context, deviceIDs []string, start, end time.Time) (map[string][]string, error)
}

// MetaSource resolves device display attributes. It must not fail.
type MetaSource interface {
	Get(ctx context.Context, deviceID string) devicemeta.Metadata
}

// Engine answers window and yearly queries. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	store      Store
	meta       MetaSource
	loc        *time.Location
	now        func() time.Time
	rainDevice string
	logger     *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithLocation sets the zone stored datetimes are read in. Defaults to Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRainDevice sets which device gets a rain dataset.
func WithRainDevice(id string) Option {
	return func(e *Engine) {
		e.rainDevice = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an engine reading samples from st and display attributes
// from meta.
func New(st Store, meta MetaSource, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		meta:       meta,
		loc:        time.Local,
		now:        time.Now,
		rainDevice: DefaultRainDevice,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// bounds returns the current hour and [now-depth, now+forecast].
func (e *Engine) bounds(depth, forecast int) (now, start, end time.Time) {
	now = timekey.Hour(e.now().In(e.loc))
	start = now.Add(-time.Duration(depth) * time.Hour)
	end = now.Add(time.Duration(forecast) * time.Hour)
	return now, start, end
}

// Query builds the chart for a window. An unknown device yields an empty
// result. A store failure fails the whole query with the store's error.
func (e *Engine) Query(ctx context.Context, w Window) (*Result, error) {
	if w.Depth < 0 || w.Forecast < 0 {
		return nil, invalidWindow("depth and forecast must not be negative")
	}
	if w.Depth > MaxHours || w.Forecast > MaxHours {
		return nil, invalidWindow(fmt.Sprintf("depth and forecast must not exceed %d hours", MaxHours))
	}
	began := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("window").Observe(time.Since(began).Seconds())
	}()

	known, err := e.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	devices := selectDevices(known, w)

	now, start, end := e.bounds(w.Depth, w.Forecast)
	raw, err := e.store.BatchRangeQuery(ctx, devices, start, end)
	if err != nil {
		return nil, err
	}

	step := time.Duration(StepHours(w.TotalHours())) * time.Hour
	grids := make(map[string]gridded, len(devices))
	for _, id := range devices {
		grids[id] = toGrid(e.decode(id, raw[id], start, end), now, start, step)
	}

	res := EmptyResult()
	res.Axis = buildAxis(grids, e.loc)
	res.CurrentIndex = currentIndex(res.Axis, now)
	res.ChartData.Labels = make([]string, len(res.Axis))
	for i, at := range res.Axis {
		res.ChartData.Labels[i] = timekey.Label(at)
	}

	for _, id := range devices {
		res.ChartData.Datasets = append(res.ChartData.Datasets, e.datasets(ctx, id, res.Axis, grids[id])...)
	}
	for _, ds := range res.ChartData.Datasets {
		res.Summary = append(res.Summary, summarize(ds, res.CurrentIndex))
	}
	if res.CurrentIndex >= 0 {
		res.Timestamp = res.ChartData.Labels[res.CurrentIndex]
	}

	e.logger.Info("window query completed",
		"depth", w.Depth,
		"forecast", w.Forecast,
		"device", w.Device,
		"step_hours", int(step/time.Hour),
		"labels", len(res.ChartData.Labels),
		"datasets", len(res.ChartData.Datasets),
		"duration", time.Since(began),
	)
	return res, nil
}

// selectDevices resolves the filter against the known ids, sorted.
func selectDevices(known []string, w Window) []string {
	var out []string
	for _, id := range known {
		if w.AllDevices() || id == w.Device {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) datasets(ctx context.Context, id string, axis []time.Time, g gridded) []Dataset {
	meta := e.meta.Get(ctx, id)
	label := meta.DisplayLabel()

	out := []Dataset{
		{
			Label:       "Temp: " + label,
			BorderColor: orDefault(meta.TempColor, DefaultTempColor),
			Data:        align(axis, g, temp),
			YAxisID:     rightAxis,
		},
		{
			Label:       "Hum: " + label,
			BorderColor: orDefault(meta.HumColor, DefaultHumColor),
			Data:        align(axis, g, hum),
			YAxisID:     leftAxis,
		},
	}
	if id == e.rainDevice {
		out = append(out, Dataset{
			Label:       "Pluie: " + label,
			BorderColor: RainColor,
			Data:        align(axis, g, rain),
			YAxisID:     rightAxis,
			Type:        "bar",
		})
	}
	return out
}

// Yearly regroups the last year of one device into weekly candles.
// "all" is rejected with ErrInvalidWindow; an unknown device yields an
// empty result.
func (e *Engine) Yearly(ctx context.Context, device string) (*YearResult, error) {
	if IsAll(device) {
		return nil, invalidWindow("yearly view needs a single device")
	}
	began := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("yearly").Observe(time.Since(began).Seconds())
	}()

	_, start, end := e.bounds(YearlyDepth, 0)
	raw, err := e.store.BatchRangeQuery(ctx, []string{device}, start, end)
	if err != nil {
		return nil, err
	}
	weeks := bucketWeeks(e.decode(device, raw[device], start, end))

	meta := e.meta.Get(ctx, device)
	res := &YearResult{
		ChartType:   "candlestick",
		Labels:      make([]string, 0, len(weeks)),
		DeviceLabel: meta.DisplayLabel(),
		TempColor:   orDefault(meta.TempColor, DefaultTempColor),
		HumColor:    orDefault(meta.HumColor, DefaultHumColor),
		TempData:    make([]*Candle, 0, len(weeks)),
		HumData:     make([]*Candle, 0, len(weeks)),
		WeekStarts:  make([]time.Time, 0, len(weeks)),
	}
	for _, b := range weeks {
		res.Labels = append(res.Labels, weekLabel(b.monday))
		res.WeekStarts = append(res.WeekStarts, b.monday)
		res.TempData = append(res.TempData, candle(b.temps))
		res.HumData = append(res.HumData, candle(b.hums))
	}

	e.logger.Info("yearly query completed",
		"device", device,
		"weeks", len(weeks),
		"duration", time.Since(began),
	)
	return res, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
