package series

import (
	"sort"
	"time"

	"meteo-dashboard/services/internal/metrics"
	"meteo-dashboard/services/internal/store"
	"meteo-dashboard/services/internal/timekey"
)

// Reasons a stored member is left out of a response.
const (
	skipMalformed   = "malformed"
	skipBadTime     = "bad_time"
	skipOutOfWindow = "out_of_window"
)

// sample is one decoded stored record.
type sample struct {
	at  time.Time
	rec store.Record
}

// decode parses a device's raw members and keeps those whose own datetime
// lies in [start, end]. Undecodable members are logged and skipped.
func (e *Engine) decode(deviceID string, members []string, start, end time.Time) []sample {
	out := make([]sample, 0, len(members))
	for _, member := range members {
		rec, err := store.ParseRecord(member)
		if err != nil {
			e.skip(deviceID, skipMalformed, err)
			continue
		}
		at, err := timekey.Decode(rec.Datetime, e.loc)
		if err != nil {
			e.skip(deviceID, skipBadTime, err)
			continue
		}
		if at.Before(start) || at.After(end) {
			metrics.RecordsSkipped.WithLabelValues(skipOutOfWindow).Inc()
			continue
		}
		out = append(out, sample{at: at, rec: rec})
	}
	return out
}

func (e *Engine) skip(deviceID, reason string, err error) {
	metrics.RecordsSkipped.WithLabelValues(reason).Inc()
	e.logger.Warn("skipping stored sample", "device", deviceID, "reason", reason, "error", err)
}

// gridded maps grid point (Unix seconds) to the earliest sample in
// [point, point+step).
type gridded map[int64]sample

func toGrid(samples []sample, now, start time.Time, step time.Duration) gridded {
	g := make(gridded, len(samples))
	for _, s := range samples {
		key := gridPoint(s.at, now, start, step).Unix()
		if prev, ok := g[key]; ok && !s.at.Before(prev.at) {
			continue
		}
		g[key] = s
	}
	return g
}

// buildAxis returns the sorted union of the grid points of every device.
func buildAxis(byDevice map[string]gridded, loc *time.Location) []time.Time {
	seen := make(map[int64]struct{})
	for _, g := range byDevice {
		for key := range g {
			seen[key] = struct{}{}
		}
	}

	keys := make([]int64, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	axis := make([]time.Time, len(keys))
	for i, key := range keys {
		axis[i] = time.Unix(key, 0).In(loc)
	}
	return axis
}

// currentIndex is the first axis position at or after now, else the last
// position; -1 when the axis is empty.
func currentIndex(axis []time.Time, now time.Time) int {
	i := sort.Search(len(axis), func(i int) bool { return !axis[i].Before(now) })
	if i == len(axis) {
		return len(axis) - 1
	}
	return i
}

// align projects one measurement of a device onto the axis. Missing points
// are nil so every series keeps the axis length.
func align(axis []time.Time, g gridded, value func(store.Record) store.Number) []*float64 {
	out := make([]*float64, len(axis))
	for i, at := range axis {
		if s, ok := g[at.Unix()]; ok {
			out[i] = value(s.rec).Ptr()
		}
	}
	return out
}

func temp(r store.Record) store.Number { return r.Temp }
func hum(r store.Record) store.Number  { return r.Hum }
func rain(r store.Record) store.Number { return r.Rain }
