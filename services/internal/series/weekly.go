package series

import (
	"fmt"
	"math"
	"sort"
	"time"
)

var frenchMonths = [12]string{"Jan", "Fév", "Mar", "Avr", "Mai", "Juin", "Juil", "Aoû", "Sep", "Oct", "Nov", "Déc"}

type weekKey struct {
	year, week int
}

type weekBucket struct {
	key    weekKey
	monday time.Time
	temps  []float64
	hums   []float64
}

// weekStart returns midnight of the Monday of t's week, in t's location.
func weekStart(t time.Time) time.Time {
	back := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-back, 0, 0, 0, 0, t.Location())
}

// weekLabel renders a week's Monday as "DD-Mon".
func weekLabel(monday time.Time) string {
	return fmt.Sprintf("%02d-%s", monday.Day(), frenchMonths[monday.Month()-1])
}

// bucketWeeks groups samples by ISO week, sorted by (year, week). Samples
// with neither a temperature nor a humidity are ignored.
func bucketWeeks(samples []sample) []*weekBucket {
	byKey := make(map[weekKey]*weekBucket)
	for _, s := range samples {
		if !s.rec.Temp.Valid && !s.rec.Hum.Valid {
			continue
		}
		year, week := s.at.ISOWeek()
		key := weekKey{year, week}
		b, ok := byKey[key]
		if !ok {
			b = &weekBucket{key: key, monday: weekStart(s.at)}
			byKey[key] = b
		}
		if s.rec.Temp.Valid {
			b.temps = append(b.temps, s.rec.Temp.Value)
		}
		if s.rec.Hum.Valid {
			b.hums = append(b.hums, s.rec.Hum.Value)
		}
	}

	out := make([]*weekBucket, 0, len(byKey))
	for _, b := range byKey {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.year != out[j].key.year {
			return out[i].key.year < out[j].key.year
		}
		return out[i].key.week < out[j].key.week
	})
	return out
}

// candle returns nil for an empty bucket.
func candle(values []float64) *Candle {
	if len(values) == 0 {
		return nil
	}
	c := &Candle{Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		c.Min = math.Min(c.Min, v)
		c.Max = math.Max(c.Max, v)
		sum += v
	}
	c.Avg = math.Round(sum/float64(len(values))*10) / 10
	return c
}
