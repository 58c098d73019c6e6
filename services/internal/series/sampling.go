package series

import "time"

// StepHours is the axis step for a window spanning totalHours:
// up to a week hourly, up to a month every 2 hours, beyond that every 4 hours.
func StepHours(totalHours int) int {
	switch {
	case totalHours <= 7*24:
		return 1
	case totalHours <= 31*24:
		return 2
	default:
		return 4
	}
}

// gridPoint floors t onto the grid now + k*step (k may be negative), so the
// current hour is always a grid point. Points before start map to start.
func gridPoint(t, now, start time.Time, step time.Duration) time.Time {
	rem := t.Sub(now) % step
	if rem < 0 {
		rem += step
	}
	g := t.Add(-rem)
	if g.Before(start) {
		return start
	}
	return g
}
