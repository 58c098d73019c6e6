// Package timekey converts between points in time and the textual forms used
// by the sample store ("MM/DD/YYYY-HH") and by chart axis labels.
//
// The key fragment keeps the legacy field order (month, day, year, hour). It is
// not chronologically sortable as a string; callers sort on decoded values.
package timekey

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	// keyLayout is the store's fragment format, e.g. "01/23/2026-18".
	keyLayout = "01/02/2006-15"
	keyLen    = len(keyLayout)

	// labelLayout is the axis label format, e.g. "23/01/2026 18h".
	labelLayout = "02/01/2006 15h"
)

// ErrFormat is matched (errors.Is) by every decode failure.
var ErrFormat = errors.New("malformed time key")

// FormatError reports a key fragment that could not be decoded.
type FormatError struct {
	Key    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("timekey: cannot decode %q: %s", e.Key, e.Reason)
}

// Is lets errors.Is(err, ErrFormat) match any FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Hour truncates t to the start of its hour in t's own location.
// time.Truncate works on absolute time and would be off by the zone offset
// for zones that are not whole hours away from UTC.
func Hour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Encode renders t (truncated to the hour) as a store key fragment.
func Encode(t time.Time) string {
	return Hour(t).Format(keyLayout)
}

// Decode parses a key fragment as wall-clock time in loc.
// A nil loc means time.Local.
func Decode(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(key) != keyLen {
		return time.Time{}, &FormatError{Key: key, Reason: fmt.Sprintf("want %d characters, got %d", keyLen, len(key))}
	}
	t, err := time.ParseInLocation(keyLayout, key, loc)
	if err != nil {
		return time.Time{}, &FormatError{Key: key, Reason: err.Error()}
	}
	return t, nil
}

// Label renders t as an axis label.
func Label(t time.Time) string {
	return t.Format(labelLayout)
}
