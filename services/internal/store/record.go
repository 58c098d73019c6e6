package store

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Number is a nullable measurement. Stored samples carry values written by
// several generations of ingestion scripts: JSON numbers, numeric strings
// ("21.5") or null. Anything that does not parse as a finite number is
// treated as absent.
type Number struct {
	Value float64
	Valid bool
}

// Some returns a present Number.
func Some(v float64) Number {
	return Number{Value: v, Valid: true}
}

// Ptr returns nil for an absent value, which encodes as JSON null.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		b = []byte(s)
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(b)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = Some(v)
	return nil
}

// MarshalJSON writes null for an absent value.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, n.Value, 'f', -1, 64), nil
}

// Record is one stored sample as found in a device's sorted set.
type Record struct {
	Temp     Number `json:"temp"`
	Hum      Number `json:"hum"`
	Batt     Number `json:"batt"`
	Rain     Number `json:"rain"`
	Datetime string `json:"datetime"`
}

// ParseRecord decodes a sorted-set member. The datetime field is returned
// verbatim; decoding it is the time key codec's job.
func ParseRecord(member string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(member), &rec); err != nil {
		return Record{}, errors.Wrap(err, "decode stored sample")
	}
	return rec, nil
}

// Encode renders the record as a sorted-set member.
func (r Record) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", errors.Wrap(err, "encode sample")
	}
	return string(b), nil
}
