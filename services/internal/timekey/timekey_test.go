package timekey

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	ts := time.Date(2026, time.January, 3, 7, 42, 10, 0, time.UTC)
	assert.Equal(t, "01/03/2026-07", Encode(ts))
}

func TestDecode(t *testing.T) {
	got, err := Decode("01/23/2026-18", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.January, 23, 18, 0, 0, 0, time.UTC), got)
}

func TestDecodeUsesLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	got, err := Decode("07/14/2025-12", paris)
	require.NoError(t, err)
	assert.Equal(t, paris, got.Location())
	assert.Equal(t, 10, got.UTC().Hour())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"1/23/2026-18",
		"01/23/2026 18",
		"13/01/2026-10",
		"01/32/2026-10",
		"01/23/2026-24",
		"aa/bb/cccc-dd",
		"2026-01-23T18",
	}
	for _, key := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := Decode(key, time.UTC)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))

			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, key, fe.Key)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	start := time.Date(1999, time.December, 31, 0, 0, 0, 0, time.UTC)
	end := time.Date(2031, time.March, 1, 0, 0, 0, 0, time.UTC)
	for ts := start; ts.Before(end); ts = ts.Add(97 * time.Hour) {
		got, err := Decode(Encode(ts), time.UTC)
		require.NoError(t, err)
		require.True(t, got.Equal(ts), "round trip of %s gave %s", ts, got)
	}
}

func TestHourKeepsZone(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2026, time.May, 5, 10, 47, 0, 0, kolkata)
	assert.Equal(t, time.Date(2026, time.May, 5, 10, 0, 0, 0, kolkata), Hour(ts))
}

func TestLabel(t *testing.T) {
	ts := time.Date(2026, time.February, 9, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, "09/02/2026 05h", Label(ts))
}
