package localtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestToInstantDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		name    string
		day     string
		seconds float64
		want    string
	}{
		{
			name:    "winter CET is UTC+1",
			day:     "2026-01-10",
			seconds: 57600, // 16:00 local
			want:    "2026-01-10T15:00:00Z",
		},
		{
			name:    "summer CEST is UTC+2",
			day:     "2026-07-10",
			seconds: 57600,
			want:    "2026-07-10T14:00:00Z",
		},
		{
			name:    "fractional seconds truncated",
			day:     "2026-01-10",
			seconds: 57600.9,
			want:    "2026-01-10T15:00:00Z",
		},
		{
			name:    "midnight",
			day:     "2026-01-10",
			seconds: 0,
			want:    "2026-01-09T23:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToInstant(mustDate(t, tt.day), tt.seconds, berlin)
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatStrict(got))
		})
	}
}

func TestToInstantRejectsOutOfRange(t *testing.T) {
	day := mustDate(t, "2026-01-10")
	_, err := ToInstant(day, -1, time.UTC)
	assert.Error(t, err)
	_, err = ToInstant(day, 86400, time.UTC)
	assert.Error(t, err)
}

func TestToLocalSecondsRoundTrip(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	instant := time.Date(2026, 7, 10, 14, 0, 0, 0, time.UTC)
	day, secs := ToLocalSeconds(instant, berlin)
	assert.Equal(t, "2026-07-10", FormatDate(day))
	assert.Equal(t, 57600, secs) // 16:00 CEST

	back, err := ToInstant(day, float64(secs), berlin)
	require.NoError(t, err)
	assert.True(t, back.Equal(instant))
}

func TestParseStrict(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"2026-01-10T14:30:00Z", true},
		{"2026-01-10T14:30:00+00:00", false},
		{"2026-01-10T14:30:00", false},
		{"2026-01-10T14:30:00.000Z", false},
		{"2026-1-10T14:30:00Z", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStrict(tt.input)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.input, FormatStrict(got))
				return
			}
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.input, fe.Value)
		})
	}
}

func TestFormatStrictAlwaysUTC(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	local := time.Date(2026, 1, 10, 16, 0, 0, 0, berlin)
	assert.Equal(t, "2026-01-10T15:00:00Z", FormatStrict(local))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("2026-01-10T00:00:00Z")
	assert.Error(t, err)
	_, err = ParseDate("10.01.2026")
	assert.Error(t, err)
}
