package race

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePunchTime(t *testing.T) {
	ts, err := ParsePunchTime("2026-02-20 10:30:00")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, time.February, ts.Month())
	assert.Equal(t, 10, ts.Hour())
	assert.Equal(t, time.UTC, ts.Location())

	// leading/trailing whitespace tolerated (ragged CSV rows)
	ts2, err := ParsePunchTime("  2026-02-20 10:30:00 ")
	require.NoError(t, err)
	assert.True(t, ts.Equal(ts2))
}

func TestParsePunchTimeRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "yesterday", "2026-02-20", "20:30", "2026-02-20T10:30:00Z"} {
		_, err := ParsePunchTime(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestPunchTimeRoundTrip(t *testing.T) {
	ts, err := ParsePunchTime("2026-06-15 12:00:03")
	require.NoError(t, err)
	assert.Equal(t, "2026-06-15 12:00:03", FormatPunchTime(ts))
}

func TestElapsed(t *testing.T) {
	start, _ := ParsePunchTime("2026-06-15 10:00:00")
	finish, _ := ParsePunchTime("2026-06-15 10:00:45")
	assert.InDelta(t, 45.0, Elapsed(start, finish), 0.001)
	assert.InDelta(t, -45.0, Elapsed(finish, start), 0.001)
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds   float64
		precision Precision
		want      string
	}{
		{20, PrecisionSeconds, "0:20"},
		{336, PrecisionSeconds, "5:36"},
		{59.9, PrecisionSeconds, "0:59"}, // truncates, never rounds up
		{95, PrecisionSeconds, "1:35"},
		{45.5, PrecisionTenths, "0:45.5"},
		{42.0, PrecisionHundredths, "0:42.00"},
		{65.25, PrecisionHundredths, "1:05.25"},
		{3661, PrecisionSeconds, "61:01"}, // minutes grow, no hours field
		{0, PrecisionSeconds, "0:00"},
		{-12, PrecisionSeconds, "-0:12"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatElapsed(tt.seconds, tt.precision),
			"FormatElapsed(%v, %s)", tt.seconds, tt.precision)
	}
}

func TestFormatBehind(t *testing.T) {
	assert.Equal(t, "", FormatBehind(0, PrecisionSeconds))
	assert.Equal(t, "+0:04", FormatBehind(4, PrecisionSeconds))
	assert.Equal(t, "+1:02.5", FormatBehind(62.5, PrecisionTenths))
}
