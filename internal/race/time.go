package race

import (
	"fmt"
	"strings"
	"time"
)

// PunchTimeLayout is the wire format for punch timestamps (UTC).
const PunchTimeLayout = "2006-01-02 15:04:05"

// ParsePunchTime parses "YYYY-MM-DD HH:MM:SS" as UTC.
func ParsePunchTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(PunchTimeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse punch time %q: %w", s, err)
	}
	return t, nil
}

// FormatPunchTime renders t in the wire format, UTC.
func FormatPunchTime(t time.Time) string {
	return t.UTC().Format(PunchTimeLayout)
}

// Elapsed returns finish minus start in seconds.
func Elapsed(start, finish time.Time) float64 {
	return finish.Sub(start).Seconds()
}

// FormatElapsed renders seconds as M:SS, M:SS.t or M:SS.cc depending on
// precision. Minutes are unpadded and grow without an hours field; whole
// seconds truncate rather than round at precision "seconds".
func FormatElapsed(seconds float64, p Precision) string {
	neg := seconds < 0
	s := seconds
	if neg {
		s = -s
	}
	minutes := int(s / 60)
	remainder := s - float64(minutes)*60

	var text string
	switch p {
	case PrecisionHundredths:
		text = fmt.Sprintf("%d:%05.2f", minutes, remainder)
	case PrecisionTenths:
		text = fmt.Sprintf("%d:%04.1f", minutes, remainder)
	default:
		text = fmt.Sprintf("%d:%02d", minutes, int(remainder))
	}

	if neg {
		return "-" + text
	}
	return text
}

// FormatBehind renders a gap to the leader with a leading +.
// Zero gap renders empty (the leader row shows no gap).
func FormatBehind(seconds float64, p Precision) string {
	if seconds == 0 {
		return ""
	}
	return "+" + FormatElapsed(seconds, p)
}
