// Package roc polls a ROC online checkpoint unit for punches and hands
// them to the timing pipeline.
//
// ROC exposes a getpunches endpoint keyed by unit id with an
// incrementing cursor: every response carries the punches recorded
// after the last id the client saw, one per line as
// id;control;chip;timestamp. The poller keeps the cursor, fetches on an
// interval, backs off on consecutive failures and publishes a status
// snapshot the race office surfaces can show.
package roc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eklind/gravitytiming/internal/race"
)

// Reading is one parsed punch row from a ROC unit.
type Reading struct {
	ID          int64
	ControlCode int
	ChipID      int64
	PunchTime   time.Time
}

// ParseReading parses one id;control;chip;timestamp row. Extra fields
// are ignored, the first four must parse.
func ParseReading(line string) (Reading, error) {
	parts := strings.Split(line, ";")
	if len(parts) < 4 {
		return Reading{}, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("punch id %q: %w", parts[0], err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Reading{}, fmt.Errorf("control code %q: %w", parts[1], err)
	}
	chip, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("chip id %q: %w", parts[2], err)
	}
	at, err := race.ParsePunchTime(strings.TrimSpace(parts[3]))
	if err != nil {
		return Reading{}, fmt.Errorf("punch time %q: %w", parts[3], err)
	}
	return Reading{ID: id, ControlCode: code, ChipID: chip, PunchTime: at}, nil
}

// ParseReadings parses a whole getpunches response body. Blank lines
// and # comments are skipped; malformed lines are returned as warnings
// rather than failing the batch.
func ParseReadings(body string) ([]Reading, []string) {
	var readings []Reading
	var warnings []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := ParseReading(line)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ogiltig rad %q: %v", line, err))
			continue
		}
		readings = append(readings, r)
	}
	return readings, warnings
}
