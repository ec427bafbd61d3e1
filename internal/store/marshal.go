package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eklind/gravitytiming/internal/race"
)

// Column codecs between race types and SQLite storage. Timestamps are TEXT
// in race.PunchTimeLayout, nullable columns map to pointer fields, and
// journal/audit payloads are JSON TEXT.

// timeText formats a timestamp for storage.
func timeText(t time.Time) string {
	return race.FormatPunchTime(t)
}

// timeTextPtr converts an optional timestamp to a nullable column value.
func timeTextPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return race.FormatPunchTime(*t)
}

// parseTimeColumn parses a required timestamp column.
func parseTimeColumn(text string) (time.Time, error) {
	t, err := race.ParsePunchTime(text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time column: %w", err)
	}
	return t, nil
}

// parseTimePtr parses a nullable timestamp column.
func parseTimePtr(text sql.NullString) (*time.Time, error) {
	if !text.Valid || text.String == "" {
		return nil, nil
	}
	t, err := race.ParsePunchTime(text.String)
	if err != nil {
		return nil, fmt.Errorf("parse time column: %w", err)
	}
	return &t, nil
}

// stringPtr converts a nullable TEXT column to an optional string.
func stringPtr(text sql.NullString) *string {
	if !text.Valid {
		return nil
	}
	s := text.String
	return &s
}

// int64Ptr converts a nullable INTEGER column to an optional int64.
func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// intPtr converts a nullable INTEGER column to an optional int.
func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// float64Ptr converts a nullable REAL column to an optional float64.
func float64Ptr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// marshalPayload converts a journal or audit payload to JSON TEXT.
func marshalPayload(payload any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}
