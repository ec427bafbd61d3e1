package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSetting reads a setting, returning def when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM settings WHERE key = ?
	`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("query setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a setting, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// BoolSetting reads a boolean setting stored as "true"/"false".
func (s *Store) BoolSetting(ctx context.Context, key string) (bool, error) {
	value, err := s.GetSetting(ctx, key, "false")
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

// SetBoolSetting writes a boolean setting as "true"/"false".
func (s *Store) SetBoolSetting(ctx context.Context, key string, value bool) error {
	text := "false"
	if value {
		text = "true"
	}
	return s.SetSetting(ctx, key, text)
}

// AllSettings returns every setting keyed by name.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}
