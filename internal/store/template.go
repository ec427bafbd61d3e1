package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SavedTemplate is a user-saved event structure stored as raw JSON.
// Built-in templates live in the template package and are never persisted.
type SavedTemplate struct {
	ID        int64
	Name      string
	Data      json.RawMessage
	CreatedAt time.Time
}

// SaveTemplate stores or replaces a named template.
func (s *Store) SaveTemplate(ctx context.Context, name string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_templates (name, data_json) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data_json = excluded.data_json,
			created_at = datetime('now')
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a saved template by name.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetTemplate(ctx context.Context, name string) (*SavedTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, data_json, created_at FROM event_templates WHERE name = ?
	`, name)
	return scanTemplate(row)
}

// ListTemplates returns all saved templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]SavedTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, data_json, created_at FROM event_templates ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []SavedTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	if templates == nil {
		templates = []SavedTemplate{}
	}
	return templates, nil
}

// DeleteTemplate removes a saved template by name.
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM event_templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// scanTemplate scans one template row.
func scanTemplate(row rowScanner) (*SavedTemplate, error) {
	var (
		t          SavedTemplate
		data       string
		createdRaw string
	)
	err := row.Scan(&t.ID, &t.Name, &data, &createdRaw)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	t.Data = json.RawMessage(data)
	created, err := parseTimeColumn(createdRaw)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = created
	return &t, nil
}
