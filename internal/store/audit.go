package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry records one admin action. EventID nil means a system-wide
// action such as a backup or an ingest pause.
type AuditEntry struct {
	ID         int64
	EventID    *int64
	Action     string
	EntityType string
	EntityID   *int64
	Details    string
	BeforeVal  string
	AfterVal   string
	Source     string
	CreatedAt  time.Time
}

// AppendAudit records an admin action. Zero-valued optional fields are
// stored as empty text; Source defaults to "admin".
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.Source == "" {
		e.Source = "admin"
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, action, entity_type, entity_id,
			details, before_val, after_val, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EventID, e.Action, e.EntityType, e.EntityID, e.Details,
		e.BeforeVal, e.AfterVal, e.Source)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("append audit id: %w", err)
	}
	e.ID = id
	return nil
}

// ListAudit returns audit entries newest first, limited to limit rows.
// eventID zero returns entries across all events including system-wide
// actions.
func (s *Store) ListAudit(ctx context.Context, eventID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, event_id, action, entity_type, entity_id, details,
			before_val, after_val, source, created_at
		FROM audit_log
	`
	args := []any{}
	if eventID != 0 {
		query += ` WHERE event_id = ?`
		args = append(args, eventID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e          AuditEntry
			evID       sql.NullInt64
			entityType sql.NullString
			entityID   sql.NullInt64
			details    sql.NullString
			before     sql.NullString
			after      sql.NullString
			createdRaw string
		)
		err := rows.Scan(&e.ID, &evID, &e.Action, &entityType, &entityID,
			&details, &before, &after, &e.Source, &createdRaw)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EventID = int64Ptr(evID)
		e.EntityType = entityType.String
		e.EntityID = int64Ptr(entityID)
		e.Details = details.String
		e.BeforeVal = before.String
		e.AfterVal = after.String
		created, err := parseTimeColumn(createdRaw)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = created
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
