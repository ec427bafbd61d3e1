package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
)

// execer is satisfied by both *sql.DB and *sql.Tx so journal appends can
// join the transaction of the state change they describe.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// appendJournalTx appends one journal entry using the given executor.
// Run mutations pass their open transaction; standalone appends pass the DB.
func appendJournalTx(ctx context.Context, ex execer, eventID int64, kind race.JournalKind, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO journal (event_id, kind, payload) VALUES (?, ?, ?)
	`, eventID, string(kind), data); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// AppendJournal records a semantic event outside any run mutation, such as
// a manual punch note.
func (s *Store) AppendJournal(ctx context.Context, eventID int64, kind race.JournalKind, payload any) error {
	return appendJournalTx(ctx, s.db, eventID, kind, payload)
}

// ListJournal returns journal entries for an event in append order.
// With unsyncedOnly set, only entries not yet delivered upstream are
// returned, which is the sync reader's query.
func (s *Store) ListJournal(ctx context.Context, eventID int64, unsyncedOnly bool) ([]race.JournalEntry, error) {
	query := `
		SELECT id, event_id, kind, payload, synced, created_at
		FROM journal
		WHERE event_id = ?
	`
	if unsyncedOnly {
		query += ` AND synced = 0`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []race.JournalEntry
	for rows.Next() {
		var (
			e          race.JournalEntry
			payload    string
			createdRaw string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Kind, &payload, &e.Synced, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		created, err := parseTimeColumn(createdRaw)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = created
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	if entries == nil {
		entries = []race.JournalEntry{}
	}
	return entries, nil
}

// MarkJournalSynced flags entries up to and including maxID as delivered.
// Sync readers call this after a successful upstream push so re-delivery
// stops at the watermark.
func (s *Store) MarkJournalSynced(ctx context.Context, eventID, maxID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE journal
		SET synced = 1, synced_at = datetime('now')
		WHERE event_id = ? AND synced = 0 AND id <= ?
	`, eventID, maxID)
	if err != nil {
		return 0, fmt.Errorf("mark journal synced: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark journal synced rows: %w", err)
	}
	return n, nil
}
