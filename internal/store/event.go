package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
)

// CreateEvent inserts a new event and sets ev.ID.
// Defaults are applied for zero-valued format, stage order, precision,
// tiebreak and status so callers can construct events sparsely.
func (s *Store) CreateEvent(ctx context.Context, ev *race.Event) error {
	if ev.Format == "" {
		ev.Format = race.FormatEnduro
	}
	if ev.StageOrder == "" {
		ev.StageOrder = race.StageOrderFixed
	}
	if ev.TimePrecision == "" {
		ev.TimePrecision = race.PrecisionSeconds
	}
	if ev.Tiebreak == "" {
		ev.Tiebreak = race.TiebreakSequential
	}
	if ev.Status == "" {
		ev.Status = race.EventSetup
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (name, date, location, format, stage_order,
			time_precision, tiebreak, status, upstream_comp_id, dual_slalom_window)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Name, ev.Date, ev.Location, string(ev.Format), string(ev.StageOrder),
		string(ev.TimePrecision), string(ev.Tiebreak), string(ev.Status),
		ev.UpstreamCompID, ev.DualSlalomWindow)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create event id: %w", err)
	}
	ev.ID = id
	return nil
}

// GetEvent retrieves a single event by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetEvent(ctx context.Context, id int64) (*race.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, date, location, format, stage_order, time_precision,
			tiebreak, status, upstream_comp_id, dual_slalom_window, created_at
		FROM events
		WHERE id = ?
	`, id)
	return scanEvent(row)
}

// ListEvents returns all events ordered by date descending, newest first.
// Finished events are excluded when includeFinished is false.
//
// Returns an empty slice (not nil) if no events exist.
func (s *Store) ListEvents(ctx context.Context, includeFinished bool) ([]race.Event, error) {
	query := `
		SELECT id, name, date, location, format, stage_order, time_precision,
			tiebreak, status, upstream_comp_id, dual_slalom_window, created_at
		FROM events
	`
	if !includeFinished {
		query += ` WHERE status != 'finished'`
	}
	query += ` ORDER BY date DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []race.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []race.Event{}
	}
	return events, nil
}

// ActiveEvent returns the most recent non-finished event, the one race-day
// commands default to when no event id is given.
// Returns sql.ErrNoRows if every event is finished or none exist.
func (s *Store) ActiveEvent(ctx context.Context) (*race.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, date, location, format, stage_order, time_precision,
			tiebreak, status, upstream_comp_id, dual_slalom_window, created_at
		FROM events
		WHERE status != 'finished'
		ORDER BY id DESC
		LIMIT 1
	`)
	return scanEvent(row)
}

// UpdateEvent rewrites the mutable fields of an event and bumps updated_at.
// Status is not touched here; use UpdateEventStatus for lifecycle changes.
func (s *Store) UpdateEvent(ctx context.Context, ev *race.Event) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET name = ?, date = ?, location = ?, format = ?, stage_order = ?,
			time_precision = ?, tiebreak = ?, upstream_comp_id = ?,
			dual_slalom_window = ?, updated_at = datetime('now')
		WHERE id = ?
	`, ev.Name, ev.Date, ev.Location, string(ev.Format), string(ev.StageOrder),
		string(ev.TimePrecision), string(ev.Tiebreak), ev.UpstreamCompID,
		ev.DualSlalomWindow, ev.ID)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// UpdateEventStatus moves an event through its lifecycle.
func (s *Store) UpdateEventStatus(ctx context.Context, id int64, status race.EventStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, updated_at = datetime('now') WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	return nil
}

// StructureCounts reports how many controls, stages and classes an event has.
// Activation requires at least one of each.
func (s *Store) StructureCounts(ctx context.Context, eventID int64) (controls, stages, classes int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM controls WHERE event_id = ?),
			(SELECT COUNT(*) FROM stages WHERE event_id = ?),
			(SELECT COUNT(*) FROM classes WHERE event_id = ?)
	`, eventID, eventID, eventID)
	if err := row.Scan(&controls, &stages, &classes); err != nil {
		return 0, 0, 0, fmt.Errorf("count structure: %w", err)
	}
	return controls, stages, classes, nil
}

// DataCounts reports how many entries, punches and live runs an event
// has accumulated. Superseded runs are not counted.
func (s *Store) DataCounts(ctx context.Context, eventID int64) (entries, punches, runs int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entries WHERE event_id = ?),
			(SELECT COUNT(*) FROM punches WHERE event_id = ?),
			(SELECT COUNT(*) FROM stage_runs WHERE event_id = ? AND run_state != 'superseded')
	`, eventID, eventID, eventID)
	if err := row.Scan(&entries, &punches, &runs); err != nil {
		return 0, 0, 0, fmt.Errorf("count event data: %w", err)
	}
	return entries, punches, runs, nil
}

// DeleteEvent removes an event and all related data in one transaction.
// Deletion order respects foreign-key constraints (children first):
// results and runs, journal and audit, punches, chips, entries, classes,
// course links, stages, courses, controls, then the event row.
func (s *Store) DeleteEvent(ctx context.Context, eventID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete event: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM overall_results WHERE event_id = ?`,
		`DELETE FROM stage_runs WHERE event_id = ?`,
		`DELETE FROM journal WHERE event_id = ?`,
		`DELETE FROM audit_log WHERE event_id = ?`,
		`DELETE FROM punches WHERE event_id = ?`,
		`DELETE FROM chip_mappings WHERE event_id = ?`,
		`DELETE FROM entries WHERE event_id = ?`,
		`DELETE FROM classes WHERE event_id = ?`,
		`DELETE FROM course_stages WHERE course_id IN (SELECT id FROM courses WHERE event_id = ?)`,
		`DELETE FROM stages WHERE event_id = ?`,
		`DELETE FROM courses WHERE event_id = ?`,
		`DELETE FROM controls WHERE event_id = ?`,
		`DELETE FROM events WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, eventID); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete event: %w", err)
	}
	return nil
}

// scanEvent scans one event row from either a Row or Rows.
func scanEvent(row rowScanner) (*race.Event, error) {
	var (
		ev         race.Event
		location   sql.NullString
		upstream   sql.NullString
		window     sql.NullFloat64
		createdRaw string
	)
	err := row.Scan(&ev.ID, &ev.Name, &ev.Date, &location, &ev.Format,
		&ev.StageOrder, &ev.TimePrecision, &ev.Tiebreak, &ev.Status,
		&upstream, &window, &createdRaw)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	ev.Location = location.String
	ev.UpstreamCompID = upstream.String
	ev.DualSlalomWindow = float64Ptr(window)
	created, err := parseTimeColumn(createdRaw)
	if err != nil {
		return nil, err
	}
	ev.CreatedAt = created
	return &ev, nil
}

// rowScanner abstracts sql.Row and sql.Rows so scan helpers serve both
// single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...any) error
}
