package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
)

// UpsertOverall writes an entry's overall result, replacing any previous
// row for the same entry. Ranking columns are cleared; the ranking pass
// rewrites them afterwards.
func (s *Store) UpsertOverall(ctx context.Context, o *race.OverallResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overall_results (event_id, entry_id, total_seconds, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id, entry_id) DO UPDATE SET
			total_seconds = excluded.total_seconds,
			status = excluded.status,
			position = NULL,
			time_behind = NULL,
			updated_at = datetime('now')
	`, o.EventID, o.EntryID, o.TotalSeconds, string(o.Status))
	if err != nil {
		return fmt.Errorf("upsert overall: %w", err)
	}
	return nil
}

// SetRanking writes the position and time behind for one overall row.
// Entries without a finished total get NULL for both.
func (s *Store) SetRanking(ctx context.Context, overallID int64, position *int, behind *float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE overall_results SET position = ?, time_behind = ? WHERE id = ?
	`, position, behind, overallID)
	if err != nil {
		return fmt.Errorf("set ranking: %w", err)
	}
	return nil
}

// StandingRow is an overall result joined with rider identity, the shape
// standings output works with.
type StandingRow struct {
	race.OverallResult
	Bib       int
	FirstName string
	LastName  string
	Club      string
	ClassID   int64
	ClassName string
}

// Standings returns overall rows for an event in ranking order: finished
// first, then pending, then terminal statuses, by total time within each
// group. Bib breaks remaining ties so the order is deterministic.
// classID zero means all classes.
func (s *Store) Standings(ctx context.Context, eventID int64, classID int64) ([]StandingRow, error) {
	query := `
		SELECT o.id, o.event_id, o.entry_id, o.total_seconds, o.position,
			o.time_behind, o.status,
			e.bib, e.first_name, e.last_name, e.club, e.class_id, c.name
		FROM overall_results o
		JOIN entries e ON o.entry_id = e.id
		JOIN classes c ON e.class_id = c.id
		WHERE o.event_id = ?
	`
	args := []any{eventID}
	if classID != 0 {
		query += ` AND e.class_id = ?`
		args = append(args, classID)
	}
	query += `
		ORDER BY e.class_id ASC,
			CASE WHEN o.status = 'ok' THEN 0
				WHEN o.status = 'pending' THEN 1
				ELSE 2 END,
			o.total_seconds ASC,
			e.bib ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer rows.Close()

	var standings []StandingRow
	for rows.Next() {
		var (
			row    StandingRow
			total  sql.NullFloat64
			pos    sql.NullInt64
			behind sql.NullFloat64
			club   sql.NullString
		)
		err := rows.Scan(&row.OverallResult.ID, &row.EventID, &row.EntryID,
			&total, &pos, &behind, &row.Status,
			&row.Bib, &row.FirstName, &row.LastName, &club, &row.ClassID, &row.ClassName)
		if err != nil {
			return nil, fmt.Errorf("scan standing: %w", err)
		}
		row.TotalSeconds = float64Ptr(total)
		row.Position = intPtr(pos)
		row.TimeBehind = float64Ptr(behind)
		row.Club = club.String
		standings = append(standings, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate standings: %w", err)
	}
	if standings == nil {
		standings = []StandingRow{}
	}
	return standings, nil
}

// OverallForEntry retrieves one entry's overall row.
// Returns sql.ErrNoRows if the entry has no result yet.
func (s *Store) OverallForEntry(ctx context.Context, eventID, entryID int64) (*race.OverallResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, entry_id, total_seconds, position, time_behind, status
		FROM overall_results
		WHERE event_id = ? AND entry_id = ?
	`, eventID, entryID)
	return scanOverall(row)
}

// OverallSnapshot returns every overall row keyed by entry id. Recompute
// captures one before replay and diffs it against the rebuilt state.
func (s *Store) OverallSnapshot(ctx context.Context, eventID int64) (map[int64]race.OverallResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, entry_id, total_seconds, position, time_behind, status
		FROM overall_results
		WHERE event_id = ?
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query overall snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[int64]race.OverallResult)
	for rows.Next() {
		o, err := scanOverall(rows)
		if err != nil {
			return nil, err
		}
		snapshot[o.EntryID] = *o
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overall snapshot: %w", err)
	}
	return snapshot, nil
}

// scanOverall scans one overall result row.
func scanOverall(row rowScanner) (*race.OverallResult, error) {
	var (
		o      race.OverallResult
		total  sql.NullFloat64
		pos    sql.NullInt64
		behind sql.NullFloat64
	)
	err := row.Scan(&o.ID, &o.EventID, &o.EntryID, &total, &pos, &behind, &o.Status)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan overall: %w", err)
	}
	o.TotalSeconds = float64Ptr(total)
	o.Position = intPtr(pos)
	o.TimeBehind = float64Ptr(behind)
	return &o, nil
}
