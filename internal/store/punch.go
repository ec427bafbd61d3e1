package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eklind/gravitytiming/internal/race"
)

// InsertPunch appends a punch to the log and sets p.ID.
//
// Returns false without error when the punch is a re-delivered upstream
// reading: the partial unique index on (event_id, source, upstream_id)
// makes the insert a no-op, so pollers can safely replay their backlog.
func (s *Store) InsertPunch(ctx context.Context, p *race.Punch) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO punches (event_id, chip_id, control_code, punch_time, source, upstream_id, is_duplicate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, p.EventID, p.ChipID, p.ControlCode, timeText(p.PunchTime),
		string(p.Source), p.UpstreamID, p.IsDuplicate)
	if err != nil {
		return false, fmt.Errorf("insert punch: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert punch rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert punch id: %w", err)
	}
	p.ID = id
	return true, nil
}

// GetPunch retrieves a single punch by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetPunch(ctx context.Context, id int64) (*race.Punch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, chip_id, control_code, punch_time, source,
			upstream_id, is_duplicate, received_at
		FROM punches
		WHERE id = ?
	`, id)
	return scanPunch(row)
}

// PunchSource returns the source of a punch without loading the full row.
// Returns sql.ErrNoRows if not found.
func (s *Store) PunchSource(ctx context.Context, punchID int64) (race.Source, error) {
	var source string
	err := s.db.QueryRowContext(ctx, `
		SELECT source FROM punches WHERE id = ?
	`, punchID).Scan(&source)
	if err == sql.ErrNoRows {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("query punch source: %w", err)
	}
	return race.Source(source), nil
}

// DuplicateCandidates returns the non-duplicate punches on a control for
// any of the given chips inside [from, to]. The dedup check compares the
// new punch's source priority against every candidate.
func (s *Store) DuplicateCandidates(ctx context.Context, eventID int64, chipIDs []int64, controlCode int, from, to time.Time) ([]race.Punch, error) {
	if len(chipIDs) == 0 {
		return []race.Punch{}, nil
	}

	query := fmt.Sprintf(`
		SELECT id, event_id, chip_id, control_code, punch_time, source,
			upstream_id, is_duplicate, received_at
		FROM punches
		WHERE event_id = ? AND control_code = ? AND is_duplicate = 0
			AND chip_id IN (%s)
			AND punch_time BETWEEN ? AND ?
		ORDER BY punch_time ASC, id ASC
	`, inPlaceholders(len(chipIDs)))

	args := []any{eventID, controlCode}
	for _, chip := range chipIDs {
		args = append(args, chip)
	}
	args = append(args, timeText(from), timeText(to))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query duplicate candidates: %w", err)
	}
	defer rows.Close()
	return collectPunches(rows)
}

// FirstPunchAfter returns the earliest non-duplicate punch on a control for
// any of the given chips strictly after the cutoff. Cross-chip fill uses it
// to locate a finish for a known start.
// Returns sql.ErrNoRows if none exists.
func (s *Store) FirstPunchAfter(ctx context.Context, eventID int64, chipIDs []int64, controlCode int, after time.Time) (*race.Punch, error) {
	return s.sidePunch(ctx, eventID, chipIDs, controlCode, `AND punch_time > ? ORDER BY punch_time ASC, id ASC`, after)
}

// LastPunchBefore returns the latest non-duplicate punch on a control for
// any of the given chips strictly before the cutoff. Cross-chip fill uses
// it to locate a start for a known finish.
// Returns sql.ErrNoRows if none exists.
func (s *Store) LastPunchBefore(ctx context.Context, eventID int64, chipIDs []int64, controlCode int, before time.Time) (*race.Punch, error) {
	return s.sidePunch(ctx, eventID, chipIDs, controlCode, `AND punch_time < ? ORDER BY punch_time DESC, id DESC`, before)
}

func (s *Store) sidePunch(ctx context.Context, eventID int64, chipIDs []int64, controlCode int, clause string, cutoff time.Time) (*race.Punch, error) {
	if len(chipIDs) == 0 {
		return nil, sql.ErrNoRows
	}

	query := fmt.Sprintf(`
		SELECT id, event_id, chip_id, control_code, punch_time, source,
			upstream_id, is_duplicate, received_at
		FROM punches
		WHERE event_id = ? AND control_code = ? AND is_duplicate = 0
			AND chip_id IN (%s)
		%s
		LIMIT 1
	`, inPlaceholders(len(chipIDs)), clause)

	args := []any{eventID, controlCode}
	for _, chip := range chipIDs {
		args = append(args, chip)
	}
	args = append(args, timeText(cutoff))

	return scanPunch(s.db.QueryRowContext(ctx, query, args...))
}

// PunchFilter narrows ListPunches. Zero values mean no filtering.
type PunchFilter struct {
	ControlCode int
	ChipID      int64
	Source      race.Source
	Limit       int
}

// ListPunches returns punches for an event in chronological order.
func (s *Store) ListPunches(ctx context.Context, eventID int64, filter PunchFilter) ([]race.Punch, error) {
	query := `
		SELECT id, event_id, chip_id, control_code, punch_time, source,
			upstream_id, is_duplicate, received_at
		FROM punches
		WHERE event_id = ?
	`
	args := []any{eventID}
	if filter.ControlCode != 0 {
		query += ` AND control_code = ?`
		args = append(args, filter.ControlCode)
	}
	if filter.ChipID != 0 {
		query += ` AND chip_id = ?`
		args = append(args, filter.ChipID)
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	query += ` ORDER BY punch_time ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query punches: %w", err)
	}
	defer rows.Close()
	return collectPunches(rows)
}

// PunchesForReplay returns every non-duplicate punch for an event in
// deterministic replay order: punch_time ascending, then insertion id.
func (s *Store) PunchesForReplay(ctx context.Context, eventID int64) ([]race.Punch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, chip_id, control_code, punch_time, source,
			upstream_id, is_duplicate, received_at
		FROM punches
		WHERE event_id = ? AND is_duplicate = 0
		ORDER BY punch_time ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query replay punches: %w", err)
	}
	defer rows.Close()
	return collectPunches(rows)
}

// LastUpstreamID returns the highest upstream id stored for a source,
// zero when the source has delivered nothing yet. The poller resumes
// its cursor from here after a restart.
func (s *Store) LastUpstreamID(ctx context.Context, eventID int64, source race.Source) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(upstream_id), 0)
		FROM punches
		WHERE event_id = ? AND source = ?
	`, eventID, string(source)).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("query last upstream id: %w", err)
	}
	return last, nil
}

// collectPunches drains a punch query into a slice.
func collectPunches(rows *sql.Rows) ([]race.Punch, error) {
	var punches []race.Punch
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, err
		}
		punches = append(punches, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate punches: %w", err)
	}
	if punches == nil {
		punches = []race.Punch{}
	}
	return punches, nil
}

// scanPunch scans one punch row.
func scanPunch(row rowScanner) (*race.Punch, error) {
	var (
		p           race.Punch
		punchRaw    string
		upstream    sql.NullInt64
		receivedRaw string
	)
	err := row.Scan(&p.ID, &p.EventID, &p.ChipID, &p.ControlCode, &punchRaw,
		&p.Source, &upstream, &p.IsDuplicate, &receivedRaw)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan punch: %w", err)
	}

	punchTime, err := parseTimeColumn(punchRaw)
	if err != nil {
		return nil, err
	}
	p.PunchTime = punchTime
	p.UpstreamID = int64Ptr(upstream)
	received, err := parseTimeColumn(receivedRaw)
	if err != nil {
		return nil, err
	}
	p.ReceivedAt = received
	return &p, nil
}

// inPlaceholders builds "?, ?, ?" for IN clauses.
func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
