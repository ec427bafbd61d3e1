package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
)

// CreateRun inserts a new attempt row and sets r.ID. No journal entry is
// written; pending runs only become journal-visible when they complete.
func (s *Store) CreateRun(ctx context.Context, r *race.StageRun) error {
	if r.Attempt == 0 {
		r.Attempt = 1
	}
	if r.Status == "" {
		r.Status = race.StatusPending
	}
	if r.RunState == "" {
		r.RunState = race.RunPending
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_runs (event_id, entry_id, stage_id, start_punch_id,
			finish_punch_id, start_time, finish_time, elapsed_seconds,
			penalty_seconds, attempt, status, run_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.EventID, r.EntryID, r.StageID, r.StartPunchID, r.FinishPunchID,
		timeTextPtr(r.StartTime), timeTextPtr(r.FinishTime), r.ElapsedSeconds,
		r.PenaltySeconds, r.Attempt, string(r.Status), string(r.RunState))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create run id: %w", err)
	}
	r.ID = id
	return nil
}

// UpdateRun rewrites the timing columns of a run. Used while an attempt is
// still pending (start corrections, finish-before-start holding). Completed
// state transitions go through CompleteRun so the journal stays coupled.
func (s *Store) UpdateRun(ctx context.Context, r *race.StageRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stage_runs
		SET start_punch_id = ?, finish_punch_id = ?, start_time = ?,
			finish_time = ?, elapsed_seconds = ?, status = ?, run_state = ?
		WHERE id = ?
	`, r.StartPunchID, r.FinishPunchID, timeTextPtr(r.StartTime),
		timeTextPtr(r.FinishTime), r.ElapsedSeconds, string(r.Status),
		string(r.RunState), r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// CompleteRun writes a finished attempt and appends its run_created journal
// entry in one transaction. The caller has already set elapsed, status ok
// and run_state valid on r.
func (s *Store) CompleteRun(ctx context.Context, r *race.StageRun, payload race.RunCreatedPayload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE stage_runs
		SET start_punch_id = ?, finish_punch_id = ?, start_time = ?,
			finish_time = ?, elapsed_seconds = ?, status = ?, run_state = ?
		WHERE id = ?
	`, r.StartPunchID, r.FinishPunchID, timeTextPtr(r.StartTime),
		timeTextPtr(r.FinishTime), r.ElapsedSeconds, string(r.Status),
		string(r.RunState), r.ID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}

	if err := appendJournalTx(ctx, tx, r.EventID, race.JournalRunCreated, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete run: %w", err)
	}
	return nil
}

// SupersedeRun retires a run in favor of a higher-priority source and
// appends the run_superseded journal entry in the same transaction. The
// superseded row is never mutated again.
func (s *Store) SupersedeRun(ctx context.Context, eventID, runID int64, payload race.RunSupersededPayload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin supersede run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE stage_runs SET run_state = ? WHERE id = ?
	`, string(race.RunSuperseded), runID); err != nil {
		return fmt.Errorf("supersede run: %w", err)
	}

	if err := appendJournalTx(ctx, tx, eventID, race.JournalRunSuperseded, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit supersede run: %w", err)
	}
	return nil
}

// SetRunStatus marks an attempt dns, dnf, dsq or back to ok, appending the
// status_changed journal entry in the same transaction.
func (s *Store) SetRunStatus(ctx context.Context, runID int64, status race.RunStatus) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	if run.Status == status {
		return nil
	}
	entry, err := s.GetEntry(ctx, run.EntryID)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set run status: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE stage_runs SET status = ? WHERE id = ?
	`, string(status), runID); err != nil {
		return fmt.Errorf("set run status: %w", err)
	}

	payload := race.StatusChangedPayload{
		EntryID:   run.EntryID,
		Bib:       entry.Bib,
		RunID:     runID,
		OldStatus: string(run.Status),
		NewStatus: string(status),
	}
	if err := appendJournalTx(ctx, tx, run.EventID, race.JournalStatusChanged, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set run status: %w", err)
	}
	return nil
}

// AddPenalty adds seconds to an attempt's penalty and appends the
// penalty_added journal entry in the same transaction. Negative seconds
// revoke earlier penalties.
func (s *Store) AddPenalty(ctx context.Context, runID int64, seconds float64, reason string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("add penalty: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add penalty: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE stage_runs SET penalty_seconds = penalty_seconds + ? WHERE id = ?
	`, seconds, runID); err != nil {
		return fmt.Errorf("add penalty: %w", err)
	}

	payload := race.PenaltyAddedPayload{
		RunID:   runID,
		EntryID: run.EntryID,
		StageID: run.StageID,
		Seconds: seconds,
		Reason:  reason,
	}
	if err := appendJournalTx(ctx, tx, run.EventID, race.JournalPenaltyAdded, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add penalty: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetRun(ctx context.Context, id int64) (*race.StageRun, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun returns the newest non-superseded attempt for an entry on a
// stage, the row the assembler state machine operates on.
// Returns sql.ErrNoRows if the entry has no attempts yet.
func (s *Store) LatestRun(ctx context.Context, eventID, entryID, stageID int64) (*race.StageRun, error) {
	row := s.db.QueryRowContext(ctx, runSelect+`
		WHERE event_id = ? AND entry_id = ? AND stage_id = ? AND run_state != 'superseded'
		ORDER BY attempt DESC
		LIMIT 1
	`, eventID, entryID, stageID)
	return scanRun(row)
}

// ValidCompletedRun returns the newest completed, still-valid attempt for
// an entry on a stage. Source override targets this row.
// Returns sql.ErrNoRows if none exists.
func (s *Store) ValidCompletedRun(ctx context.Context, eventID, entryID, stageID int64) (*race.StageRun, error) {
	row := s.db.QueryRowContext(ctx, runSelect+`
		WHERE event_id = ? AND entry_id = ? AND stage_id = ?
			AND status = 'ok' AND run_state = 'valid'
		ORDER BY attempt DESC
		LIMIT 1
	`, eventID, entryID, stageID)
	return scanRun(row)
}

// NextAttempt returns the next free attempt number for an entry on a
// stage. Superseded runs keep their numbers, so the sequence never reuses
// one.
func (s *Store) NextAttempt(ctx context.Context, eventID, entryID, stageID int64) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(attempt) FROM stage_runs
		WHERE event_id = ? AND entry_id = ? AND stage_id = ?
	`, eventID, entryID, stageID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query next attempt: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// CountingRuns returns the completed valid attempts for an entry on a
// stage sorted by raw elapsed time. Aggregation re-sorts on elapsed plus
// penalty before picking the best N.
func (s *Store) CountingRuns(ctx context.Context, eventID, entryID, stageID int64) ([]race.StageRun, error) {
	rows, err := s.db.QueryContext(ctx, runSelect+`
		WHERE event_id = ? AND entry_id = ? AND stage_id = ?
			AND status = 'ok' AND run_state = 'valid'
		ORDER BY elapsed_seconds ASC, attempt ASC
	`, eventID, entryID, stageID)
	if err != nil {
		return nil, fmt.Errorf("query counting runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// FirstAttemptStatus returns the status of the earliest non-superseded
// attempt for an entry on a stage. Terminal statuses on attempt one
// propagate to the overall result.
// Returns sql.ErrNoRows if the entry has no attempts.
func (s *Store) FirstAttemptStatus(ctx context.Context, eventID, entryID, stageID int64) (race.RunStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM stage_runs
		WHERE event_id = ? AND entry_id = ? AND stage_id = ? AND run_state != 'superseded'
		ORDER BY attempt ASC
		LIMIT 1
	`, eventID, entryID, stageID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("query first attempt: %w", err)
	}
	return race.RunStatus(status), nil
}

// RunsForEntryStage returns every attempt for an entry on a stage in
// attempt order, superseded rows included when asked for.
func (s *Store) RunsForEntryStage(ctx context.Context, eventID, entryID, stageID int64, includeSuperseded bool) ([]race.StageRun, error) {
	query := runSelect + `
		WHERE event_id = ? AND entry_id = ? AND stage_id = ?
	`
	if !includeSuperseded {
		query += ` AND run_state != 'superseded'`
	}
	query += ` ORDER BY attempt ASC`

	rows, err := s.db.QueryContext(ctx, query, eventID, entryID, stageID)
	if err != nil {
		return nil, fmt.Errorf("query entry runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListRunsForStage returns every attempt on a stage, ordered by entry and
// attempt, for stage result listings.
func (s *Store) ListRunsForStage(ctx context.Context, eventID, stageID int64, includeSuperseded bool) ([]race.StageRun, error) {
	query := runSelect + `
		WHERE event_id = ? AND stage_id = ?
	`
	if !includeSuperseded {
		query += ` AND run_state != 'superseded'`
	}
	query += ` ORDER BY entry_id ASC, attempt ASC`

	rows, err := s.db.QueryContext(ctx, query, eventID, stageID)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RunsByStartPunch returns the runs anchored on a given start punch.
// Dual slalom grouping rewrites their start times.
func (s *Store) RunsByStartPunch(ctx context.Context, punchID int64) ([]race.StageRun, error) {
	rows, err := s.db.QueryContext(ctx, runSelect+`
		WHERE start_punch_id = ?
		ORDER BY id ASC
	`, punchID)
	if err != nil {
		return nil, fmt.Errorf("query runs by start punch: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ResetDerivedState deletes every run and overall result for an event in
// one transaction. Recompute calls this before replaying the punch log;
// the punch log and journal are untouched.
func (s *Store) ResetDerivedState(ctx context.Context, eventID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset derived state: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM overall_results WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("reset overall results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_runs WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("reset stage runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset derived state: %w", err)
	}
	return nil
}

const runSelect = `
	SELECT id, event_id, entry_id, stage_id, start_punch_id, finish_punch_id,
		start_time, finish_time, elapsed_seconds, penalty_seconds, attempt,
		status, run_state
	FROM stage_runs
`

// collectRuns drains a run query into a slice.
func collectRuns(rows *sql.Rows) ([]race.StageRun, error) {
	var runs []race.StageRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	if runs == nil {
		runs = []race.StageRun{}
	}
	return runs, nil
}

// scanRun scans one run row.
func scanRun(row rowScanner) (*race.StageRun, error) {
	var (
		r          race.StageRun
		startPunch sql.NullInt64
		finish     sql.NullInt64
		startRaw   sql.NullString
		finishRaw  sql.NullString
		elapsed    sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.EventID, &r.EntryID, &r.StageID, &startPunch,
		&finish, &startRaw, &finishRaw, &elapsed, &r.PenaltySeconds,
		&r.Attempt, &r.Status, &r.RunState)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.StartPunchID = int64Ptr(startPunch)
	r.FinishPunchID = int64Ptr(finish)
	startTime, err := parseTimePtr(startRaw)
	if err != nil {
		return nil, err
	}
	r.StartTime = startTime
	finishTime, err := parseTimePtr(finishRaw)
	if err != nil {
		return nil, err
	}
	r.FinishTime = finishTime
	r.ElapsedSeconds = float64Ptr(elapsed)
	return &r, nil
}
