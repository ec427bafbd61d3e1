package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
)

// CreateEntry inserts a competitor and sets e.ID.
// Fails if the (event, bib) pair already exists; use UpsertEntry for
// startlist imports that may rewrite rider details.
func (s *Store) CreateEntry(ctx context.Context, e *race.Entry) error {
	if e.Status == "" {
		e.Status = race.EntryRegistered
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (event_id, bib, first_name, last_name, club, class_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.EventID, e.Bib, e.FirstName, e.LastName, e.Club, e.ClassID, string(e.Status))
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create entry id: %w", err)
	}
	e.ID = id
	return nil
}

// UpsertEntry inserts a competitor or, when the bib is already registered,
// rewrites name, club and class. The existing row keeps its id so runs
// referencing the entry survive re-imports. Sets e.ID either way.
func (s *Store) UpsertEntry(ctx context.Context, e *race.Entry) error {
	if e.Status == "" {
		e.Status = race.EntryRegistered
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (event_id, bib, first_name, last_name, club, class_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, bib) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			club = excluded.club,
			class_id = excluded.class_id
	`, e.EventID, e.Bib, e.FirstName, e.LastName, e.Club, e.ClassID, string(e.Status))
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM entries WHERE event_id = ? AND bib = ?
	`, e.EventID, e.Bib)
	if err := row.Scan(&e.ID); err != nil {
		return fmt.Errorf("upsert entry id: %w", err)
	}
	return nil
}

// GetEntry retrieves a single entry by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetEntry(ctx context.Context, id int64) (*race.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, bib, first_name, last_name, club, class_id, status
		FROM entries
		WHERE id = ?
	`, id)
	return scanEntry(row)
}

// GetEntryByBib retrieves an entry by its bib number within an event.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetEntryByBib(ctx context.Context, eventID int64, bib int) (*race.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, bib, first_name, last_name, club, class_id, status
		FROM entries
		WHERE event_id = ? AND bib = ?
	`, eventID, bib)
	return scanEntry(row)
}

// EntryWithClass is an entry joined with its class name for listings.
type EntryWithClass struct {
	race.Entry
	ClassName string
}

// ListEntries returns all entries for an event ordered by bib, each with
// its class name resolved. classID zero means all classes.
func (s *Store) ListEntries(ctx context.Context, eventID int64, classID int64) ([]EntryWithClass, error) {
	query := `
		SELECT e.id, e.event_id, e.bib, e.first_name, e.last_name, e.club,
			e.class_id, e.status, c.name
		FROM entries e
		JOIN classes c ON e.class_id = c.id
		WHERE e.event_id = ?
	`
	args := []any{eventID}
	if classID != 0 {
		query += ` AND e.class_id = ?`
		args = append(args, classID)
	}
	query += ` ORDER BY e.bib ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []EntryWithClass
	for rows.Next() {
		var (
			e    EntryWithClass
			club sql.NullString
		)
		err := rows.Scan(&e.ID, &e.EventID, &e.Bib, &e.FirstName, &e.LastName,
			&club, &e.ClassID, &e.Status, &e.ClassName)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Club = club.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if entries == nil {
		entries = []EntryWithClass{}
	}
	return entries, nil
}

// SetEntryStatus changes a competitor's registration status and appends the
// status_changed journal entry in the same transaction.
func (s *Store) SetEntryStatus(ctx context.Context, entryID int64, status race.EntryStatus) error {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("set entry status: %w", err)
	}
	if entry.Status == status {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set entry status: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE entries SET status = ? WHERE id = ?
	`, string(status), entryID); err != nil {
		return fmt.Errorf("set entry status: %w", err)
	}

	payload := race.StatusChangedPayload{
		EntryID:   entryID,
		Bib:       entry.Bib,
		OldStatus: string(entry.Status),
		NewStatus: string(status),
	}
	if err := appendJournalTx(ctx, tx, entry.EventID, race.JournalStatusChanged, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set entry status: %w", err)
	}
	return nil
}

// DeleteEntry removes a competitor. Refuses with ErrInUse once runs have
// been recorded for the entry.
func (s *Store) DeleteEntry(ctx context.Context, entryID int64) error {
	var runID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM stage_runs WHERE entry_id = ? LIMIT 1
	`, entryID).Scan(&runID)
	if err == nil {
		return fmt.Errorf("entry has recorded runs: %w", ErrInUse)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check entry references: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete entry: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chip_mappings WHERE event_id = (SELECT event_id FROM entries WHERE id = ?)
			AND bib = (SELECT bib FROM entries WHERE id = ?)
	`, entryID, entryID); err != nil {
		return fmt.Errorf("delete entry chips: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM overall_results WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("delete entry results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, entryID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete entry: %w", err)
	}
	return nil
}

// AssignChip binds a chip to a bib, superseding any previous chip in the
// same slot (primary or secondary). The chip_changed journal entry is
// appended in the same transaction.
//
// Fails if the chip is already assigned to a different bib.
func (s *Store) AssignChip(ctx context.Context, m *race.ChipMapping) error {
	var (
		otherBib int
		oldChip  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT bib FROM chip_mappings WHERE event_id = ? AND chip_id = ?
	`, m.EventID, m.ChipID).Scan(&otherBib)
	if err == nil && otherBib != m.Bib {
		return fmt.Errorf("chip %d already assigned to bib %d: %w", m.ChipID, otherBib, ErrInUse)
	}
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check chip assignment: %w", err)
	}
	if err == nil {
		// Same bib, same chip: nothing to change.
		return nil
	}

	// An existing chip in the same slot is being replaced.
	err = s.db.QueryRowContext(ctx, `
		SELECT chip_id FROM chip_mappings WHERE event_id = ? AND bib = ? AND is_primary = ?
	`, m.EventID, m.Bib, m.IsPrimary).Scan(&oldChip)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check chip slot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign chip: %w", err)
	}
	defer tx.Rollback()

	if oldChip.Valid {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chip_mappings SET chip_id = ? WHERE event_id = ? AND bib = ? AND is_primary = ?
		`, m.ChipID, m.EventID, m.Bib, m.IsPrimary); err != nil {
			return fmt.Errorf("assign chip: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO chip_mappings (event_id, bib, chip_id, is_primary) VALUES (?, ?, ?, ?)
		`, m.EventID, m.Bib, m.ChipID, m.IsPrimary)
		if err != nil {
			return fmt.Errorf("assign chip: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("assign chip id: %w", err)
		}
		m.ID = id
	}

	payload := race.ChipChangedPayload{
		Bib:     m.Bib,
		OldChip: int64Ptr(oldChip),
		NewChip: m.ChipID,
	}
	if err := appendJournalTx(ctx, tx, m.EventID, race.JournalChipChanged, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assign chip: %w", err)
	}
	return nil
}

// BibForChip resolves a chip to its bib.
// Returns sql.ErrNoRows if the chip is unmapped.
func (s *Store) BibForChip(ctx context.Context, eventID, chipID int64) (int, error) {
	var bib int
	err := s.db.QueryRowContext(ctx, `
		SELECT bib FROM chip_mappings WHERE event_id = ? AND chip_id = ?
	`, eventID, chipID).Scan(&bib)
	if err == sql.ErrNoRows {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("resolve chip: %w", err)
	}
	return bib, nil
}

// ChipsForBib returns a bib's chips, primary first.
func (s *Store) ChipsForBib(ctx context.Context, eventID int64, bib int) ([]race.ChipMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, bib, chip_id, is_primary
		FROM chip_mappings
		WHERE event_id = ? AND bib = ?
		ORDER BY is_primary DESC, chip_id ASC
	`, eventID, bib)
	if err != nil {
		return nil, fmt.Errorf("query chips: %w", err)
	}
	defer rows.Close()
	return collectChips(rows)
}

// ListChipMappings returns all chip mappings for an event ordered by bib.
func (s *Store) ListChipMappings(ctx context.Context, eventID int64) ([]race.ChipMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, bib, chip_id, is_primary
		FROM chip_mappings
		WHERE event_id = ?
		ORDER BY bib ASC, is_primary DESC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query chip mappings: %w", err)
	}
	defer rows.Close()
	return collectChips(rows)
}

// DeleteChipMapping removes one chip binding.
func (s *Store) DeleteChipMapping(ctx context.Context, eventID, chipID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chip_mappings WHERE event_id = ? AND chip_id = ?
	`, eventID, chipID)
	if err != nil {
		return fmt.Errorf("delete chip mapping: %w", err)
	}
	return nil
}

// collectChips drains a chip mapping query into a slice.
func collectChips(rows *sql.Rows) ([]race.ChipMapping, error) {
	var chips []race.ChipMapping
	for rows.Next() {
		var m race.ChipMapping
		if err := rows.Scan(&m.ID, &m.EventID, &m.Bib, &m.ChipID, &m.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan chip mapping: %w", err)
		}
		chips = append(chips, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chip mappings: %w", err)
	}
	if chips == nil {
		chips = []race.ChipMapping{}
	}
	return chips, nil
}

// scanEntry scans one entry row.
func scanEntry(row rowScanner) (*race.Entry, error) {
	var (
		e    race.Entry
		club sql.NullString
	)
	err := row.Scan(&e.ID, &e.EventID, &e.Bib, &e.FirstName, &e.LastName,
		&club, &e.ClassID, &e.Status)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	e.Club = club.String
	return &e, nil
}
