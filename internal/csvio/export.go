package csvio

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
)

// ExportStartlist writes the event's entries as BIB;FirstName;LastName;
// Club;Class in bib order, the same shape ImportStartlist reads. Returns
// the number of rider rows written.
func ExportStartlist(ctx context.Context, s *store.Store, eventID int64, w io.Writer) (int, error) {
	entries, err := s.ListEntries(ctx, eventID, 0)
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	cw.Write([]string{"BIB", "FirstName", "LastName", "Club", "Class"})
	for _, e := range entries {
		cw.Write([]string{
			strconv.Itoa(e.Bib), e.FirstName, e.LastName, e.Club, e.ClassName,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write startlist: %w", err)
	}
	return len(entries), nil
}

// ExportResults writes overall standings grouped by class with one column
// per timed stage. Position and gap are recomputed per class during the
// walk so the file is internally consistent even if an aggregation is
// pending. Classes order by Swedish collation, riders by the standings
// order within each class. Times honor the event's precision; riders
// without a total carry their status instead. Returns rows written.
func ExportResults(ctx context.Context, e *engine.Engine, eventID int64, w io.Writer) (int, error) {
	s := e.Store()
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("load event: %w", err)
	}

	stages, err := s.ListStages(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("list stages: %w", err)
	}
	timed := stages[:0]
	for _, st := range stages {
		if st.IsTimed {
			timed = append(timed, st)
		}
	}

	rows, err := s.Standings(ctx, eventID, 0)
	if err != nil {
		return 0, fmt.Errorf("load standings: %w", err)
	}
	coll := race.NewCollator()
	sort.SliceStable(rows, func(i, j int) bool {
		return coll.CompareString(rows[i].ClassName, rows[j].ClassName) < 0
	})

	cw := csv.NewWriter(w)
	cw.Comma = ';'

	header := []string{"Pos", "BIB", "Namn", "Klubb", "Klass", "Total", "Diff", "Status"}
	for _, st := range timed {
		header = append(header, stageColumn(st))
	}
	cw.Write(header)

	currentClass := ""
	pos := 0
	var leader *float64
	for i, row := range rows {
		if i == 0 || row.ClassName != currentClass {
			currentClass = row.ClassName
			pos = 0
			leader = nil
		}

		name := row.FirstName + " " + row.LastName
		var record []string
		if row.Status == race.StatusOK && row.TotalSeconds != nil {
			pos++
			if leader == nil {
				leader = row.TotalSeconds
			}
			record = []string{
				strconv.Itoa(pos), strconv.Itoa(row.Bib), name, row.Club, row.ClassName,
				race.FormatElapsed(*row.TotalSeconds, ev.TimePrecision),
				race.FormatBehind(*row.TotalSeconds-*leader, ev.TimePrecision),
				string(row.Status),
			}
		} else {
			record = []string{
				"", strconv.Itoa(row.Bib), name, row.Club, row.ClassName,
				"", "", string(row.Status),
			}
		}

		for _, st := range timed {
			cell, err := stageCell(ctx, e, eventID, row.EntryID, st, ev.TimePrecision)
			if err != nil {
				return 0, err
			}
			record = append(record, cell)
		}
		cw.Write(record)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write results: %w", err)
	}
	return len(rows), nil
}

// stageColumn names a stage's header column, flagging best-of scoring.
func stageColumn(st race.Stage) string {
	if st.RunsToCount > 1 {
		return fmt.Sprintf("Stage %d (bästa %d)", st.StageNumber, st.RunsToCount)
	}
	return fmt.Sprintf("Stage %d", st.StageNumber)
}

// stageCell renders one stage column: the counting time when the entry
// has one, otherwise the first attempt's status, otherwise empty.
func stageCell(ctx context.Context, e *engine.Engine, eventID, entryID int64, st race.Stage, p race.Precision) (string, error) {
	k := st.RunsToCount
	if k < 1 {
		k = 1
	}
	t, err := e.StageCountingTime(ctx, eventID, entryID, st.ID, k)
	if err != nil {
		return "", fmt.Errorf("stage %d counting time: %w", st.StageNumber, err)
	}
	if t != nil {
		return race.FormatElapsed(*t, p), nil
	}

	status, err := e.Store().FirstAttemptStatus(ctx, eventID, entryID, st.ID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stage %d first attempt: %w", st.StageNumber, err)
	}
	return string(status), nil
}
