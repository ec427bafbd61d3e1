package harness

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eklind/gravitytiming/internal/csvio"
	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
	"github.com/eklind/gravitytiming/internal/template"
	"github.com/eklind/gravitytiming/internal/testutil"
)

// Result is the final state of one scenario run.
type Result struct {
	EventID int64

	// Applied reports what the template built.
	Applied *template.ApplyStats

	// Ingested counts punches stored; Duplicates counts the subset
	// flagged inside the dedup window.
	Ingested   int
	Duplicates int

	// Events is the observer traffic the run published, in order.
	Events []testutil.Published

	// Standings is the overall table across all classes.
	Standings []store.StandingRow

	// ResultsCSV is the exported results file, the golden artifact.
	ResultsCSV []byte
}

// Run executes a scenario against a fresh in-memory store: template
// application, start list, the punch feed through the engine, status
// changes, a final aggregation and the results export. Nothing
// persists between runs.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	doc, err := template.Resolve(ctx, st, sc.Template)
	if err != nil {
		return nil, fmt.Errorf("resolve template: %w", err)
	}

	ev := &race.Event{Name: sc.Event.Name, Date: sc.Event.Date, Location: sc.Event.Location}
	if err := st.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	stats, err := template.Apply(ctx, st, ev.ID, doc)
	if err != nil {
		return nil, fmt.Errorf("apply template: %w", err)
	}

	if err := enterStartList(ctx, st, ev.ID, sc.Entries); err != nil {
		return nil, err
	}
	if err := st.UpdateEventStatus(ctx, ev.ID, race.EventActive); err != nil {
		return nil, fmt.Errorf("activate event: %w", err)
	}

	sink := &testutil.CaptureSink{}
	eng := engine.New(st, engine.WithSink(sink))

	res := &Result{EventID: ev.ID, Applied: stats}
	for i, p := range sc.Punches {
		out, err := feedPunch(ctx, eng, ev.ID, p)
		if err != nil {
			return nil, fmt.Errorf("punches[%d]: %w", i, err)
		}
		if out.PunchID != 0 {
			res.Ingested++
		}
		if out.Duplicate {
			res.Duplicates++
		}
	}

	if err := applyStatuses(ctx, st, ev.ID, sc.Statuses); err != nil {
		return nil, err
	}
	if err := eng.AggregateEvent(ctx, ev.ID); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	res.Standings, err = st.Standings(ctx, ev.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("standings: %w", err)
	}
	var buf bytes.Buffer
	if _, err := csvio.ExportResults(ctx, eng, ev.ID, &buf); err != nil {
		return nil, fmt.Errorf("export results: %w", err)
	}
	res.ResultsCSV = buf.Bytes()
	res.Events = sink.All()
	return res, nil
}

// enterStartList creates the entries and their chip mappings. Class
// names resolve against what the template built.
func enterStartList(ctx context.Context, st *store.Store, eventID int64, specs []EntrySpec) error {
	classes, err := st.ListClasses(ctx, eventID)
	if err != nil {
		return fmt.Errorf("list classes: %w", err)
	}
	classByName := make(map[string]int64, len(classes))
	for _, c := range classes {
		classByName[c.Name] = c.ID
	}

	for i, e := range specs {
		classID, ok := classByName[e.Class]
		if !ok {
			return fmt.Errorf("entries[%d]: unknown class %q", i, e.Class)
		}
		entry := &race.Entry{
			EventID:   eventID,
			Bib:       e.Bib,
			FirstName: e.First,
			LastName:  e.Last,
			Club:      e.Club,
			ClassID:   classID,
		}
		if err := st.CreateEntry(ctx, entry); err != nil {
			return fmt.Errorf("entries[%d]: %w", i, err)
		}
		for j, chip := range e.Chips {
			m := &race.ChipMapping{EventID: eventID, Bib: e.Bib, ChipID: chip, IsPrimary: j == 0}
			if err := st.AssignChip(ctx, m); err != nil {
				return fmt.Errorf("entries[%d]: assign chip %d: %w", i, chip, err)
			}
		}
	}
	return nil
}

func feedPunch(ctx context.Context, eng *engine.Engine, eventID int64, p PunchStep) (*engine.IngestResult, error) {
	t, err := race.ParsePunchTime(p.Time)
	if err != nil {
		return nil, err
	}
	source := race.Source(p.Source)
	if source == "" {
		source = race.SourceROC
	}
	return eng.Ingest(ctx, engine.PunchInput{
		EventID:     eventID,
		ChipID:      p.Chip,
		ControlCode: p.Code,
		PunchTime:   t,
		Source:      source,
	})
}

// applyStatuses lands each status step: on the rider's latest attempt
// when a stage is named, on the entry itself when none is.
func applyStatuses(ctx context.Context, st *store.Store, eventID int64, steps []StatusStep) error {
	if len(steps) == 0 {
		return nil
	}
	stages, err := st.ListStages(ctx, eventID)
	if err != nil {
		return fmt.Errorf("list stages: %w", err)
	}
	stageByNumber := make(map[int]int64, len(stages))
	for _, s := range stages {
		stageByNumber[s.StageNumber] = s.ID
	}

	for i, step := range steps {
		entry, err := st.GetEntryByBib(ctx, eventID, step.Bib)
		if err != nil {
			return fmt.Errorf("statuses[%d]: bib %d: %w", i, step.Bib, err)
		}

		if step.Stage == 0 {
			if err := st.SetEntryStatus(ctx, entry.ID, race.EntryStatus(step.Status)); err != nil {
				return fmt.Errorf("statuses[%d]: %w", i, err)
			}
			continue
		}

		stageID, ok := stageByNumber[step.Stage]
		if !ok {
			return fmt.Errorf("statuses[%d]: no stage %d", i, step.Stage)
		}
		run, err := st.LatestRun(ctx, eventID, entry.ID, stageID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("statuses[%d]: bib %d has no attempt on stage %d", i, step.Bib, step.Stage)
		}
		if err != nil {
			return fmt.Errorf("statuses[%d]: %w", i, err)
		}
		if err := st.SetRunStatus(ctx, run.ID, race.RunStatus(step.Status)); err != nil {
			return fmt.Errorf("statuses[%d]: %w", i, err)
		}
	}
	return nil
}
