package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/eklind/gravitytiming/internal/race"
)

// AggregateEvent rebuilds every entry's overall result and re-ranks all
// classes. Penalties and status changes applied outside the punch
// pipeline go through here to land in the standings.
func (e *Engine) AggregateEvent(ctx context.Context, eventID int64) error {
	unlock := e.lockEvent(eventID)
	defer unlock()

	ev, err := e.store.GetEvent(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return NewConfigurationError("aggregate", fmt.Sprintf("unknown event %d", eventID))
	}
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	return e.aggregateEvent(ctx, ev)
}

func (e *Engine) aggregateEvent(ctx context.Context, ev *race.Event) error {
	entries, err := e.store.ListEntries(ctx, ev.ID, 0)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	classes := map[int64]bool{}
	for i := range entries {
		entry := entries[i].Entry
		if err := e.aggregateEntry(ctx, ev, &entry); err != nil {
			return err
		}
		classes[entry.ClassID] = true
	}
	for classID := range classes {
		if err := e.rankClass(ctx, ev, classID); err != nil {
			return err
		}
	}
	return nil
}

// aggregateEntry rebuilds one entry's overall result from its stage runs.
func (e *Engine) aggregateEntry(ctx context.Context, ev *race.Event, entry *race.Entry) error {
	total, status, err := e.entryTotal(ctx, ev, entry)
	if err != nil {
		return err
	}
	o := &race.OverallResult{
		EventID:      ev.ID,
		EntryID:      entry.ID,
		TotalSeconds: total,
		Status:       status,
	}
	if err := e.store.UpsertOverall(ctx, o); err != nil {
		return fmt.Errorf("upsert overall: %w", err)
	}
	return nil
}

// entryTotal computes the overall total and status for one entry under
// the event format. A terminal status set on the entry itself overrides
// whatever the stage runs would produce.
func (e *Engine) entryTotal(ctx context.Context, ev *race.Event, entry *race.Entry) (*float64, race.RunStatus, error) {
	switch entry.Status {
	case race.EntryDNS:
		return nil, race.StatusDNS, nil
	case race.EntryDNF:
		return nil, race.StatusDNF, nil
	case race.EntryDSQ:
		return nil, race.StatusDSQ, nil
	}

	stages, err := e.store.TimedStagesForEntry(ctx, ev.ID, entry)
	if err != nil {
		return nil, "", fmt.Errorf("timed stages for entry %d: %w", entry.ID, err)
	}

	switch ev.Format {
	case race.FormatEnduro, race.FormatXC:
		return e.sumTotal(ctx, ev.ID, entry.ID, stages)
	case race.FormatDownhill, race.FormatDualSlalom:
		return e.bestTotal(ctx, ev.ID, entry.ID, stages)
	default:
		slog.Warn("unrecognized event format, summing stages",
			"event", ev.ID, "format", string(ev.Format))
		return e.sumTotal(ctx, ev.ID, entry.ID, stages)
	}
}

// sumTotal is the enduro and lap-race calculation: the sum of each timed
// stage's counting time. A stage with no counting time yet keeps the
// entry pending, with the partial total carried along; a terminal status
// on the stage's first attempt decides the whole entry.
func (e *Engine) sumTotal(ctx context.Context, eventID, entryID int64, stages []race.Stage) (*float64, race.RunStatus, error) {
	total := 0.0
	allOK := true
	anyResult := false

	for i := range stages {
		st := &stages[i]
		k := st.RunsToCount
		if k == 0 {
			k = 1
		}
		stageTime, err := e.StageCountingTime(ctx, eventID, entryID, st.ID, k)
		if err != nil {
			return nil, "", err
		}
		if stageTime == nil {
			status, err := e.store.FirstAttemptStatus(ctx, eventID, entryID, st.ID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, "", fmt.Errorf("first attempt status: %w", err)
			}
			switch status {
			case race.StatusDNS, race.StatusDNF, race.StatusDSQ:
				return nil, status, nil
			}
			allOK = false
			continue
		}
		total += *stageTime
		anyResult = true
	}

	if !anyResult {
		return nil, race.StatusPending, nil
	}
	if allOK {
		return &total, race.StatusOK, nil
	}
	return &total, race.StatusPending, nil
}

// bestTotal is the downhill and dual-slalom calculation: the best single
// counting time on the first timed stage.
func (e *Engine) bestTotal(ctx context.Context, eventID, entryID int64, stages []race.Stage) (*float64, race.RunStatus, error) {
	if len(stages) == 0 {
		return nil, race.StatusPending, nil
	}
	runs, err := e.store.CountingRuns(ctx, eventID, entryID, stages[0].ID)
	if err != nil {
		return nil, "", fmt.Errorf("counting runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, race.StatusPending, nil
	}
	best := runs[0].CountingTime()
	for _, r := range runs[1:] {
		if t := r.CountingTime(); t < best {
			best = t
		}
	}
	return &best, race.StatusOK, nil
}

// StageCountingTime returns the time a stage contributes to the total, or
// nil while the entry is not ready there: no valid run yet, or fewer than
// k valid runs when the stage counts the best k. Runs compare on elapsed
// plus penalty. Exports use it for per-stage breakdown columns.
func (e *Engine) StageCountingTime(ctx context.Context, eventID, entryID, stageID int64, k int) (*float64, error) {
	runs, err := e.store.CountingRuns(ctx, eventID, entryID, stageID)
	if err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CountingTime() < runs[j].CountingTime()
	})
	if k <= 1 {
		t := runs[0].CountingTime()
		return &t, nil
	}
	if len(runs) < k {
		return nil, nil
	}
	total := 0.0
	for i := 0; i < k; i++ {
		total += runs[i].CountingTime()
	}
	return &total, nil
}

// rankClass reassigns positions and gaps within one class. Finished
// entries rank by total in standings order; pending and terminal entries
// trail with their ranking cleared. Under the tied tie-break, equal
// totals share a position and the following position skips.
func (e *Engine) rankClass(ctx context.Context, ev *race.Event, classID int64) error {
	rows, err := e.store.Standings(ctx, ev.ID, classID)
	if err != nil {
		return fmt.Errorf("standings for class %d: %w", classID, err)
	}

	pos := 0
	prevPos := 0
	prevTotal := 0.0
	var leader *float64
	for i := range rows {
		r := &rows[i]
		if r.Status != race.StatusOK || r.TotalSeconds == nil {
			if err := e.store.SetRanking(ctx, r.ID, nil, nil); err != nil {
				return fmt.Errorf("clear ranking: %w", err)
			}
			continue
		}

		pos++
		if leader == nil {
			leader = r.TotalSeconds
		}
		assigned := pos
		if ev.Tiebreak == race.TiebreakTied && prevPos > 0 && *r.TotalSeconds == prevTotal {
			assigned = prevPos
		}
		behind := *r.TotalSeconds - *leader
		if err := e.store.SetRanking(ctx, r.ID, &assigned, &behind); err != nil {
			return fmt.Errorf("set ranking: %w", err)
		}
		prevPos = assigned
		prevTotal = *r.TotalSeconds
	}
	return nil
}
