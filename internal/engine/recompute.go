package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/eklind/gravitytiming/internal/race"
)

// DiffKind classifies one divergence found by a recompute.
type DiffKind string

const (
	DiffRunNew          DiffKind = "run_new"
	DiffRunMissing      DiffKind = "run_missing"
	DiffRunElapsed      DiffKind = "run_elapsed"
	DiffRunStatus       DiffKind = "run_status"
	DiffOverallNew      DiffKind = "overall_new"
	DiffOverallMissing  DiffKind = "overall_missing"
	DiffOverallTotal    DiffKind = "overall_total"
	DiffOverallPosition DiffKind = "overall_position"
)

// Diff is one divergence between the results on record and the results a
// fresh replay produces. An empty diff list means the incremental
// pipeline and the replay agree.
type Diff struct {
	Kind    DiffKind
	EntryID int64
	StageID int64
	Attempt int
	Detail  string
}

func (d Diff) String() string {
	s := fmt.Sprintf("%s entry=%d", d.Kind, d.EntryID)
	if d.StageID != 0 {
		s += fmt.Sprintf(" stage=%d attempt=%d", d.StageID, d.Attempt)
	}
	if d.Detail != "" {
		s += " " + d.Detail
	}
	return s
}

// RecomputeAll rebuilds every derived result from the punch log: snapshot
// the current results, wipe runs and overall rows, replay all
// non-duplicate punches in time order, regroup dual-slalom starts when
// the event is configured for it, re-aggregate, and report what changed.
// Elapsed and total changes below 10 ms are not reported.
func (e *Engine) RecomputeAll(ctx context.Context, eventID int64) ([]Diff, error) {
	unlock := e.lockEvent(eventID)
	defer unlock()

	ev, err := e.store.GetEvent(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewConfigurationError("recompute", fmt.Sprintf("unknown event %d", eventID))
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}

	oldRuns, err := e.validRunSnapshot(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	oldOverall, err := e.store.OverallSnapshot(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("overall snapshot: %w", err)
	}

	if err := e.store.ResetDerivedState(ctx, ev.ID); err != nil {
		return nil, fmt.Errorf("reset derived state: %w", err)
	}

	punches, err := e.store.PunchesForReplay(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("load punches: %w", err)
	}
	for i := range punches {
		if err := e.replayPunch(ctx, ev, &punches[i]); err != nil {
			return nil, err
		}
	}

	if ev.Format == race.FormatDualSlalom && ev.DualSlalomWindow != nil {
		if _, err := e.groupStarts(ctx, ev, *ev.DualSlalomWindow); err != nil {
			return nil, err
		}
	}
	if err := e.aggregateEvent(ctx, ev); err != nil {
		return nil, err
	}

	newRuns, err := e.validRunSnapshot(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	newOverall, err := e.store.OverallSnapshot(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("overall snapshot: %w", err)
	}

	diffs := diffRuns(oldRuns, newRuns)
	diffs = append(diffs, diffOverall(oldOverall, newOverall)...)
	for _, d := range diffs {
		slog.Warn("recompute diff", "event", ev.ID, "diff", d.String())
	}
	slog.Info("recompute finished",
		"event", ev.ID, "punches", len(punches), "diffs", len(diffs))
	return diffs, nil
}

// replayPunch is the pipeline back half without admission, journaling of
// the raw punch, or observer publication. run_created entries are
// re-emitted as replayed runs complete; the journal records every
// computation, including repeated ones.
func (e *Engine) replayPunch(ctx context.Context, ev *race.Event, p *race.Punch) error {
	bib, err := e.store.BibForChip(ctx, ev.ID, p.ChipID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve chip %d: %w", p.ChipID, err)
	}
	entry, err := e.store.GetEntryByBib(ctx, ev.ID, bib)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load entry for bib %d: %w", bib, err)
	}
	timing, err := e.store.StageForControl(ctx, ev.ID, p.ControlCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stage for control %d: %w", p.ControlCode, err)
	}

	out := &punchOutcome{entry: entry, stage: &timing.Stage}
	if err := e.assemble(ctx, ev, entry, timing, p, out); err != nil {
		return err
	}
	return e.crossChipFill(ctx, ev, entry, timing, out)
}

type runKey struct {
	entryID int64
	stageID int64
	attempt int
}

type runSnap struct {
	elapsed *float64
	status  race.RunStatus
}

// validRunSnapshot captures the completed valid runs of an event keyed by
// (entry, stage, attempt). Pending and superseded runs are not part of
// the fixed point a recompute is checked against.
func (e *Engine) validRunSnapshot(ctx context.Context, eventID int64) (map[runKey]runSnap, error) {
	stages, err := e.store.ListStages(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	snap := map[runKey]runSnap{}
	for _, st := range stages {
		runs, err := e.store.ListRunsForStage(ctx, eventID, st.ID, false)
		if err != nil {
			return nil, fmt.Errorf("runs for stage %d: %w", st.ID, err)
		}
		for i := range runs {
			r := &runs[i]
			if r.RunState != race.RunValid {
				continue
			}
			snap[runKey{r.EntryID, r.StageID, r.Attempt}] = runSnap{
				elapsed: r.ElapsedSeconds,
				status:  r.Status,
			}
		}
	}
	return snap, nil
}

func diffRuns(old, fresh map[runKey]runSnap) []Diff {
	keys := map[runKey]bool{}
	for k := range old {
		keys[k] = true
	}
	for k := range fresh {
		keys[k] = true
	}
	sorted := make([]runKey, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.entryID != b.entryID {
			return a.entryID < b.entryID
		}
		if a.stageID != b.stageID {
			return a.stageID < b.stageID
		}
		return a.attempt < b.attempt
	})

	var diffs []Diff
	for _, k := range sorted {
		o, hasOld := old[k]
		n, hasNew := fresh[k]
		switch {
		case !hasOld:
			diffs = append(diffs, Diff{Kind: DiffRunNew, EntryID: k.entryID, StageID: k.stageID, Attempt: k.attempt})
		case !hasNew:
			diffs = append(diffs, Diff{Kind: DiffRunMissing, EntryID: k.entryID, StageID: k.stageID, Attempt: k.attempt})
		default:
			if o.elapsed != nil && n.elapsed != nil && math.Abs(*o.elapsed-*n.elapsed) > 0.01 {
				diffs = append(diffs, Diff{
					Kind: DiffRunElapsed, EntryID: k.entryID, StageID: k.stageID, Attempt: k.attempt,
					Detail: fmt.Sprintf("%.3f -> %.3f", *o.elapsed, *n.elapsed),
				})
			}
			if o.status != n.status {
				diffs = append(diffs, Diff{
					Kind: DiffRunStatus, EntryID: k.entryID, StageID: k.stageID, Attempt: k.attempt,
					Detail: fmt.Sprintf("%s -> %s", o.status, n.status),
				})
			}
		}
	}
	return diffs
}

func diffOverall(old, fresh map[int64]race.OverallResult) []Diff {
	ids := map[int64]bool{}
	for id := range old {
		ids[id] = true
	}
	for id := range fresh {
		ids[id] = true
	}
	sorted := make([]int64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var diffs []Diff
	for _, id := range sorted {
		o, hasOld := old[id]
		n, hasNew := fresh[id]
		switch {
		case !hasOld:
			diffs = append(diffs, Diff{Kind: DiffOverallNew, EntryID: id})
		case !hasNew:
			diffs = append(diffs, Diff{Kind: DiffOverallMissing, EntryID: id})
		default:
			if o.TotalSeconds != nil && n.TotalSeconds != nil && math.Abs(*o.TotalSeconds-*n.TotalSeconds) > 0.01 {
				diffs = append(diffs, Diff{
					Kind: DiffOverallTotal, EntryID: id,
					Detail: fmt.Sprintf("%.3f -> %.3f", *o.TotalSeconds, *n.TotalSeconds),
				})
			}
			if !equalIntPtr(o.Position, n.Position) {
				diffs = append(diffs, Diff{
					Kind: DiffOverallPosition, EntryID: id,
					Detail: fmt.Sprintf("%s -> %s", fmtIntPtr(o.Position), fmtIntPtr(n.Position)),
				})
			}
		}
	}
	return diffs
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtIntPtr(p *int) string {
	if p == nil {
		return "none"
	}
	return strconv.Itoa(*p)
}
