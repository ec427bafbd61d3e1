package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
)

const sourceHintCrossChip = "cross_chip_fill"

// assemble applies one start or finish punch to the rider's latest attempt
// on the stage. Multi-attempt rules:
//
//   - a start on a completed attempt opens the next attempt, unless the
//     stage's run limit is reached
//   - a start on an open attempt keeps the later of the two start times
//     (a re-punch at the gate means the earlier one was a false start)
//   - a finish on a completed attempt is ignored
//   - a finish pairing with a held start completes the attempt
//   - a finish before any start is held; the attempt completes when the
//     start arrives
//
// A finish that would produce a negative span is stale and dropped.
// Source override is checked first: a stronger source re-reading a side
// of a completed run retires that run instead of opening a new attempt.
func (e *Engine) assemble(ctx context.Context, ev *race.Event, entry *race.Entry, timing *store.StageTiming, p *race.Punch, out *punchOutcome) error {
	isStart := p.ControlCode == timing.StartCode
	isFinish := p.ControlCode == timing.FinishCode
	if !isStart && !isFinish {
		return nil
	}

	handled, err := e.checkSourceOverride(ctx, ev, entry, timing, p, isStart, out)
	if err != nil || handled {
		return err
	}

	latest, err := e.store.LatestRun(ctx, ev.ID, entry.ID, timing.Stage.ID)
	if errors.Is(err, sql.ErrNoRows) {
		latest = nil
	} else if err != nil {
		return fmt.Errorf("latest run: %w", err)
	}

	if latest == nil {
		run := &race.StageRun{
			EventID: ev.ID,
			EntryID: entry.ID,
			StageID: timing.Stage.ID,
			Attempt: 1,
		}
		setRunSide(run, p, isStart)
		if err := e.store.CreateRun(ctx, run); err != nil {
			return err
		}
		out.run = run
		return e.finalizeRun(ctx, entry, run, "", out)
	}

	if isStart {
		if latest.Status == race.StatusOK {
			if timing.Stage.MaxRuns != nil && latest.Attempt >= *timing.Stage.MaxRuns {
				slog.Info("run limit reached, start ignored",
					"event", ev.ID, "bib", entry.Bib, "stage", timing.Stage.StageNumber,
					"max_runs", *timing.Stage.MaxRuns)
				return nil
			}
			run := &race.StageRun{
				EventID: ev.ID,
				EntryID: entry.ID,
				StageID: timing.Stage.ID,
				Attempt: latest.Attempt + 1,
			}
			setRunSide(run, p, true)
			if err := e.store.CreateRun(ctx, run); err != nil {
				return err
			}
			out.run = run
			return e.finalizeRun(ctx, entry, run, "", out)
		}

		if latest.StartTime != nil && !p.PunchTime.After(*latest.StartTime) {
			slog.Debug("earlier start ignored",
				"event", ev.ID, "bib", entry.Bib, "stage", timing.Stage.StageNumber)
			return nil
		}
		setRunSide(latest, p, true)
		latest.ElapsedSeconds = nil
		latest.Status = race.StatusPending
		latest.RunState = race.RunPending
		if err := e.store.UpdateRun(ctx, latest); err != nil {
			return fmt.Errorf("update run start: %w", err)
		}
		out.run = latest
		return e.finalizeRun(ctx, entry, latest, "", out)
	}

	// Finish punch.
	if latest.Status == race.StatusOK {
		slog.Debug("finish on completed attempt ignored",
			"event", ev.ID, "bib", entry.Bib, "stage", timing.Stage.StageNumber)
		return nil
	}

	if latest.StartTime != nil {
		elapsed := race.Elapsed(*latest.StartTime, p.PunchTime)
		if elapsed < 0 {
			slog.Warn("stale finish before start dropped",
				"event", ev.ID, "bib", entry.Bib, "stage", timing.Stage.StageNumber)
			return nil
		}
		setRunSide(latest, p, false)
		latest.ElapsedSeconds = &elapsed
		latest.Status = race.StatusOK
		latest.RunState = race.RunValid
		if err := e.store.CompleteRun(ctx, latest, race.RunCreatedPayload{
			EntryID: entry.ID,
			Bib:     entry.Bib,
			StageID: timing.Stage.ID,
			Attempt: latest.Attempt,
			Elapsed: elapsed,
		}); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
		out.run = latest
		out.finalized = true
		return nil
	}

	// Finish with no start yet. Hold the latest finish; the start punch
	// will close the attempt when it lands.
	if latest.FinishTime != nil && !p.PunchTime.After(*latest.FinishTime) {
		slog.Debug("earlier finish ignored",
			"event", ev.ID, "bib", entry.Bib, "stage", timing.Stage.StageNumber)
		return nil
	}
	setRunSide(latest, p, false)
	if err := e.store.UpdateRun(ctx, latest); err != nil {
		return fmt.Errorf("update run finish: %w", err)
	}
	out.run = latest
	return e.finalizeRun(ctx, entry, latest, "", out)
}

// checkSourceOverride retires a completed run when a stronger source
// re-reads the side the punch belongs to. The replacement attempt carries
// the new punch plus the retired run's other side and completes
// immediately when both sides remain.
func (e *Engine) checkSourceOverride(ctx context.Context, ev *race.Event, entry *race.Entry, timing *store.StageTiming, p *race.Punch, isStart bool, out *punchOutcome) (bool, error) {
	current, err := e.store.ValidCompletedRun(ctx, ev.ID, entry.ID, timing.Stage.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("valid completed run: %w", err)
	}

	sideID := current.FinishPunchID
	if isStart {
		sideID = current.StartPunchID
	}
	if sideID == nil {
		return false, nil
	}
	existing, err := e.store.PunchSource(ctx, *sideID)
	if err != nil {
		return false, fmt.Errorf("punch source: %w", err)
	}
	if p.Source.Priority() >= existing.Priority() {
		return false, nil
	}

	if err := e.store.SupersedeRun(ctx, ev.ID, current.ID, race.RunSupersededPayload{
		RunID:   current.ID,
		EntryID: entry.ID,
		StageID: timing.Stage.ID,
		Attempt: current.Attempt,
		Reason:  string(p.Source) + "_override",
	}); err != nil {
		return false, fmt.Errorf("supersede run: %w", err)
	}
	slog.Info("run superseded by stronger source",
		"event", ev.ID, "bib", entry.Bib, "stage", timing.Stage.StageNumber,
		"run", current.ID, "old_source", string(existing), "new_source", string(p.Source))

	attempt, err := e.store.NextAttempt(ctx, ev.ID, entry.ID, timing.Stage.ID)
	if err != nil {
		return false, fmt.Errorf("next attempt: %w", err)
	}
	repl := &race.StageRun{
		EventID: ev.ID,
		EntryID: entry.ID,
		StageID: timing.Stage.ID,
		Attempt: attempt,
	}
	setRunSide(repl, p, isStart)
	if isStart {
		repl.FinishPunchID = current.FinishPunchID
		repl.FinishTime = current.FinishTime
	} else {
		repl.StartPunchID = current.StartPunchID
		repl.StartTime = current.StartTime
	}
	if err := e.store.CreateRun(ctx, repl); err != nil {
		return false, fmt.Errorf("create replacement run: %w", err)
	}

	out.run = repl
	out.superseded = true
	if err := e.finalizeRun(ctx, entry, repl, "", out); err != nil {
		return false, err
	}
	return true, nil
}

// crossChipFill completes a half-open run using punches another of the
// rider's chips produced on the missing side. Only riders carrying more
// than one chip are candidates, and the borrowed punch must lie strictly
// on the far side of the known one so the span stays positive.
func (e *Engine) crossChipFill(ctx context.Context, ev *race.Event, entry *race.Entry, timing *store.StageTiming, out *punchOutcome) error {
	mappings, err := e.store.ChipsForBib(ctx, ev.ID, entry.Bib)
	if err != nil {
		return fmt.Errorf("chips for bib %d: %w", entry.Bib, err)
	}
	if len(mappings) < 2 {
		return nil
	}
	chips := make([]int64, 0, len(mappings))
	for _, m := range mappings {
		chips = append(chips, m.ChipID)
	}

	run, err := e.store.LatestRun(ctx, ev.ID, entry.ID, timing.Stage.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest run: %w", err)
	}
	if run.Status == race.StatusOK {
		return nil
	}

	switch {
	case run.StartTime != nil && run.FinishTime == nil:
		p, err := e.store.FirstPunchAfter(ctx, ev.ID, chips, timing.FinishCode, *run.StartTime)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("finish punch lookup: %w", err)
		}
		setRunSide(run, p, false)
	case run.FinishTime != nil && run.StartTime == nil:
		p, err := e.store.LastPunchBefore(ctx, ev.ID, chips, timing.StartCode, *run.FinishTime)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("start punch lookup: %w", err)
		}
		setRunSide(run, p, true)
	default:
		return nil
	}

	slog.Info("cross-chip fill closed attempt",
		"event", ev.ID, "bib", entry.Bib, "stage", timing.Stage.StageNumber, "attempt", run.Attempt)
	return e.finalizeRun(ctx, entry, run, sourceHintCrossChip, out)
}

// finalizeRun completes a run once both sides are present. A negative
// span leaves the run open; the punch that resolves it has not arrived
// yet.
func (e *Engine) finalizeRun(ctx context.Context, entry *race.Entry, run *race.StageRun, sourceHint string, out *punchOutcome) error {
	if run.StartTime == nil || run.FinishTime == nil || run.Status == race.StatusOK {
		return nil
	}
	elapsed := race.Elapsed(*run.StartTime, *run.FinishTime)
	if elapsed < 0 {
		return nil
	}
	run.ElapsedSeconds = &elapsed
	run.Status = race.StatusOK
	run.RunState = race.RunValid
	if err := e.store.CompleteRun(ctx, run, race.RunCreatedPayload{
		EntryID:    run.EntryID,
		Bib:        entry.Bib,
		StageID:    run.StageID,
		Attempt:    run.Attempt,
		Elapsed:    elapsed,
		SourceHint: sourceHint,
	}); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	out.run = run
	out.finalized = true
	if sourceHint != "" {
		out.sourceHint = sourceHint
	}
	return nil
}

// setRunSide writes one punch onto the start or finish side of a run.
func setRunSide(run *race.StageRun, p *race.Punch, isStart bool) {
	t := p.PunchTime
	if isStart {
		run.StartPunchID = &p.ID
		run.StartTime = &t
	} else {
		run.FinishPunchID = &p.ID
		run.FinishTime = &t
	}
}
