package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eklind/gravitytiming/internal/race"
)

// GroupDualSlalomStarts normalizes mass starts: non-duplicate punches on
// start controls landing within window seconds of a group's first punch
// all take that first punch's time. Groups of one are left alone.
// Dependent runs get the grouped start written back and, when already
// completed, their elapsed recomputed; overall results are re-aggregated
// when anything changed. Returns the number of groups applied.
func (e *Engine) GroupDualSlalomStarts(ctx context.Context, eventID int64, window float64) (int, error) {
	unlock := e.lockEvent(eventID)
	defer unlock()

	if window <= 0 {
		return 0, NewConfigurationError("group", "window must be positive")
	}
	ev, err := e.store.GetEvent(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NewConfigurationError("group", fmt.Sprintf("unknown event %d", eventID))
	}
	if err != nil {
		return 0, fmt.Errorf("load event: %w", err)
	}

	groups, err := e.groupStarts(ctx, ev, window)
	if err != nil {
		return 0, err
	}
	if groups > 0 {
		if err := e.aggregateEvent(ctx, ev); err != nil {
			return groups, err
		}
	}
	return groups, nil
}

// groupStarts partitions start punches into windows anchored on each
// group's first punch and rewrites dependent runs. Superseded runs stay
// untouched.
func (e *Engine) groupStarts(ctx context.Context, ev *race.Event, window float64) (int, error) {
	codes, err := e.store.StartControlCodes(ctx, ev.ID)
	if err != nil {
		return 0, fmt.Errorf("start control codes: %w", err)
	}
	if len(codes) == 0 {
		return 0, nil
	}
	codeSet := make(map[int]bool, len(codes))
	for _, c := range codes {
		codeSet[c] = true
	}

	punches, err := e.store.PunchesForReplay(ctx, ev.ID)
	if err != nil {
		return 0, fmt.Errorf("load punches: %w", err)
	}
	var starts []race.Punch
	for _, p := range punches {
		if codeSet[p.ControlCode] {
			starts = append(starts, p)
		}
	}
	if len(starts) == 0 {
		return 0, nil
	}

	var groups [][]race.Punch
	var current []race.Punch
	var anchor time.Time
	for _, p := range starts {
		if len(current) == 0 || p.PunchTime.Sub(anchor).Seconds() > window {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []race.Punch{p}
			anchor = p.PunchTime
		} else {
			current = append(current, p)
		}
	}
	groups = append(groups, current)

	applied := 0
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		applied++
		earliest := g[0].PunchTime
		for i := range g {
			runs, err := e.store.RunsByStartPunch(ctx, g[i].ID)
			if err != nil {
				return applied, fmt.Errorf("runs by start punch: %w", err)
			}
			for j := range runs {
				r := &runs[j]
				if r.RunState == race.RunSuperseded {
					continue
				}
				t := earliest
				r.StartTime = &t
				if r.FinishTime != nil && r.Status == race.StatusOK {
					elapsed := race.Elapsed(earliest, *r.FinishTime)
					r.ElapsedSeconds = &elapsed
				}
				if err := e.store.UpdateRun(ctx, r); err != nil {
					return applied, fmt.Errorf("update grouped run: %w", err)
				}
			}
		}
		slog.Info("start group applied",
			"event", ev.ID, "riders", len(g), "start", race.FormatPunchTime(earliest))
	}
	return applied, nil
}
