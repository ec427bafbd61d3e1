package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eklind/gravitytiming/internal/live"
	"github.com/eklind/gravitytiming/internal/race"
)

// PunchInput is one raw chip reading handed to the engine.
type PunchInput struct {
	EventID     int64
	ChipID      int64
	ControlCode int
	PunchTime   time.Time
	Source      race.Source
	// UpstreamID is the reading's id at its source, used to drop
	// redeliveries. Manual punches leave it nil.
	UpstreamID *int64
	// BypassAdmission lets file imports land punches while ingest is
	// paused. Live sources leave it false.
	BypassAdmission bool
}

// IngestResult reports what a single punch produced. A nil Run means the
// punch was stored but did not change any stage result (duplicate,
// unmapped chip, or control not bound to a stage).
type IngestResult struct {
	PunchID   int64
	Bib       int
	Duplicate bool
	Run       *race.StageRun
}

// punchOutcome carries the resolution and assembly results of one punch
// through the back half of the pipeline.
type punchOutcome struct {
	entry      *race.Entry
	className  string
	stage      *race.Stage
	run        *race.StageRun
	finalized  bool
	superseded bool
	sourceHint string
	baseline   *classBaseline
}

// Ingest runs one punch through the full pipeline: admission, chip
// resolution, deduplication, insertion, stage assembly, aggregation and
// observer publication. It returns a typed *Error for refusals (unknown
// event, finished event, paused ingest); resolution failures are not
// errors, the punch is kept and the result reports what happened.
func (e *Engine) Ingest(ctx context.Context, in PunchInput) (*IngestResult, error) {
	unlock := e.lockEvent(in.EventID)
	defer unlock()

	ev, err := e.admit(ctx, in)
	if err != nil {
		return nil, err
	}

	bib, chips, err := e.resolveChips(ctx, in.EventID, in.ChipID)
	if err != nil {
		return nil, err
	}

	dup, err := e.isDuplicate(ctx, in.EventID, chips, in.ControlCode, in.PunchTime, in.Source)
	if err != nil {
		return nil, err
	}

	p := &race.Punch{
		EventID:     in.EventID,
		ChipID:      in.ChipID,
		ControlCode: in.ControlCode,
		PunchTime:   in.PunchTime,
		Source:      in.Source,
		UpstreamID:  in.UpstreamID,
		IsDuplicate: dup,
	}
	inserted, err := e.store.InsertPunch(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("insert punch: %w", err)
	}
	if !inserted {
		slog.Debug("redelivered punch ignored",
			"event", in.EventID, "source", string(in.Source), "upstream_id", derefID(in.UpstreamID))
		return &IngestResult{Duplicate: true}, nil
	}

	if in.Source == race.SourceManual {
		payload := race.ManualPunchPayload{
			PunchID:     p.ID,
			ChipID:      p.ChipID,
			ControlCode: p.ControlCode,
			PunchTime:   race.FormatPunchTime(p.PunchTime),
			Bib:         bib,
		}
		if err := e.store.AppendJournal(ctx, in.EventID, race.JournalManualPunch, payload); err != nil {
			return nil, fmt.Errorf("journal manual punch: %w", err)
		}
	}

	res := &IngestResult{PunchID: p.ID, Bib: bib, Duplicate: dup}

	if dup {
		slog.Debug("duplicate punch flagged",
			"event", in.EventID, "bib", bib, "control", in.ControlCode, "source", string(in.Source))
		e.publishPunch(ev, p, bib, nil)
		return res, nil
	}

	out, err := e.process(ctx, ev, p, bib)
	if err != nil {
		return nil, err
	}
	if out != nil {
		res.Run = out.run
	}

	e.publishPunch(ev, p, bib, out)
	if out != nil && (out.finalized || out.superseded) {
		e.publishClassUpdates(ctx, ev, out)
	}
	if out != nil && out.run != nil {
		e.publishStageStatus(ctx, ev, out.stage)
	}

	slog.Info("punch processed",
		"event", in.EventID, "bib", bib, "control", in.ControlCode,
		"source", string(in.Source), "run_changed", res.Run != nil)
	return res, nil
}

// admit checks that the event can accept punches. Paused ingest refuses
// live sources before anything is written; file imports bypass the pause.
func (e *Engine) admit(ctx context.Context, in PunchInput) (*race.Event, error) {
	ev, err := e.store.GetEvent(ctx, in.EventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewConfigurationError("ingest", fmt.Sprintf("unknown event %d", in.EventID))
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	if ev.Status == race.EventFinished {
		return nil, NewAdmissionError("ingest", fmt.Sprintf("event %q is finished", ev.Name))
	}
	if !in.BypassAdmission {
		paused, err := e.store.BoolSetting(ctx, race.SettingIngestPaused)
		if err != nil {
			return nil, fmt.Errorf("read ingest setting: %w", err)
		}
		if paused {
			return nil, NewAdmissionError("ingest", "ingest is paused")
		}
	}
	return ev, nil
}

// resolveChips maps a chip to its bib and collects every chip the bib
// carries, so deduplication sees readings from both of a rider's chips.
// An unmapped chip yields bib 0 and the chip alone.
func (e *Engine) resolveChips(ctx context.Context, eventID, chipID int64) (int, []int64, error) {
	bib, err := e.store.BibForChip(ctx, eventID, chipID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, []int64{chipID}, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("resolve chip %d: %w", chipID, err)
	}
	mappings, err := e.store.ChipsForBib(ctx, eventID, bib)
	if err != nil {
		return 0, nil, fmt.Errorf("chips for bib %d: %w", bib, err)
	}
	chips := make([]int64, 0, len(mappings))
	for _, m := range mappings {
		chips = append(chips, m.ChipID)
	}
	if len(chips) == 0 {
		chips = []int64{chipID}
	}
	return bib, chips, nil
}

// isDuplicate reports whether a reading repeats an already stored punch
// on the same control within the dedup window, across all of the rider's
// chips. The new reading survives only if its source outranks every
// candidate; ties keep the stored punch.
func (e *Engine) isDuplicate(ctx context.Context, eventID int64, chips []int64, code int, at time.Time, src race.Source) (bool, error) {
	from := at.Add(-e.dedupWindow)
	to := at.Add(e.dedupWindow)
	candidates, err := e.store.DuplicateCandidates(ctx, eventID, chips, code, from, to)
	if err != nil {
		return false, fmt.Errorf("dedup candidates: %w", err)
	}
	prio := src.Priority()
	for _, c := range candidates {
		if prio >= c.Source.Priority() {
			return true, nil
		}
	}
	return false, nil
}

// process resolves the punch to an entry and a stage, then runs stage
// assembly and the cross-chip fill. Aggregation follows whenever a run
// was finalized or superseded. Unresolvable punches are kept as raw data
// and produce no outcome.
func (e *Engine) process(ctx context.Context, ev *race.Event, p *race.Punch, bib int) (*punchOutcome, error) {
	if bib == 0 {
		slog.Info("punch from unmapped chip kept",
			"event", ev.ID, "chip", p.ChipID, "control", p.ControlCode)
		return nil, nil
	}
	entry, err := e.store.GetEntryByBib(ctx, ev.ID, bib)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("chip mapped to bib without entry", "event", ev.ID, "bib", bib)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load entry for bib %d: %w", bib, err)
	}
	timing, err := e.store.StageForControl(ctx, ev.ID, p.ControlCode)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("control not bound to a stage", "event", ev.ID, "control", p.ControlCode)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stage for control %d: %w", p.ControlCode, err)
	}

	out := &punchOutcome{entry: entry, stage: &timing.Stage}
	if cl, err := e.store.GetClass(ctx, entry.ClassID); err == nil {
		out.className = cl.Name
	}

	if err := e.assemble(ctx, ev, entry, timing, p, out); err != nil {
		return nil, err
	}
	if err := e.crossChipFill(ctx, ev, entry, timing, out); err != nil {
		return nil, err
	}

	if out.finalized || out.superseded {
		out.baseline = e.classBaseline(ctx, ev, entry.ClassID)
		if err := e.aggregateEntry(ctx, ev, entry); err != nil {
			return nil, err
		}
		if err := e.rankClass(ctx, ev, entry.ClassID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// publishPunch emits the punch observer event. Delivery failures never
// touch the pipeline; the sink contract is fire and forget.
func (e *Engine) publishPunch(ev *race.Event, p *race.Punch, bib int, out *punchOutcome) {
	payload := live.PunchPayload{
		EventID:     ev.ID,
		Bib:         bib,
		ChipID:      p.ChipID,
		ControlCode: p.ControlCode,
		PunchTime:   race.FormatPunchTime(p.PunchTime),
		Source:      string(p.Source),
		Duplicate:   p.IsDuplicate,
	}
	if out != nil {
		payload.Name = out.entry.FirstName + " " + out.entry.LastName
		payload.ClassName = out.className
		if out.run != nil {
			payload.Run = &live.RunSnapshot{
				RunID:      out.run.ID,
				EntryID:    out.run.EntryID,
				StageID:    out.run.StageID,
				StageName:  out.stage.Name,
				Attempt:    out.run.Attempt,
				Status:     string(out.run.Status),
				Elapsed:    out.run.ElapsedSeconds,
				SourceHint: out.sourceHint,
			}
		}
	}
	e.sink.Publish(live.KindPunch, payload)
}

// publishClassUpdates emits fresh standings for the touched class, plus
// any highlights the change produced. Both are suppressed while the
// standings_frozen toggle is set; results keep accumulating underneath.
func (e *Engine) publishClassUpdates(ctx context.Context, ev *race.Event, out *punchOutcome) {
	frozen, err := e.store.BoolSetting(ctx, race.SettingStandingsFrozen)
	if err != nil {
		slog.Error("read standings setting failed", "error", err)
		return
	}
	if frozen {
		return
	}

	rows, err := e.store.Standings(ctx, ev.ID, out.entry.ClassID)
	if err != nil {
		slog.Error("standings load failed", "event", ev.ID, "class", out.entry.ClassID, "error", err)
		return
	}
	payload := live.StandingsPayload{
		EventID:   ev.ID,
		ClassID:   out.entry.ClassID,
		ClassName: out.className,
		Rows:      make([]live.StandingsRow, 0, len(rows)),
	}
	for _, r := range rows {
		payload.Rows = append(payload.Rows, live.StandingsRow{
			Position: r.Position,
			Bib:      r.Bib,
			Name:     r.FirstName + " " + r.LastName,
			Club:     r.Club,
			Total:    r.TotalSeconds,
			Behind:   r.TimeBehind,
			Status:   string(r.Status),
		})
	}
	e.sink.Publish(live.KindStandings, payload)

	if out.finalized {
		for _, h := range e.detectHighlights(ctx, ev, out, rows) {
			e.sink.Publish(live.KindHighlight, h)
		}
	}
}

// publishStageStatus emits the per-stage live status summary.
func (e *Engine) publishStageStatus(ctx context.Context, ev *race.Event, stage *race.Stage) {
	payload, err := e.stageStatus(ctx, ev, stage)
	if err != nil {
		slog.Error("stage status failed", "event", ev.ID, "stage", stage.ID, "error", err)
		return
	}
	e.sink.Publish(live.KindStageStatus, *payload)
}

// stageStatus summarizes one stage from its current non-superseded runs:
// riders between start and finish, riders with a valid time, and the
// fastest of them.
func (e *Engine) stageStatus(ctx context.Context, ev *race.Event, stage *race.Stage) (*live.StageStatusPayload, error) {
	runs, err := e.store.ListRunsForStage(ctx, ev.ID, stage.ID, false)
	if err != nil {
		return nil, fmt.Errorf("runs for stage %d: %w", stage.ID, err)
	}

	onCourse := 0
	finished := map[int64]bool{}
	var leader *race.StageRun
	for i := range runs {
		r := &runs[i]
		switch {
		case r.Status == race.StatusOK && r.RunState == race.RunValid:
			finished[r.EntryID] = true
			if r.ElapsedSeconds != nil && (leader == nil || *r.ElapsedSeconds < *leader.ElapsedSeconds) {
				leader = r
			}
		case r.Status == race.StatusPending && r.StartTime != nil && r.FinishTime == nil:
			onCourse++
		}
	}

	status := "idle"
	switch {
	case onCourse > 0:
		status = "running"
	case len(finished) > 0:
		status = "settled"
	}

	payload := &live.StageStatusPayload{
		EventID:        ev.ID,
		StageID:        stage.ID,
		StageNumber:    stage.StageNumber,
		Name:           stage.Name,
		Status:         status,
		RidersOnCourse: onCourse,
		RidersFinished: len(finished),
	}
	if leader != nil {
		if entry, err := e.store.GetEntry(ctx, leader.EntryID); err == nil {
			payload.Leader = &live.StageLeader{
				Bib:     entry.Bib,
				Name:    entry.FirstName + " " + entry.LastName,
				Elapsed: *leader.ElapsedSeconds,
			}
		}
	}
	return payload, nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
