package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/testutil"
)

func TestAssemble_FinishBeforeStartIsHeld(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 1, Chips: []int64{8000001}})
	stage := f.Stage(t, 1)

	// The finish control uploads before the start control does.
	res := mustIngest(t, e, f.Event.ID, 8000001, 22, "2026-06-13 10:00:50", race.SourceROC)
	require.NotNil(t, res.Run)
	assert.Equal(t, race.StatusPending, res.Run.Status)
	assert.Nil(t, res.Run.StartTime)

	res = mustIngest(t, e, f.Event.ID, 8000001, 1, "2026-06-13 10:00:10", race.SourceROC)
	require.NotNil(t, res.Run)
	assert.Equal(t, race.StatusOK, res.Run.Status)
	require.NotNil(t, res.Run.ElapsedSeconds)
	assert.InDelta(t, 40.0, *res.Run.ElapsedSeconds, 0.001)

	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	assert.Equal(t, 1, run.Attempt)
	assert.Equal(t, race.RunValid, run.RunState)
}

func TestAssemble_LaterStartReplacesEarlier(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 2, Chips: []int64{8000002}})
	stage := f.Stage(t, 1)

	mustIngest(t, e, f.Event.ID, 8000002, 1, "2026-06-13 10:00:00", race.SourceROC)
	// Rider rolls back and restarts.
	mustIngest(t, e, f.Event.ID, 8000002, 1, "2026-06-13 10:00:05", race.SourceROC)
	// A late relay of an older reading changes nothing.
	res := mustIngest(t, e, f.Event.ID, 8000002, 1, "2026-06-13 10:00:03", race.SourceSIRAP)
	assert.False(t, res.Duplicate)

	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	require.NotNil(t, run.StartTime)
	assert.Equal(t, "2026-06-13 10:00:05", race.FormatPunchTime(*run.StartTime))

	res = mustIngest(t, e, f.Event.ID, 8000002, 22, "2026-06-13 10:01:05", race.SourceROC)
	require.NotNil(t, res.Run.ElapsedSeconds)
	assert.InDelta(t, 60.0, *res.Run.ElapsedSeconds, 0.001)
}

func TestAssemble_StaleFinishDropped(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 3, Chips: []int64{8000003}})
	stage := f.Stage(t, 1)

	mustIngest(t, e, f.Event.ID, 8000003, 1, "2026-06-13 10:00:10", race.SourceROC)
	// A finish reading from before the start is stale.
	res := mustIngest(t, e, f.Event.ID, 8000003, 22, "2026-06-13 10:00:05", race.SourceROC)
	assert.Nil(t, res.Run)

	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	assert.Equal(t, race.StatusPending, run.Status)
	assert.Nil(t, run.FinishTime)

	res = mustIngest(t, e, f.Event.ID, 8000003, 22, "2026-06-13 10:00:50", race.SourceROC)
	require.NotNil(t, res.Run.ElapsedSeconds)
	assert.InDelta(t, 40.0, *res.Run.ElapsedSeconds, 0.001)
}

func TestAssemble_FinishOnCompletedRunIgnored(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 4, Chips: []int64{8000004}})
	stage := f.Stage(t, 1)

	mustIngest(t, e, f.Event.ID, 8000004, 1, "2026-06-13 10:00:00", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8000004, 22, "2026-06-13 10:00:42", race.SourceROC)

	res := mustIngest(t, e, f.Event.ID, 8000004, 22, "2026-06-13 10:00:55", race.SourceROC)
	assert.False(t, res.Duplicate)
	assert.Nil(t, res.Run)

	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	assert.Equal(t, 1, run.Attempt)
	assert.InDelta(t, 42.0, *run.ElapsedSeconds, 0.001)
}

func TestAssemble_MaxRunsRefusesNewAttempt(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{
		Format: race.FormatDownhill,
		Stages: []testutil.StageConfig{{Number: 1, StartCode: 111, FinishCode: 112, MaxRuns: 2}},
	})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 5, Chips: []int64{8000005}})
	stage := f.Stage(t, 1)

	mustIngest(t, e, f.Event.ID, 8000005, 111, "2026-06-13 10:00:00", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8000005, 112, "2026-06-13 10:00:45", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8000005, 111, "2026-06-13 10:05:00", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8000005, 112, "2026-06-13 10:05:42", race.SourceROC)

	// The third start falls outside the two-run budget.
	res := mustIngest(t, e, f.Event.ID, 8000005, 111, "2026-06-13 10:10:00", race.SourceROC)
	assert.False(t, res.Duplicate)
	assert.Nil(t, res.Run)

	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	assert.Equal(t, 2, run.Attempt)
	assert.Equal(t, race.StatusOK, run.Status)
}

func TestAssemble_StrongerSourceSupersedesRun(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{
		Stages: []testutil.StageConfig{{Number: 1, StartCode: 11, FinishCode: 12}},
	})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 6, Chips: []int64{8002001}})
	stage := f.Stage(t, 1)
	ctx := context.Background()

	mustIngest(t, e, f.Event.ID, 8002001, 11, "2026-06-13 10:00:00", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8002001, 12, "2026-06-13 10:00:30", race.SourceROC)

	first := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	assert.InDelta(t, 30.0, *first.ElapsedSeconds, 0.001)

	// The usb master station read the real finish two seconds earlier.
	res := mustIngest(t, e, f.Event.ID, 8002001, 12, "2026-06-13 10:00:28", race.SourceUSB)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.Run)
	assert.Equal(t, 2, res.Run.Attempt)
	assert.InDelta(t, 28.0, *res.Run.ElapsedSeconds, 0.001)

	runs, err := s.RunsForEntryStage(ctx, f.Event.ID, entry.ID, stage.ID, true)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, race.RunSuperseded, runs[0].RunState)
	assert.InDelta(t, 30.0, *runs[0].ElapsedSeconds, 0.001, "superseded run keeps its time")
	assert.Equal(t, race.RunValid, runs[1].RunState)

	// A manual correction cannot displace the usb reading.
	res = mustIngest(t, e, f.Event.ID, 8002001, 12, "2026-06-13 10:00:25", race.SourceManual)
	assert.Nil(t, res.Run)
	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	assert.InDelta(t, 28.0, *run.ElapsedSeconds, 0.001)

	// The journal tells the whole story: created, superseded, recreated.
	entries, err := s.ListJournal(ctx, f.Event.ID, false)
	require.NoError(t, err)
	var kinds []race.JournalKind
	var superseded *race.RunSupersededPayload
	for i := range entries {
		kinds = append(kinds, entries[i].Kind)
		if entries[i].Kind == race.JournalRunSuperseded {
			var p race.RunSupersededPayload
			require.NoError(t, json.Unmarshal(entries[i].Payload, &p))
			superseded = &p
		}
	}
	assert.Equal(t, []race.JournalKind{
		race.JournalRunCreated, race.JournalRunSuperseded, race.JournalRunCreated,
	}, kinds)
	require.NotNil(t, superseded)
	assert.Equal(t, first.ID, superseded.RunID)
	assert.Equal(t, "usb_override", superseded.Reason)
}

func TestAssemble_CrossChipFillCompletesRun(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 7, Chips: []int64{9001}})
	stage := f.Stage(t, 1)
	ctx := context.Background()

	// The backup chip reads the finish before anyone maps it.
	res := mustIngest(t, e, f.Event.ID, 9002, 22, "2026-06-13 10:00:45", race.SourceROC)
	assert.Zero(t, res.Bib)

	require.NoError(t, s.AssignChip(ctx, &race.ChipMapping{
		EventID: f.Event.ID, Bib: 7, ChipID: 9002,
	}))

	// The primary start now pairs with the backup chip's finish.
	res = mustIngest(t, e, f.Event.ID, 9001, 1, "2026-06-13 10:00:00", race.SourceROC)
	require.NotNil(t, res.Run)
	assert.Equal(t, race.StatusOK, res.Run.Status)
	assert.InDelta(t, 45.0, *res.Run.ElapsedSeconds, 0.001)

	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	assert.Equal(t, race.RunValid, run.RunState)

	entries, err := s.ListJournal(ctx, f.Event.ID, false)
	require.NoError(t, err)
	var created *race.RunCreatedPayload
	for i := range entries {
		if entries[i].Kind == race.JournalRunCreated {
			var p race.RunCreatedPayload
			require.NoError(t, json.Unmarshal(entries[i].Payload, &p))
			created = &p
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "cross_chip_fill", created.SourceHint)
	assert.InDelta(t, 45.0, created.Elapsed, 0.001)
}

func TestAssemble_CrossChipFillFindsStartSide(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 8, Chips: []int64{9101}})
	stage := f.Stage(t, 1)
	ctx := context.Background()

	// The backup chip caught the start while still unmapped.
	mustIngest(t, e, f.Event.ID, 9102, 1, "2026-06-13 10:00:00", race.SourceROC)
	require.NoError(t, s.AssignChip(ctx, &race.ChipMapping{
		EventID: f.Event.ID, Bib: 8, ChipID: 9102,
	}))

	res := mustIngest(t, e, f.Event.ID, 9101, 22, "2026-06-13 10:00:38", race.SourceROC)
	require.NotNil(t, res.Run)
	assert.Equal(t, race.StatusOK, res.Run.Status)
	assert.InDelta(t, 38.0, *res.Run.ElapsedSeconds, 0.001)

	run := latestRun(t, s, f.Event.ID, entry.ID, stage.ID)
	require.NotNil(t, run.StartTime)
	assert.Equal(t, "2026-06-13 10:00:00", race.FormatPunchTime(*run.StartTime))
}
