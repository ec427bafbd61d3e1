package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/testutil"
)

func TestGroup_DualSlalomStartsShareGateTime(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{
		Format: race.FormatDualSlalom,
		Window: 5.0,
		Stages: []testutil.StageConfig{{Number: 1, StartCode: 111, FinishCode: 112}},
	})
	first := f.AddRider(t, s, testutil.Rider{Bib: 41, Chips: []int64{8200041}})
	second := f.AddRider(t, s, testutil.Rider{Bib: 42, Chips: []int64{8200042}})
	third := f.AddRider(t, s, testutil.Rider{Bib: 43, Chips: []int64{8200043}})
	stage := f.Stage(t, 1)
	ctx := context.Background()

	// Heat one: the gate drops once but the chips read 3 seconds apart.
	mustIngest(t, e, f.Event.ID, 8200041, 111, "2026-06-13 12:00:00", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8200042, 111, "2026-06-13 12:00:03", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8200041, 112, "2026-06-13 12:00:30", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8200042, 112, "2026-06-13 12:00:31", race.SourceROC)
	// Heat two runs alone.
	mustIngest(t, e, f.Event.ID, 8200043, 111, "2026-06-13 12:10:00", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8200043, 112, "2026-06-13 12:10:40", race.SourceROC)

	// Raw chip times put bib 42 ahead.
	run := latestRun(t, s, f.Event.ID, second.ID, stage.ID)
	assert.InDelta(t, 28.0, *run.ElapsedSeconds, 0.001)

	applied, err := e.GroupDualSlalomStarts(ctx, f.Event.ID, 5.0)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// Both heat-one runs now start at the gate drop.
	run = latestRun(t, s, f.Event.ID, first.ID, stage.ID)
	assert.Equal(t, "2026-06-13 12:00:00", race.FormatPunchTime(*run.StartTime))
	assert.InDelta(t, 30.0, *run.ElapsedSeconds, 0.001)

	run = latestRun(t, s, f.Event.ID, second.ID, stage.ID)
	assert.Equal(t, "2026-06-13 12:00:00", race.FormatPunchTime(*run.StartTime))
	assert.InDelta(t, 31.0, *run.ElapsedSeconds, 0.001)

	// The singleton keeps its own start.
	run = latestRun(t, s, f.Event.ID, third.ID, stage.ID)
	assert.Equal(t, "2026-06-13 12:10:00", race.FormatPunchTime(*run.StartTime))
	assert.InDelta(t, 40.0, *run.ElapsedSeconds, 0.001)

	// Grouping re-aggregates, so the podium reflects the shared start.
	rows, err := s.Standings(ctx, f.Event.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{41, 42, 43}, []int{rows[0].Bib, rows[1].Bib, rows[2].Bib})
	assert.Equal(t, 1, *rows[0].Position)
	assert.InDelta(t, 1.0, *rows[1].TimeBehind, 0.001)
}

func TestGroup_WindowMustBePositive(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{Format: race.FormatDualSlalom})

	_, err := e.GroupDualSlalomStarts(context.Background(), f.Event.ID, 0)
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}

func TestGroup_NoStartPunchesIsNoop(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{
		Format: race.FormatDualSlalom,
		Window: 5.0,
	})
	f.AddRider(t, s, testutil.Rider{Bib: 44, Chips: []int64{8200044}})

	applied, err := e.GroupDualSlalomStarts(context.Background(), f.Event.ID, 5.0)
	require.NoError(t, err)
	assert.Zero(t, applied)
}
