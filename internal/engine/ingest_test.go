package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eklind/gravitytiming/internal/live"
	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
	"github.com/eklind/gravitytiming/internal/testutil"
)

func TestIngest_UnknownEventRefused(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Ingest(context.Background(), PunchInput{
		EventID:     99,
		ChipID:      8000001,
		ControlCode: 1,
		PunchTime:   ts(t, "2026-06-13 10:00:00"),
		Source:      race.SourceROC,
	})
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}

func TestIngest_FinishedEventRefused(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	require.NoError(t, s.UpdateEventStatus(context.Background(), f.Event.ID, race.EventFinished))

	_, err := e.Ingest(context.Background(), PunchInput{
		EventID:     f.Event.ID,
		ChipID:      8000001,
		ControlCode: 1,
		PunchTime:   ts(t, "2026-06-13 10:00:00"),
		Source:      race.SourceROC,
	})
	require.Error(t, err)
	assert.True(t, IsAdmission(err))
}

func TestIngest_PausedRefusesLiveButNotFileImport(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	f.AddRider(t, s, testutil.Rider{Bib: 1, Chips: []int64{8000001}})
	ctx := context.Background()
	require.NoError(t, s.SetBoolSetting(ctx, race.SettingIngestPaused, true))

	_, err := e.Ingest(ctx, PunchInput{
		EventID:     f.Event.ID,
		ChipID:      8000001,
		ControlCode: 1,
		PunchTime:   ts(t, "2026-06-13 10:00:00"),
		Source:      race.SourceROC,
	})
	require.Error(t, err)
	assert.True(t, IsAdmission(err))

	res, err := e.Ingest(ctx, PunchInput{
		EventID:         f.Event.ID,
		ChipID:          8000001,
		ControlCode:     1,
		PunchTime:       ts(t, "2026-06-13 10:00:00"),
		Source:          race.SourceROC,
		BypassAdmission: true,
	})
	require.NoError(t, err)
	assert.NotZero(t, res.PunchID)
	assert.False(t, res.Duplicate)
}

func TestIngest_RedeliveredUpstreamPunchIgnored(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	f.AddRider(t, s, testutil.Rider{Bib: 1, Chips: []int64{8000001}})
	ctx := context.Background()

	upstream := int64(4711)
	first, err := e.Ingest(ctx, PunchInput{
		EventID:     f.Event.ID,
		ChipID:      8000001,
		ControlCode: 1,
		PunchTime:   ts(t, "2026-06-13 10:00:00"),
		Source:      race.SourceROC,
		UpstreamID:  &upstream,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.PunchID)

	again, err := e.Ingest(ctx, PunchInput{
		EventID:     f.Event.ID,
		ChipID:      8000001,
		ControlCode: 1,
		PunchTime:   ts(t, "2026-06-13 10:00:00"),
		Source:      race.SourceROC,
		UpstreamID:  &upstream,
	})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Zero(t, again.PunchID)

	punches, err := s.ListPunches(ctx, f.Event.ID, store.PunchFilter{ChipID: 8000001})
	require.NoError(t, err)
	assert.Len(t, punches, 1)
}

func TestIngest_DedupWindowAndPriority(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	f.AddRider(t, s, testutil.Rider{Bib: 1, Chips: []int64{8000001}})

	// First reading survives.
	res := mustIngest(t, e, f.Event.ID, 8000001, 1, "2026-06-13 10:00:00", race.SourceROC)
	assert.False(t, res.Duplicate)

	// Same source inside the window, even exactly on the boundary.
	res = mustIngest(t, e, f.Event.ID, 8000001, 1, "2026-06-13 10:00:02", race.SourceROC)
	assert.True(t, res.Duplicate)

	// A stronger source is not a duplicate of a weaker reading.
	res = mustIngest(t, e, f.Event.ID, 8000001, 1, "2026-06-13 10:00:01", race.SourceUSB)
	assert.False(t, res.Duplicate)

	// A middling source loses to the usb reading now in its window.
	res = mustIngest(t, e, f.Event.ID, 8000001, 1, "2026-06-13 10:00:02", race.SourceSIRAP)
	assert.True(t, res.Duplicate)

	// Outside the window everything survives.
	res = mustIngest(t, e, f.Event.ID, 8000001, 1, "2026-06-13 10:00:05", race.SourceROC)
	assert.False(t, res.Duplicate)
}

func TestIngest_DedupSpansBothChipsOfBib(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	f.AddRider(t, s, testutil.Rider{Bib: 1, Chips: []int64{8000001, 8000002}})

	res := mustIngest(t, e, f.Event.ID, 8000001, 1, "2026-06-13 10:00:00", race.SourceROC)
	assert.False(t, res.Duplicate)

	// The secondary chip reads the same gate a second later.
	res = mustIngest(t, e, f.Event.ID, 8000002, 1, "2026-06-13 10:00:01", race.SourceROC)
	assert.True(t, res.Duplicate)
}

func TestIngest_ManualPunchJournaled(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	f.AddRider(t, s, testutil.Rider{Bib: 12, Chips: []int64{8000012}})
	ctx := context.Background()

	res := mustIngest(t, e, f.Event.ID, 8000012, 1, "2026-06-13 10:00:00", race.SourceManual)

	entries, err := s.ListJournal(ctx, f.Event.ID, false)
	require.NoError(t, err)
	var manual *race.JournalEntry
	for i := range entries {
		if entries[i].Kind == race.JournalManualPunch {
			manual = &entries[i]
		}
	}
	require.NotNil(t, manual, "manual punch not journaled")

	var payload race.ManualPunchPayload
	require.NoError(t, json.Unmarshal(manual.Payload, &payload))
	assert.Equal(t, res.PunchID, payload.PunchID)
	assert.Equal(t, 12, payload.Bib)
	assert.Equal(t, 1, payload.ControlCode)
	assert.Equal(t, "2026-06-13 10:00:00", payload.PunchTime)
}

func TestIngest_UnmappedChipKeptWithoutRun(t *testing.T) {
	e, s, _ := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	ctx := context.Background()

	res := mustIngest(t, e, f.Event.ID, 7999999, 1, "2026-06-13 10:00:00", race.SourceROC)
	assert.Zero(t, res.Bib)
	assert.Nil(t, res.Run)
	assert.NotZero(t, res.PunchID)

	p, err := s.GetPunch(ctx, res.PunchID)
	require.NoError(t, err)
	assert.Equal(t, int64(7999999), p.ChipID)
	assert.False(t, p.IsDuplicate)
}

func TestIngest_PublishesObserverEvents(t *testing.T) {
	e, s, sink := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{Classes: []string{"Dam Elit"}})
	f.AddRider(t, s, testutil.Rider{
		Bib: 21, First: "Moa", Last: "Lind", Class: "Dam Elit", Chips: []int64{8000021},
	})

	mustIngest(t, e, f.Event.ID, 8000021, 1, "2026-06-13 10:00:00", race.SourceROC)

	// A start alone publishes the punch and the stage status, nothing else.
	punches := sink.ByKind(live.KindPunch)
	require.Len(t, punches, 1)
	pp := punches[0].Payload.(live.PunchPayload)
	assert.Equal(t, 21, pp.Bib)
	assert.Equal(t, "Moa Lind", pp.Name)
	assert.Equal(t, "Dam Elit", pp.ClassName)
	require.NotNil(t, pp.Run)
	assert.Equal(t, string(race.StatusPending), pp.Run.Status)
	assert.Empty(t, sink.ByKind(live.KindStandings))

	statuses := sink.ByKind(live.KindStageStatus)
	require.Len(t, statuses, 1)
	sp := statuses[0].Payload.(live.StageStatusPayload)
	assert.Equal(t, "running", sp.Status)
	assert.Equal(t, 1, sp.RidersOnCourse)

	sink.Reset()
	mustIngest(t, e, f.Event.ID, 8000021, 22, "2026-06-13 10:00:45", race.SourceROC)

	punches = sink.ByKind(live.KindPunch)
	require.Len(t, punches, 1)
	pp = punches[0].Payload.(live.PunchPayload)
	require.NotNil(t, pp.Run)
	assert.Equal(t, string(race.StatusOK), pp.Run.Status)
	require.NotNil(t, pp.Run.Elapsed)
	assert.InDelta(t, 45.0, *pp.Run.Elapsed, 0.001)

	standings := sink.ByKind(live.KindStandings)
	require.Len(t, standings, 1)
	st := standings[0].Payload.(live.StandingsPayload)
	assert.Equal(t, "Dam Elit", st.ClassName)
	require.Len(t, st.Rows, 1)
	require.NotNil(t, st.Rows[0].Position)
	assert.Equal(t, 1, *st.Rows[0].Position)

	statuses = sink.ByKind(live.KindStageStatus)
	require.Len(t, statuses, 1)
	sp = statuses[0].Payload.(live.StageStatusPayload)
	assert.Equal(t, "settled", sp.Status)
	assert.Equal(t, 1, sp.RidersFinished)
	require.NotNil(t, sp.Leader)
	assert.Equal(t, 21, sp.Leader.Bib)
}

func TestIngest_FrozenStandingsSuppressPublishesOnly(t *testing.T) {
	e, s, sink := newTestEngine(t)
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	entry := f.AddRider(t, s, testutil.Rider{Bib: 3, Chips: []int64{8000003}})
	ctx := context.Background()
	require.NoError(t, s.SetBoolSetting(ctx, race.SettingStandingsFrozen, true))

	mustIngest(t, e, f.Event.ID, 8000003, 1, "2026-06-13 10:00:00", race.SourceROC)
	mustIngest(t, e, f.Event.ID, 8000003, 22, "2026-06-13 10:00:40", race.SourceROC)

	assert.Empty(t, sink.ByKind(live.KindStandings))
	assert.Empty(t, sink.ByKind(live.KindHighlight))
	assert.Len(t, sink.ByKind(live.KindPunch), 2)

	// Results still accumulated underneath the freeze.
	overall, err := s.OverallForEntry(ctx, f.Event.ID, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, race.StatusOK, overall.Status)
	require.NotNil(t, overall.TotalSeconds)
	assert.InDelta(t, 40.0, *overall.TotalSeconds, 0.001)
}
