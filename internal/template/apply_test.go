package template

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
	"github.com/eklind/gravitytiming/internal/testutil"
)

func newEvent(t *testing.T, s *store.Store) *race.Event {
	t.Helper()
	ev := &race.Event{Name: "Mallrace", Date: "2026-07-04"}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	return ev
}

func TestApply_BuildsStructure(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()
	ev := newEvent(t, s)

	stats, err := Apply(ctx, s, ev.ID, Builtin("Downhill - 2 åk"))
	require.NoError(t, err)
	assert.Empty(t, stats.Warnings)
	assert.Equal(t, 11, stats.Created) // 4 controls, 1 stage, 1 course, 5 classes

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, race.FormatDownhill, got.Format)
	assert.Equal(t, race.StageOrderFixed, got.StageOrder)
	assert.Equal(t, race.PrecisionHundredths, got.TimePrecision)
	assert.Nil(t, got.DualSlalomWindow)

	controls, err := s.ListControls(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, controls, 4)
	codes := make([]int, len(controls))
	for i, c := range controls {
		codes[i] = c.Code
	}
	assert.Equal(t, []int{12, 22, 32, 52}, codes)
	assert.Equal(t, "Mellantid 1", controls[1].Name)
	assert.Equal(t, race.ControlSplit, controls[1].Type)

	stages, err := s.ListStages(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	st := stages[0]
	assert.Equal(t, "Downhill", st.Name)
	assert.Equal(t, controls[0].ID, st.StartControlID)
	assert.Equal(t, controls[3].ID, st.FinishControlID)
	assert.True(t, st.IsTimed)
	assert.Equal(t, 1, st.RunsToCount)
	require.NotNil(t, st.MaxRuns)
	assert.Equal(t, 2, *st.MaxRuns)

	courses, err := s.ListCourses(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "Downhill", courses[0].Name)
	assert.True(t, courses[0].AllowRepeat)

	links, err := s.ListCourseStages(ctx, courses[0].ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, st.ID, links[0].StageID)

	classes, err := s.ListClasses(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, classes, 5)
	names := make([]string, len(classes))
	for i, cl := range classes {
		names[i] = cl.Name
		assert.Equal(t, courses[0].ID, cl.CourseID)
	}
	assert.Equal(t, []string{"Dam Elite", "Dam Hobby", "Herr Elite", "Herr Hobby", "Ungdom"}, names)
}

func TestApply_ReplacesStructureKeepsPunches(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})

	punch := &race.Punch{
		EventID:     f.Event.ID,
		ChipID:      9001,
		ControlCode: 22,
		PunchTime:   time.Date(2026, 6, 13, 10, 0, 0, 0, time.UTC),
		Source:      race.SourceManual,
	}
	inserted, err := s.InsertPunch(ctx, punch)
	require.NoError(t, err)
	require.True(t, inserted)

	stats, err := Apply(ctx, s, f.Event.ID, Builtin("Enduro - Festival"))
	require.NoError(t, err)
	assert.Empty(t, stats.Warnings)
	assert.Equal(t, 11, stats.Created) // 6 controls, 3 stages, 1 course, 1 class

	stages, err := s.ListStages(ctx, f.Event.ID)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "SS1", stages[0].Name)

	classes, err := s.ListClasses(ctx, f.Event.ID)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "Open", classes[0].Name)

	got, err := s.GetEvent(ctx, f.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, race.StageOrderFree, got.StageOrder)

	punches, err := s.ListPunches(ctx, f.Event.ID, store.PunchFilter{})
	require.NoError(t, err)
	require.Len(t, punches, 1)
	assert.Equal(t, punch.ID, punches[0].ID)
}

func TestApply_RefusesWhileEntriesExist(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()
	f := testutil.BuildEvent(t, s, testutil.EventConfig{})
	f.AddRider(t, s, testutil.Rider{Bib: 7, Chips: []int64{9001}})

	_, err := Apply(ctx, s, f.Event.ID, Builtin("Enduro - Festival"))
	require.Error(t, err)

	// The refused apply leaves the event completely untouched.
	got, err := s.GetEvent(ctx, f.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, race.FormatEnduro, got.Format)
	assert.Equal(t, race.StageOrderFixed, got.StageOrder)

	stages, err := s.ListStages(ctx, f.Event.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, f.Stages[0].ID, stages[0].ID)

	entry, err := s.GetEntryByBib(ctx, f.Event.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, "Åkare7", entry.LastName)
}

func TestApply_CollectsWarningsAndSkips(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()
	ev := newEvent(t, s)

	doc := &Document{
		Format:        race.FormatEnduro,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionSeconds,
		Controls: []ControlSpec{
			{Code: 11, Name: "Start SS1", Type: race.ControlStart},
			{Code: 11, Name: "Start igen", Type: race.ControlStart},
			{Code: 12, Name: "Mål SS1", Type: race.ControlFinish},
		},
		Stages: []StageSpec{
			{StageNumber: 1, Name: "SS1", StartControlCode: 11, FinishControlCode: 12, IsTimed: true, RunsToCount: 1},
			{StageNumber: 2, Name: "SS2", StartControlCode: 99, FinishControlCode: 12, IsTimed: true, RunsToCount: 1},
			{StageNumber: 3, Name: "SS3", StartControlCode: 11, FinishControlCode: 98, IsTimed: true, RunsToCount: 1},
			{StageNumber: 1, Name: "SS1 igen", StartControlCode: 11, FinishControlCode: 12, IsTimed: true, RunsToCount: 1},
		},
		Courses: []CourseSpec{
			{Name: "Banan", Laps: 1, StageNumbers: []int{1, 7}},
			{Name: "Banan", Laps: 1},
		},
		Classes: []ClassSpec{
			{Name: "Open", CourseName: "Banan"},
			{Name: "Open", CourseName: "Banan"},
			{Name: "Elit", CourseName: "Saknad"},
		},
	}

	stats, err := Apply(ctx, s, ev.ID, doc)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Created) // 2 controls, 1 stage, 1 course, 2 classes
	assert.Equal(t, []string{
		"Dubblett kontrollkod: 11",
		"Stage 2: startkontroll 99 saknas",
		"Stage 3: målkontroll 98 saknas",
		"Dubblett stage-nummer: 1",
		"Bana 'Banan': stage 7 saknas",
		"Dubblett bana: Banan",
		"Dubblett klass: Open",
		"Klass 'Elit': bana 'Saknad' saknas, använder 'Banan'",
	}, stats.Warnings)

	classes, err := s.ListClasses(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, "Elit", classes[0].Name)
	assert.Equal(t, "Open", classes[1].Name)
	assert.Equal(t, classes[1].CourseID, classes[0].CourseID)
}

func TestApply_SkipsClassWhenNoCourseExists(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()
	ev := newEvent(t, s)

	doc := &Document{
		Format:        race.FormatEnduro,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionSeconds,
		Classes:       []ClassSpec{{Name: "Öppen", CourseName: "Banan"}},
	}
	stats, err := Apply(ctx, s, ev.ID, doc)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Equal(t, []string{"Klass 'Öppen': ingen bana finns"}, stats.Warnings)

	classes, err := s.ListClasses(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestExport_RoundTripsThroughApply(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()

	ev1 := newEvent(t, s)
	_, err := Apply(ctx, s, ev1.ID, Builtin("Downhill - Kval/Final"))
	require.NoError(t, err)

	doc1, err := Export(ctx, s, ev1.ID)
	require.NoError(t, err)
	assert.Equal(t, race.FormatDownhill, doc1.Format)
	require.Len(t, doc1.Controls, 4)
	require.Len(t, doc1.Stages, 2)
	assert.Equal(t, 12, doc1.Stages[0].StartControlCode)
	assert.Equal(t, 52, doc1.Stages[0].FinishControlCode)
	require.NotNil(t, doc1.Stages[0].MaxRuns)
	assert.Equal(t, 1, *doc1.Stages[0].MaxRuns)
	require.Len(t, doc1.Courses, 1)
	assert.Equal(t, []int{1, 2}, doc1.Courses[0].StageNumbers)
	require.Len(t, doc1.Classes, 5)
	assert.Equal(t, "Dam Elite", doc1.Classes[0].Name) // the store lists classes by name
	assert.Equal(t, "Downhill KF", doc1.Classes[0].CourseName)

	// An exported document passes schema validation.
	data, err := json.Marshal(doc1)
	require.NoError(t, err)
	_, err = Parse(data)
	require.NoError(t, err)

	// Applying an export to a fresh event and exporting again is a
	// fixed point.
	ev2 := newEvent(t, s)
	_, err = Apply(ctx, s, ev2.ID, doc1)
	require.NoError(t, err)
	doc2, err := Export(ctx, s, ev2.ID)
	require.NoError(t, err)
	assert.Equal(t, doc1, doc2)
}

func TestExport_CarriesDualSlalomWindow(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()
	ev := newEvent(t, s)

	_, err := Apply(ctx, s, ev.ID, Builtin("Dual Slalom"))
	require.NoError(t, err)

	doc, err := Export(ctx, s, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, race.FormatDualSlalom, doc.Format)
	require.NotNil(t, doc.DualSlalomWindow)
	assert.Equal(t, 5.0, *doc.DualSlalomWindow)
}

func TestResolve_BuiltinSavedAndMissing(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()

	doc, err := Resolve(ctx, s, "XCO")
	require.NoError(t, err)
	assert.Equal(t, race.FormatXC, doc.Format)

	data, err := json.Marshal(Builtin("Enduro - Festival"))
	require.NoError(t, err)
	require.NoError(t, s.SaveTemplate(ctx, "Klubbkväll", data))

	saved, err := Resolve(ctx, s, "Klubbkväll")
	require.NoError(t, err)
	assert.Equal(t, Builtin("Enduro - Festival"), saved)

	// A saved template cannot shadow a built-in name.
	require.NoError(t, s.SaveTemplate(ctx, "XCO", data))
	shadowed, err := Resolve(ctx, s, "XCO")
	require.NoError(t, err)
	assert.Equal(t, race.FormatXC, shadowed.Format)

	_, err = Resolve(ctx, s, "Finns inte")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveTemplate(ctx, "Trasig", json.RawMessage(`{"format": "bmx"}`)))
	_, err = Resolve(ctx, s, "Trasig")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
