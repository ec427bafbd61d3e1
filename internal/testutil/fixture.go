package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
)

// StageConfig describes one timed stage of a test event.
type StageConfig struct {
	Number      int
	StartCode   int
	FinishCode  int
	RunsToCount int
	MaxRuns     int // 0 = unlimited
}

// EventConfig describes the structure BuildEvent assembles. Zero values
// fall back to a one-stage enduro with controls 1 and 22 and a single
// class.
type EventConfig struct {
	Name     string
	Format   race.Format
	Stages   []StageConfig
	Classes  []string
	Window   float64 // dual slalom grouping window, 0 = unset
	Tiebreak race.Tiebreak
}

// EventFixture is a fully wired event: every stage bounded by its own
// start and finish control, one course linking all stages in order, and
// the configured classes bound to that course.
type EventFixture struct {
	Event   *race.Event
	Stages  []race.Stage
	Course  *race.Course
	Classes map[string]*race.Class

	classOrder []string
}

// Rider is one competitor to add to a fixture. Class defaults to the
// fixture's first class; Chips lists the rider's chip ids, first one
// primary.
type Rider struct {
	Bib   int
	First string
	Last  string
	Club  string
	Class string
	Chips []int64
}

// BuildEvent creates the event structure described by cfg.
func BuildEvent(t *testing.T, s *store.Store, cfg EventConfig) *EventFixture {
	t.Helper()
	ctx := context.Background()

	if cfg.Name == "" {
		cfg.Name = "Testloppet"
	}
	if cfg.Format == "" {
		cfg.Format = race.FormatEnduro
	}
	if len(cfg.Stages) == 0 {
		cfg.Stages = []StageConfig{{Number: 1, StartCode: 1, FinishCode: 22}}
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = []string{"Herr Elit"}
	}

	ev := &race.Event{
		Name:     cfg.Name,
		Date:     "2026-06-13",
		Format:   cfg.Format,
		Tiebreak: cfg.Tiebreak,
	}
	if cfg.Window > 0 {
		w := cfg.Window
		ev.DualSlalomWindow = &w
	}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	f := &EventFixture{Event: ev, Classes: map[string]*race.Class{}}

	course := &race.Course{EventID: ev.ID, Name: "Huvudbana"}
	if err := s.CreateCourse(ctx, course); err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	f.Course = course

	for i, sc := range cfg.Stages {
		start := &race.Control{
			EventID: ev.ID,
			Code:    sc.StartCode,
			Name:    fmt.Sprintf("Start SS%d", sc.Number),
			Type:    race.ControlStart,
		}
		if err := s.CreateControl(ctx, start); err != nil {
			t.Fatalf("CreateControl(start %d) failed: %v", sc.StartCode, err)
		}
		finish := &race.Control{
			EventID: ev.ID,
			Code:    sc.FinishCode,
			Name:    fmt.Sprintf("Mål SS%d", sc.Number),
			Type:    race.ControlFinish,
		}
		if err := s.CreateControl(ctx, finish); err != nil {
			t.Fatalf("CreateControl(finish %d) failed: %v", sc.FinishCode, err)
		}

		stage := race.Stage{
			EventID:         ev.ID,
			StageNumber:     sc.Number,
			Name:            fmt.Sprintf("SS%d", sc.Number),
			StartControlID:  start.ID,
			FinishControlID: finish.ID,
			IsTimed:         true,
			RunsToCount:     sc.RunsToCount,
		}
		if sc.MaxRuns > 0 {
			m := sc.MaxRuns
			stage.MaxRuns = &m
		}
		if err := s.CreateStage(ctx, &stage); err != nil {
			t.Fatalf("CreateStage(SS%d) failed: %v", sc.Number, err)
		}
		if err := s.LinkCourseStage(ctx, course.ID, stage.ID, i+1); err != nil {
			t.Fatalf("LinkCourseStage(SS%d) failed: %v", sc.Number, err)
		}
		f.Stages = append(f.Stages, stage)
	}

	for _, name := range cfg.Classes {
		cl := &race.Class{EventID: ev.ID, CourseID: course.ID, Name: name}
		if err := s.CreateClass(ctx, cl); err != nil {
			t.Fatalf("CreateClass(%s) failed: %v", name, err)
		}
		f.Classes[name] = cl
		f.classOrder = append(f.classOrder, name)
	}

	return f
}

// AddRider registers a competitor and maps their chips.
func (f *EventFixture) AddRider(t *testing.T, s *store.Store, r Rider) *race.Entry {
	t.Helper()
	ctx := context.Background()

	if r.First == "" {
		r.First = "Erik"
	}
	if r.Last == "" {
		r.Last = fmt.Sprintf("Åkare%d", r.Bib)
	}
	if r.Class == "" {
		r.Class = f.classOrder[0]
	}
	cl, ok := f.Classes[r.Class]
	if !ok {
		t.Fatalf("AddRider: unknown class %q", r.Class)
	}

	entry := &race.Entry{
		EventID:   f.Event.ID,
		Bib:       r.Bib,
		FirstName: r.First,
		LastName:  r.Last,
		Club:      r.Club,
		ClassID:   cl.ID,
	}
	if err := s.CreateEntry(ctx, entry); err != nil {
		t.Fatalf("CreateEntry(bib %d) failed: %v", r.Bib, err)
	}
	for i, chip := range r.Chips {
		m := &race.ChipMapping{
			EventID:   f.Event.ID,
			Bib:       r.Bib,
			ChipID:    chip,
			IsPrimary: i == 0,
		}
		if err := s.AssignChip(ctx, m); err != nil {
			t.Fatalf("AssignChip(bib %d, chip %d) failed: %v", r.Bib, chip, err)
		}
	}
	return entry
}

// Stage returns the fixture stage with the given stage number.
func (f *EventFixture) Stage(t *testing.T, number int) *race.Stage {
	t.Helper()
	for i := range f.Stages {
		if f.Stages[i].StageNumber == number {
			return &f.Stages[i]
		}
	}
	t.Fatalf("fixture has no stage %d", number)
	return nil
}
