package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eklind/gravitytiming/internal/race"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testFixture is a minimal event: one timed stage between controls 1 and
// 22, one course, one class.
type testFixture struct {
	Event  *race.Event
	Start  *race.Control
	Finish *race.Control
	Stage  *race.Stage
	Course *race.Course
	Class  *race.Class
}

func createTestFixture(t *testing.T, s *Store) *testFixture {
	t.Helper()
	ctx := context.Background()

	ev := &race.Event{Name: "Testloppet", Date: "2026-06-13"}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	start := &race.Control{EventID: ev.ID, Code: 1, Name: "Start SS1", Type: race.ControlStart}
	if err := s.CreateControl(ctx, start); err != nil {
		t.Fatalf("CreateControl(start) failed: %v", err)
	}
	finish := &race.Control{EventID: ev.ID, Code: 22, Name: "Mål SS1", Type: race.ControlFinish}
	if err := s.CreateControl(ctx, finish); err != nil {
		t.Fatalf("CreateControl(finish) failed: %v", err)
	}

	stage := &race.Stage{
		EventID:         ev.ID,
		StageNumber:     1,
		Name:            "SS1",
		StartControlID:  start.ID,
		FinishControlID: finish.ID,
		IsTimed:         true,
	}
	if err := s.CreateStage(ctx, stage); err != nil {
		t.Fatalf("CreateStage() failed: %v", err)
	}

	course := &race.Course{EventID: ev.ID, Name: "Huvudbana"}
	if err := s.CreateCourse(ctx, course); err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	if err := s.LinkCourseStage(ctx, course.ID, stage.ID, 1); err != nil {
		t.Fatalf("LinkCourseStage() failed: %v", err)
	}

	class := &race.Class{EventID: ev.ID, CourseID: course.ID, Name: "Herr Elite"}
	if err := s.CreateClass(ctx, class); err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}

	return &testFixture{Event: ev, Start: start, Finish: finish, Stage: stage, Course: course, Class: class}
}

func createTestEntry(t *testing.T, s *Store, f *testFixture, bib int) *race.Entry {
	t.Helper()
	e := &race.Entry{
		EventID:   f.Event.ID,
		Bib:       bib,
		FirstName: "Erik",
		LastName:  "Andersson",
		Club:      "CK Granit",
		ClassID:   f.Class.ID,
	}
	if err := s.CreateEntry(context.Background(), e); err != nil {
		t.Fatalf("CreateEntry(bib %d) failed: %v", bib, err)
	}
	return e
}

// punchTime parses a timestamp literal for fixtures.
func punchTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := race.ParsePunchTime(s)
	if err != nil {
		t.Fatalf("bad punch time %q: %v", s, err)
	}
	return ts
}

func insertTestPunch(t *testing.T, s *Store, eventID, chipID int64, code int, at string) *race.Punch {
	t.Helper()
	p := &race.Punch{
		EventID:     eventID,
		ChipID:      chipID,
		ControlCode: code,
		PunchTime:   punchTime(t, at),
		Source:      race.SourceROC,
	}
	inserted, err := s.InsertPunch(context.Background(), p)
	if err != nil {
		t.Fatalf("InsertPunch() failed: %v", err)
	}
	if !inserted {
		t.Fatalf("InsertPunch() treated a fresh punch as re-delivered")
	}
	return p
}

func floatPtr(f float64) *float64 { return &f }
