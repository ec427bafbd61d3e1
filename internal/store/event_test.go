package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/eklind/gravitytiming/internal/race"
)

func TestCreateEvent_Defaults(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := &race.Event{Name: "Vinterenduro", Date: "2026-02-07"}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}
	if ev.ID == 0 {
		t.Error("CreateEvent() did not set ID")
	}

	got, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if got.Format != race.FormatEnduro {
		t.Errorf("format = %q, want enduro", got.Format)
	}
	if got.StageOrder != race.StageOrderFixed {
		t.Errorf("stage_order = %q, want fixed", got.StageOrder)
	}
	if got.TimePrecision != race.PrecisionSeconds {
		t.Errorf("time_precision = %q, want seconds", got.TimePrecision)
	}
	if got.Tiebreak != race.TiebreakSequential {
		t.Errorf("tiebreak = %q, want sequential", got.Tiebreak)
	}
	if got.Status != race.EventSetup {
		t.Errorf("status = %q, want setup", got.Status)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at was not set")
	}
}

func TestCreateEvent_AllFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	window := 5.0
	ev := &race.Event{
		Name:             "Dualslalom i Åre",
		Date:             "2026-07-18",
		Location:         "Åre Bike Park",
		Format:           race.FormatDualSlalom,
		StageOrder:       race.StageOrderFree,
		TimePrecision:    race.PrecisionHundredths,
		Tiebreak:         race.TiebreakTied,
		DualSlalomWindow: &window,
		UpstreamCompID:   "roc-1234",
	}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	got, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if got.Name != ev.Name {
		t.Errorf("name = %q, want %q", got.Name, ev.Name)
	}
	if got.Location != ev.Location {
		t.Errorf("location = %q, want %q", got.Location, ev.Location)
	}
	if got.Format != race.FormatDualSlalom {
		t.Errorf("format = %q, want dual_slalom", got.Format)
	}
	if got.DualSlalomWindow == nil || *got.DualSlalomWindow != 5.0 {
		t.Errorf("dual_slalom_window = %v, want 5.0", got.DualSlalomWindow)
	}
	if got.UpstreamCompID != "roc-1234" {
		t.Errorf("upstream_comp_id = %q, want roc-1234", got.UpstreamCompID)
	}
	if got.Tiebreak != race.TiebreakTied {
		t.Errorf("tiebreak = %q, want tied", got.Tiebreak)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetEvent(context.Background(), 999)
	if err != sql.ErrNoRows {
		t.Errorf("GetEvent(999) = %v, want sql.ErrNoRows", err)
	}
}

func TestListEvents_OrderAndFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	older := &race.Event{Name: "Vårenduro", Date: "2026-05-02"}
	newer := &race.Event{Name: "Sommarenduro", Date: "2026-06-13"}
	done := &race.Event{Name: "Fjolårsenduro", Date: "2026-04-11"}
	for _, ev := range []*race.Event{older, newer, done} {
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("CreateEvent() failed: %v", err)
		}
	}
	if err := s.UpdateEventStatus(ctx, done.ID, race.EventFinished); err != nil {
		t.Fatalf("UpdateEventStatus() failed: %v", err)
	}

	events, err := s.ListEvents(ctx, false)
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (finished excluded)", len(events))
	}
	if events[0].ID != newer.ID || events[1].ID != older.ID {
		t.Errorf("order = [%s, %s], want newest date first", events[0].Name, events[1].Name)
	}

	all, err := s.ListEvents(ctx, true)
	if err != nil {
		t.Fatalf("ListEvents(includeFinished) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestListEvents_Empty(t *testing.T) {
	s := createTestStore(t)

	events, err := s.ListEvents(context.Background(), true)
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if events == nil {
		t.Error("ListEvents() returned nil, want empty slice")
	}
	if len(events) != 0 {
		t.Errorf("len(events) = %d, want 0", len(events))
	}
}

func TestActiveEvent_SkipsFinished(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := &race.Event{Name: "Deltävling 1", Date: "2026-05-02"}
	second := &race.Event{Name: "Deltävling 2", Date: "2026-06-13"}
	for _, ev := range []*race.Event{first, second} {
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("CreateEvent() failed: %v", err)
		}
	}

	active, err := s.ActiveEvent(ctx)
	if err != nil {
		t.Fatalf("ActiveEvent() failed: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("ActiveEvent() = %d, want most recent %d", active.ID, second.ID)
	}

	if err := s.UpdateEventStatus(ctx, second.ID, race.EventFinished); err != nil {
		t.Fatalf("UpdateEventStatus() failed: %v", err)
	}
	active, err = s.ActiveEvent(ctx)
	if err != nil {
		t.Fatalf("ActiveEvent() after finish failed: %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("ActiveEvent() = %d, want %d after newer event finished", active.ID, first.ID)
	}

	if err := s.UpdateEventStatus(ctx, first.ID, race.EventFinished); err != nil {
		t.Fatalf("UpdateEventStatus() failed: %v", err)
	}
	if _, err := s.ActiveEvent(ctx); err != sql.ErrNoRows {
		t.Errorf("ActiveEvent() with all finished = %v, want sql.ErrNoRows", err)
	}
}

func TestUpdateEvent_RewritesFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := &race.Event{Name: "Utkast", Date: "2026-06-13"}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	ev.Name = "Järvsö Enduro"
	ev.Location = "Järvsö"
	ev.Format = race.FormatDownhill
	ev.TimePrecision = race.PrecisionHundredths
	if err := s.UpdateEvent(ctx, ev); err != nil {
		t.Fatalf("UpdateEvent() failed: %v", err)
	}

	got, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if got.Name != "Järvsö Enduro" || got.Location != "Järvsö" {
		t.Errorf("update not applied: name=%q location=%q", got.Name, got.Location)
	}
	if got.Format != race.FormatDownhill {
		t.Errorf("format = %q, want downhill", got.Format)
	}
	// Status is lifecycle-managed and must not change here
	if got.Status != race.EventSetup {
		t.Errorf("status = %q, want setup untouched", got.Status)
	}
}

func TestStructureCounts(t *testing.T) {
	s := createTestStore(t)
	f := createTestFixture(t, s)

	controls, stages, classes, err := s.StructureCounts(context.Background(), f.Event.ID)
	if err != nil {
		t.Fatalf("StructureCounts() failed: %v", err)
	}
	if controls != 2 || stages != 1 || classes != 1 {
		t.Errorf("counts = (%d, %d, %d), want (2, 1, 1)", controls, stages, classes)
	}
}

func TestDeleteEvent_CascadesAllData(t *testing.T) {
	s := createTestStore(t)
	f := createTestFixture(t, s)
	e := createTestEntry(t, s, f, 7)
	ctx := context.Background()

	// Keep a second event around to prove deletion is scoped
	other := createTestFixture(t, s)

	if err := s.AssignChip(ctx, &race.ChipMapping{EventID: f.Event.ID, Bib: 7, ChipID: 500, IsPrimary: true}); err != nil {
		t.Fatalf("AssignChip() failed: %v", err)
	}
	insertTestPunch(t, s, f.Event.ID, 500, 22, "2026-06-13 10:00:00")
	run := &race.StageRun{EventID: f.Event.ID, EntryID: e.ID, StageID: f.Stage.ID}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	if err := s.UpsertOverall(ctx, &race.OverallResult{EventID: f.Event.ID, EntryID: e.ID, Status: race.StatusPending}); err != nil {
		t.Fatalf("UpsertOverall() failed: %v", err)
	}
	if err := s.AppendAudit(ctx, &AuditEntry{EventID: &f.Event.ID, Action: "event_created"}); err != nil {
		t.Fatalf("AppendAudit() failed: %v", err)
	}

	if err := s.DeleteEvent(ctx, f.Event.ID); err != nil {
		t.Fatalf("DeleteEvent() failed: %v", err)
	}

	if _, err := s.GetEvent(ctx, f.Event.ID); err != sql.ErrNoRows {
		t.Errorf("GetEvent() after delete = %v, want sql.ErrNoRows", err)
	}

	tables := []string{
		"controls", "stages", "courses", "classes", "entries",
		"chip_mappings", "punches", "stage_runs", "overall_results",
		"journal", "audit_log",
	}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE event_id = ?", f.Event.ID).Scan(&count)
		if err != nil {
			t.Fatalf("count %s failed: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s still has %d rows for deleted event", table, count)
		}
	}

	// The other event's structure must survive
	controls, stages, classes, err := s.StructureCounts(ctx, other.Event.ID)
	if err != nil {
		t.Fatalf("StructureCounts() failed: %v", err)
	}
	if controls != 2 || stages != 1 || classes != 1 {
		t.Errorf("other event lost structure: (%d, %d, %d)", controls, stages, classes)
	}
}

func TestDataCounts(t *testing.T) {
	s := createTestStore(t)
	f := createTestFixture(t, s)
	ctx := context.Background()

	entries, punches, runs, err := s.DataCounts(ctx, f.Event.ID)
	if err != nil {
		t.Fatalf("DataCounts() failed: %v", err)
	}
	if entries != 0 || punches != 0 || runs != 0 {
		t.Errorf("fresh event counts = %d/%d/%d, want 0/0/0", entries, punches, runs)
	}

	e := createTestEntry(t, s, f, 1)
	insertTestPunch(t, s, f.Event.ID, 500, 1, "2026-06-13 10:00:00")
	insertTestPunch(t, s, f.Event.ID, 500, 22, "2026-06-13 10:01:00")

	live := &race.StageRun{EventID: f.Event.ID, EntryID: e.ID, StageID: f.Stage.ID}
	if err := s.CreateRun(ctx, live); err != nil {
		t.Fatalf("CreateRun(live) failed: %v", err)
	}
	old := &race.StageRun{EventID: f.Event.ID, EntryID: e.ID, StageID: f.Stage.ID, Attempt: 2}
	if err := s.CreateRun(ctx, old); err != nil {
		t.Fatalf("CreateRun(old) failed: %v", err)
	}
	if err := s.SupersedeRun(ctx, f.Event.ID, old.ID, race.RunSupersededPayload{RunID: old.ID}); err != nil {
		t.Fatalf("SupersedeRun() failed: %v", err)
	}

	entries, punches, runs, err = s.DataCounts(ctx, f.Event.ID)
	if err != nil {
		t.Fatalf("DataCounts() failed: %v", err)
	}
	if entries != 1 {
		t.Errorf("entries = %d, want 1", entries)
	}
	if punches != 2 {
		t.Errorf("punches = %d, want 2", punches)
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1 (superseded run excluded)", runs)
	}
}
