package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eklind/gravitytiming/internal/race"
)

func TestBackup_CreatesFileInBackupsDir(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestFixture(t, s)

	info, err := s.Backup(ctx, "manual")
	if err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}

	if !strings.HasPrefix(info.Filename, "gravitytiming_") {
		t.Errorf("filename = %q, want gravitytiming_ prefix", info.Filename)
	}
	if !strings.HasSuffix(info.Filename, "_manual.db") {
		t.Errorf("filename = %q, want _manual.db suffix", info.Filename)
	}
	wantPath := filepath.Join(filepath.Dir(s.Path()), "backups", info.Filename)
	if info.Path != wantPath {
		t.Errorf("path = %q, want %q", info.Path, wantPath)
	}

	stat, err := os.Stat(info.Path)
	if err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("backup file is empty")
	}
	if info.SizeMB <= 0 {
		t.Errorf("size = %v MB, want > 0", info.SizeMB)
	}
}

func TestListBackups_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	dir := filepath.Join(filepath.Dir(s.Path()), "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	// The stamp sorts lexicographically, so filename order is time order.
	files := []string{
		"gravitytiming_20260613_090000.db",
		"gravitytiming_20260613_100000_manual.db",
		"notes.txt",
		"other_20260613_110000.db",
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s failed: %v", name, err)
		}
	}

	backups, err := s.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups() failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("len(backups) = %d, want 2", len(backups))
	}
	if backups[0].Filename != "gravitytiming_20260613_100000_manual.db" {
		t.Errorf("backups[0] = %q, want the newer file", backups[0].Filename)
	}
	if backups[0].Created != "20260613_100000" {
		t.Errorf("created = %q, want 20260613_100000", backups[0].Created)
	}
	if backups[1].Created != "20260613_090000" {
		t.Errorf("created = %q, want 20260613_090000", backups[1].Created)
	}
}

func TestListBackups_EmptyWhenNoDir(t *testing.T) {
	s := createTestStore(t)

	backups, err := s.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups() failed: %v", err)
	}
	if backups == nil {
		t.Fatal("ListBackups() returned nil, want empty slice")
	}
	if len(backups) != 0 {
		t.Errorf("len(backups) = %d, want 0", len(backups))
	}
}

func TestRestore_RevertsToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	before := &race.Event{Name: "Vårracet", Date: "2026-05-01"}
	if err := s.CreateEvent(ctx, before); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	info, err := s.Backup(ctx, "before")
	if err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}

	after := &race.Event{Name: "Höstracet", Date: "2026-09-01"}
	if err := s.CreateEvent(ctx, after); err != nil {
		t.Fatalf("second CreateEvent() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := Restore(ctx, path, info.Filename); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	restored, err := Open(path)
	if err != nil {
		t.Fatalf("Open() after restore failed: %v", err)
	}
	defer restored.Close()

	events, err := restored.ListEvents(ctx, true)
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Name != "Vårracet" {
		t.Errorf("event = %q, want Vårracet", events[0].Name)
	}

	// The pre-restore state must itself have been snapshotted.
	backups, err := restored.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups() failed: %v", err)
	}
	found := false
	for _, b := range backups {
		if strings.HasSuffix(b.Filename, "_pre_restore.db") {
			found = true
		}
	}
	if !found {
		t.Error("no pre_restore backup was created")
	}
}

func TestRestore_RejectsPathTraversal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.Close()

	if err := Restore(context.Background(), path, "../outside.db"); err == nil {
		t.Error("Restore() accepted a filename with a path separator")
	}
}

func TestRestore_MissingBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.Close()

	if err := Restore(context.Background(), path, "gravitytiming_20260101_000000.db"); err == nil {
		t.Error("Restore() succeeded for a backup that does not exist")
	}
}
