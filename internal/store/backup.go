package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// backupPrefix names backup files gravitytiming_YYYYMMDD_HHMMSS[_label].db.
const backupPrefix = "gravitytiming_"

// DefaultAutoBackupInterval is how often the live loop snapshots the
// database.
const DefaultAutoBackupInterval = 10 * time.Minute

// BackupInfo describes one backup file.
type BackupInfo struct {
	Filename string
	Path     string
	SizeMB   float64
	Created  string
}

// backupDir returns the backups directory next to the database file.
func (s *Store) backupDir() string {
	return filepath.Join(filepath.Dir(s.path), "backups")
}

// Backup snapshots the database into the backups directory using VACUUM
// INTO, which produces a consistent copy without blocking readers. The
// label, when non-empty, is appended to the filename.
func (s *Store) Backup(ctx context.Context, label string) (*BackupInfo, error) {
	dir := s.backupDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	suffix := ""
	if label != "" {
		suffix = "_" + label
	}
	name := fmt.Sprintf("%s%s%s.db", backupPrefix, time.Now().Format("20060102_150405"), suffix)
	path := filepath.Join(dir, name)

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("backup database: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}
	return &BackupInfo{
		Filename: name,
		Path:     path,
		SizeMB:   float64(info.Size()) / 1024 / 1024,
		Created:  backupCreated(name),
	}, nil
}

// ListBackups returns all backup files, newest first.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	dir := s.backupDir()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat backup: %w", err)
		}
		backups = append(backups, BackupInfo{
			Filename: name,
			Path:     filepath.Join(dir, name),
			SizeMB:   float64(info.Size()) / 1024 / 1024,
			Created:  backupCreated(name),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Filename > backups[j].Filename
	})
	if backups == nil {
		backups = []BackupInfo{}
	}
	return backups, nil
}

// Restore replaces the database at dbPath with a backup file. The current
// state is snapshotted as a pre_restore backup first, so a mistaken
// restore is itself recoverable.
//
// The caller must not hold an open Store on dbPath; Restore opens the file
// itself for the pre_restore snapshot and overwrites it afterwards.
func Restore(ctx context.Context, dbPath, filename string) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid backup filename %q", filename)
	}
	backupPath := filepath.Join(filepath.Dir(dbPath), "backups", filename)
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup %q not found: %w", filename, err)
	}

	current, err := Open(dbPath)
	if err != nil {
		return fmt.Errorf("open current database: %w", err)
	}
	if _, err := current.Backup(ctx, "pre_restore"); err != nil {
		current.Close()
		return err
	}
	if err := current.Close(); err != nil {
		return fmt.Errorf("close current database: %w", err)
	}

	if err := copyFile(backupPath, dbPath); err != nil {
		return fmt.Errorf("restore database: %w", err)
	}

	// Stale WAL sidecars would resurrect pre-restore state on next open.
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
	return nil
}

// backupCreated extracts the YYYYMMDD_HHMMSS stamp from a backup filename.
func backupCreated(name string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".db")
	parts := strings.SplitN(trimmed, "_", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "_" + parts[1]
}

// copyFile copies src over dst, replacing it.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
