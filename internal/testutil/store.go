// Package testutil provides deterministic fixtures for tests: a
// file-backed store in a temp dir, a builder for fully wired event
// structures, and a sink that captures observer events for assertions.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/eklind/gravitytiming/internal/store"
)

// OpenStore opens a fresh file-backed store under t.TempDir and closes
// it when the test ends.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
