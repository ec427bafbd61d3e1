package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI executes one command against the database at dbPath and
// captures stdout and stderr.
func runCLI(t *testing.T, dbPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// mustRun executes a command that is expected to succeed and returns
// its stdout.
func mustRun(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	stdout, stderr, err := runCLI(t, dbPath, args...)
	require.NoError(t, err, "command %v failed: %s", args, stderr)
	return stdout
}

// testDB returns a database path inside the test's temp dir.
func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "race.db")
}

// writeTestFile drops content next to the database and returns its path.
func writeTestFile(t *testing.T, dbPath, name, content string) string {
	t.Helper()
	path := filepath.Join(filepath.Dir(dbPath), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// setupEnduro creates, populates and activates a five-stage enduro
// event with two riders. Bib 101 carries chip 8111111, bib 102 chip
// 8222222. SS1 runs start control 11 to finish control 12.
func setupEnduro(t *testing.T) string {
	t.Helper()
	db := testDB(t)
	mustRun(t, db, "event", "create", "Testrace",
		"--date", "2026-06-06", "--template", "Enduro - Tävling")
	startlist := writeTestFile(t, db, "startlist.csv",
		"101;Erik;Lund;Järvsö CK;Herr Elite\n102;Anna;Berg;Åre SK;Dam Elite\n")
	mustRun(t, db, "import", "startlist", startlist)
	chips := writeTestFile(t, db, "chips.csv", "101;8111111\n102;8222222\n")
	mustRun(t, db, "import", "chips", chips)
	mustRun(t, db, "event", "activate")
	return db
}

// decodeResponse unmarshals a JSON envelope from stdout.
func decodeResponse(t *testing.T, stdout string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	return resp
}
