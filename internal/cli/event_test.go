package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCreateText(t *testing.T) {
	db := testDB(t)

	out := mustRun(t, db, "event", "create", "Klubbmästerskapet", "--date", "2026-09-05", "--location", "Järvsö")
	assert.Contains(t, out, "Created event 1: Klubbmästerskapet (2026-09-05)")

	out = mustRun(t, db, "event", "list")
	assert.Contains(t, out, "Klubbmästerskapet")
	assert.Contains(t, out, "setup")
	assert.Contains(t, out, "(Järvsö)")
}

func TestEventCreateJSON(t *testing.T) {
	db := testDB(t)

	out := mustRun(t, db, "--format", "json", "event", "create", "Testrace", "--date", "2026-06-06")
	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	event, ok := data["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Testrace", event["name"])
	assert.Equal(t, "setup", event["status"])
	assert.Equal(t, "enduro", event["format"])
}

func TestEventCreateWithTemplate(t *testing.T) {
	db := testDB(t)

	out := mustRun(t, db, "event", "create", "Järvsö DH", "--template", "Downhill - 2 åk", "--roc-unit", "12345")
	assert.Contains(t, out, "Created event 1: Järvsö DH")
	assert.Contains(t, out, `Applied template "Downhill - 2 åk"`)

	out = mustRun(t, db, "event", "status", "--event", "1")
	assert.Contains(t, out, "downhill")
	assert.Contains(t, out, "hundredths precision")
	assert.Contains(t, out, `unit "12345"`)
}

func TestEventCreateInvalidDate(t *testing.T) {
	db := testDB(t)

	_, _, err := runCLI(t, db, "event", "create", "Broken", "--date", "06/06/2026")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEventCreateUnknownTemplate(t *testing.T) {
	db := testDB(t)

	_, _, err := runCLI(t, db, "event", "create", "Broken", "--template", "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `template "Nope"`)

	// The template resolves before anything is written.
	out := mustRun(t, db, "event", "list")
	assert.Contains(t, out, "No events.")
}

func TestEventActivateRequiresStructure(t *testing.T) {
	db := testDB(t)
	mustRun(t, db, "event", "create", "Bare", "--date", "2026-06-06")

	stdout, _, err := runCLI(t, db, "event", "activate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "cannot activate event 1")
	assert.Contains(t, stdout, "Error [configuration]:")
	assert.Contains(t, stdout, "no controls")
}

func TestEventLifecycle(t *testing.T) {
	db := setupEnduro(t)

	out := mustRun(t, db, "event", "finish")
	assert.Contains(t, out, "Finished event 1: Testrace")

	// Finished events drop out of the default listing.
	out = mustRun(t, db, "event", "list")
	assert.Contains(t, out, "No events.")

	out = mustRun(t, db, "event", "list", "--all")
	assert.Contains(t, out, "Testrace")
	assert.Contains(t, out, "finished")
}

func TestEventStatus(t *testing.T) {
	db := setupEnduro(t)

	out := mustRun(t, db, "event", "status")
	assert.Contains(t, out, "Event 1: Testrace (2026-06-06) [active]")
	assert.Contains(t, out, "enduro, fixed order, seconds precision")
	assert.Contains(t, out, "10 controls, 5 stages, 5 classes")
	assert.Contains(t, out, "2 entries, 0 punches, 0 runs")
	assert.Contains(t, out, "ingest_paused=false")
}

func TestEventDelete(t *testing.T) {
	db := setupEnduro(t)

	stdout, _, err := runCLI(t, db, "event", "delete", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "pass --force")
	assert.Contains(t, stdout, "Error [command]:")

	out := mustRun(t, db, "event", "delete", "1", "--force")
	assert.Contains(t, out, "Deleted event 1: Testrace")

	out = mustRun(t, db, "event", "list", "--all")
	assert.Contains(t, out, "No events.")
}
