package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupCreateAndList(t *testing.T) {
	db := setupEnduro(t)

	out := mustRun(t, db, "backup", "list")
	assert.Contains(t, out, "No backups yet.")

	out = mustRun(t, db, "backup", "create", "--label", "fore_start")
	assert.Contains(t, out, "Backup written: gravitytiming_")
	assert.Contains(t, out, "_fore_start.db")

	out = mustRun(t, db, "backup", "list")
	assert.Contains(t, out, "_fore_start.db")
	assert.Contains(t, out, "MB")
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	db := setupEnduro(t)

	out := mustRun(t, db, "--format", "json", "backup", "create")
	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	filename, ok := data["filename"].(string)
	require.True(t, ok)

	mustRun(t, db, "event", "delete", "1", "--force")
	out = mustRun(t, db, "event", "list", "--all")
	assert.Contains(t, out, "No events.")

	out = mustRun(t, db, "backup", "restore", filename)
	assert.Contains(t, out, "Restored "+filename)
	assert.Contains(t, out, "pre_restore snapshot kept")

	// The deleted event is back.
	out = mustRun(t, db, "event", "list")
	assert.Contains(t, out, "Testrace")

	// The pre-restore state is itself recoverable.
	out = mustRun(t, db, "backup", "list")
	assert.Contains(t, out, "_pre_restore.db")
}

func TestBackupRestoreValidation(t *testing.T) {
	db := setupEnduro(t)

	_, _, err := runCLI(t, db, "backup", "restore", "gravitytiming_nope.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, _, err = runCLI(t, db, "backup", "restore", "../smuggled.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backup filename")
}
