package race

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcePriorityOrdering(t *testing.T) {
	// USB chip memory is ground truth; manual entry is weakest.
	assert.Less(t, SourceUSB.Priority(), SourceSIRAP.Priority())
	assert.Less(t, SourceSIRAP.Priority(), SourceROC.Priority())
	assert.Less(t, SourceROC.Priority(), SourceManual.Priority())
}

func TestUnknownSourceNeverDisplaces(t *testing.T) {
	unknown := Source("telepathy")
	assert.Greater(t, unknown.Priority(), SourceManual.Priority())
}

func TestFormatValid(t *testing.T) {
	for _, f := range []Format{FormatEnduro, FormatDownhill, FormatXC, FormatDualSlalom} {
		assert.True(t, f.Valid(), "format %s", f)
	}
	assert.False(t, Format("festival").Valid())
	assert.False(t, Format("").Valid())
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusOK.Terminal())
	assert.True(t, StatusDNS.Terminal())
	assert.True(t, StatusDNF.Terminal())
	assert.True(t, StatusDSQ.Terminal())

	assert.False(t, EntryRegistered.Terminal())
	assert.True(t, EntryDSQ.Terminal())
}

func TestCountingTimeIncludesPenalty(t *testing.T) {
	elapsed := 42.5
	run := StageRun{ElapsedSeconds: &elapsed, PenaltySeconds: 5}
	assert.InDelta(t, 47.5, run.CountingTime(), 0.001)

	empty := StageRun{PenaltySeconds: 5}
	assert.Zero(t, empty.CountingTime())
}

func TestJSONFieldNaming(t *testing.T) {
	elapsed := 30.0
	run := StageRun{
		EventID:        1,
		EntryID:        2,
		StageID:        3,
		Attempt:        1,
		ElapsedSeconds: &elapsed,
		Status:         StatusOK,
		RunState:       RunValid,
	}
	data, err := json.Marshal(run)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"entry_id"`)
	assert.Contains(t, string(data), `"stage_id"`)
	assert.Contains(t, string(data), `"elapsed_seconds"`)
	assert.Contains(t, string(data), `"run_state"`)
	assert.NotContains(t, string(data), `"entryId"`)
}

func TestJournalPayloadShapes(t *testing.T) {
	created := RunCreatedPayload{EntryID: 7, Bib: 12, StageID: 3, Attempt: 1, Elapsed: 45.5}
	data, err := json.Marshal(created)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"elapsed":45.5`)
	// source_hint omitted when empty
	assert.NotContains(t, string(data), "source_hint")

	created.SourceHint = "cross_chip_fill"
	data, err = json.Marshal(created)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source_hint":"cross_chip_fill"`)

	superseded := RunSupersededPayload{RunID: 9, EntryID: 7, StageID: 3, Attempt: 1, Reason: "usb_override"}
	data, err = json.Marshal(superseded)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"reason":"usb_override"`)
}
