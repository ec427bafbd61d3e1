package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ReadsFullDocument(t *testing.T) {
	path := writeScenario(t, `
name: friday_night
description: One rider, one clean run.
template: Downhill - 2 åk
event:
  name: Kvällscupen
  date: "2026-09-04"
  location: Flottsbro
entries:
  - bib: 1
    first: Eva
    last: Falk
    club: CK Berget
    class: Dam Elite
    chips: [9001, 9002]
punches:
  - { chip: 9001, code: 12, time: "2026-09-04 18:00:00" }
  - { chip: 9001, code: 52, time: "2026-09-04 18:01:30", source: usb }
statuses:
  - { bib: 1, stage: 1, status: dsq }
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "friday_night", sc.Name)
	assert.Equal(t, "Downhill - 2 åk", sc.Template)
	assert.Equal(t, "Kvällscupen", sc.Event.Name)
	assert.Equal(t, "2026-09-04", sc.Event.Date)
	assert.Equal(t, "Flottsbro", sc.Event.Location)

	require.Len(t, sc.Entries, 1)
	assert.Equal(t, 1, sc.Entries[0].Bib)
	assert.Equal(t, "Eva", sc.Entries[0].First)
	assert.Equal(t, "CK Berget", sc.Entries[0].Club)
	assert.Equal(t, []int64{9001, 9002}, sc.Entries[0].Chips)

	require.Len(t, sc.Punches, 2)
	assert.Equal(t, "", sc.Punches[0].Source)
	assert.Equal(t, "usb", sc.Punches[1].Source)

	require.Len(t, sc.Statuses, 1)
	assert.Equal(t, StatusStep{Bib: 1, Stage: 1, Status: "dsq"}, sc.Statuses[0])
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: Misspelled section.
template: XCO
event:
  name: Typorundan
  date: "2026-09-04"
entries:
  - bib: 1
    last: Falk
    class: Herr Elite
    chips: [9001]
punchez:
  - { chip: 9001, code: 12, time: "2026-09-04 18:00:00" }
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "punchez")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "finns-inte.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "missing name",
			doc: `
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			doc: `
name: s
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
`,
			wantErr: "description is required",
		},
		{
			name: "missing template",
			doc: `
name: s
description: d
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
`,
			wantErr: "template is required",
		},
		{
			name: "missing event name",
			doc: `
name: s
description: d
template: XCO
event: { date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
`,
			wantErr: "event.name is required",
		},
		{
			name: "missing event date",
			doc: `
name: s
description: d
template: XCO
event: { name: E }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
`,
			wantErr: "event.date is required",
		},
		{
			name: "malformed event date",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-13-01" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
`,
			wantErr: "want YYYY-MM-DD",
		},
		{
			name: "no entries",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries: []
`,
			wantErr: "entries list must not be empty",
		},
		{
			name: "bib zero",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 0, last: Falk, class: Herr Elite, chips: [9001] }
`,
			wantErr: "bib must be positive",
		},
		{
			name: "duplicate bib",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
  - { bib: 1, last: Alm, class: Herr Elite, chips: [9002] }
`,
			wantErr: "duplicate bib 1",
		},
		{
			name: "missing last name",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, class: Herr Elite, chips: [9001] }
`,
			wantErr: "last name is required",
		},
		{
			name: "missing class",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, chips: [9001] }
`,
			wantErr: "class is required",
		},
		{
			name: "no chips",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [] }
`,
			wantErr: "at least one chip",
		},
		{
			name: "chip assigned twice",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
  - { bib: 2, last: Alm, class: Herr Elite, chips: [9001] }
`,
			wantErr: "chip 9001 assigned twice",
		},
		{
			name: "malformed punch time",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
punches:
  - { chip: 9001, code: 12, time: "18:00" }
`,
			wantErr: "parse punch time",
		},
		{
			name: "unknown punch source",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
punches:
  - { chip: 9001, code: 12, time: "2026-09-04 18:00:00", source: radio }
`,
			wantErr: `unknown source "radio"`,
		},
		{
			name: "punch code zero",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
punches:
  - { chip: 9001, code: 0, time: "2026-09-04 18:00:00" }
`,
			wantErr: "code must be positive",
		},
		{
			name: "status for unknown bib",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
statuses:
  - { bib: 9, status: dnf }
`,
			wantErr: "bib 9 is not on the start list",
		},
		{
			name: "unknown status",
			doc: `
name: s
description: d
template: XCO
event: { name: E, date: "2026-09-04" }
entries:
  - { bib: 1, last: Falk, class: Herr Elite, chips: [9001] }
statuses:
  - { bib: 1, stage: 1, status: trasig }
`,
			wantErr: "status must be dns, dnf or dsq",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
