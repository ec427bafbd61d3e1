// Package harness runs end-to-end timing scenarios: a fresh in-memory
// store gets an event built from a template and a start list, the punch
// feed goes through the full engine pipeline, status changes land the
// way an official would enter them, and the run ends with the final
// standings and the exported results file.
//
// # Scenario format
//
// Scenarios are YAML documents:
//
//	name: downhill_two_runs
//	description: Best of two runs decides the class podium.
//	template: Downhill - 2 åk
//	event:
//	  name: Järvsö DH
//	  date: "2026-08-15"
//	entries:
//	  - bib: 1
//	    first: Vera
//	    last: Lund
//	    class: Dam Elite
//	    chips: [8101]
//	punches:
//	  - { chip: 8101, code: 12, time: "2026-08-15 10:00:00" }
//	  - { chip: 8101, code: 52, time: "2026-08-15 10:01:15" }
//	statuses:
//	  - { bib: 1, stage: 1, status: dnf }
//
// Punch times use the wire layout (YYYY-MM-DD HH:MM:SS, UTC) and the
// source defaults to roc. A status step with a stage marks the rider's
// latest attempt there; without a stage it marks the whole entry, which
// is how a no-show is recorded.
//
// # Determinism
//
// Every run opens its own in-memory database, so a scenario always
// produces the same standings and the same results file. The scenarios
// under testdata/scenarios are compared against golden copies in
// testdata/golden; regenerate them after an intentional change with:
//
//	go test ./internal/harness -update
package harness
