// Package store provides SQLite-backed durable storage for race timing data.
//
// The store holds the full state of an event:
//   - Structure: events, controls, stages, courses, classes
//   - Riders: entries and chip mappings
//   - Timing: punches (append-only), stage runs, overall results
//   - Bookkeeping: journal, audit log, templates, settings
//
// # Critical Patterns
//
// CP-1: Append-Only Punch Log
//   - Punches are never updated or deleted, only flagged is_duplicate
//   - Runs and results are derived state, rebuildable by replay
//
// CP-2: Transactional Journal
//   - Every run mutation appends its journal entry in the same transaction
//   - Sync readers therefore never observe a state change without its entry
//
// CP-3: Lexicographic Timestamps
//   - All timestamps are UTC TEXT in 'YYYY-MM-DD HH:MM:SS' form
//   - String comparison equals chronological comparison, so BETWEEN and
//     ORDER BY work without date functions
//
// CP-4: Deterministic Replay Order
//   - Replay reads punches ORDER BY punch_time ASC, id ASC
//   - Recomputing an event from its punch log is reproducible
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
