// Package race provides the domain types for gravity race timing.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import race; race imports nothing internal. This keeps
// the domain model the foundational layer with no circular dependencies.
//
// Key conventions:
//   - Punches are immutable facts; StageRun and OverallResult are derived
//   - Punch times are UTC wall-clock, stored as "YYYY-MM-DD HH:MM:SS"
//   - Elapsed values are float seconds; rounding happens only at display
//   - All JSON tags use snake_case
package race
