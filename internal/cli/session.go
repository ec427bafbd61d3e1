package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
)

// openStore opens the database named by --db, creating it on first use.
func openStore(opts *RootOptions) (*store.Store, error) {
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newFormatter builds the output formatter for one command invocation.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// resolveEvent returns the event a race-day command operates on: the
// one named by --event, or the latest non-finished event when the flag
// is zero.
func resolveEvent(ctx context.Context, st *store.Store, eventID int64) (*race.Event, error) {
	if eventID != 0 {
		ev, err := st.GetEvent(ctx, eventID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("event %d not found", eventID))
		}
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load event", err)
		}
		return ev, nil
	}

	ev, err := st.ActiveEvent(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewExitError(ExitCommandError, "no active event: create one or pass --event")
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load active event", err)
	}
	return ev, nil
}

// stageByNumber resolves a stage by its display number.
func stageByNumber(ctx context.Context, st *store.Store, eventID int64, number int) (*race.Stage, error) {
	stages, err := st.ListStages(ctx, eventID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "list stages", err)
	}
	for i := range stages {
		if stages[i].StageNumber == number {
			return &stages[i], nil
		}
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("event %d has no stage %d", eventID, number))
}

// domainExit maps a pipeline error to an exit code: engine refusals are
// domain failures (exit 1), everything else is a command error.
func domainExit(message string, err error) error {
	if engErr, ok := engine.AsError(err); ok {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s (%s)", message, engErr.Code), err)
	}
	return WrapExitError(ExitCommandError, message, err)
}

// errorCode names the CLIError code for an error.
func errorCode(err error) string {
	if engErr, ok := engine.AsError(err); ok {
		return string(engErr.Code)
	}
	return "command"
}

// auditNote records an administrative action. Audit failures are logged
// and swallowed: the action itself has already happened. eventID zero
// writes a system-wide row that survives event deletion.
func auditNote(ctx context.Context, st *store.Store, eventID int64, action, details string) {
	entry := &store.AuditEntry{
		Action:  action,
		Details: details,
		Source:  "cli",
	}
	if eventID != 0 {
		entry.EventID = &eventID
	}
	if err := st.AppendAudit(ctx, entry); err != nil {
		slog.Warn("audit append failed", "action", action, "error", err)
	}
}
