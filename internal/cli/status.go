package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/race"
)

// NewStatusCommand marks a rider dns, dnf, dsq or back to normal, for
// the whole event or for a single stage attempt.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		stage   int
	)

	cmd := &cobra.Command{
		Use:   "status <bib> <status>",
		Short: "Mark a rider dns, dnf or dsq",
		Long: `Mark a rider dns, dnf or dsq.

Without --stage the whole entry is marked (registered, dns, dnf or
dsq). With --stage only the rider's current attempt on that stage is
marked (ok, dns, dnf or dsq). Standings are recomputed afterwards and
the change lands in the journal.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, eventID, stage, args, cmd)
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().IntVar(&stage, "stage", 0, "stage number: mark a single attempt instead of the entry")
	return cmd
}

// statusResult is the JSON payload of the status command.
type statusResult struct {
	EventID int64  `json:"event_id"`
	Bib     int    `json:"bib"`
	Scope   string `json:"scope"`
	Stage   int    `json:"stage,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Status  string `json:"status"`
}

func runStatus(opts *RootOptions, eventID int64, stage int, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	bib, err := strconv.Atoi(args[0])
	if err != nil || bib <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid bib %q", args[0]))
	}
	status := strings.ToLower(args[1])

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ev, err := resolveEvent(ctx, st, eventID)
	if err != nil {
		return err
	}

	entry, err := st.GetEntryByBib(ctx, ev.ID, bib)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("bib %d not found in event %d", bib, ev.ID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "look up entry", err)
	}

	result := statusResult{EventID: ev.ID, Bib: bib, Status: status}
	if stage == 0 {
		switch status {
		case "registered", "dns", "dnf", "dsq":
		default:
			return NewExitError(ExitCommandError,
				fmt.Sprintf("invalid entry status %q: want registered, dns, dnf or dsq", status))
		}
		if err := st.SetEntryStatus(ctx, entry.ID, race.EntryStatus(status)); err != nil {
			return WrapExitError(ExitCommandError, "set entry status", err)
		}
		result.Scope = "entry"
	} else {
		switch status {
		case "ok", "dns", "dnf", "dsq":
		default:
			return NewExitError(ExitCommandError,
				fmt.Sprintf("invalid run status %q: want ok, dns, dnf or dsq", status))
		}
		stg, err := stageByNumber(ctx, st, ev.ID, stage)
		if err != nil {
			return err
		}
		run, err := st.LatestRun(ctx, ev.ID, entry.ID, stg.ID)
		if errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("bib %d has no attempt on stage %d yet", bib, stage)
			formatter.Error("command", msg, nil)
			return NewExitError(ExitFailure, msg)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "look up attempt", err)
		}
		if err := st.SetRunStatus(ctx, run.ID, race.RunStatus(status)); err != nil {
			return WrapExitError(ExitCommandError, "set run status", err)
		}
		result.Scope = "stage"
		result.Stage = stage
		result.Attempt = run.Attempt
	}

	eng := engine.New(st)
	if err := eng.AggregateEvent(ctx, ev.ID); err != nil {
		return WrapExitError(ExitCommandError, "recompute standings", err)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	if result.Scope == "entry" {
		fmt.Fprintf(cmd.OutOrStdout(), "Marked bib %d %s\n", bib, status)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Marked bib %d %s on stage %d (attempt %d)\n",
			bib, status, stage, result.Attempt)
	}
	return nil
}
