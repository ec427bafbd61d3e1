package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/race"
)

// NewPenaltyCommand adds time penalty seconds to a rider's attempt on a
// stage. Negative seconds revoke an earlier penalty after a protest.
func NewPenaltyCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		stage   int
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "penalty <bib> <seconds>",
		Short: "Add penalty seconds to a rider's attempt",
		Long: `Add penalty seconds to a rider's current attempt on a stage.

Penalties accumulate on the attempt and count into the stage time.
Negative seconds revoke earlier penalties. The change is journaled and
standings are recomputed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPenalty(opts, eventID, stage, reason, args, cmd)
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().IntVar(&stage, "stage", 0, "stage number the attempt belongs to")
	cmd.Flags().StringVar(&reason, "reason", "", "why the penalty was given")
	cmd.MarkFlagRequired("stage")

	return cmd
}

// penaltyResult is the JSON payload of the penalty command.
type penaltyResult struct {
	EventID int64   `json:"event_id"`
	Bib     int     `json:"bib"`
	Stage   int     `json:"stage"`
	Attempt int     `json:"attempt"`
	Seconds float64 `json:"seconds"`
	Total   float64 `json:"total_seconds"`
}

func runPenalty(opts *RootOptions, eventID int64, stage int, reason string, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	bib, err := strconv.Atoi(args[0])
	if err != nil || bib <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid bib %q", args[0]))
	}
	seconds, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid seconds %q", args[1]))
	}

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

	if err := st.AddPenalty(ctx, run.ID, seconds, reason); err != nil {
		return WrapExitError(ExitCommandError, "add penalty", err)
	}

	eng := engine.New(st)
	if err := eng.AggregateEvent(ctx, ev.ID); err != nil {
		return WrapExitError(ExitCommandError, "recompute standings", err)
	}

	total := run.PenaltySeconds + seconds
	if opts.Format == "json" {
		return formatter.Success(penaltyResult{
			EventID: ev.ID,
			Bib:     bib,
			Stage:   stage,
			Attempt: run.Attempt,
			Seconds: seconds,
			Total:   total,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Penalty %s for bib %d on stage %d (attempt %d), total %s\n",
		race.FormatElapsed(seconds, ev.TimePrecision), bib, stage, run.Attempt,
		race.FormatElapsed(total, ev.TimePrecision))
	return nil
}
