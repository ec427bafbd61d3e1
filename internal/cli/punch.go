package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/race"
)

// NewPunchCommand registers a manual punch, the keyboard fallback when a
// rider's chip failed or a marshal phones a time in.
func NewPunchCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		control int
		chipID  int64
		bib     int
		timeStr string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "punch",
		Short: "Register a manual punch",
		Long: `Register a manual punch.

Identify the rider by --chip or --bib (the bib's primary chip is used).
Without --time the current wall clock is used. Manual punches are
journaled and land even while ingest is paused when --force is given.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPunch(opts, eventID, control, chipID, bib, timeStr, force, cmd)
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().IntVar(&control, "control", 0, "control code the punch belongs to")
	cmd.Flags().Int64Var(&chipID, "chip", 0, "chip id")
	cmd.Flags().IntVar(&bib, "bib", 0, "bib number, resolved to its primary chip")
	cmd.Flags().StringVar(&timeStr, "time", "", "punch time as YYYY-MM-DD HH:MM:SS (default: now)")
	cmd.Flags().BoolVar(&force, "force", false, "bypass paused ingest")
	cmd.MarkFlagRequired("control")

	return cmd
}

// punchResult is the JSON payload of the punch command.
type punchResult struct {
	PunchID   int64          `json:"punch_id"`
	Bib       int            `json:"bib,omitempty"`
	Duplicate bool           `json:"duplicate"`
	Run       *race.StageRun `json:"run,omitempty"`
}

func runPunch(opts *RootOptions, eventID int64, control int, chipID int64, bib int, timeStr string, force bool, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	if chipID == 0 && bib == 0 {
		return NewExitError(ExitCommandError, "pass --chip or --bib")
	}
	if chipID != 0 && bib != 0 {
		return NewExitError(ExitCommandError, "pass only one of --chip and --bib")
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

	if chipID == 0 {
		mappings, err := st.ChipsForBib(ctx, ev.ID, bib)
		if err != nil {
			return WrapExitError(ExitCommandError, "look up chips", err)
		}
		if len(mappings) == 0 {
			msg := fmt.Sprintf("bib %d has no chip mapping", bib)
			formatter.Error("command", msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		chipID = mappings[0].ChipID
	}

	var when time.Time
	if timeStr != "" {
		when, err = race.ParsePunchTime(timeStr)
		if err != nil {
			return WrapExitError(ExitCommandError, "parse time", err)
		}
	} else {
		// Wall-clock now, in the zone-less form punch times travel in.
		now := time.Now()
		when = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
	}

	eng := engine.New(st)
	res, err := eng.Ingest(ctx, engine.PunchInput{
		EventID:         ev.ID,
		ChipID:          chipID,
		ControlCode:     control,
		PunchTime:       when,
		Source:          race.SourceManual,
		BypassAdmission: force,
	})
	if err != nil {
		formatter.Error(errorCode(err), err.Error(), nil)
		return domainExit("punch refused", err)
	}

	if opts.Format == "json" {
		return formatter.Success(punchResult{
			PunchID:   res.PunchID,
			Bib:       res.Bib,
			Duplicate: res.Duplicate,
			Run:       res.Run,
		})
	}

	out := cmd.OutOrStdout()
	switch {
	case res.Duplicate:
		fmt.Fprintf(out, "Punch %d stored as duplicate, no run affected\n", res.PunchID)
	case res.Run == nil && res.Bib == 0:
		fmt.Fprintf(out, "Punch %d stored, chip %d matches no rider\n", res.PunchID, chipID)
	case res.Run == nil:
		fmt.Fprintf(out, "Punch %d stored for bib %d\n", res.PunchID, res.Bib)
	case res.Run.ElapsedSeconds != nil:
		fmt.Fprintf(out, "Punch %d: bib %d finished attempt %d in %s\n",
			res.PunchID, res.Bib, res.Run.Attempt,
			race.FormatElapsed(*res.Run.ElapsedSeconds, ev.TimePrecision))
	default:
		fmt.Fprintf(out, "Punch %d: bib %d started attempt %d\n", res.PunchID, res.Bib, res.Run.Attempt)
	}
	return nil
}
