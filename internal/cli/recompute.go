package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/engine"
)

// NewRecomputeCommand replays the punch log from scratch and reports
// every divergence from the incremental results.
func NewRecomputeCommand(opts *RootOptions) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Replay the punch log and repair derived results",
		Long: `Replay the punch log and repair derived results.

Runs, standings and dual-slalom grouping are rebuilt from the raw
punches. Each printed diff names a result the incremental pipeline had
wrong; no diffs means the pipeline and the replay agree. The database
ends up repaired either way, so the command exits 0 even when diffs
are found.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute(opts, eventID, cmd)
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	return cmd
}

// recomputeDiff mirrors engine.Diff with JSON tags for the envelope.
type recomputeDiff struct {
	Kind    string `json:"kind"`
	EntryID int64  `json:"entry_id"`
	StageID int64  `json:"stage_id,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// recomputeResult is the JSON payload of the recompute command.
type recomputeResult struct {
	EventID int64           `json:"event_id"`
	Diffs   []recomputeDiff `json:"diffs"`
}

func runRecompute(opts *RootOptions, eventID int64, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ev, err := resolveEvent(ctx, st, eventID)
	if err != nil {
		return err
	}

	eng := engine.New(st)
	diffs, err := eng.RecomputeAll(ctx, ev.ID)
	if err != nil {
		formatter.Error(errorCode(err), err.Error(), nil)
		return domainExit("recompute", err)
	}
	auditNote(ctx, st, ev.ID, "recompute", fmt.Sprintf("%d diffs", len(diffs)))

	if opts.Format == "json" {
		result := recomputeResult{EventID: ev.ID, Diffs: make([]recomputeDiff, 0, len(diffs))}
		for _, d := range diffs {
			result.Diffs = append(result.Diffs, recomputeDiff{
				Kind:    string(d.Kind),
				EntryID: d.EntryID,
				StageID: d.StageID,
				Attempt: d.Attempt,
				Detail:  d.Detail,
			})
		}
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(diffs) == 0 {
		fmt.Fprintf(w, "Recompute clean: event %d results match the punch log\n", ev.ID)
		return nil
	}
	fmt.Fprintf(w, "Recompute repaired %d divergences in event %d:\n", len(diffs), ev.ID)
	for _, d := range diffs {
		fmt.Fprintf(w, "  %s\n", d)
	}
	return nil
}
