package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewJournalCommand inspects the sync journal, the feed an upload
// worker drains towards a results portal.
func NewJournalCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and advance the sync journal",
	}
	cmd.AddCommand(newJournalListCommand(opts))
	cmd.AddCommand(newJournalMarkSyncedCommand(opts))
	return cmd
}

func newJournalListCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID  int64
		unsynced bool
	)

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List journal entries in id order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournalList(opts, eventID, unsynced, cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().BoolVar(&unsynced, "unsynced", false, "only entries not yet synced")
	return cmd
}

func newJournalMarkSyncedCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		through int64
	)

	cmd := &cobra.Command{
		Use:           "mark-synced",
		Short:         "Mark entries up to an id as synced",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournalMarkSynced(opts, eventID, through, cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().Int64Var(&through, "through", 0, "highest journal id the portal confirmed")
	cmd.MarkFlagRequired("through")
	return cmd
}

func runJournalList(opts *RootOptions, eventID int64, unsynced bool, cmd *cobra.Command) error {
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

	entries, err := st.ListJournal(ctx, ev.ID, unsynced)
	if err != nil {
		return WrapExitError(ExitCommandError, "list journal", err)
	}

	if opts.Format == "json" {
		return formatter.Success(entries)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return nil
	}
	for _, e := range entries {
		mark := " "
		if e.Synced {
			mark = "✓"
		}
		fmt.Fprintf(w, "%6d %s %-16s %s %s\n",
			e.ID, mark, e.Kind, e.CreatedAt.Format("15:04:05"), e.Payload)
	}
	return nil
}

func runJournalMarkSynced(opts *RootOptions, eventID, through int64, cmd *cobra.Command) error {
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

	marked, err := st.MarkJournalSynced(ctx, ev.ID, through)
	if err != nil {
		return WrapExitError(ExitCommandError, "mark journal synced", err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]int64{"marked": marked, "through": through})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %d entries synced through id %d\n", marked, through)
	return nil
}
