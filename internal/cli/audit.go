package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/store"
)

// NewAuditCommand shows the admin audit trail.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the admin audit trail",
	}
	cmd.AddCommand(newAuditListCommand(opts))
	return cmd
}

func newAuditListCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List audit entries, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditList(opts, eventID, limit, cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "limit to one event (default: all, including system rows)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 100)")
	return cmd
}

// auditRow mirrors store.AuditEntry with JSON tags for the envelope.
type auditRow struct {
	ID        int64  `json:"id"`
	EventID   *int64 `json:"event_id,omitempty"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
}

func runAuditList(opts *RootOptions, eventID int64, limit int, cmd *cobra.Command) error {
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

	entries, err := st.ListAudit(ctx, eventID, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "list audit", err)
	}

	if opts.Format == "json" {
		rows := make([]auditRow, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, auditRow{
				ID:        e.ID,
				EventID:   e.EventID,
				Action:    e.Action,
				Details:   e.Details,
				Source:    e.Source,
				CreatedAt: e.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		return formatter.Success(rows)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "Audit log is empty.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%5d  %s  %-10s %-18s %s\n",
			e.ID, e.CreatedAt.Format("01-02 15:04"), auditScope(e), e.Action, e.Details)
	}
	return nil
}

// auditScope names the event column for the text listing.
func auditScope(e store.AuditEntry) string {
	if e.EventID == nil {
		return "system"
	}
	return fmt.Sprintf("event %d", *e.EventID)
}
