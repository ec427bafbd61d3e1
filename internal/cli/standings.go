package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
)

// NewStandingsCommand prints the current overall standings, per class.
func NewStandingsCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID   int64
		className string
	)

	cmd := &cobra.Command{
		Use:           "standings",
		Short:         "Show overall standings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStandings(opts, eventID, className, cmd)
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().StringVar(&className, "class", "", "limit to one class by name")
	return cmd
}

// standingsRow is one line of the standings payload.
type standingsRow struct {
	Position  *int     `json:"position,omitempty"`
	Bib       int      `json:"bib"`
	Name      string   `json:"name"`
	Club      string   `json:"club,omitempty"`
	ClassName string   `json:"class_name"`
	Total     *float64 `json:"total_seconds,omitempty"`
	Behind    *float64 `json:"time_behind,omitempty"`
	Status    string   `json:"status"`
}

// standingsResult is the JSON payload of the standings command.
type standingsResult struct {
	EventID int64          `json:"event_id"`
	Rows    []standingsRow `json:"rows"`
}

func runStandings(opts *RootOptions, eventID int64, className string, cmd *cobra.Command) error {
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

	var classID int64
	if className != "" {
		classID, err = classByName(ctx, st, ev.ID, className)
		if err != nil {
			return err
		}
	}

	rows, err := st.Standings(ctx, ev.ID, classID)
	if err != nil {
		return WrapExitError(ExitCommandError, "load standings", err)
	}

	if opts.Format == "json" {
		result := standingsResult{EventID: ev.ID, Rows: make([]standingsRow, 0, len(rows))}
		for _, r := range rows {
			result.Rows = append(result.Rows, standingsRow{
				Position:  r.Position,
				Bib:       r.Bib,
				Name:      r.FirstName + " " + r.LastName,
				Club:      r.Club,
				ClassName: r.ClassName,
				Total:     r.TotalSeconds,
				Behind:    r.TimeBehind,
				Status:    string(r.Status),
			})
		}
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No standings yet.")
		return nil
	}

	currentClass := ""
	for _, r := range rows {
		if r.ClassName != currentClass {
			if currentClass != "" {
				fmt.Fprintln(w)
			}
			currentClass = r.ClassName
			fmt.Fprintf(w, "%s\n", currentClass)
		}
		fmt.Fprintf(w, "  %s  %3d  %-24s %s\n",
			positionCell(r), r.Bib, riderCell(r), timeCell(r, ev.TimePrecision))
	}
	return nil
}

// classByName resolves a class name, case-insensitively, to its id.
func classByName(ctx context.Context, st *store.Store, eventID int64, name string) (int64, error) {
	classes, err := st.ListClasses(ctx, eventID)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "list classes", err)
	}
	for _, c := range classes {
		if strings.EqualFold(c.Name, name) {
			return c.ID, nil
		}
	}
	return 0, NewExitError(ExitCommandError, fmt.Sprintf("event %d has no class %q", eventID, name))
}

func positionCell(r store.StandingRow) string {
	if r.Position != nil {
		return fmt.Sprintf("%3d.", *r.Position)
	}
	return "  -."
}

func riderCell(r store.StandingRow) string {
	name := r.FirstName + " " + r.LastName
	if r.Club != "" {
		name += " (" + r.Club + ")"
	}
	return name
}

// timeCell renders total and gap, or the status for rows without a
// counting time.
func timeCell(r store.StandingRow, p race.Precision) string {
	if r.TotalSeconds == nil {
		return strings.ToUpper(string(r.Status))
	}
	cell := race.FormatElapsed(*r.TotalSeconds, p)
	if r.TimeBehind != nil && *r.TimeBehind > 0 {
		cell += "  " + race.FormatBehind(*r.TimeBehind, p)
	}
	return cell
}
