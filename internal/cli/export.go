package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/csvio"
	"github.com/eklind/gravitytiming/internal/engine"
)

// NewExportCommand groups the export subcommands.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export startlists, results and event structure",
	}
	cmd.AddCommand(newExportStartlistCommand(opts))
	cmd.AddCommand(newExportResultsCommand(opts))
	cmd.AddCommand(newExportStructureCommand(opts))
	return cmd
}

func newExportStartlistCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		output  string
	)

	cmd := &cobra.Command{
		Use:           "startlist",
		Short:         "Export the startlist as semicolon CSV",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCSVExport(opts, eventID, output, "startlist", cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newExportResultsCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		output  string
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Export final results as semicolon CSV",
		Long: `Export final results as semicolon CSV.

One row per rider, classes in Swedish alphabetical order, one column
per timed stage. Riders without a counting total carry their status
instead of a time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCSVExport(opts, eventID, output, "results", cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newExportStructureCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		output  string
	)

	cmd := &cobra.Command{
		Use:           "structure",
		Short:         "Export the event structure as a template document",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStructureExport(opts, eventID, output, cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// exportResult is the JSON payload of the CSV export subcommands.
type exportResult struct {
	EventID int64  `json:"event_id"`
	Rows    int    `json:"rows"`
	File    string `json:"file,omitempty"`
	Content string `json:"content,omitempty"`
}

func runCSVExport(opts *RootOptions, eventID int64, output, kind string, cmd *cobra.Command) error {
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

	var buf bytes.Buffer
	var rows int
	switch kind {
	case "startlist":
		rows, err = csvio.ExportStartlist(ctx, st, ev.ID, &buf)
	case "results":
		eng := engine.New(st)
		rows, err = csvio.ExportResults(ctx, eng, ev.ID, &buf)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "export "+kind, err)
	}

	if output != "" {
		if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write file", err)
		}
		if opts.Format == "json" {
			return formatter.Success(exportResult{EventID: ev.ID, Rows: rows, File: output})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to %s\n", rows, output)
		return nil
	}

	if opts.Format == "json" {
		return formatter.Success(exportResult{EventID: ev.ID, Rows: rows, Content: buf.String()})
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}
