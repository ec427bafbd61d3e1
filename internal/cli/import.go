package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/csvio"
	"github.com/eklind/gravitytiming/internal/engine"
)

// NewImportCommand groups the CSV import subcommands.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import startlists, chip mappings and punch logs",
		Long: `Import CSV files into an event.

Files may be UTF-8 or Latin-1, with or without a BOM; semicolon
separated. Startlist rows are BIB;FirstName;LastName;Club;Class, chip
rows BIB;SIAC1;SIAC2 (second chip optional), punch rows
UPSTREAM_ID;CONTROL;CHIP;TIME.`,
	}
	cmd.AddCommand(newImportStartlistCommand(opts))
	cmd.AddCommand(newImportChipsCommand(opts))
	cmd.AddCommand(newImportPunchesCommand(opts))
	return cmd
}

// importResult is the JSON payload of the import subcommands.
type importResult struct {
	EventID  int64    `json:"event_id"`
	Count    int      `json:"count"`
	Total    int      `json:"total,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newImportStartlistCommand(opts *RootOptions) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:           "startlist <file>",
		Short:         "Import a startlist, upserting entries by bib",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, eventID, args[0], "startlist", cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	return cmd
}

func newImportChipsCommand(opts *RootOptions) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:           "chips <file>",
		Short:         "Import chip mappings, rebinding moved chips",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, eventID, args[0], "chips", cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	return cmd
}

func newImportPunchesCommand(opts *RootOptions) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:   "punches <file>",
		Short: "Import a punch log through the full pipeline",
		Long: `Import a punch log file through the full pipeline.

Each row runs through chip resolution, deduplication and stage
assembly exactly as a live punch would. Imports land even while ingest
is paused.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, eventID, args[0], "punches", cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	return cmd
}

func runImport(opts *RootOptions, eventID int64, file, kind string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	f, err := os.Open(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "open import file", err)
	}
	defer f.Close()

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ev, err := resolveEvent(ctx, st, eventID)
	if err != nil {
		return err
	}

	result := importResult{EventID: ev.ID}
	var noun string
	switch kind {
	case "startlist":
		stats, err := csvio.ImportStartlist(ctx, st, ev.ID, f)
		if err != nil {
			return domainExit("import startlist", err)
		}
		result.Count, result.Warnings = stats.Count, stats.Warnings
		noun = "entries"
	case "chips":
		stats, err := csvio.ImportChips(ctx, st, ev.ID, f)
		if err != nil {
			return domainExit("import chips", err)
		}
		result.Count, result.Warnings = stats.Count, stats.Warnings
		noun = "chip mappings"
	case "punches":
		eng := engine.New(st)
		stats, err := csvio.ImportPunches(ctx, eng, ev.ID, f)
		if err != nil {
			return domainExit("import punches", err)
		}
		result.Count, result.Total, result.Warnings = stats.New, stats.Total, stats.Warnings
		noun = "punches"
	}
	auditNote(ctx, st, ev.ID, "import_"+kind, fmt.Sprintf("%s: %d rows", file, result.Count))

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	if kind == "punches" {
		fmt.Fprintf(w, "Imported %d new %s of %d rows into event %d\n", result.Count, noun, result.Total, ev.ID)
	} else {
		fmt.Fprintf(w, "Imported %d %s into event %d\n", result.Count, noun, ev.ID)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	return nil
}
