package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/template"
)

// NewTemplateCommand groups the structure template subcommands.
func NewTemplateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage event structure templates",
		Long: `Manage event structure templates.

A template is a portable JSON document describing controls, stages,
courses and classes by code, number and name. Built-in templates cover
the usual gravity formats; saved templates live in the database.`,
	}
	cmd.AddCommand(newTemplateListCommand(opts))
	cmd.AddCommand(newTemplateShowCommand(opts))
	cmd.AddCommand(newTemplateApplyCommand(opts))
	cmd.AddCommand(newTemplateExportCommand(opts))
	cmd.AddCommand(newTemplateSaveCommand(opts))
	cmd.AddCommand(newTemplateDeleteCommand(opts))
	return cmd
}

func newTemplateListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List built-in and saved templates",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateList(opts, cmd)
		},
	}
}

// templateListResult is the JSON payload of template list.
type templateListResult struct {
	Builtin []string `json:"builtin"`
	Saved   []string `json:"saved"`
}

func runTemplateList(opts *RootOptions, cmd *cobra.Command) error {
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

	saved, err := st.ListTemplates(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "list templates", err)
	}

	result := templateListResult{Builtin: template.Names(), Saved: []string{}}
	for _, t := range saved {
		result.Saved = append(result.Saved, t.Name)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Built-in templates:")
	for _, name := range result.Builtin {
		fmt.Fprintf(w, "  %s\n", name)
	}
	if len(result.Saved) > 0 {
		fmt.Fprintln(w, "Saved templates:")
		for _, name := range result.Saved {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	return nil
}

func newTemplateShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <name>",
		Short:         "Print a template document",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateShow(opts, args[0], cmd)
		},
	}
}

func runTemplateShow(opts *RootOptions, name string, cmd *cobra.Command) error {
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

	doc, err := template.Resolve(ctx, st, name)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("template %q", name), err)
	}

	if opts.Format == "json" {
		return formatter.Success(doc)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "encode template", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newTemplateApplyCommand(opts *RootOptions) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:   "apply <name>",
		Short: "Rebuild an event's structure from a template",
		Long: `Rebuild an event's structure from a template.

Existing controls, stages, courses and classes are replaced. The apply
refuses while entries or recorded runs still reference the old
structure, leaving the event untouched.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateApply(opts, args[0], eventID, cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	return cmd
}

func runTemplateApply(opts *RootOptions, name string, eventID int64, cmd *cobra.Command) error {
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
	doc, err := template.Resolve(ctx, st, name)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("template %q", name), err)
	}

	stats, err := template.Apply(ctx, st, ev.ID, doc)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("apply template %q to event %d", name, ev.ID), err)
	}
	auditNote(ctx, st, ev.ID, "template_applied", name)

	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"event_id": ev.ID,
			"created":  stats.Created,
			"warnings": stats.Warnings,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied template %q to event %d: %d items\n", name, ev.ID, stats.Created)
	for _, w := range stats.Warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", w)
	}
	return nil
}

func newTemplateExportCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID int64
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an event's structure as a template document",
		Long: `Export an event's live structure as a template document.

The document references controls by code, stages by number and courses
by name, so it applies cleanly to any other event.`,
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

// runStructureExport backs both "template export" and "export structure".
func runStructureExport(opts *RootOptions, eventID int64, output string, cmd *cobra.Command) error {
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
	doc, err := template.Export(ctx, st, ev.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "export structure", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "encode structure", err)
	}

	if output != "" {
		if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write file", err)
		}
		if opts.Format == "json" {
			return formatter.Success(map[string]any{"event_id": ev.ID, "file": output})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported structure of event %d to %s\n", ev.ID, output)
		return nil
	}

	if opts.Format == "json" {
		return formatter.Success(doc)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newTemplateSaveCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <name> <file>",
		Short: "Save a template document to the database",
		Long: `Validate a template document and save it under a name.

The file must pass schema validation before anything is stored. Saving
over an existing saved template replaces it; built-in names are
reserved.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateSave(opts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runTemplateSave(opts *RootOptions, name, file string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	if template.Builtin(name) != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%q is a built-in template name", name))
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "read template file", err)
	}
	if _, err := template.Parse(data); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("template %q does not validate", file), err)
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveTemplate(ctx, name, data); err != nil {
		return WrapExitError(ExitCommandError, "save template", err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"name": name})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved template %q\n", name)
	return nil
}

func newTemplateDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <name>",
		Short:         "Delete a saved template",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateDelete(opts, args[0], cmd)
		},
	}
}

func runTemplateDelete(opts *RootOptions, name string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	if template.Builtin(name) != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%q is built in and cannot be deleted", name))
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteTemplate(ctx, name); err != nil {
		return WrapExitError(ExitCommandError, "delete template", err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"deleted": name})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted template %q\n", name)
	return nil
}
