package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/template"
)

// NewEventCommand groups the event lifecycle subcommands.
func NewEventCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage events",
	}
	cmd.AddCommand(newEventCreateCommand(opts))
	cmd.AddCommand(newEventActivateCommand(opts))
	cmd.AddCommand(newEventFinishCommand(opts))
	cmd.AddCommand(newEventListCommand(opts))
	cmd.AddCommand(newEventStatusCommand(opts))
	cmd.AddCommand(newEventDeleteCommand(opts))
	return cmd
}

func newEventCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		date         string
		location     string
		templateName string
		rocUnit      string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new event",
		Long: `Create a new event in setup state.

Without --template the event starts bare: enduro format, fixed stage
order, whole seconds. Applying a template sets the format and builds
controls, stages, courses and classes in one step.

Examples:
  gravitytiming event create "Klubbmästerskapet" --date 2026-09-05
  gravitytiming event create "Järvsö DH" --template "Downhill - 2 åk" --roc-unit 12345`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventCreate(opts, args[0], date, location, templateName, rocUnit, cmd)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "event date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&location, "location", "", "venue name")
	cmd.Flags().StringVar(&templateName, "template", "", "apply this structure template after creating")
	cmd.Flags().StringVar(&rocUnit, "roc-unit", "", "ROC competition id for the poll command")

	return cmd
}

// eventCreateResult is the JSON payload of event create.
type eventCreateResult struct {
	Event    *race.Event `json:"event"`
	Created  int         `json:"structure_created,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

func runEventCreate(opts *RootOptions, name, date, location, templateName, rocUnit string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid date %q: want YYYY-MM-DD", date))
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	var doc *template.Document
	if templateName != "" {
		doc, err = template.Resolve(ctx, st, templateName)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("template %q", templateName), err)
		}
	}

	ev := &race.Event{Name: name, Date: date, Location: location, UpstreamCompID: rocUnit}
	if err := st.CreateEvent(ctx, ev); err != nil {
		return WrapExitError(ExitCommandError, "create event", err)
	}

	result := eventCreateResult{Event: ev}
	if doc != nil {
		stats, err := template.Apply(ctx, st, ev.ID, doc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("apply template %q", templateName), err)
		}
		result.Created = stats.Created
		result.Warnings = stats.Warnings
		ev, err = st.GetEvent(ctx, ev.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "reload event", err)
		}
		result.Event = ev
	}

	auditNote(ctx, st, ev.ID, "event_created", fmt.Sprintf("%s (%s)", ev.Name, ev.Date))

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created event %d: %s (%s)\n", ev.ID, ev.Name, ev.Date)
	if doc != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Applied template %q: %d items\n", templateName, result.Created)
		for _, w := range result.Warnings {
			fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", w)
		}
	}
	return nil
}

func newEventActivateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate [id]",
		Short: "Put an event into active state",
		Long: `Put an event into active state so it accepts punches.

Activation requires at least one control, one stage and one class;
apply a template or import a startlist first. Without an id the latest
non-finished event is activated.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventLifecycle(opts, args, race.EventActive, cmd)
		},
	}
	return cmd
}

func newEventFinishCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finish [id]",
		Short: "Mark an event finished",
		Long: `Mark an event finished. Finished events refuse live punches and
drop out of the default event resolution.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventLifecycle(opts, args, race.EventFinished, cmd)
		},
	}
	return cmd
}

func runEventLifecycle(opts *RootOptions, args []string, target race.EventStatus, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	var id int64
	if len(args) == 1 {
		parsed, err := parseID(args[0])
		if err != nil {
			return err
		}
		id = parsed
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ev, err := resolveEvent(ctx, st, id)
	if err != nil {
		return err
	}

	if target == race.EventActive {
		controls, stages, classes, err := st.StructureCounts(ctx, ev.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "count structure", err)
		}
		var missing []string
		if controls == 0 {
			missing = append(missing, "no controls")
		}
		if stages == 0 {
			missing = append(missing, "no stages")
		}
		if classes == 0 {
			missing = append(missing, "no classes")
		}
		if len(missing) > 0 {
			msg := fmt.Sprintf("cannot activate event %d: %s", ev.ID, strings.Join(missing, ", "))
			formatter.Error("configuration", msg, nil)
			return NewExitError(ExitFailure, msg)
		}
	}

	if err := st.UpdateEventStatus(ctx, ev.ID, target); err != nil {
		return WrapExitError(ExitCommandError, "update event status", err)
	}
	auditNote(ctx, st, ev.ID, "event_"+string(target), ev.Name)

	if opts.Format == "json" {
		ev.Status = target
		return formatter.Success(ev)
	}
	verb := "Activated"
	if target == race.EventFinished {
		verb = "Finished"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s event %d: %s\n", verb, ev.ID, ev.Name)
	return nil
}

func newEventListCommand(opts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventList(opts, all, cmd)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include finished events")
	return cmd
}

func runEventList(opts *RootOptions, all bool, cmd *cobra.Command) error {
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

	events, err := st.ListEvents(ctx, all)
	if err != nil {
		return WrapExitError(ExitCommandError, "list events", err)
	}

	if opts.Format == "json" {
		return formatter.Success(events)
	}

	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}
	for _, ev := range events {
		line := fmt.Sprintf("%3d  %s  %-10s  %-12s  %s", ev.ID, ev.Date, string(ev.Status), string(ev.Format), ev.Name)
		if ev.Location != "" {
			line += " (" + ev.Location + ")"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func newEventStatusCommand(opts *RootOptions) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show an event status summary",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventStatus(opts, eventID, cmd)
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	return cmd
}

// eventStatusResult is the JSON payload of event status.
type eventStatusResult struct {
	Event           *race.Event `json:"event"`
	Controls        int         `json:"controls"`
	Stages          int         `json:"stages"`
	Classes         int         `json:"classes"`
	Entries         int         `json:"entries"`
	Punches         int         `json:"punches"`
	Runs            int         `json:"runs"`
	IngestPaused    bool        `json:"ingest_paused"`
	StandingsFrozen bool        `json:"standings_frozen"`
	USBConnected    bool        `json:"usb_connected"`
	LastROCPunchID  int64       `json:"last_roc_punch_id"`
}

func runEventStatus(opts *RootOptions, eventID int64, cmd *cobra.Command) error {
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

	res := eventStatusResult{Event: ev}
	res.Controls, res.Stages, res.Classes, err = st.StructureCounts(ctx, ev.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "count structure", err)
	}
	res.Entries, res.Punches, res.Runs, err = st.DataCounts(ctx, ev.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "count data", err)
	}
	if res.IngestPaused, err = st.BoolSetting(ctx, race.SettingIngestPaused); err != nil {
		return WrapExitError(ExitCommandError, "read settings", err)
	}
	if res.StandingsFrozen, err = st.BoolSetting(ctx, race.SettingStandingsFrozen); err != nil {
		return WrapExitError(ExitCommandError, "read settings", err)
	}
	if res.USBConnected, err = st.BoolSetting(ctx, race.SettingUSBConnected); err != nil {
		return WrapExitError(ExitCommandError, "read settings", err)
	}
	if res.LastROCPunchID, err = st.LastUpstreamID(ctx, ev.ID, race.SourceROC); err != nil {
		return WrapExitError(ExitCommandError, "read roc cursor", err)
	}

	if opts.Format == "json" {
		return formatter.Success(res)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Event %d: %s (%s) [%s]\n", ev.ID, ev.Name, ev.Date, string(ev.Status))
	fmt.Fprintf(w, "  Format:    %s, %s order, %s precision\n",
		string(ev.Format), string(ev.StageOrder), string(ev.TimePrecision))
	fmt.Fprintf(w, "  Structure: %d controls, %d stages, %d classes\n", res.Controls, res.Stages, res.Classes)
	fmt.Fprintf(w, "  Data:      %d entries, %d punches, %d runs\n", res.Entries, res.Punches, res.Runs)
	fmt.Fprintf(w, "  Toggles:   ingest_paused=%t standings_frozen=%t usb_connected=%t\n",
		res.IngestPaused, res.StandingsFrozen, res.USBConnected)
	if ev.UpstreamCompID != "" || res.LastROCPunchID > 0 {
		fmt.Fprintf(w, "  ROC:       unit %q, last punch id %d\n", ev.UpstreamCompID, res.LastROCPunchID)
	}
	return nil
}

func newEventDeleteCommand(opts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an event and all its data",
		Long: `Delete an event and everything recorded for it: entries, punches,
runs, results, journal and audit rows. Only finished events can be
deleted without --force.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventDelete(opts, args[0], force, cmd)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even if the event is not finished")
	return cmd
}

func runEventDelete(opts *RootOptions, arg string, force bool, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	id, err := parseID(arg)
	if err != nil {
		return err
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ev, err := resolveEvent(ctx, st, id)
	if err != nil {
		return err
	}
	if ev.Status != race.EventFinished && !force {
		msg := fmt.Sprintf("event %d is %s, not finished: pass --force to delete anyway", ev.ID, string(ev.Status))
		formatter.Error("command", msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	if err := st.DeleteEvent(ctx, ev.ID); err != nil {
		return WrapExitError(ExitCommandError, "delete event", err)
	}
	// Event id zero: the event's own audit rows are gone with it.
	auditNote(ctx, st, 0, "event_deleted", fmt.Sprintf("event %d: %s (%s)", ev.ID, ev.Name, ev.Date))

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"deleted": ev.ID})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted event %d: %s\n", ev.ID, ev.Name)
	return nil
}

// parseID parses a positional numeric id argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q", arg))
	}
	return id, nil
}
