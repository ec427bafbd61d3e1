package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/race"
)

// NewSettingsCommand reads and writes the operational toggles: ingest
// pause, standings freeze, USB reader presence, admin token.
func NewSettingsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write operational settings",
		Long: fmt.Sprintf(`Read and write operational settings.

Booleans are stored as "true"/"false". The toggles the pipeline reads:
%s, %s, %s.`,
			race.SettingIngestPaused, race.SettingStandingsFrozen, race.SettingUSBConnected),
	}
	cmd.AddCommand(newSettingsGetCommand(opts))
	cmd.AddCommand(newSettingsSetCommand(opts))
	return cmd
}

func newSettingsGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get [key]",
		Short:         "Show one setting, or all of them",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsGet(opts, args, cmd)
		},
	}
}

func newSettingsSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set <key> <value>",
		Short:         "Write a setting",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsSet(opts, args, cmd)
		},
	}
}

func runSettingsGet(opts *RootOptions, args []string, cmd *cobra.Command) error {
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

	if len(args) == 1 {
		value, err := st.GetSetting(ctx, args[0], "")
		if err != nil {
			return WrapExitError(ExitCommandError, "read setting", err)
		}
		if opts.Format == "json" {
			return formatter.Success(map[string]string{args[0]: value})
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	}

	settings, err := st.AllSettings(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "read settings", err)
	}
	if opts.Format == "json" {
		return formatter.Success(settings)
	}

	if len(settings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No settings stored.")
		return nil
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, settings[k])
	}
	return nil
}

func runSettingsSet(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	key, value := args[0], args[1]

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetSetting(ctx, key, value); err != nil {
		return WrapExitError(ExitCommandError, "write setting", err)
	}
	detail := fmt.Sprintf("%s = %s", key, value)
	if key == race.SettingAdminToken {
		// The token itself stays out of the audit log.
		detail = key + " changed"
	}
	auditNote(ctx, st, 0, "setting_changed", detail)

	if opts.Format == "json" {
		return formatter.Success(map[string]string{key: value})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return nil
}
