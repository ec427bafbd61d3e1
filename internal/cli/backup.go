package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eklind/gravitytiming/internal/store"
)

// NewBackupCommand manages database snapshots in the backups directory
// next to the database file.
func NewBackupCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore database backups",
	}
	cmd.AddCommand(newBackupCreateCommand(opts))
	cmd.AddCommand(newBackupListCommand(opts))
	cmd.AddCommand(newBackupRestoreCommand(opts))
	return cmd
}

// backupInfo mirrors store.BackupInfo with JSON tags for the envelope.
type backupInfo struct {
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	SizeMB   float64 `json:"size_mb"`
	Created  string  `json:"created"`
}

func newBackupCreateCommand(opts *RootOptions) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Snapshot the database",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupCreate(opts, label, cmd)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "label appended to the backup filename")
	return cmd
}

func newBackupListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List backups, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupList(opts, cmd)
		},
	}
}

func newBackupRestoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <filename>",
		Short: "Replace the database with a backup",
		Long: `Replace the database with a backup.

The current state is snapshotted as a pre_restore backup first, so a
mistaken restore can itself be undone. Stop any running poll loop
before restoring.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupRestore(opts, args[0], cmd)
		},
	}
}

func runBackupCreate(opts *RootOptions, label string, cmd *cobra.Command) error {
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

	info, err := st.Backup(ctx, label)
	if err != nil {
		return WrapExitError(ExitCommandError, "create backup", err)
	}

	if opts.Format == "json" {
		return formatter.Success(backupInfo{
			Filename: info.Filename,
			Path:     info.Path,
			SizeMB:   info.SizeMB,
			Created:  info.Created,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup written: %s (%.2f MB)\n", info.Filename, info.SizeMB)
	return nil
}

func runBackupList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	backups, err := st.ListBackups()
	if err != nil {
		return WrapExitError(ExitCommandError, "list backups", err)
	}

	if opts.Format == "json" {
		infos := make([]backupInfo, 0, len(backups))
		for _, b := range backups {
			infos = append(infos, backupInfo{
				Filename: b.Filename,
				Path:     b.Path,
				SizeMB:   b.SizeMB,
				Created:  b.Created,
			})
		}
		return formatter.Success(infos)
	}

	if len(backups) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No backups yet.")
		return nil
	}
	for _, b := range backups {
		fmt.Fprintf(cmd.OutOrStdout(), "%-44s %8.2f MB  %s\n", b.Filename, b.SizeMB, b.Created)
	}
	return nil
}

// runBackupRestore must not hold an open store: Restore opens the
// database itself for the pre_restore snapshot and then overwrites it.
func runBackupRestore(opts *RootOptions, filename string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd)

	if err := store.Restore(ctx, opts.Database, filename); err != nil {
		return WrapExitError(ExitCommandError, "restore backup", err)
	}

	// Reopen the restored database to record what happened.
	st, err := openStore(opts)
	if err == nil {
		auditNote(ctx, st, 0, "backup_restored", filename)
		st.Close()
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]string{"restored": filename})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s over %s (pre_restore snapshot kept)\n",
		filename, opts.Database)
	return nil
}
