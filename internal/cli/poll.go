package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/live"
	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/roc"
	"github.com/eklind/gravitytiming/internal/store"
)

// PollConfig is the optional YAML configuration for the poll command.
// Flags set on the command line win over config values.
type PollConfig struct {
	DB  string `yaml:"db"`
	ROC struct {
		BaseURL  string `yaml:"base_url"`
		UnitID   string `yaml:"unit_id"`
		Interval string `yaml:"interval"`
	} `yaml:"roc"`
	Backup struct {
		Interval string `yaml:"interval"`
	} `yaml:"backup"`
}

// NewPollCommand runs the live loop: poll the ROC unit, feed every
// punch through the pipeline, snapshot the database on a timer.
func NewPollCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID        int64
		configPath     string
		unitID         string
		baseURL        string
		interval       time.Duration
		backupInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the ROC unit and ingest punches live",
		Long: `Poll the ROC unit and ingest punches live.

Runs until interrupted. The unit id comes from --unit, the config
file, or the event's upstream competition id, in that order. The
cursor resumes from the highest upstream id already stored, so a
restart re-fetches nothing. The database is snapshotted into the
backups directory on a timer while the loop runs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd, opts, pollFlags{
				eventID:        eventID,
				configPath:     configPath,
				unitID:         unitID,
				baseURL:        baseURL,
				interval:       interval,
				backupInterval: backupInterval,
			})
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "event id (default: latest non-finished)")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&unitID, "unit", "", "ROC unit/competition id")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "ROC endpoint (default: the public feed)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default 2s)")
	cmd.Flags().DurationVar(&backupInterval, "backup-interval", store.DefaultAutoBackupInterval,
		"auto backup interval, 0 disables")

	return cmd
}

type pollFlags struct {
	eventID        int64
	configPath     string
	unitID         string
	baseURL        string
	interval       time.Duration
	backupInterval time.Duration
}

func runPoll(cmd *cobra.Command, opts *RootOptions, flags pollFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	formatter := newFormatter(opts, cmd)

	var cfg PollConfig
	if flags.configPath != "" {
		loaded, err := loadPollConfig(flags.configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}

	dbPath := opts.Database
	if cfg.DB != "" && !cmd.Flags().Changed("db") {
		dbPath = cfg.DB
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ev, err := resolveEvent(ctx, st, flags.eventID)
	if err != nil {
		return err
	}

	unit := flags.unitID
	if unit == "" {
		unit = cfg.ROC.UnitID
	}
	if unit == "" {
		unit = ev.UpstreamCompID
	}
	if unit == "" {
		return NewExitError(ExitCommandError,
			"no ROC unit: pass --unit, set roc.unit_id in the config, or set the event's upstream id")
	}

	interval := flags.interval
	if interval == 0 && cfg.ROC.Interval != "" {
		interval, err = parseConfigDuration(cfg.ROC.Interval, "roc.interval")
		if err != nil {
			return err
		}
	}
	baseURL := flags.baseURL
	if baseURL == "" {
		baseURL = cfg.ROC.BaseURL
	}
	backupInterval := flags.backupInterval
	if cfg.Backup.Interval != "" && !cmd.Flags().Changed("backup-interval") {
		backupInterval, err = parseConfigDuration(cfg.Backup.Interval, "backup.interval")
		if err != nil {
			return err
		}
	}

	cursor, err := st.LastUpstreamID(ctx, ev.ID, race.SourceROC)
	if err != nil {
		return WrapExitError(ExitCommandError, "read resume cursor", err)
	}

	hub := live.NewHub()
	eng := engine.New(st, engine.WithSink(hub))

	var wg sync.WaitGroup
	sub := hub.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		logObserverEvents(sub)
	}()

	handler := func(ctx context.Context, r roc.Reading) error {
		upstreamID := r.ID
		_, err := eng.Ingest(ctx, engine.PunchInput{
			EventID:     ev.ID,
			ChipID:      r.ChipID,
			ControlCode: r.ControlCode,
			PunchTime:   r.PunchTime,
			Source:      race.SourceROC,
			UpstreamID:  &upstreamID,
		})
		return err
	}

	poller, err := roc.NewPoller(roc.Config{
		BaseURL:  baseURL,
		UnitID:   unit,
		Interval: interval,
		LastID:   cursor,
	}, handler)
	if err != nil {
		return WrapExitError(ExitCommandError, "create poller", err)
	}
	if err := poller.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "start poller", err)
	}

	if backupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			autoBackup(ctx, st, backupInterval)
		}()
	}

	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Polling unit %s for event %d (cursor %d), Ctrl-C to stop\n",
			unit, ev.ID, cursor)
	}

	<-ctx.Done()
	poller.Stop()
	hub.Close()
	wg.Wait()

	stat := poller.Status()
	if opts.Format == "json" {
		return formatter.Success(stat)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped: %d punches, %d errors, cursor %d\n",
		stat.PunchCount, stat.ErrorCount, stat.LastID)
	if dropped := sub.Dropped(); dropped > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Observer log fell behind by %d events\n", dropped)
	}
	return nil
}

// logObserverEvents drains one subscriber, logging what the speaker and
// console surfaces would show.
func logObserverEvents(sub *live.Subscriber) {
	for ev := range sub.Events() {
		switch p := ev.Payload.(type) {
		case live.PunchPayload:
			if p.Bib == 0 {
				slog.Info("punch from unmapped chip", "chip", p.ChipID, "control", p.ControlCode)
				continue
			}
			args := []any{"bib", p.Bib, "name", p.Name, "control", p.ControlCode}
			if p.Run != nil && p.Run.Elapsed != nil {
				args = append(args, "stage", p.Run.StageName, "elapsed", *p.Run.Elapsed)
			}
			slog.Info("punch accepted", args...)
		case live.HighlightPayload:
			slog.Info("highlight", "category", p.Category, "text", p.Text)
		default:
			slog.Debug("observer event", "kind", ev.Kind, "seq", ev.Seq)
		}
	}
}

// autoBackup snapshots the database every interval until ctx ends.
func autoBackup(ctx context.Context, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := st.Backup(ctx, "auto")
			if err != nil {
				slog.Warn("auto backup failed", "error", err)
				continue
			}
			slog.Info("auto backup written", "file", info.Filename, "size_mb", info.SizeMB)
		}
	}
}

// loadPollConfig reads and strictly decodes a poll config file. Unknown
// keys are errors so a typo cannot silently drop a setting.
func loadPollConfig(path string) (*PollConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open config", err)
	}
	defer f.Close()

	var cfg PollConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("parse config %s", path), err)
	}
	return &cfg, nil
}

// parseConfigDuration parses a duration string from the config file.
func parseConfigDuration(s, key string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: %v", key, s, err))
	}
	if d < 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: negative", key, s))
	}
	return d, nil
}
