package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlpersistence/internal/outbox"
	"github.com/roach88/sqlpersistence/internal/store"
)

// CleanupResult reports one outbox cleanup run.
type CleanupResult struct {
	Removed   int64     `json:"removed"`
	OlderThan time.Time `json:"older_than,omitzero"`
	Disabled  bool      `json:"disabled,omitempty"`
}

// RenderText prints the number of rows removed.
func (r *CleanupResult) RenderText(w io.Writer) {
	if r.Disabled {
		fmt.Fprintln(w, "- outbox cleanup is disabled in settings, nothing removed")
		return
	}
	fmt.Fprintf(w, "✓ removed %d dispatched outbox record(s) older than %s\n",
		r.Removed, r.OlderThan.Format(time.RFC3339))
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		driver    string
		dsn       string
		retention time.Duration
		batchSize int
		flags     settingsFlags
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove dispatched outbox records past their retention",
		Long: `Run one outbox cleanup pass: dispatched records older than the retention
period are deleted in batches. Retention and batch size default to the
outbox section of the settings file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(rootOpts, cmd, driver, dsn, retention, batchSize, &flags)
		},
	}

	cmd.Flags().StringVar(&driver, "driver", store.DriverSQLite, "database driver (sqlite3|postgres|mysql)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "data source name")
	cmd.Flags().DurationVar(&retention, "retention", 0, "keep dispatched records newer than this (default from settings)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows deleted per statement (default from settings)")
	_ = cmd.MarkFlagRequired("dsn")
	flags.register(cmd)

	return cmd
}

func runCleanup(opts *RootOptions, cmd *cobra.Command, driver, dsn string, retention time.Duration, batchSize int, flags *settingsFlags) error {
	formatter := newFormatter(opts, cmd)
	logger := formatter.Logger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := store.DriverDialect(driver)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error())
		return WrapExitError(ExitCommandError, ErrCodeDatabase, err)
	}
	s, err := loadSettings(opts, cmd, flags, d)
	if err != nil {
		return settingsError(formatter, err)
	}
	if cmd.Flags().Changed("retention") {
		if retention <= 0 {
			return settingsError(formatter, fmt.Errorf("--retention must be positive, got %s", retention))
		}
		s.Outbox.Retention = retention
	}
	if cmd.Flags().Changed("batch-size") {
		if batchSize <= 0 {
			return settingsError(formatter, fmt.Errorf("--batch-size must be positive, got %d", batchSize))
		}
		s.Outbox.BatchSize = batchSize
	}
	if err := s.Validate(); err != nil {
		return settingsError(formatter, err)
	}
	if s.Outbox.DisableCleanup {
		logger.Info("outbox cleanup disabled by settings")
		return formatter.Success(&CleanupResult{Disabled: true})
	}
	profile, err := store.DriverProfile(driver, s.Prefix(), s.Schema)
	if err != nil {
		return settingsError(formatter, err)
	}

	db, err := store.Open(ctx, driver, dsn)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error())
		return WrapExitError(ExitCommandError, ErrCodeDatabase, err)
	}
	defer db.Close()

	persister, err := outbox.NewPersister(profile, outbox.WithLogger(logger))
	if err != nil {
		return settingsError(formatter, err)
	}
	now := time.Now().UTC()
	cleanerOpts := append(outbox.CleanerOptions(s.Outbox),
		outbox.WithCleanerLogger(logger),
		outbox.WithCleanerClock(func() time.Time { return now }),
	)
	cleaner := outbox.NewCleaner(persister, db, cleanerOpts...)

	removed, err := cleaner.RunOnce(ctx)
	result := &CleanupResult{Removed: removed, OlderThan: now.Add(-cleaner.Retention())}
	if err != nil {
		if ferr := formatter.Failure(result, []ErrorDetail{{Code: ErrCodeCleanup, Message: err.Error()}}); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "cleanup failed", err)
	}
	return formatter.Success(result)
}
