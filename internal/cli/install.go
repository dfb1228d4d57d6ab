package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/installer"
	"github.com/roach88/sqlpersistence/internal/store"
)

// InstallResult lists the scripts executed.
type InstallResult struct {
	Driver  string   `json:"driver"`
	Dropped bool     `json:"dropped"`
	Scripts []string `json:"scripts"`
}

// RenderText prints one line per executed script.
func (r *InstallResult) RenderText(w io.Writer) {
	verb := "installed"
	if r.Dropped {
		verb = "dropped"
	}
	for _, s := range r.Scripts {
		fmt.Fprintf(w, "✓ %s %s\n", s, verb)
	}
}

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		driver string
		dsn    string
		drop   bool
		flags  settingsFlags
	)

	cmd := &cobra.Command{
		Use:   "install [types-dir]",
		Short: "Create the persistence tables in a live database",
		Long: `Run the create scripts against a database. With a types directory the
saga tables of every persistable saga are created too. The produce toggles
of the settings file select the outbox, subscription and timeout tables.

Supported drivers: sqlite3, postgres, mysql.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) == 1 {
				dir = args[0]
			}
			return runInstall(rootOpts, cmd, dir, driver, dsn, drop, &flags)
		},
	}

	cmd.Flags().StringVar(&driver, "driver", store.DriverSQLite, "database driver (sqlite3|postgres|mysql)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "data source name")
	cmd.Flags().BoolVar(&drop, "drop", false, "run the drop scripts instead")
	_ = cmd.MarkFlagRequired("dsn")
	flags.register(cmd)

	return cmd
}

func runInstall(opts *RootOptions, cmd *cobra.Command, dir, driver, dsn string, drop bool, flags *settingsFlags) error {
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
	profile, err := store.DriverProfile(driver, s.Prefix(), s.Schema)
	if err != nil {
		return settingsError(formatter, err)
	}

	var sagas []correlation.Definition
	if dir != "" && s.Produce.SagasEnabled() {
		ex, err := extract(formatter, dir, logger)
		if err != nil {
			return err
		}
		if len(ex.Errors) > 0 {
			if err := formatter.Failure(nil, errorDetails(errors.Join(ex.Errors...))); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d saga(s) rejected, nothing installed", len(ex.Errors)))
		}
		sagas = ex.Definitions
	}

	db, err := store.Open(ctx, driver, dsn)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error())
		return WrapExitError(ExitCommandError, ErrCodeDatabase, err)
	}
	defer db.Close()

	executed, err := installer.Install(ctx, db, profile, installer.Options{
		Sagas:         sagas,
		Outbox:        s.Produce.OutboxEnabled(),
		Subscriptions: s.Produce.SubscriptionsEnabled(),
		Timeouts:      s.Produce.TimeoutsEnabled(),
		Drop:          drop,
		Logger:        logger,
	})

	result := &InstallResult{Driver: driver, Dropped: drop, Scripts: []string{}}
	for _, script := range executed {
		result.Scripts = append(result.Scripts, script.Name)
	}
	if err != nil {
		details := []ErrorDetail{{Code: ErrCodeDatabase, Message: err.Error()}}
		if ferr := formatter.Failure(result, details); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "install failed", err)
	}
	return formatter.Success(result)
}
