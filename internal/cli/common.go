package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/settings"
	"github.com/roach88/sqlpersistence/internal/typeinfo"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// settingsFlags override individual fields of the settings file.
type settingsFlags struct {
	Dialects []string
	Prefix   string
	Endpoint string
	Schema   string
}

func (f *settingsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.Dialects, "dialect", "d", nil, "dialects to target (MsSqlServer, MySql, Oracle, PostgreSql)")
	cmd.Flags().StringVar(&f.Prefix, "prefix", "", "table prefix")
	cmd.Flags().StringVar(&f.Endpoint, "endpoint", "", "endpoint name, derives the table prefix when --prefix is not set")
	cmd.Flags().StringVar(&f.Schema, "schema", "", "schema qualifying table names")
}

// loadSettings reads the settings file named by --config, if any, then
// applies flags the user set explicitly. When no dialect is configured,
// fallback is used.
func loadSettings(opts *RootOptions, cmd *cobra.Command, f *settingsFlags, fallback ...dialect.Dialect) (*settings.Settings, error) {
	s := settings.Default()
	if opts.Config != "" {
		loaded, err := settings.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		s = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("dialect") {
		s.Dialects = s.Dialects[:0]
		for _, name := range f.Dialects {
			d, err := dialect.Parse(name)
			if err != nil {
				return nil, err
			}
			s.Dialects = append(s.Dialects, d)
		}
	}
	if flags.Changed("prefix") {
		s.TablePrefix = f.Prefix
	}
	if flags.Changed("endpoint") {
		s.EndpointName = f.Endpoint
	}
	if flags.Changed("schema") {
		s.Schema = f.Schema
	}
	if len(s.Dialects) == 0 {
		s.Dialects = append(s.Dialects, fallback...)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// settingsError reports a settings failure and returns the matching exit error.
func settingsError(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(ErrCodeSettings, err.Error())
	return WrapExitError(ExitCommandError, ErrCodeSettings, err)
}

// extraction is the outcome of loading a module and extracting its sagas.
type extraction struct {
	Module      *typeinfo.Module
	Definitions []correlation.Definition
	Errors      []error
}

// extract loads the module in dir and extracts every saga it declares.
// A module that cannot be loaded is reported and returned as a command error.
func extract(formatter *OutputFormatter, dir string, logger *slog.Logger) (*extraction, error) {
	module, err := typeinfo.LoadModule(dir)
	if err != nil {
		code := ErrCodeGeneric
		var le *typeinfo.LoadError
		if errors.As(err, &le) {
			code = le.Code
		}
		_ = formatter.Error(code, err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to load module", err)
	}
	logger.Debug("module loaded", "module", module.Name, "dir", dir, "types", len(module.Types))

	defs, errs := correlation.NewExtractor(correlation.WithLogger(logger)).ExtractAll(module)
	return &extraction{Module: module, Definitions: defs, Errors: errs}, nil
}
