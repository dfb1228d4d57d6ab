package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/scriptwriter"
)

// ScriptsResult lists the generated script files.
type ScriptsResult struct {
	OutputDir string   `json:"output_dir"`
	Files     []string `json:"files"`
}

// RenderText prints every file written.
func (r *ScriptsResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%d script(s) written to %s\n", len(r.Files), r.OutputDir)
	for _, f := range r.Files {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

// NewScriptsCommand creates the scripts command.
func NewScriptsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		out   string
		clean bool
		flags settingsFlags
	)

	cmd := &cobra.Command{
		Use:   "scripts <types-dir>",
		Short: "Generate create and drop scripts for every dialect",
		Long: `Generate installation scripts for the sagas in a type module and for the
outbox, subscription and timeout tables. Dialects and naming come from the
settings file (--config) and can be overridden with flags. Without any
configured dialect, scripts are written for all four.

A saga that cannot be persisted does not stop the other scripts from being
written; the command exits 1 once everything that could be written is.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScripts(rootOpts, cmd, args[0], out, clean, &flags)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "scripts", "output directory")
	cmd.Flags().BoolVar(&clean, "clean", false, "remove existing dialect directories first")
	flags.register(cmd)

	return cmd
}

func runScripts(opts *RootOptions, cmd *cobra.Command, dir, out string, clean bool, flags *settingsFlags) error {
	formatter := newFormatter(opts, cmd)
	logger := formatter.Logger()

	s, err := loadSettings(opts, cmd, flags, dialect.All...)
	if err != nil {
		return settingsError(formatter, err)
	}

	ex, err := extract(formatter, dir, logger)
	if err != nil {
		return err
	}

	written, err := scriptwriter.Write(scriptwriter.Options{
		OutputDir: out,
		Settings:  s,
		Clean:     clean,
		Logger:    logger,
	}, ex.Definitions, ex.Errors)

	result := &ScriptsResult{OutputDir: out, Files: []string{}}
	if written != nil && written.Files != nil {
		result.Files = written.Files
	}
	if err != nil {
		details := errorDetails(err)
		if ferr := formatter.Failure(result, details); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("%d failure(s) while writing scripts", len(details)), err)
	}
	return formatter.Success(result)
}
