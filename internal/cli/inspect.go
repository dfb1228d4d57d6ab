package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlpersistence/internal/correlation"
)

// InspectResult lists the sagas found in a module.
type InspectResult struct {
	Module string                   `json:"module"`
	Sagas  []correlation.Definition `json:"sagas"`
}

// RenderText prints one line per saga.
func (r *InspectResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Module %s: %d saga(s)\n", r.Module, len(r.Sagas))
	for _, d := range r.Sagas {
		fmt.Fprintf(w, "✓ %s table=%s", d.Name, d.TableSuffix)
		if d.Correlation != nil {
			fmt.Fprintf(w, " correlation=%s(%s)", d.Correlation.Name, d.Correlation.Type)
		}
		if d.Transitional != nil {
			fmt.Fprintf(w, " transitional=%s(%s)", d.Transitional.Name, d.Transitional.Type)
		}
		fmt.Fprintln(w)
	}
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <types-dir>",
		Short: "Extract saga correlation metadata from a type module",
		Long: `Load the type descriptions in a directory and report, for every saga,
its table suffix and correlation properties. Sagas that cannot be persisted
are reported with a reason code (E2xx).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
}

func runInspect(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	logger := formatter.Logger()

	ex, err := extract(formatter, dir, logger)
	if err != nil {
		return err
	}

	result := &InspectResult{Module: ex.Module.Name, Sagas: ex.Definitions}
	if result.Sagas == nil {
		result.Sagas = []correlation.Definition{}
	}
	if len(ex.Errors) > 0 {
		if err := formatter.Failure(result, errorDetails(errors.Join(ex.Errors...))); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d saga(s) rejected", len(ex.Errors)))
	}
	return formatter.Success(result)
}
