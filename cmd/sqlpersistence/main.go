// Command sqlpersistence generates and installs SQL persistence scripts.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/sqlpersistence/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "sqlpersistence:", err)

	// Errors that are not ExitErrors come from cobra itself: unknown
	// commands, bad flags, wrong argument counts.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
