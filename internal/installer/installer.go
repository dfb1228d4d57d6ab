// Package installer runs the create scripts for the persistence tables
// against a live connection.
package installer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/scriptbuilder"
	"github.com/roach88/sqlpersistence/internal/store"
)

// Options selects the scripts to run.
type Options struct {
	Sagas         []correlation.Definition
	Outbox        bool
	Subscriptions bool
	Timeouts      bool

	// Drop runs the drop scripts instead, in reverse order.
	Drop bool

	Logger *slog.Logger
}

// Script is one rendered installation step.
type Script struct {
	Name string
	Text string
}

// Scripts renders the scripts Install would run, in execution order.
func Scripts(p dialect.Profile, opts Options) ([]Script, error) {
	var scripts []Script
	add := func(name string, create, drop func() (string, error)) error {
		build := create
		if opts.Drop {
			build = drop
		}
		text, err := build()
		if err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		scripts = append(scripts, Script{Name: name, Text: text})
		return nil
	}

	for i := range opts.Sagas {
		def := &opts.Sagas[i]
		err := add("saga "+def.Name,
			func() (string, error) { return scriptbuilder.BuildSagaCreate(def, p) },
			func() (string, error) { return scriptbuilder.BuildSagaDrop(def, p) })
		if err != nil {
			return nil, err
		}
	}
	infra := []struct {
		enabled      bool
		name         string
		create, drop func(dialect.Profile) (string, error)
	}{
		{opts.Outbox, "outbox", scriptbuilder.BuildOutboxCreate, scriptbuilder.BuildOutboxDrop},
		{opts.Subscriptions, "subscriptions", scriptbuilder.BuildSubscriptionCreate, scriptbuilder.BuildSubscriptionDrop},
		{opts.Timeouts, "timeouts", scriptbuilder.BuildTimeoutCreate, scriptbuilder.BuildTimeoutDrop},
	}
	for _, s := range infra {
		if !s.enabled {
			continue
		}
		create, drop := s.create, s.drop
		err := add(s.name,
			func() (string, error) { return create(p) },
			func() (string, error) { return drop(p) })
		if err != nil {
			return nil, err
		}
	}

	if opts.Drop {
		for i, j := 0, len(scripts)-1; i < j; i, j = i+1, j-1 {
			scripts[i], scripts[j] = scripts[j], scripts[i]
		}
	}
	return scripts, nil
}

// Install renders and executes the selected scripts in order. The first
// failure stops the run.
func Install(ctx context.Context, ex store.Executor, p dialect.Profile, opts Options) ([]Script, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scripts, err := Scripts(p, opts)
	if err != nil {
		return nil, err
	}
	for i, s := range scripts {
		if _, err := ex.ExecContext(ctx, s.Text); err != nil {
			return scripts[:i], fmt.Errorf("execute %s: %w", s.Name, err)
		}
		logger.Info("script executed", "name", s.Name, "dialect", p.Dialect.String(), "drop", opts.Drop)
	}
	return scripts, nil
}
