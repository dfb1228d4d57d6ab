// Package scriptwriter emits installation scripts to a directory tree.
//
// The layout is one directory per dialect:
//
//	<out>/<Dialect>/Sagas/<TableSuffix>_Create.sql
//	<out>/<Dialect>/Sagas/<TableSuffix>_Drop.sql
//	<out>/<Dialect>/Outbox_Create.sql
//	<out>/<Dialect>/Subscription_Create.sql
//	<out>/<Dialect>/Timeout_Create.sql
//	...
package scriptwriter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/scriptbuilder"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/settings"
)

// PathBudget is the longest script path, in bytes, the writer will produce
// before truncating saga file names.
const PathBudget = 244

// SagasDir is the per-dialect subdirectory holding saga scripts.
const SagasDir = "Sagas"

// Options configures a Write run.
type Options struct {
	OutputDir string
	Settings  *settings.Settings

	// Clean removes each dialect directory before writing.
	Clean bool

	Logger *slog.Logger
}

// Result lists the files written, relative to OutputDir.
type Result struct {
	Files []string `json:"files"`
}

// EntityError reports a failure to produce scripts for one entity.
type EntityError struct {
	Dialect dialect.Dialect
	Entity  string
	Err     error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Dialect, e.Entity, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// Write emits scripts for every definition and selected dialect.
//
// A failure for one entity does not stop the others. All failures, including
// the extraction errors passed in, are returned together once every script
// that could be written has been written.
func Write(opts Options, defs []correlation.Definition, extractionErrs []error) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := opts.Settings
	if s == nil {
		return nil, errors.New("settings are required")
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	sorted := append([]correlation.Definition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	errs := append([]error(nil), extractionErrs...)
	result := &Result{}

	for _, d := range s.Dialects {
		profile, err := s.Profile(d)
		if err != nil {
			errs = append(errs, &EntityError{Dialect: d, Entity: "profile", Err: err})
			continue
		}

		dir := filepath.Join(opts.OutputDir, d.String())
		if opts.Clean {
			if err := os.RemoveAll(dir); err != nil {
				return result, fmt.Errorf("failed to clean %s: %w", dir, err)
			}
		}

		w := &dialectWriter{root: opts.OutputDir, dir: dir, profile: profile, result: result}

		if s.Produce.SagasEnabled() && len(sorted) > 0 {
			errs = append(errs, w.writeSagas(sorted)...)
		}
		if s.Produce.OutboxEnabled() {
			errs = appendErr(errs, w.writePair(d, "Outbox", scriptbuilder.BuildOutboxCreate, scriptbuilder.BuildOutboxDrop))
		}
		if s.Produce.SubscriptionsEnabled() {
			errs = appendErr(errs, w.writePair(d, "Subscription", scriptbuilder.BuildSubscriptionCreate, scriptbuilder.BuildSubscriptionDrop))
		}
		if s.Produce.TimeoutsEnabled() {
			errs = appendErr(errs, w.writePair(d, "Timeout", scriptbuilder.BuildTimeoutCreate, scriptbuilder.BuildTimeoutDrop))
		}
		logger.Info("scripts written", "dialect", d.String(), "dir", dir)
	}

	if s.ScriptPromotionPath != "" {
		if err := promote(opts.OutputDir, s.ScriptPromotionPath, result.Files); err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("scripts promoted", "path", s.ScriptPromotionPath, "files", len(result.Files))
		}
	}

	return result, errors.Join(errs...)
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

type dialectWriter struct {
	root    string
	dir     string
	profile dialect.Profile
	result  *Result
}

// writeSagas writes each saga pair, truncating file names that would exceed
// the path budget. Each truncation takes the next index, so names that
// collide after truncation stay distinct. Two sagas sharing a table suffix
// would overwrite each other's scripts and are rejected.
func (w *dialectWriter) writeSagas(defs []correlation.Definition) []error {
	sagasDir := filepath.Join(w.dir, SagasDir)
	absDir, err := filepath.Abs(sagasDir)
	if err != nil {
		absDir = sagasDir
	}
	maxName := PathBudget - len(absDir)
	if maxName <= 0 {
		return []error{&EntityError{Dialect: w.profile.Dialect, Entity: "sagas",
			Err: fmt.Errorf("output path %s leaves no room for script names", absDir)}}
	}

	var errs []error
	index := 0
	seen := make(map[string]string, len(defs))
	for i := range defs {
		def := &defs[i]
		key := strings.ToLower(def.TableSuffix)
		if other, ok := seen[key]; ok {
			errs = append(errs, &EntityError{Dialect: w.profile.Dialect, Entity: def.Name,
				Err: sqlerr.Wrap("scriptwriter.saga", def.TableSuffix, sqlerr.ErrValidation,
					fmt.Errorf("table suffix is already used by %s", other))})
			continue
		}
		seen[key] = def.Name

		name := def.TableSuffix
		if len(name) > maxName {
			name = truncateName(name, maxName) + "_" + strconv.Itoa(index)
			index++
		}

		create, err := scriptbuilder.BuildSagaCreate(def, w.profile)
		if err != nil {
			errs = append(errs, &EntityError{Dialect: w.profile.Dialect, Entity: def.Name, Err: err})
			continue
		}
		drop, err := scriptbuilder.BuildSagaDrop(def, w.profile)
		if err != nil {
			errs = append(errs, &EntityError{Dialect: w.profile.Dialect, Entity: def.Name, Err: err})
			continue
		}
		if err := w.write(filepath.Join(sagasDir, name+"_Create.sql"), create); err != nil {
			errs = append(errs, &EntityError{Dialect: w.profile.Dialect, Entity: def.Name, Err: err})
			continue
		}
		if err := w.write(filepath.Join(sagasDir, name+"_Drop.sql"), drop); err != nil {
			errs = append(errs, &EntityError{Dialect: w.profile.Dialect, Entity: def.Name, Err: err})
		}
	}
	return errs
}

// truncateName cuts name to at most n bytes without splitting a rune.
func truncateName(name string, n int) string {
	if len(name) <= n {
		return name
	}
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}

type buildFunc func(dialect.Profile) (string, error)

func (w *dialectWriter) writePair(d dialect.Dialect, name string, create, drop buildFunc) error {
	for _, part := range []struct {
		suffix string
		build  buildFunc
	}{{"_Create.sql", create}, {"_Drop.sql", drop}} {
		script, err := part.build(w.profile)
		if err != nil {
			return &EntityError{Dialect: d, Entity: name, Err: err}
		}
		if err := w.write(filepath.Join(w.dir, name+part.suffix), script); err != nil {
			return &EntityError{Dialect: d, Entity: name, Err: err}
		}
	}
	return nil
}

func (w *dialectWriter) write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	w.result.Files = append(w.result.Files, rel)
	return nil
}

// promote copies the written files to dest, keeping their relative layout.
func promote(root, dest string, files []string) error {
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(root, dest)
	}
	for _, rel := range files {
		if err := copyFile(filepath.Join(root, rel), filepath.Join(dest, rel)); err != nil {
			return fmt.Errorf("failed to promote %s: %w", rel, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
