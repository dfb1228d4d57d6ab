package sagastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/metrics"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/store"
)

// PersistenceVersion is written with every row.
const PersistenceVersion = "1.0.0"

// LockMode selects how a read protects the row.
type LockMode int

const (
	// Optimistic reads without locking; conflicts surface on Update or Complete.
	Optimistic LockMode = iota

	// Pessimistic takes an update lock held until the caller's transaction ends.
	Pessimistic
)

// DefinitionSource resolves saga definitions by name.
// *correlation.Catalog satisfies it.
type DefinitionSource interface {
	Definition(name string) (*correlation.Definition, error)
}

var _ DefinitionSource = (*correlation.Catalog)(nil)

// StaticSource serves definitions extracted ahead of time, keyed by saga name.
type StaticSource map[string]correlation.Definition

// NewStaticSource indexes definitions by name.
func NewStaticSource(defs ...correlation.Definition) StaticSource {
	s := make(StaticSource, len(defs))
	for _, d := range defs {
		s[d.Name] = d
	}
	return s
}

func (s StaticSource) Definition(name string) (*correlation.Definition, error) {
	d, ok := s[name]
	if !ok {
		return nil, sqlerr.New("resolve definition", name, sqlerr.ErrNotFound)
	}
	return &d, nil
}

// Entry is one persisted saga instance.
type Entry struct {
	ID uuid.UUID

	// State is the saga data. Save and Update serialize it; Get decodes into it.
	State any

	Metadata    map[string]string
	TypeVersion string

	// Version is the concurrency version read by Get. Update and Complete
	// require it to still be current.
	Version int
}

// Option configures a Store.
type Option func(*Store)

// WithSerializer replaces the JSON state serializer.
func WithSerializer(s Serializer) Option {
	return func(st *Store) {
		st.serializer = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) {
		st.logger = l
	}
}

// Store persists sagas for one dialect profile. It is safe for concurrent use.
type Store struct {
	profile    dialect.Profile
	source     DefinitionSource
	serializer Serializer
	logger     *slog.Logger

	infos sync.Map // saga name -> *runtimeInfo
	group singleflight.Group
}

type runtimeInfo struct {
	def  *correlation.Definition
	cmds *dialect.SagaCommands
}

// New creates a saga store.
func New(p dialect.Profile, source DefinitionSource, opts ...Option) *Store {
	s := &Store{
		profile:    p,
		source:     source,
		serializer: JSONSerializer{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// info returns the cached command set for a saga, rendering it on first use.
// Concurrent first uses share one rendering. Failures are not cached.
func (s *Store) info(saga string) (*runtimeInfo, error) {
	if v, ok := s.infos.Load(saga); ok {
		return v.(*runtimeInfo), nil
	}
	v, err, _ := s.group.Do(saga, func() (any, error) {
		if v, ok := s.infos.Load(saga); ok {
			return v, nil
		}
		def, err := s.source.Definition(saga)
		if err != nil {
			return nil, err
		}
		cmds, err := s.profile.SagaCommands(def)
		if err != nil {
			return nil, err
		}
		info := &runtimeInfo{def: def, cmds: cmds}
		s.infos.Store(saga, info)
		metrics.SagaRuntimeInfoBuildsTotal.Inc()
		s.logger.Debug("saga commands rendered", "saga", saga, "dialect", s.profile.Dialect.String())
		return info, nil
	})
	if err != nil {
		return nil, fmt.Errorf("saga %s: %w", saga, err)
	}
	return v.(*runtimeInfo), nil
}

// writeValues builds the parameter values shared by Save and Update.
func (s *Store) writeValues(info *runtimeInfo, e *Entry) (dialect.Values, error) {
	data, err := s.serializer.Marshal(e.State)
	if err != nil {
		return nil, fmt.Errorf("serialize state: %w", err)
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}

	values := dialect.Values{
		dialect.ParamID:                 e.ID.String(),
		dialect.ParamMetadata:           string(meta),
		dialect.ParamData:               string(data),
		dialect.ParamPersistenceVersion: PersistenceVersion,
		dialect.ParamSagaTypeVersion:    e.TypeVersion,
		dialect.ParamConcurrencyVersion: e.Version,
	}
	if prop := info.def.Correlation; prop != nil {
		v, err := correlationValue(e.State, prop)
		if err != nil {
			return nil, sqlerr.Wrap("read correlation", info.def.Name, sqlerr.ErrValidation, err)
		}
		values[dialect.ParamCorrelationID] = v
	}
	if prop := info.def.Transitional; prop != nil {
		v, err := correlationValue(e.State, prop)
		if err != nil {
			return nil, sqlerr.Wrap("read correlation", info.def.Name, sqlerr.ErrValidation, err)
		}
		values[dialect.ParamTransitionalCorrelationID] = v
	}
	return values, nil
}

// Save inserts a new saga row at version 1 and sets e.Version.
// An existing id or correlation value returns sqlerr.ErrDuplicateKey.
func (s *Store) Save(ctx context.Context, ex store.Executor, saga string, e *Entry) error {
	info, err := s.info(saga)
	if err != nil {
		return err
	}
	values, err := s.writeValues(info, e)
	if err != nil {
		return err
	}
	if _, err := store.Exec(ctx, ex, info.cmds.Save, values); err != nil {
		return sqlerr.ClassifyInsert("save saga", saga, err)
	}
	e.Version = 1
	return nil
}

// Update replaces the state of a saga read at e.Version and increments
// e.Version on success.
func (s *Store) Update(ctx context.Context, ex store.Executor, saga string, e *Entry) error {
	info, err := s.info(saga)
	if err != nil {
		return err
	}
	values, err := s.writeValues(info, e)
	if err != nil {
		return err
	}
	n, err := store.Exec(ctx, ex, info.cmds.Update, values)
	if err != nil {
		return sqlerr.Wrapf(err, "update saga %s", saga)
	}
	if n == 0 {
		return s.rejected(ctx, ex, info, "update saga", e.ID, e.Version)
	}
	e.Version++
	return nil
}

// Complete deletes a saga read at version.
func (s *Store) Complete(ctx context.Context, ex store.Executor, saga string, id uuid.UUID, version int) error {
	info, err := s.info(saga)
	if err != nil {
		return err
	}
	n, err := store.Exec(ctx, ex, info.cmds.Complete, dialect.Values{
		dialect.ParamID:                 id.String(),
		dialect.ParamConcurrencyVersion: version,
	})
	if err != nil {
		return sqlerr.Wrapf(err, "complete saga %s", saga)
	}
	if n == 0 {
		return s.rejected(ctx, ex, info, "complete saga", id, version)
	}
	return nil
}

// rejected explains a write that matched no row: the row is either gone or
// at another version.
func (s *Store) rejected(ctx context.Context, ex store.Executor, info *runtimeInfo, op string, id uuid.UUID, version int) error {
	row, err := store.QueryRow(ctx, ex, info.cmds.Exists, dialect.Values{dialect.ParamID: id.String()})
	if err != nil {
		return sqlerr.Wrapf(err, "%s %s", op, info.def.Name)
	}
	var current int
	switch err := row.Scan(&current); {
	case errors.Is(err, sql.ErrNoRows):
		return sqlerr.Wrap(op, info.def.Name, sqlerr.ErrNotFound, fmt.Errorf("no saga with id %s", id))
	case err != nil:
		return sqlerr.Wrapf(err, "%s %s", op, info.def.Name)
	}

	metrics.SagaConcurrencyConflictsTotal.WithLabelValues(info.def.Name).Inc()
	s.logger.Debug("saga version conflict", "saga", info.def.Name, "id", id, "expected", version, "current", current)
	return sqlerr.Wrap(op, info.def.Name, sqlerr.ErrConcurrencyConflict,
		fmt.Errorf("saga %s is at version %d, not %d", id, current, version))
}

// Get reads a saga by id and decodes its state into state.
// A missing saga returns sqlerr.ErrNotFound.
func (s *Store) Get(ctx context.Context, ex store.Executor, saga string, id uuid.UUID, state any, lock LockMode) (*Entry, error) {
	info, err := s.info(saga)
	if err != nil {
		return nil, err
	}
	cmd := info.cmds.GetByID
	if lock == Pessimistic {
		cmd = info.cmds.GetByIDLocked
	}
	row, err := store.QueryRow(ctx, ex, cmd, dialect.Values{dialect.ParamID: id.String()})
	if err != nil {
		return nil, sqlerr.Wrapf(err, "get saga %s", saga)
	}
	return s.scan(row, "get saga", saga, state)
}

// GetByProperty reads a saga by its correlation property value.
func (s *Store) GetByProperty(ctx context.Context, ex store.Executor, saga, property string, value, state any, lock LockMode) (*Entry, error) {
	info, err := s.info(saga)
	if err != nil {
		return nil, err
	}
	prop := info.def.Correlation
	if prop == nil || !info.cmds.HasCorrelation() {
		return nil, sqlerr.Wrap("get saga by property", saga, sqlerr.ErrValidation,
			errors.New("saga has no correlation property"))
	}
	if property != prop.Name {
		return nil, sqlerr.Wrap("get saga by property", saga, sqlerr.ErrValidation,
			fmt.Errorf("saga is correlated on %s, not %s", prop.Name, property))
	}
	v, err := columnValue(value, prop.Type)
	if err != nil {
		return nil, sqlerr.Wrap("get saga by property", saga, sqlerr.ErrValidation, err)
	}

	cmd := info.cmds.GetByProperty
	if lock == Pessimistic {
		cmd = info.cmds.GetByPropertyLocked
	}
	row, err := store.QueryRow(ctx, ex, cmd, dialect.Values{dialect.ParamCorrelationID: v})
	if err != nil {
		return nil, sqlerr.Wrapf(err, "get saga %s by %s", saga, property)
	}
	return s.scan(row, "get saga by property", saga, state)
}

func (s *Store) scan(row *sql.Row, op, saga string, state any) (*Entry, error) {
	var (
		id, typeVersion string
		version         int
		metadata, data  string
	)
	err := row.Scan(&id, &typeVersion, &version, &metadata, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sqlerr.New(op, saga, sqlerr.ErrNotFound)
	}
	if err != nil {
		return nil, sqlerr.Wrapf(err, "%s %s", op, saga)
	}

	e := &Entry{State: state, TypeVersion: typeVersion, Version: version}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s %s: invalid id %q: %w", op, saga, id, err)
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return nil, fmt.Errorf("%s %s: decode metadata: %w", op, saga, err)
	}
	if err := s.serializer.Unmarshal([]byte(data), state); err != nil {
		return nil, fmt.Errorf("%s %s: decode state: %w", op, saga, err)
	}
	return e, nil
}
