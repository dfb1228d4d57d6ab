// Package timeout stores deferred messages until they are due.
package timeout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/store"
)

// PersistenceVersion is written with every row.
const PersistenceVersion = "1.0.0"

const entity = "timeout"

// Timeout is a message to deliver to Destination at Time.
type Timeout struct {
	ID          uuid.UUID
	Destination string

	// SagaID is uuid.Nil for timeouts not owned by a saga.
	SagaID  uuid.UUID
	State   []byte
	Time    time.Time
	Headers map[string]string
}

// Due identifies a timeout whose time has come.
type Due struct {
	ID   uuid.UUID
	Time time.Time
}

// Option configures a Persister.
type Option func(*Persister)

// WithIDGenerator sets the source of ids for timeouts added without one.
func WithIDGenerator(next func() uuid.UUID) Option {
	return func(p *Persister) {
		p.newID = next
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = l
	}
}

// Persister reads and writes timeouts. It is safe for concurrent use.
type Persister struct {
	cmds   *dialect.TimeoutCommands
	newID  func() uuid.UUID
	logger *slog.Logger
}

// NewPersister renders the timeout commands for a profile.
func NewPersister(p dialect.Profile, opts ...Option) (*Persister, error) {
	cmds, err := p.TimeoutCommands()
	if err != nil {
		return nil, fmt.Errorf("timeout commands: %w", err)
	}
	ps := &Persister{cmds: cmds, newID: uuid.New, logger: slog.Default()}
	for _, opt := range opts {
		opt(ps)
	}
	return ps, nil
}

// Add stores a timeout, assigning t.ID when it is nil.
func (p *Persister) Add(ctx context.Context, ex store.Executor, t *Timeout) error {
	if t.ID == uuid.Nil {
		t.ID = p.newID()
	}
	headers := t.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	var sagaID, state any
	if t.SagaID != uuid.Nil {
		sagaID = t.SagaID.String()
	}
	if len(t.State) > 0 {
		state = t.State
	}

	_, err = store.Exec(ctx, ex, p.cmds.Add, dialect.Values{
		dialect.ParamID:                 t.ID.String(),
		dialect.ParamDestination:        t.Destination,
		dialect.ParamSagaID:             sagaID,
		dialect.ParamState:              state,
		dialect.ParamTime:               t.Time.UTC(),
		dialect.ParamHeaders:            string(encoded),
		dialect.ParamPersistenceVersion: PersistenceVersion,
	})
	if err := sqlerr.ClassifyInsert("add", entity+" "+t.ID.String(), err); err != nil {
		return err
	}
	p.logger.Debug("timeout added", "id", t.ID, "destination", t.Destination, "time", t.Time)
	return nil
}

// Peek reads a timeout without removing it.
func (p *Persister) Peek(ctx context.Context, ex store.Executor, id uuid.UUID) (*Timeout, error) {
	row, err := store.QueryRow(ctx, ex, p.cmds.Peek, dialect.Values{dialect.ParamID: id.String()})
	if err != nil {
		return nil, sqlerr.Wrapf(err, "peek %s %s", entity, id)
	}

	var (
		sagaID  sql.NullString
		state   []byte
		headers string
	)
	t := &Timeout{ID: id}
	switch err := row.Scan(&t.Destination, &sagaID, &state, &t.Time, &headers); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, sqlerr.Wrap("peek", entity, sqlerr.ErrNotFound, fmt.Errorf("no timeout with id %s", id))
	case err != nil:
		return nil, sqlerr.Wrapf(err, "peek %s %s", entity, id)
	}

	if sagaID.Valid {
		if t.SagaID, err = uuid.Parse(sagaID.String); err != nil {
			return nil, fmt.Errorf("peek %s %s: invalid saga id: %w", entity, id, err)
		}
	}
	if len(state) > 0 {
		t.State = state
	}
	t.Time = t.Time.UTC()
	if err := json.Unmarshal([]byte(headers), &t.Headers); err != nil {
		return nil, fmt.Errorf("peek %s %s: decode headers: %w", entity, id, err)
	}
	return t, nil
}

// RemoveByID deletes a timeout and reports whether it existed. Callers
// dispatch a timeout only when they were the one to remove it.
func (p *Persister) RemoveByID(ctx context.Context, ex store.Executor, id uuid.UUID) (bool, error) {
	n, err := store.Exec(ctx, ex, p.cmds.RemoveByID, dialect.Values{dialect.ParamID: id.String()})
	if err != nil {
		return false, sqlerr.Wrapf(err, "remove %s %s", entity, id)
	}
	return n > 0, nil
}

// RemoveBySagaID deletes every timeout of a saga and returns how many were
// removed.
func (p *Persister) RemoveBySagaID(ctx context.Context, ex store.Executor, sagaID uuid.UUID) (int64, error) {
	n, err := store.Exec(ctx, ex, p.cmds.RemoveBySagaID, dialect.Values{dialect.ParamSagaID: sagaID.String()})
	if err != nil {
		return 0, sqlerr.Wrapf(err, "remove %s of saga %s", entity, sagaID)
	}
	return n, nil
}

// Range returns the timeouts due in (start, end], ordered by time, and the
// time of the next timeout after end. next is zero when there is none.
func (p *Persister) Range(ctx context.Context, ex store.Executor, start, end time.Time) (due []Due, next time.Time, err error) {
	rows, err := store.Query(ctx, ex, p.cmds.Range, dialect.Values{
		dialect.ParamStartTime: start.UTC(),
		dialect.ParamEndTime:   end.UTC(),
	})
	if err != nil {
		return nil, time.Time{}, sqlerr.Wrapf(err, "range %s", entity)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			d  Due
		)
		if err := rows.Scan(&id, &d.Time); err != nil {
			return nil, time.Time{}, sqlerr.Wrapf(err, "range %s", entity)
		}
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, time.Time{}, fmt.Errorf("range %s: invalid id %q: %w", entity, id, err)
		}
		d.Time = d.Time.UTC()
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, sqlerr.Wrapf(err, "range %s", entity)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].Time.Equal(due[j].Time) {
			return due[i].Time.Before(due[j].Time)
		}
		return due[i].ID.String() < due[j].ID.String()
	})

	next, _, err = p.Next(ctx, ex, end)
	if err != nil {
		return nil, time.Time{}, err
	}
	return due, next, nil
}

// Next returns the time of the earliest timeout after the given time.
func (p *Persister) Next(ctx context.Context, ex store.Executor, after time.Time) (time.Time, bool, error) {
	row, err := store.QueryRow(ctx, ex, p.cmds.Next, dialect.Values{dialect.ParamEndTime: after.UTC()})
	if err != nil {
		return time.Time{}, false, sqlerr.Wrapf(err, "next %s", entity)
	}
	var next time.Time
	switch err := row.Scan(&next); {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, sqlerr.Wrapf(err, "next %s", entity)
	}
	return next.UTC(), true, nil
}
