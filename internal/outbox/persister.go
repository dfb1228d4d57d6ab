// Package outbox records the outgoing operations of each handled message so
// a redelivered message dispatches them instead of running its handler again.
//
// Two modes are supported. Optimistic mode inserts the operations in one
// statement after the handler ran; a concurrent duplicate fails with
// sqlerr.ErrDuplicateKey. Pessimistic mode inserts an empty placeholder
// before the handler runs (Begin) and fills it in afterwards (Complete), so
// the unique MessageId serializes concurrent handlers up front.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/store"
)

// PersistenceVersion is written with every row.
const PersistenceVersion = "1.0.0"

const entity = "outbox"

// Operation is one outgoing message recorded in the outbox.
type Operation struct {
	MessageID  string            `json:"MessageId"`
	Properties map[string]string `json:"Properties,omitempty"`
	Headers    map[string]string `json:"Headers,omitempty"`
	Body       []byte            `json:"Body,omitempty"`
}

// Record is the stored outcome of one incoming message.
type Record struct {
	MessageID  string
	Found      bool
	Dispatched bool
	Operations []Operation
}

// Option configures a Persister.
type Option func(*Persister)

// WithClock sets the time source for dispatch timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Persister) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = l
	}
}

// Persister reads and writes outbox rows. It is safe for concurrent use.
type Persister struct {
	cmds   *dialect.OutboxCommands
	now    func() time.Time
	logger *slog.Logger
}

// NewPersister renders the outbox commands for a profile.
func NewPersister(p dialect.Profile, opts ...Option) (*Persister, error) {
	cmds, err := p.OutboxCommands()
	if err != nil {
		return nil, fmt.Errorf("outbox commands: %w", err)
	}
	ps := &Persister{cmds: cmds, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(ps)
	}
	return ps, nil
}

// Get reads the record for messageID. An unknown id returns a record with
// Found false.
func (p *Persister) Get(ctx context.Context, ex store.Executor, messageID string) (*Record, error) {
	row, err := store.QueryRow(ctx, ex, p.cmds.Get, dialect.Values{dialect.ParamMessageID: messageID})
	if err != nil {
		return nil, sqlerr.Wrapf(err, "get %s %s", entity, messageID)
	}

	var (
		dispatched bool
		operations string
	)
	switch err := row.Scan(&dispatched, &operations); {
	case errors.Is(err, sql.ErrNoRows):
		return &Record{MessageID: messageID}, nil
	case err != nil:
		return nil, sqlerr.Wrapf(err, "get %s %s", entity, messageID)
	}

	rec := &Record{MessageID: messageID, Found: true, Dispatched: dispatched}
	if err := json.Unmarshal([]byte(operations), &rec.Operations); err != nil {
		return nil, fmt.Errorf("get %s %s: decode operations: %w", entity, messageID, err)
	}
	return rec, nil
}

// Store records the operations of a handled message in one insert.
func (p *Persister) Store(ctx context.Context, ex store.Executor, messageID string, ops []Operation) error {
	encoded, err := encodeOperations(ops)
	if err != nil {
		return err
	}
	_, err = store.Exec(ctx, ex, p.cmds.OptimisticStore, dialect.Values{
		dialect.ParamMessageID:          messageID,
		dialect.ParamOperations:         encoded,
		dialect.ParamPersistenceVersion: PersistenceVersion,
	})
	return sqlerr.ClassifyInsert("store", entity+" "+messageID, err)
}

// Begin inserts the placeholder row for a message about to be handled.
// A second Begin for the same message fails with sqlerr.ErrDuplicateKey.
func (p *Persister) Begin(ctx context.Context, ex store.Executor, messageID string) error {
	_, err := store.Exec(ctx, ex, p.cmds.PessimisticBegin, dialect.Values{
		dialect.ParamMessageID:          messageID,
		dialect.ParamPersistenceVersion: PersistenceVersion,
		dialect.ParamEmptyOperations:    dialect.EmptyOperations,
	})
	return sqlerr.ClassifyInsert("begin", entity+" "+messageID, err)
}

// Complete fills in the operations of a placeholder written by Begin.
func (p *Persister) Complete(ctx context.Context, ex store.Executor, messageID string, ops []Operation) error {
	encoded, err := encodeOperations(ops)
	if err != nil {
		return err
	}
	n, err := store.Exec(ctx, ex, p.cmds.PessimisticComplete, dialect.Values{
		dialect.ParamMessageID:  messageID,
		dialect.ParamOperations: encoded,
	})
	if err != nil {
		return sqlerr.Wrapf(err, "complete %s %s", entity, messageID)
	}
	if n == 0 {
		return sqlerr.Wrap("complete", entity, sqlerr.ErrNotFound, fmt.Errorf("no placeholder for message %s", messageID))
	}
	return nil
}

// MarkDispatched flags the record as dispatched and drops its operations.
// Repeating it is harmless and keeps the first dispatch time.
func (p *Persister) MarkDispatched(ctx context.Context, ex store.Executor, messageID string) error {
	_, err := store.Exec(ctx, ex, p.cmds.SetDispatched, dialect.Values{
		dialect.ParamMessageID:       messageID,
		dialect.ParamDispatchedAt:    p.now().UTC(),
		dialect.ParamEmptyOperations: dialect.EmptyOperations,
	})
	if err != nil {
		return sqlerr.Wrapf(err, "mark %s %s dispatched", entity, messageID)
	}
	return nil
}

// RemoveEntriesOlderThan deletes dispatched records older than cutoff in
// batches of batchSize until a batch comes back short. It returns the number
// of rows removed.
func (p *Persister) RemoveEntriesOlderThan(ctx context.Context, ex store.Executor, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := store.Exec(ctx, ex, p.cmds.Cleanup, dialect.Values{
			dialect.ParamDispatchedBefore: cutoff.UTC(),
			dialect.ParamBatchSize:        batchSize,
		})
		if err != nil {
			return total, sqlerr.Wrap("cleanup", entity, sqlerr.ErrCleanupFailure, err)
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
		p.logger.Debug("outbox cleanup batch", "removed", n, "total", total)
	}
}

func encodeOperations(ops []Operation) (string, error) {
	if ops == nil {
		ops = []Operation{}
	}
	b, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("encode operations: %w", err)
	}
	return string(b), nil
}
