package sagastore

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/installer"
	"github.com/roach88/sqlpersistence/internal/metrics"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/store"
)

type orderState struct {
	OrderID     uuid.UUID `correlation:"OrderId"`
	OrderNumber int
	Customer    string
	PlacedAt    time.Time
	ShippedAt   time.Time
	Lines       []string
}

func orderDefinition() correlation.Definition {
	return correlation.Definition{
		Name:         "Orders.OrderSaga",
		TableSuffix:  "OrderSaga",
		Correlation:  &correlation.Property{Name: "OrderId", Type: correlation.Guid},
		Transitional: &correlation.Property{Name: "OrderNumber", Type: correlation.Int},
	}
}

// kindDefinitions correlate one saga per property kind.
func kindDefinitions() []correlation.Definition {
	return []correlation.Definition{
		orderDefinition(),
		{Name: "Orders.ByCustomer", TableSuffix: "ByCustomer", Correlation: &correlation.Property{Name: "Customer", Type: correlation.String}},
		{Name: "Orders.ByNumber", TableSuffix: "ByNumber", Correlation: &correlation.Property{Name: "OrderNumber", Type: correlation.Int}},
		{Name: "Orders.ByPlacedAt", TableSuffix: "ByPlacedAt", Correlation: &correlation.Property{Name: "PlacedAt", Type: correlation.DateTime}},
		{Name: "Orders.ByShippedAt", TableSuffix: "ByShippedAt", Correlation: &correlation.Property{Name: "ShippedAt", Type: correlation.DateTimeOffset}},
		{Name: "Orders.FinderOnly", TableSuffix: "FinderOnly"},
	}
}

func newOrder(n int) *orderState {
	return &orderState{
		OrderID:     uuid.New(),
		OrderNumber: n,
		Customer:    "customer-" + uuid.NewString(),
		PlacedAt:    time.Date(2024, 5, 1, 12, 0, n, 0, time.UTC),
		ShippedAt:   time.Date(2024, 5, 2, 8, 30, n, 0, time.UTC),
		Lines:       []string{"apples", "pears"},
	}
}

func setup(t *testing.T) (*sql.DB, *Store) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := store.DriverProfile(store.DriverSQLite, "Test_", "")
	require.NoError(t, err)
	_, err = installer.Install(ctx, db, p, installer.Options{Sagas: kindDefinitions(), Logger: logger})
	require.NoError(t, err)

	return db, New(p, NewStaticSource(kindDefinitions()...), WithLogger(logger))
}

func TestSaveAndGet_RoundTripsEveryKind(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)

	props := map[string]func(*orderState) any{
		"OrderId":     func(o *orderState) any { return o.OrderID },
		"Customer":    func(o *orderState) any { return o.Customer },
		"OrderNumber": func(o *orderState) any { return o.OrderNumber },
		"PlacedAt":    func(o *orderState) any { return o.PlacedAt },
		"ShippedAt":   func(o *orderState) any { return o.ShippedAt },
	}

	for i, def := range kindDefinitions() {
		t.Run(def.Name, func(t *testing.T) {
			want := newOrder(i)
			e := &Entry{
				ID:          uuid.New(),
				State:       want,
				Metadata:    map[string]string{"OriginatingEndpoint": "Sales"},
				TypeVersion: "2.1.0",
			}
			require.NoError(t, s.Save(ctx, db, def.Name, e))
			assert.Equal(t, 1, e.Version)

			var got orderState
			read, err := s.Get(ctx, db, def.Name, e.ID, &got, Optimistic)
			require.NoError(t, err)
			assert.Equal(t, *want, got)
			assert.Equal(t, e.ID, read.ID)
			assert.Equal(t, 1, read.Version)
			assert.Equal(t, "2.1.0", read.TypeVersion)
			assert.Equal(t, "Sales", read.Metadata["OriginatingEndpoint"])

			if def.Correlation == nil {
				return
			}
			var byProp orderState
			read, err = s.GetByProperty(ctx, db, def.Name, def.Correlation.Name,
				props[def.Correlation.Name](want), &byProp, Optimistic)
			require.NoError(t, err)
			assert.Equal(t, e.ID, read.ID)
			assert.Equal(t, *want, byProp)
		})
	}
}

func TestUpdate_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)
	saga := orderDefinition().Name

	e := &Entry{ID: uuid.New(), State: newOrder(1)}
	require.NoError(t, s.Save(ctx, db, saga, e))

	var state orderState
	first, err := s.Get(ctx, db, saga, e.ID, &state, Optimistic)
	require.NoError(t, err)
	var other orderState
	second, err := s.Get(ctx, db, saga, e.ID, &other, Optimistic)
	require.NoError(t, err)

	state.Lines = append(state.Lines, "plums")
	first.State = &state
	require.NoError(t, s.Update(ctx, db, saga, first))
	assert.Equal(t, 2, first.Version)

	before := testutil.ToFloat64(metrics.SagaConcurrencyConflictsTotal.WithLabelValues(saga))
	second.State = &other
	err = s.Update(ctx, db, saga, second)
	require.Error(t, err)
	assert.True(t, sqlerr.IsConcurrencyConflict(err))
	assert.Equal(t, 1, second.Version)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SagaConcurrencyConflictsTotal.WithLabelValues(saga)))

	var final orderState
	read, err := s.Get(ctx, db, saga, e.ID, &final, Optimistic)
	require.NoError(t, err)
	assert.Equal(t, 2, read.Version)
	assert.Equal(t, []string{"apples", "pears", "plums"}, final.Lines)
}

func TestUpdate_WritesTransitionalCorrelation(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)
	saga := orderDefinition().Name

	state := newOrder(7)
	e := &Entry{ID: uuid.New(), State: state}
	require.NoError(t, s.Save(ctx, db, saga, e))

	state.OrderNumber = 8
	require.NoError(t, s.Update(ctx, db, saga, e))

	var n int64
	require.NoError(t, db.QueryRow(`select "Correlation_OrderNumber" from "Test_OrderSaga"`).Scan(&n))
	assert.Equal(t, int64(8), n)
}

func TestUpdate_MissingSagaIsNotFound(t *testing.T) {
	db, s := setup(t)
	err := s.Update(context.Background(), db, orderDefinition().Name, &Entry{ID: uuid.New(), State: newOrder(1), Version: 1})
	require.Error(t, err)
	assert.True(t, sqlerr.IsNotFound(err))
	assert.False(t, sqlerr.IsConcurrencyConflict(err))
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)
	saga := orderDefinition().Name

	e := &Entry{ID: uuid.New(), State: newOrder(1)}
	require.NoError(t, s.Save(ctx, db, saga, e))

	err := s.Complete(ctx, db, saga, e.ID, 5)
	assert.True(t, sqlerr.IsConcurrencyConflict(err))

	require.NoError(t, s.Complete(ctx, db, saga, e.ID, 1))

	_, err = s.Get(ctx, db, saga, e.ID, &orderState{}, Optimistic)
	assert.True(t, sqlerr.IsNotFound(err))

	err = s.Complete(ctx, db, saga, e.ID, 1)
	assert.True(t, sqlerr.IsNotFound(err))
}

func TestSave_DuplicateKeys(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)
	saga := orderDefinition().Name

	state := newOrder(1)
	e := &Entry{ID: uuid.New(), State: state}
	require.NoError(t, s.Save(ctx, db, saga, e))

	t.Run("same id", func(t *testing.T) {
		err := s.Save(ctx, db, saga, &Entry{ID: e.ID, State: newOrder(2)})
		assert.True(t, sqlerr.IsDuplicateKey(err))
	})
	t.Run("same correlation value", func(t *testing.T) {
		dup := newOrder(3)
		dup.OrderID = state.OrderID
		err := s.Save(ctx, db, saga, &Entry{ID: uuid.New(), State: dup})
		assert.True(t, sqlerr.IsDuplicateKey(err))
	})
}

func TestSave_RollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)
	saga := orderDefinition().Name

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	e := &Entry{ID: uuid.New(), State: newOrder(1)}
	require.NoError(t, s.Save(ctx, tx, saga, e))
	require.NoError(t, tx.Rollback())

	_, err = s.Get(ctx, db, saga, e.ID, &orderState{}, Optimistic)
	assert.True(t, sqlerr.IsNotFound(err))
}

func TestPessimisticReads_InsideTransaction(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)
	saga := orderDefinition().Name

	order := newOrder(3)
	e := &Entry{ID: uuid.New(), State: order}
	require.NoError(t, s.Save(ctx, db, saga, e))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	var byID orderState
	read, err := s.Get(ctx, tx, saga, e.ID, &byID, Pessimistic)
	require.NoError(t, err)
	assert.Equal(t, e.ID, read.ID)
	assert.Equal(t, *order, byID)

	var byProp orderState
	read, err = s.GetByProperty(ctx, tx, saga, "OrderId", order.OrderID, &byProp, Pessimistic)
	require.NoError(t, err)
	assert.Equal(t, e.ID, read.ID)

	byProp.Customer = "changed"
	read.State = &byProp
	require.NoError(t, s.Update(ctx, tx, saga, read))
	require.NoError(t, tx.Commit())

	var got orderState
	_, err = s.Get(ctx, db, saga, e.ID, &got, Optimistic)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Customer)
}

func TestGetByProperty_Validation(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)

	_, err := s.GetByProperty(ctx, db, "Orders.FinderOnly", "OrderId", uuid.New(), &orderState{}, Optimistic)
	assert.ErrorIs(t, err, sqlerr.ErrValidation)

	_, err = s.GetByProperty(ctx, db, orderDefinition().Name, "Customer", "x", &orderState{}, Optimistic)
	assert.ErrorIs(t, err, sqlerr.ErrValidation)

	_, err = s.GetByProperty(ctx, db, orderDefinition().Name, "OrderId", 42, &orderState{}, Optimistic)
	assert.ErrorIs(t, err, sqlerr.ErrValidation)

	_, err = s.GetByProperty(ctx, db, orderDefinition().Name, "OrderId", uuid.New(), &orderState{}, Optimistic)
	assert.True(t, sqlerr.IsNotFound(err))
}

func TestUnknownSaga(t *testing.T) {
	db, s := setup(t)
	_, err := s.Get(context.Background(), db, "Orders.Missing", uuid.New(), &orderState{}, Optimistic)
	assert.True(t, sqlerr.IsNotFound(err))
}

type countingSource struct {
	calls atomic.Int32
	inner DefinitionSource
}

func (c *countingSource) Definition(name string) (*correlation.Definition, error) {
	c.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return c.inner.Definition(name)
}

func TestRuntimeInfo_ComputedOnce(t *testing.T) {
	src := &countingSource{inner: NewStaticSource(orderDefinition())}
	s := New(dialect.MustProfile(dialect.PostgreSql, "Test_", ""), src,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var wg sync.WaitGroup
	infos := make([]*runtimeInfo, 16)
	for i := range infos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := s.info(orderDefinition().Name)
			assert.NoError(t, err)
			infos[i] = info
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, info := range infos {
		assert.Same(t, infos[0], info)
	}
}

func TestRuntimeInfo_FailuresAreNotCached(t *testing.T) {
	src := NewStaticSource()
	s := New(dialect.MustProfile(dialect.MySql, "Test_", ""), src)

	_, err := s.info("Orders.OrderSaga")
	require.Error(t, err)

	src["Orders.OrderSaga"] = orderDefinition()
	_, err = s.info("Orders.OrderSaga")
	assert.NoError(t, err)
}

func TestRuntimeInfo_UnsupportedKind(t *testing.T) {
	def := correlation.Definition{
		Name:        "Audit.AuditSaga",
		TableSuffix: "AuditSaga",
		Correlation: &correlation.Property{Name: "At", Type: correlation.DateTimeOffset},
	}
	s := New(dialect.MustProfile(dialect.MySql, "Test_", ""), NewStaticSource(def))
	_, err := s.info(def.Name)
	assert.True(t, errors.Is(err, sqlerr.ErrDialectUnsupported))
}
