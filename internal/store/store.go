// Package store opens database connections and runs dialect commands on
// host-supplied executors.
//
// Nothing here begins a transaction. Callers pass a *sql.DB, *sql.Tx or
// *sql.Conn as the Executor and own its lifetime.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlpersistence/internal/dialect"
)

// Driver names registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Executor runs SQL. *sql.DB, *sql.Tx and *sql.Conn all satisfy it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DriverDialect returns the dialect used to render commands for a driver.
// SQLite accepts the PostgreSql rendering when the schema is empty.
func DriverDialect(driver string) (dialect.Dialect, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return dialect.PostgreSql, nil
	case DriverMySQL:
		return dialect.MySql, nil
	}
	return 0, fmt.Errorf("unsupported driver %q", driver)
}

// DriverProfile builds the dialect profile used to run commands through a
// driver. SQLite takes no row locks: a pessimistic read is a plain read inside
// the caller's transaction, and Open limits SQLite to a single connection so
// that transaction already excludes every other writer.
func DriverProfile(driver, tablePrefix, schema string) (dialect.Profile, error) {
	d, err := DriverDialect(driver)
	if err != nil {
		return dialect.Profile{}, err
	}
	p, err := dialect.NewProfile(d, tablePrefix, schema)
	if err != nil {
		return dialect.Profile{}, err
	}
	p.NoRowLocks = driver == DriverSQLite
	return p, nil
}

// Open connects to a database and verifies the connection.
//
// SQLite connections are limited to a single writer and configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if _, err := DriverDialect(driver); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}
	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Exec runs a command and returns the number of rows affected.
func Exec(ctx context.Context, ex Executor, cmd dialect.Command, values dialect.Values) (int64, error) {
	args, err := cmd.Args(values)
	if err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, cmd.Text, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// QueryRow runs a command expected to return at most one row.
func QueryRow(ctx context.Context, ex Executor, cmd dialect.Command, values dialect.Values) (*sql.Row, error) {
	args, err := cmd.Args(values)
	if err != nil {
		return nil, err
	}
	return ex.QueryRowContext(ctx, cmd.Text, args...), nil
}

// Query runs a command returning rows. Callers close the rows.
func Query(ctx context.Context, ex Executor, cmd dialect.Command, values dialect.Values) (*sql.Rows, error) {
	args, err := cmd.Args(values)
	if err != nil {
		return nil, err
	}
	return ex.QueryContext(ctx, cmd.Text, args...)
}
