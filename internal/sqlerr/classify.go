package sqlerr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Driver error codes and message markers for unique constraint violations.
const (
	pgUniqueViolation    = pq.ErrorCode("23505")
	mysqlDuplicateEntry  = 1062
	mssqlDuplicateKey    = "Cannot insert duplicate key"
	mssqlPrimaryKey      = "Violation of PRIMARY KEY constraint"
	mssqlUniqueKey       = "Violation of UNIQUE KEY constraint"
	oracleUniqueViolated = "ORA-00001"
)

// IsUniqueViolation reports whether err is a unique or primary key violation
// raised by any of the supported drivers.
//
// SQL Server and Oracle drivers are not linked into this module, so their
// errors are recognised by message, the same way the server reports them.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	msg := err.Error()
	return strings.Contains(msg, mssqlDuplicateKey) ||
		strings.Contains(msg, mssqlPrimaryKey) ||
		strings.Contains(msg, mssqlUniqueKey) ||
		strings.Contains(msg, oracleUniqueViolated)
}

// ClassifyInsert wraps an insert failure, promoting unique violations to
// ErrDuplicateKey.
func ClassifyInsert(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return Wrap(op, entity, ErrDuplicateKey, err)
	}
	return Wrapf(err, "%s %s", op, entity)
}
