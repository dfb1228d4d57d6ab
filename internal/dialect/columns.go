package dialect

import (
	"fmt"

	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/sqlerr"
)

// Column names shared by scripts and runtime commands.
const (
	ColID                 = "Id"
	ColMetadata           = "Metadata"
	ColData               = "Data"
	ColPersistenceVersion = "PersistenceVersion"
	ColSagaTypeVersion    = "SagaTypeVersion"
	ColConcurrency        = "ConcurrencyVersion"

	ColMessageID    = "MessageId"
	ColDispatched   = "Dispatched"
	ColDispatchedAt = "DispatchedAt"
	ColOperations   = "Operations"

	ColSubscriber  = "Subscriber"
	ColEndpoint    = "Endpoint"
	ColMessageType = "MessageType"

	ColDestination = "Destination"
	ColSagaID      = "SagaId"
	ColState       = "State"
	ColTime        = "Time"
	ColHeaders     = "Headers"

	// CorrelationPrefix precedes the property name in correlation columns.
	CorrelationPrefix = "Correlation_"
)

// Fixed table suffixes.
const (
	OutboxSuffix       = "OutboxData"
	SubscriptionSuffix = "SubscriptionData"
	TimeoutSuffix      = "TimeoutData"
)

// FixedTable identifies one of the infrastructure tables.
type FixedTable int

const (
	FixedOutbox FixedTable = iota + 1
	FixedSubscription
	FixedTimeout
)

// FixedTableSuffix is the suffix appended to the table prefix for an
// infrastructure table. Oracle uses two-letter suffixes so that prefixed
// names stay inside its 30 character identifier limit.
func (p Profile) FixedTableSuffix(t FixedTable) string {
	switch p.Dialect {
	case Oracle:
		switch t {
		case FixedOutbox:
			return "OD"
		case FixedSubscription:
			return "SS"
		case FixedTimeout:
			return "TO"
		}
	case MsSqlServer, MySql, PostgreSql:
		switch t {
		case FixedOutbox:
			return OutboxSuffix
		case FixedSubscription:
			return SubscriptionSuffix
		case FixedTimeout:
			return TimeoutSuffix
		}
	}
	return ""
}

// ColumnType is a logical storage type.
type ColumnType int

const (
	TypeGuid ColumnType = iota + 1
	TypeJSON
	TypeVersion
	TypeConcurrency
	TypeName
	TypeBool
	TypeTimestamp
	TypeBinary
)

// ColumnType renders a logical type in this dialect.
func (p Profile) ColumnType(t ColumnType) string {
	switch p.Dialect {
	case MsSqlServer:
		switch t {
		case TypeGuid:
			return "uniqueidentifier"
		case TypeJSON:
			return "nvarchar(max)"
		case TypeVersion:
			return "nvarchar(23)"
		case TypeConcurrency:
			return "int"
		case TypeName:
			return "nvarchar(200)"
		case TypeBool:
			return "bit"
		case TypeTimestamp:
			return "datetime"
		case TypeBinary:
			return "varbinary(max)"
		}
	case MySql:
		switch t {
		case TypeGuid:
			return "varchar(38) character set ascii"
		case TypeJSON:
			return "json"
		case TypeVersion:
			return "varchar(23)"
		case TypeConcurrency:
			return "int"
		case TypeName:
			return "varchar(200) character set utf8mb4"
		case TypeBool:
			return "boolean"
		case TypeTimestamp:
			return "datetime"
		case TypeBinary:
			return "longblob"
		}
	case Oracle:
		switch t {
		case TypeGuid:
			return "varchar2(38)"
		case TypeJSON:
			return "clob"
		case TypeVersion:
			return "varchar2(23)"
		case TypeConcurrency:
			return "number(9)"
		case TypeName:
			return "nvarchar2(200)"
		case TypeBool:
			return "number(1)"
		case TypeTimestamp:
			return "timestamp"
		case TypeBinary:
			return "blob"
		}
	case PostgreSql:
		switch t {
		case TypeGuid:
			return "uuid"
		case TypeJSON:
			return "jsonb"
		case TypeVersion:
			return "character varying(23)"
		case TypeConcurrency:
			return "integer"
		case TypeName:
			return "character varying(200)"
		case TypeBool:
			return "boolean"
		case TypeTimestamp:
			return "timestamp"
		case TypeBinary:
			return "bytea"
		}
	}
	return ""
}

// CorrelationType maps a correlation property kind to a column type.
// Returns sqlerr.ErrDialectUnsupported when the dialect has no mapping.
func (p Profile) CorrelationType(kind correlation.PropertyType) (string, error) {
	var t string
	switch p.Dialect {
	case MsSqlServer:
		switch kind {
		case correlation.DateTime:
			t = "datetime"
		case correlation.DateTimeOffset:
			t = "datetimeoffset"
		case correlation.String:
			t = "nvarchar(200)"
		case correlation.Int:
			t = "bigint"
		case correlation.Guid:
			t = "uniqueidentifier"
		}
	case MySql:
		switch kind {
		case correlation.DateTime:
			t = "datetime"
		case correlation.String:
			t = "varchar(200) character set utf8mb4"
		case correlation.Int:
			t = "bigint(20)"
		case correlation.Guid:
			t = "varchar(38) character set ascii"
		case correlation.DateTimeOffset:
			// MySql datetime has no offset component.
		}
	case Oracle:
		switch kind {
		case correlation.DateTime:
			t = "timestamp"
		case correlation.DateTimeOffset:
			t = "timestamp with time zone"
		case correlation.String:
			t = "nvarchar2(200)"
		case correlation.Int:
			t = "number(19)"
		case correlation.Guid:
			t = "varchar2(38)"
		}
	case PostgreSql:
		switch kind {
		case correlation.DateTime:
			t = "timestamp"
		case correlation.DateTimeOffset:
			t = "timestamp with time zone"
		case correlation.String:
			t = "character varying(200)"
		case correlation.Int:
			t = "bigint"
		case correlation.Guid:
			t = "uuid"
		}
	}
	if t == "" {
		return "", sqlerr.Wrap("dialect.correlation_type", p.Dialect.String(), sqlerr.ErrDialectUnsupported,
			fmt.Errorf("cannot map type %s", kind))
	}
	return t, nil
}
