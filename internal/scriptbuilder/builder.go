// Package scriptbuilder synthesizes the installation scripts for saga,
// outbox, subscription and timeout tables.
//
// Every function is a pure function of its inputs: identical definitions and
// profiles always produce byte-identical text, so generated scripts can be
// checked in and diffed across builds.
package scriptbuilder

import (
	"github.com/roach88/sqlpersistence/internal/correlation"
	"github.com/roach88/sqlpersistence/internal/dialect"
)

// SagaTable is the table layout for a saga definition.
func SagaTable(def *correlation.Definition, p dialect.Profile) (dialect.TableDef, error) {
	if err := p.CheckTable(def.TableSuffix); err != nil {
		return dialect.TableDef{}, err
	}

	t := dialect.TableDef{
		Suffix: def.TableSuffix,
		Columns: []dialect.Column{
			{Name: dialect.ColID, Type: p.ColumnType(dialect.TypeGuid)},
			{Name: dialect.ColMetadata, Type: p.ColumnType(dialect.TypeJSON)},
			{Name: dialect.ColData, Type: p.ColumnType(dialect.TypeJSON)},
			{Name: dialect.ColPersistenceVersion, Type: p.ColumnType(dialect.TypeVersion)},
			{Name: dialect.ColSagaTypeVersion, Type: p.ColumnType(dialect.TypeVersion)},
			{Name: dialect.ColConcurrency, Type: p.ColumnType(dialect.TypeConcurrency)},
		},
		PrimaryKey: []string{dialect.ColID},
	}

	for _, prop := range def.Properties() {
		typ, err := p.CorrelationType(prop.Type)
		if err != nil {
			return dialect.TableDef{}, err
		}
		col := prop.ColumnName()
		t.Columns = append(t.Columns, dialect.Column{Name: col, Type: typ, Nullable: true})
		t.Indexes = append(t.Indexes, dialect.Index{Name: col, Columns: []string{col}, Unique: true})
	}
	return t, nil
}

// BuildSagaCreate renders the create script for a saga table.
func BuildSagaCreate(def *correlation.Definition, p dialect.Profile) (string, error) {
	t, err := SagaTable(def, p)
	if err != nil {
		return "", err
	}
	return p.CreateTable(t), nil
}

// BuildSagaDrop renders the drop script for a saga table.
func BuildSagaDrop(def *correlation.Definition, p dialect.Profile) (string, error) {
	if err := p.CheckTable(def.TableSuffix); err != nil {
		return "", err
	}
	return p.DropTable(def.TableSuffix), nil
}

// OutboxTable is the outbox table layout.
func OutboxTable(p dialect.Profile) dialect.TableDef {
	return dialect.TableDef{
		Suffix: p.FixedTableSuffix(dialect.FixedOutbox),
		Columns: []dialect.Column{
			{Name: dialect.ColMessageID, Type: p.ColumnType(dialect.TypeName)},
			{Name: dialect.ColDispatched, Type: p.ColumnType(dialect.TypeBool)},
			{Name: dialect.ColDispatchedAt, Type: p.ColumnType(dialect.TypeTimestamp), Nullable: true},
			{Name: dialect.ColPersistenceVersion, Type: p.ColumnType(dialect.TypeVersion)},
			{Name: dialect.ColOperations, Type: p.ColumnType(dialect.TypeJSON)},
		},
		PrimaryKey: []string{dialect.ColMessageID},
		Indexes: []dialect.Index{
			{Name: dialect.ColDispatchedAt, Columns: []string{dialect.ColDispatchedAt}},
		},
	}
}

// BuildOutboxCreate renders the outbox create script.
func BuildOutboxCreate(p dialect.Profile) (string, error) {
	suffix := p.FixedTableSuffix(dialect.FixedOutbox)
	if err := p.CheckTable(suffix); err != nil {
		return "", err
	}
	return p.CreateTable(OutboxTable(p)), nil
}

// BuildOutboxDrop renders the outbox drop script.
func BuildOutboxDrop(p dialect.Profile) (string, error) {
	suffix := p.FixedTableSuffix(dialect.FixedOutbox)
	if err := p.CheckTable(suffix); err != nil {
		return "", err
	}
	return p.DropTable(suffix), nil
}

// SubscriptionTable is the subscription table layout.
func SubscriptionTable(p dialect.Profile) dialect.TableDef {
	return dialect.TableDef{
		Suffix: p.FixedTableSuffix(dialect.FixedSubscription),
		Columns: []dialect.Column{
			{Name: dialect.ColSubscriber, Type: p.ColumnType(dialect.TypeName)},
			{Name: dialect.ColEndpoint, Type: p.ColumnType(dialect.TypeName), Nullable: true},
			{Name: dialect.ColMessageType, Type: p.ColumnType(dialect.TypeName)},
			{Name: dialect.ColPersistenceVersion, Type: p.ColumnType(dialect.TypeVersion)},
		},
		PrimaryKey: []string{dialect.ColSubscriber, dialect.ColMessageType},
	}
}

// BuildSubscriptionCreate renders the subscription create script.
func BuildSubscriptionCreate(p dialect.Profile) (string, error) {
	suffix := p.FixedTableSuffix(dialect.FixedSubscription)
	if err := p.CheckTable(suffix); err != nil {
		return "", err
	}
	return p.CreateTable(SubscriptionTable(p)), nil
}

// BuildSubscriptionDrop renders the subscription drop script.
func BuildSubscriptionDrop(p dialect.Profile) (string, error) {
	suffix := p.FixedTableSuffix(dialect.FixedSubscription)
	if err := p.CheckTable(suffix); err != nil {
		return "", err
	}
	return p.DropTable(suffix), nil
}

// TimeoutTable is the timeout table layout.
func TimeoutTable(p dialect.Profile) dialect.TableDef {
	return dialect.TableDef{
		Suffix: p.FixedTableSuffix(dialect.FixedTimeout),
		Columns: []dialect.Column{
			{Name: dialect.ColID, Type: p.ColumnType(dialect.TypeGuid)},
			{Name: dialect.ColDestination, Type: p.ColumnType(dialect.TypeName)},
			{Name: dialect.ColSagaID, Type: p.ColumnType(dialect.TypeGuid), Nullable: true},
			{Name: dialect.ColState, Type: p.ColumnType(dialect.TypeBinary), Nullable: true},
			{Name: dialect.ColTime, Type: p.ColumnType(dialect.TypeTimestamp)},
			{Name: dialect.ColHeaders, Type: p.ColumnType(dialect.TypeJSON)},
			{Name: dialect.ColPersistenceVersion, Type: p.ColumnType(dialect.TypeVersion)},
		},
		PrimaryKey: []string{dialect.ColID},
		Indexes: []dialect.Index{
			{Name: dialect.ColSagaID, Columns: []string{dialect.ColSagaID}},
			{Name: dialect.ColTime, Columns: []string{dialect.ColTime}},
		},
	}
}

// BuildTimeoutCreate renders the timeout create script.
func BuildTimeoutCreate(p dialect.Profile) (string, error) {
	suffix := p.FixedTableSuffix(dialect.FixedTimeout)
	if err := p.CheckTable(suffix); err != nil {
		return "", err
	}
	return p.CreateTable(TimeoutTable(p)), nil
}

// BuildTimeoutDrop renders the timeout drop script.
func BuildTimeoutDrop(p dialect.Profile) (string, error) {
	suffix := p.FixedTableSuffix(dialect.FixedTimeout)
	if err := p.CheckTable(suffix); err != nil {
		return "", err
	}
	return p.DropTable(suffix), nil
}
