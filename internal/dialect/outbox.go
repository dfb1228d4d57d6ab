package dialect

// Outbox command parameter names.
const (
	ParamMessageID        = "MessageId"
	ParamOperations       = "Operations"
	ParamDispatchedAt     = "DispatchedAt"
	ParamDispatchedBefore = "DispatchedBefore"
	ParamBatchSize        = "BatchSize"
	ParamEmptyOperations  = "EmptyOperations"
)

// EmptyOperations is the operations value of a pending or dispatched record.
const EmptyOperations = "[]"

// emptyOperations renders the empty operations value. Encrypted columns
// reject literals, so it becomes a parameter when column encryption is on.
func (p Profile) emptyOperations(b *commandBuilder) string {
	if p.encryptedColumns() {
		return b.P(ParamEmptyOperations)
	}
	return "'" + EmptyOperations + "'"
}

// OutboxCommands is the command set for the outbox table.
type OutboxCommands struct {
	Get                 Command
	OptimisticStore     Command
	PessimisticBegin    Command
	PessimisticComplete Command
	SetDispatched       Command
	Cleanup             Command
}

// OutboxCommands renders every outbox command.
func (p Profile) OutboxCommands() (*OutboxCommands, error) {
	suffix := p.FixedTableSuffix(FixedOutbox)
	if err := p.CheckTable(suffix); err != nil {
		return nil, err
	}
	table := p.Table(suffix)
	return &OutboxCommands{
		Get:                 p.outboxGet(table),
		OptimisticStore:     p.outboxInsert(table, true),
		PessimisticBegin:    p.outboxInsert(table, false),
		PessimisticComplete: p.outboxComplete(table),
		SetDispatched:       p.outboxSetDispatched(table),
		Cleanup:             p.outboxCleanup(table),
	}, nil
}

func (p Profile) outboxGet(table string) Command {
	b := p.command()
	return b.build("select\n    %s,\n    %s\nfrom %s\nwhere %s = %s",
		p.Col(ColDispatched), p.Col(ColOperations), table, p.Col(ColMessageID), b.P(ParamMessageID))
}

// outboxInsert stores the operations immediately in optimistic mode and an
// empty placeholder in pessimistic mode.
func (p Profile) outboxInsert(table string, withOperations bool) Command {
	b := p.command()
	id := b.P(ParamMessageID)
	var ops string
	if withOperations {
		ops = b.P(ParamOperations)
	} else {
		ops = p.emptyOperations(b)
	}
	return b.build("insert into %s\n(\n    %s,\n    %s,\n    %s,\n    %s\n)\nvalues\n(\n    %s,\n    %s,\n    %s,\n    %s\n)",
		table,
		p.Col(ColMessageID), p.Col(ColOperations), p.Col(ColPersistenceVersion), p.Col(ColDispatched),
		id, ops, b.P(ParamPersistenceVersion), p.Bool(false))
}

func (p Profile) outboxComplete(table string) Command {
	b := p.command()
	return b.build("update %s\nset\n    %s = %s\nwhere %s = %s",
		table, p.Col(ColOperations), b.P(ParamOperations), p.Col(ColMessageID), b.P(ParamMessageID))
}

// outboxSetDispatched only touches undispatched rows so repeating it keeps
// the first dispatch time.
func (p Profile) outboxSetDispatched(table string) Command {
	b := p.command()
	dispatchedAt := b.P(ParamDispatchedAt)
	ops := p.emptyOperations(b)
	return b.build("update %s\nset\n    %s = %s,\n    %s = %s,\n    %s = %s\nwhere %s = %s and %s = %s",
		table,
		p.Col(ColDispatched), p.Bool(true),
		p.Col(ColDispatchedAt), dispatchedAt,
		p.Col(ColOperations), ops,
		p.Col(ColMessageID), b.P(ParamMessageID),
		p.Col(ColDispatched), p.Bool(false))
}

// outboxCleanup deletes at most BatchSize dispatched rows older than the cutoff.
func (p Profile) outboxCleanup(table string) Command {
	b := p.command()
	dispatched := p.Col(ColDispatched)
	at := p.Col(ColDispatchedAt)

	switch p.Dialect {
	case MsSqlServer:
		return b.build("delete top (%s) from %s\nwhere %s = %s and %s < %s",
			b.P(ParamBatchSize), table, dispatched, p.Bool(true), at, b.P(ParamDispatchedBefore))
	case MySql:
		return b.build("delete from %s\nwhere %s = %s and %s < %s\nlimit %s",
			table, dispatched, p.Bool(true), at, b.P(ParamDispatchedBefore), b.P(ParamBatchSize))
	case Oracle:
		return b.build("delete from %s\nwhere %s = %s and %s < %s and rownum <= %s",
			table, dispatched, p.Bool(true), at, b.P(ParamDispatchedBefore), b.P(ParamBatchSize))
	case PostgreSql:
		id := p.Col(ColMessageID)
		return b.build("delete from %s\nwhere %s in (\n    select %s from %s\n    where %s = %s and %s < %s\n    limit %s\n)",
			table, id, id, table, dispatched, p.Bool(true), at, b.P(ParamDispatchedBefore), b.P(ParamBatchSize))
	}
	return Command{}
}
