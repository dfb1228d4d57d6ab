package dialect

// Timeout command parameter names.
const (
	ParamDestination = "Destination"
	ParamSagaID      = "SagaId"
	ParamState       = "State"
	ParamTime        = "Time"
	ParamHeaders     = "Headers"
	ParamStartTime   = "StartTime"
	ParamEndTime     = "EndTime"
)

// TimeoutCommands is the command set for the timeout table.
type TimeoutCommands struct {
	Add            Command
	Next           Command
	Peek           Command
	Range          Command
	RemoveByID     Command
	RemoveBySagaID Command
}

// TimeoutCommands renders every timeout command.
func (p Profile) TimeoutCommands() (*TimeoutCommands, error) {
	suffix := p.FixedTableSuffix(FixedTimeout)
	if err := p.CheckTable(suffix); err != nil {
		return nil, err
	}
	table := p.Table(suffix)
	return &TimeoutCommands{
		Add:            p.timeoutAdd(table),
		Next:           p.timeoutNext(table),
		Peek:           p.timeoutPeek(table),
		Range:          p.timeoutRange(table),
		RemoveByID:     p.timeoutRemoveByID(table),
		RemoveBySagaID: p.timeoutRemoveBySagaID(table),
	}, nil
}

func (p Profile) timeoutAdd(table string) Command {
	b := p.command()
	return b.build("insert into %s\n(\n    %s,\n    %s,\n    %s,\n    %s,\n    %s,\n    %s,\n    %s\n)\nvalues\n(\n    %s,\n    %s,\n    %s,\n    %s,\n    %s,\n    %s,\n    %s\n)",
		table,
		p.Col(ColID), p.Col(ColDestination), p.Col(ColSagaID), p.Col(ColState),
		p.Col(ColTime), p.Col(ColHeaders), p.Col(ColPersistenceVersion),
		b.P(ParamID), b.P(ParamDestination), b.P(ParamSagaID), b.P(ParamState),
		b.P(ParamTime), b.P(ParamHeaders), b.P(ParamPersistenceVersion))
}

// timeoutNext finds the earliest timeout due after EndTime.
func (p Profile) timeoutNext(table string) Command {
	b := p.command()
	t := p.Col(ColTime)
	switch p.Dialect {
	case MsSqlServer:
		return b.build("select top 1 %s from %s\nwhere %s > %s\norder by %s", t, table, t, b.P(ParamEndTime), t)
	case MySql, PostgreSql:
		return b.build("select %s from %s\nwhere %s > %s\norder by %s\nlimit 1", t, table, t, b.P(ParamEndTime), t)
	case Oracle:
		return b.build("select %s from (\n    select %s from %s\n    where %s > %s\n    order by %s\n)\nwhere rownum <= 1",
			t, t, table, t, b.P(ParamEndTime), t)
	}
	return Command{}
}

func (p Profile) timeoutPeek(table string) Command {
	b := p.command()
	return b.build("select\n    %s,\n    %s,\n    %s,\n    %s,\n    %s\nfrom %s\nwhere %s = %s",
		p.Col(ColDestination), p.Col(ColSagaID), p.Col(ColState), p.Col(ColTime), p.Col(ColHeaders),
		table, p.Col(ColID), b.P(ParamID))
}

func (p Profile) timeoutRange(table string) Command {
	b := p.command()
	t := p.Col(ColTime)
	return b.build("select %s, %s\nfrom %s\nwhere %s > %s and %s <= %s",
		p.Col(ColID), t, table, t, b.P(ParamStartTime), t, b.P(ParamEndTime))
}

func (p Profile) timeoutRemoveByID(table string) Command {
	b := p.command()
	return b.build("delete from %s\nwhere %s = %s", table, p.Col(ColID), b.P(ParamID))
}

func (p Profile) timeoutRemoveBySagaID(table string) Command {
	b := p.command()
	return b.build("delete from %s\nwhere %s = %s", table, p.Col(ColSagaID), b.P(ParamSagaID))
}
