package dialect

import (
	"fmt"
	"strings"
)

// Subscription command parameter names.
const (
	ParamSubscriber  = "Subscriber"
	ParamEndpoint    = "Endpoint"
	ParamMessageType = "MessageType"
)

// MessageTypeParam is the parameter name of the i-th message type in a
// subscriber query.
func MessageTypeParam(i int) string {
	return fmt.Sprintf("type%d", i)
}

// SubscriptionCommands is the command set for the subscription table.
type SubscriptionCommands struct {
	Subscribe   Command
	Unsubscribe Command

	profile Profile
	table   string
}

// SubscriptionCommands renders the subscription commands.
//
// Rows are matched on (Subscriber, MessageType). A subscribe with a null
// endpoint keeps the stored endpoint; a non-null endpoint replaces it.
func (p Profile) SubscriptionCommands() (*SubscriptionCommands, error) {
	suffix := p.FixedTableSuffix(FixedSubscription)
	if err := p.CheckTable(suffix); err != nil {
		return nil, err
	}
	table := p.Table(suffix)
	return &SubscriptionCommands{
		Subscribe:   p.subscribe(table),
		Unsubscribe: p.unsubscribe(table),
		profile:     p,
		table:       table,
	}, nil
}

// Subscribers renders the query for the distinct subscribers of n message types.
func (c *SubscriptionCommands) Subscribers(n int) Command {
	p := c.profile
	b := p.command()
	markers := make([]string, n)
	for i := range markers {
		markers[i] = b.P(MessageTypeParam(i))
	}
	return b.build("select distinct %s, %s\nfrom %s\nwhere %s in (%s)",
		p.Col(ColSubscriber), p.Col(ColEndpoint), c.table, p.Col(ColMessageType), strings.Join(markers, ", "))
}

func (p Profile) subscribe(table string) Command {
	b := p.command()
	subscriber, messageType := p.Col(ColSubscriber), p.Col(ColMessageType)
	endpoint, version := p.Col(ColEndpoint), p.Col(ColPersistenceVersion)

	switch p.Dialect {
	case MsSqlServer:
		return b.build(`merge %s with (holdlock) as target
using(select %s as Endpoint, %s as Subscriber, %s as MessageType) as source
on target.Subscriber = source.Subscriber and
   target.MessageType = source.MessageType
when matched then
update set
    Endpoint = coalesce(source.Endpoint, target.Endpoint),
    PersistenceVersion = %s
when not matched then
insert
(
    Subscriber,
    MessageType,
    Endpoint,
    PersistenceVersion
)
values
(
    source.Subscriber,
    source.MessageType,
    source.Endpoint,
    %s
);`,
			table, b.P(ParamEndpoint), b.P(ParamSubscriber), b.P(ParamMessageType),
			b.P(ParamPersistenceVersion), b.P(ParamPersistenceVersion))

	case MySql:
		return b.build("insert into %s\n(\n    %s,\n    %s,\n    %s,\n    %s\n)\nvalues\n(\n    %s,\n    %s,\n    %s,\n    %s\n)\non duplicate key update\n    %s = coalesce(%s, %s),\n    %s = %s",
			table, subscriber, messageType, endpoint, version,
			b.P(ParamSubscriber), b.P(ParamMessageType), b.P(ParamEndpoint), b.P(ParamPersistenceVersion),
			endpoint, b.P(ParamEndpoint), endpoint,
			version, b.P(ParamPersistenceVersion))

	case Oracle:
		return b.build(`begin
  insert into %s
  (
    %s,
    %s,
    %s,
    %s
  )
  values
  (
    %s,
    %s,
    %s,
    %s
  );
exception
  when DUP_VAL_ON_INDEX then
    update %s set
      %s = coalesce(%s, %s),
      %s = %s
    where %s = %s and %s = %s;
end;`,
			table, subscriber, messageType, endpoint, version,
			b.P(ParamSubscriber), b.P(ParamMessageType), b.P(ParamEndpoint), b.P(ParamPersistenceVersion),
			table, endpoint, b.P(ParamEndpoint), endpoint,
			version, b.P(ParamPersistenceVersion),
			subscriber, b.P(ParamSubscriber), messageType, b.P(ParamMessageType))

	case PostgreSql:
		return b.build("insert into %s as target\n(\n    %s,\n    %s,\n    %s,\n    %s\n)\nvalues\n(\n    %s,\n    %s,\n    %s,\n    %s\n)\non conflict (%s, %s) do update\nset\n    %s = coalesce(excluded.%s, target.%s),\n    %s = excluded.%s",
			table, subscriber, messageType, endpoint, version,
			b.P(ParamSubscriber), b.P(ParamMessageType), b.P(ParamEndpoint), b.P(ParamPersistenceVersion),
			subscriber, messageType,
			endpoint, endpoint, endpoint,
			version, version)
	}
	return Command{}
}

func (p Profile) unsubscribe(table string) Command {
	b := p.command()
	return b.build("delete from %s\nwhere\n    %s = %s and\n    %s = %s",
		table, p.Col(ColSubscriber), b.P(ParamSubscriber), p.Col(ColMessageType), b.P(ParamMessageType))
}
