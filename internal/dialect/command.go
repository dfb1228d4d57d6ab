package dialect

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Values holds parameter values by name.
type Values map[string]any

// Command is parameterized SQL text for one operation.
//
// Params lists parameter names in the order the driver binds them: every
// occurrence for MySql, first occurrences for PostgreSql, and each distinct
// name for the named-parameter dialects.
type Command struct {
	Text    string
	Params  []string
	Dialect Dialect
}

// Args converts named values into driver arguments for this command.
func (c Command) Args(values Values) ([]any, error) {
	args := make([]any, 0, len(c.Params))
	for _, name := range c.Params {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing value for parameter %s", name)
		}
		switch c.Dialect {
		case MsSqlServer, Oracle:
			args = append(args, sql.Named(name, v))
		case MySql, PostgreSql:
			args = append(args, v)
		default:
			return nil, fmt.Errorf("command has no dialect")
		}
	}
	return args, nil
}

// String returns the SQL text.
func (c Command) String() string {
	return c.Text
}

// commandBuilder hands out parameter markers in text order.
type commandBuilder struct {
	dialect Dialect
	params  []string
	seen    map[string]string
}

func (p Profile) command() *commandBuilder {
	return &commandBuilder{dialect: p.Dialect, seen: make(map[string]string)}
}

// P returns the marker for a named parameter. Markers must be requested in
// the order they appear in the final text.
func (b *commandBuilder) P(name string) string {
	switch b.dialect {
	case MySql:
		b.params = append(b.params, name)
		return "?"
	case PostgreSql:
		if marker, ok := b.seen[name]; ok {
			return marker
		}
		b.params = append(b.params, name)
		marker := "$" + strconv.Itoa(len(b.params))
		b.seen[name] = marker
		return marker
	case MsSqlServer, Oracle:
		prefix := "@"
		if b.dialect == Oracle {
			prefix = ":"
		}
		if _, ok := b.seen[name]; !ok {
			b.params = append(b.params, name)
			b.seen[name] = prefix + name
		}
		return prefix + name
	}
	return "?"
}

func (b *commandBuilder) build(format string, args ...any) Command {
	return Command{
		Text:    fmt.Sprintf(format, args...),
		Params:  b.params,
		Dialect: b.dialect,
	}
}
