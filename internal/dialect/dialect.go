// Package dialect renders SQL text for the four supported database families.
//
// Dialect is a closed tagged variant: every function that emits SQL switches
// over all four values and has no default arm that silently guesses, so a
// new dialect is added by adding a constant and one arm per switch.
//
// Nothing in this package executes SQL. Runtime operations are returned as
// Commands holding parameterized text and the ordered parameter names the
// text expects; Command.Args turns named values into driver arguments.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect identifies a database family.
type Dialect int

const (
	MsSqlServer Dialect = iota + 1
	MySql
	Oracle
	PostgreSql
)

// All lists every dialect in output order.
var All = []Dialect{MsSqlServer, MySql, Oracle, PostgreSql}

func (d Dialect) String() string {
	switch d {
	case MsSqlServer:
		return "MsSqlServer"
	case MySql:
		return "MySql"
	case Oracle:
		return "Oracle"
	case PostgreSql:
		return "PostgreSql"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// Valid reports whether d is one of the known dialects.
func (d Dialect) Valid() bool {
	return d >= MsSqlServer && d <= PostgreSql
}

var dialectAliases = map[string]Dialect{
	"mssqlserver": MsSqlServer,
	"mssql":       MsSqlServer,
	"sqlserver":   MsSqlServer,
	"mysql":       MySql,
	"oracle":      Oracle,
	"postgresql":  PostgreSql,
	"postgres":    PostgreSql,
}

// Parse resolves a dialect name, case-insensitively.
func Parse(name string) (Dialect, error) {
	d, ok := dialectAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown dialect %q: must be one of %v", name, All)
	}
	return d, nil
}

// MarshalText renders the dialect by name.
func (d Dialect) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid dialect %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText parses a dialect name.
func (d *Dialect) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
