package dialect

import (
	"fmt"
	"strings"

	"github.com/roach88/sqlpersistence/internal/correlation"
)

// Saga command parameter names.
const (
	ParamID                        = "Id"
	ParamMetadata                  = "Metadata"
	ParamData                      = "Data"
	ParamPersistenceVersion        = "PersistenceVersion"
	ParamSagaTypeVersion           = "SagaTypeVersion"
	ParamConcurrencyVersion        = "ConcurrencyVersion"
	ParamCorrelationID             = "CorrelationId"
	ParamTransitionalCorrelationID = "TransitionalCorrelationId"
)

// SagaCommands is the full command set for one saga type.
type SagaCommands struct {
	Save     Command
	Update   Command
	Complete Command
	Exists   Command

	GetByID       Command
	GetByIDLocked Command

	// GetByProperty commands are zero when the saga has no correlation property.
	GetByProperty       Command
	GetByPropertyLocked Command
}

// HasCorrelation reports whether lookup by correlation property is available.
func (c *SagaCommands) HasCorrelation() bool {
	return c.GetByProperty.Text != ""
}

// SagaCommands renders every runtime command for a saga definition.
func (p Profile) SagaCommands(def *correlation.Definition) (*SagaCommands, error) {
	if err := p.CheckTable(def.TableSuffix); err != nil {
		return nil, err
	}
	for _, prop := range def.Properties() {
		if _, err := p.CorrelationType(prop.Type); err != nil {
			return nil, err
		}
	}

	table := p.Table(def.TableSuffix)
	cmds := &SagaCommands{
		Save:          p.sagaSave(table, def),
		Update:        p.sagaUpdate(table, def),
		Complete:      p.sagaComplete(table),
		Exists:        p.sagaExists(table),
		GetByID:       p.sagaSelect(table, p.Col(ColID), ParamID, false),
		GetByIDLocked: p.sagaSelect(table, p.Col(ColID), ParamID, true),
	}
	if def.Correlation != nil {
		col := p.CorrelationCol(def.Correlation.Name)
		cmds.GetByProperty = p.sagaSelect(table, col, ParamCorrelationID, false)
		cmds.GetByPropertyLocked = p.sagaSelect(table, col, ParamCorrelationID, true)
	}
	return cmds, nil
}

func (p Profile) sagaSave(table string, def *correlation.Definition) Command {
	b := p.command()
	cols := []string{
		p.Col(ColID), p.Col(ColMetadata), p.Col(ColData),
		p.Col(ColPersistenceVersion), p.Col(ColSagaTypeVersion), p.Col(ColConcurrency),
	}
	vals := []string{
		b.P(ParamID), b.P(ParamMetadata), b.P(ParamData),
		b.P(ParamPersistenceVersion), b.P(ParamSagaTypeVersion), "1",
	}
	if def.Correlation != nil {
		cols = append(cols, p.CorrelationCol(def.Correlation.Name))
		vals = append(vals, b.P(ParamCorrelationID))
	}
	if def.Transitional != nil {
		cols = append(cols, p.CorrelationCol(def.Transitional.Name))
		vals = append(vals, b.P(ParamTransitionalCorrelationID))
	}
	return b.build("insert into %s\n(\n    %s\n)\nvalues\n(\n    %s\n)",
		table, strings.Join(cols, ",\n    "), strings.Join(vals, ",\n    "))
}

func (p Profile) sagaUpdate(table string, def *correlation.Definition) Command {
	b := p.command()
	sets := []string{
		fmt.Sprintf("%s = %s", p.Col(ColData), b.P(ParamData)),
		fmt.Sprintf("%s = %s", p.Col(ColPersistenceVersion), b.P(ParamPersistenceVersion)),
		fmt.Sprintf("%s = %s", p.Col(ColSagaTypeVersion), b.P(ParamSagaTypeVersion)),
		fmt.Sprintf("%s = %s + 1", p.Col(ColConcurrency), b.P(ParamConcurrencyVersion)),
	}
	if def.Transitional != nil {
		sets = append(sets, fmt.Sprintf("%s = %s", p.CorrelationCol(def.Transitional.Name), b.P(ParamTransitionalCorrelationID)))
	}
	return b.build("update %s\nset\n    %s\nwhere\n    %s = %s and %s = %s",
		table, strings.Join(sets, ",\n    "),
		p.Col(ColID), b.P(ParamID),
		p.Col(ColConcurrency), b.P(ParamConcurrencyVersion))
}

func (p Profile) sagaComplete(table string) Command {
	b := p.command()
	return b.build("delete from %s\nwhere %s = %s and %s = %s",
		table, p.Col(ColID), b.P(ParamID), p.Col(ColConcurrency), b.P(ParamConcurrencyVersion))
}

func (p Profile) sagaExists(table string) Command {
	b := p.command()
	return b.build("select %s from %s\nwhere %s = %s",
		p.Col(ColConcurrency), table, p.Col(ColID), b.P(ParamID))
}

// sagaSelect reads one saga row. Locked reads take an update lock that is
// held until the enclosing transaction ends.
func (p Profile) sagaSelect(table, whereCol, param string, locked bool) Command {
	locked = locked && !p.NoRowLocks
	b := p.command()
	cols := strings.Join([]string{
		p.Col(ColID), p.Col(ColSagaTypeVersion), p.Col(ColConcurrency), p.Col(ColMetadata), p.Col(ColData),
	}, ",\n    ")

	switch p.Dialect {
	case MsSqlServer:
		hint := ""
		if locked {
			hint = " with (updlock, rowlock)"
		}
		return b.build("select\n    %s\nfrom %s%s\nwhere %s = %s", cols, table, hint, whereCol, b.P(param))
	case MySql, Oracle, PostgreSql:
		lock := ""
		if locked {
			lock = "\nfor update"
		}
		return b.build("select\n    %s\nfrom %s\nwhere %s = %s%s", cols, table, whereCol, b.P(param), lock)
	}
	return Command{}
}
