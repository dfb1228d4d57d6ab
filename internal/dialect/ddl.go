package dialect

import (
	"fmt"
	"strings"
)

// Column is one column of a table definition. Name is unquoted.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Index is a secondary index. Columns are unquoted logical names.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableDef is a table layout in dialect terms.
type TableDef struct {
	Suffix     string
	Columns    []Column
	PrimaryKey []string
	Indexes    []Index
}

// colName quotes a column name, treating correlation columns specially.
func (p Profile) colName(name string) string {
	if prop, ok := strings.CutPrefix(name, CorrelationPrefix); ok {
		return p.CorrelationCol(prop)
	}
	return p.Col(name)
}

func (p Profile) colList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = p.colName(n)
	}
	return strings.Join(quoted, ", ")
}

func (p Profile) columnLines(t TableDef, indent string) []string {
	lines := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		null := " not null"
		if c.Nullable {
			null = " null"
		}
		lines = append(lines, indent+p.colName(c.Name)+" "+c.Type+null)
	}
	return lines
}

// CreateTable renders an idempotent create statement for t and its indexes.
func (p Profile) CreateTable(t TableDef) string {
	table := p.Table(t.Suffix)
	var b strings.Builder

	switch p.Dialect {
	case MsSqlServer:
		fmt.Fprintf(&b, "if not exists (\n    select * from sys.objects\n    where\n        object_id = object_id(N'%s') and\n        type in (N'U')\n)\nbegin\n", table)
		fmt.Fprintf(&b, "create table %s(\n", table)
		lines := p.columnLines(t, "    ")
		lines = append(lines, fmt.Sprintf("    primary key clustered (%s)", p.colList(t.PrimaryKey)))
		b.WriteString(strings.Join(lines, ",\n"))
		b.WriteString("\n)\nend\n")
		for _, idx := range t.Indexes {
			name := p.IndexName(t.Suffix, idx.Name)
			fmt.Fprintf(&b, "\nif not exists (\n    select * from sys.indexes\n    where\n        name = N'%s' and\n        object_id = object_id(N'%s')\n)\nbegin\n", name, table)
			fmt.Fprintf(&b, "    create %sindex %s\n    on %s(%s)", uniqueKeyword(idx.Unique), name, table, p.colList(idx.Columns))
			if idx.Unique {
				fmt.Fprintf(&b, "\n    where %s is not null", p.colList(idx.Columns))
			}
			b.WriteString(";\nend\n")
		}

	case MySql:
		fmt.Fprintf(&b, "create table if not exists %s(\n", table)
		lines := p.columnLines(t, "    ")
		lines = append(lines, fmt.Sprintf("    primary key (%s)", p.colList(t.PrimaryKey)))
		for _, idx := range t.Indexes {
			lines = append(lines, fmt.Sprintf("    %sindex %s (%s)", uniqueKeyword(idx.Unique), p.IndexName(t.Suffix, idx.Name), p.colList(idx.Columns)))
		}
		b.WriteString(strings.Join(lines, ",\n"))
		b.WriteString("\n) default charset=ascii;\n")

	case Oracle:
		base := p.TableBaseName(t.Suffix)
		b.WriteString("declare\n  n number(10);\nbegin\n")
		fmt.Fprintf(&b, "  select count(*) into n from user_tables where table_name = '%s';\n", base)
		b.WriteString("  if (n = 0) then\n    execute immediate '\n")
		fmt.Fprintf(&b, "create table %s\n(\n", table)
		lines := p.columnLines(t, "  ")
		lines = append(lines, fmt.Sprintf("  constraint %s primary key (%s)", truncate(base+"_PK", oracleMaxIdentifier), p.colList(t.PrimaryKey)))
		b.WriteString(strings.Join(lines, ",\n"))
		b.WriteString("\n)';\n  end if;\n")
		for _, idx := range t.Indexes {
			name := p.IndexName(t.Suffix, idx.Name)
			fmt.Fprintf(&b, "\n  select count(*) into n from user_indexes where index_name = '%s';\n", name)
			fmt.Fprintf(&b, "  if (n = 0) then\n    execute immediate 'create %sindex %s on %s (%s)';\n  end if;\n",
				uniqueKeyword(idx.Unique), name, table, p.colList(idx.Columns))
		}
		b.WriteString("end;\n")

	case PostgreSql:
		fmt.Fprintf(&b, "create table if not exists %s(\n", table)
		lines := p.columnLines(t, "    ")
		lines = append(lines, fmt.Sprintf("    primary key (%s)", p.colList(t.PrimaryKey)))
		b.WriteString(strings.Join(lines, ",\n"))
		b.WriteString("\n);\n")
		for _, idx := range t.Indexes {
			fmt.Fprintf(&b, "create %sindex if not exists %s on %s (%s);\n",
				uniqueKeyword(idx.Unique), p.IndexName(t.Suffix, idx.Name), table, p.colList(idx.Columns))
		}
	}

	return b.String()
}

// DropTable renders an idempotent drop statement. Indexes go with the table.
func (p Profile) DropTable(suffix string) string {
	table := p.Table(suffix)
	switch p.Dialect {
	case MsSqlServer:
		return fmt.Sprintf("if exists (\n    select * from sys.objects\n    where\n        object_id = object_id(N'%s') and\n        type in (N'U')\n)\nbegin\n    drop table %s;\nend\n", table, table)
	case MySql:
		return fmt.Sprintf("drop table if exists %s;\n", table)
	case Oracle:
		return fmt.Sprintf("begin\n  execute immediate 'drop table %s';\nexception\n  when others then\n    if sqlcode <> -942 then\n      raise;\n    end if;\nend;\n", table)
	case PostgreSql:
		return fmt.Sprintf("drop table if exists %s;\n", table)
	}
	return ""
}

func uniqueKeyword(unique bool) string {
	if unique {
		return "unique "
	}
	return ""
}
