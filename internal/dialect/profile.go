package dialect

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/sqlpersistence/internal/sqlerr"
)

// oracleMaxIdentifier is the identifier length limit before Oracle 12.2.
const oracleMaxIdentifier = 30

// invalidNameChars would terminate a quoted identifier or statement.
const invalidNameChars = "[]`\"';"

var upper = cases.Upper(language.Und)

// Profile is a dialect bound to a schema and table prefix.
// It is immutable and safe to share.
type Profile struct {
	Dialect     Dialect
	Schema      string
	TablePrefix string

	// NoRowLocks renders pessimistic reads as plain reads. Set it for
	// engines that reject "for update" and serialize writers themselves,
	// such as SQLite behind the PostgreSql rendering.
	NoRowLocks bool

	// ColumnEncryption keeps literal values out of statements that write
	// columns which may be encrypted client-side. Only MsSqlServer honors it.
	ColumnEncryption bool
}

func (p Profile) encryptedColumns() bool {
	return p.ColumnEncryption && p.Dialect == MsSqlServer
}

// ColumnEncryptionEnabled reports whether a SQL Server connection string
// turns on Always Encrypted, either as "Column Encryption Setting=Enabled"
// or as the go-mssqldb "columnencryption=true" URL parameter.
func ColumnEncryptionEnabled(connectionString string) bool {
	if u, err := url.Parse(connectionString); err == nil && u.Scheme == "sqlserver" {
		on, _ := strconv.ParseBool(u.Query().Get("columnencryption"))
		return on
	}
	for _, pair := range strings.Split(connectionString, ";") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.Join(strings.Fields(key), " ")
		if strings.EqualFold(key, "Column Encryption Setting") {
			return strings.EqualFold(strings.TrimSpace(value), "enabled")
		}
	}
	return false
}

// NewProfile validates the schema and prefix for use inside identifiers.
func NewProfile(d Dialect, tablePrefix, schema string) (Profile, error) {
	if !d.Valid() {
		return Profile{}, sqlerr.Wrap("dialect.profile", d.String(), sqlerr.ErrDialectUnsupported, nil)
	}
	if strings.ContainsAny(tablePrefix, invalidNameChars) {
		return Profile{}, sqlerr.Wrap("dialect.profile", tablePrefix, sqlerr.ErrValidation,
			fmt.Errorf("table prefix contains one of %q", invalidNameChars))
	}
	if strings.ContainsAny(schema, invalidNameChars) {
		return Profile{}, sqlerr.Wrap("dialect.profile", schema, sqlerr.ErrValidation,
			fmt.Errorf("schema contains one of %q", invalidNameChars))
	}
	return Profile{Dialect: d, Schema: schema, TablePrefix: tablePrefix}, nil
}

// MustProfile is NewProfile for fixed, known-good inputs.
func MustProfile(d Dialect, tablePrefix, schema string) Profile {
	p, err := NewProfile(d, tablePrefix, schema)
	if err != nil {
		panic(err)
	}
	return p
}

// DefaultTablePrefix derives a table prefix from an endpoint name: accents
// are folded to their base letters and anything that is not a letter, digit
// or underscore becomes an underscore.
func DefaultTablePrefix(endpointName string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, endpointName)
	if err != nil {
		folded = endpointName
	}
	var b strings.Builder
	for _, r := range folded {
		if r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	b.WriteByte('_')
	return b.String()
}

// schema returns the effective schema, applying dialect defaults.
func (p Profile) schema() string {
	switch p.Dialect {
	case MsSqlServer:
		if p.Schema == "" {
			return "dbo"
		}
		return p.Schema
	case MySql, Oracle, PostgreSql:
		return p.Schema
	}
	return p.Schema
}

// TableBaseName is the unquoted, unqualified table name for a suffix.
func (p Profile) TableBaseName(suffix string) string {
	switch p.Dialect {
	case Oracle:
		return upper.String(p.TablePrefix + suffix)
	case MsSqlServer, MySql, PostgreSql:
		return p.TablePrefix + suffix
	}
	return p.TablePrefix + suffix
}

// CheckTable verifies the table name for suffix is usable in this dialect.
func (p Profile) CheckTable(suffix string) error {
	name := p.TableBaseName(suffix)
	if strings.ContainsAny(name, invalidNameChars) {
		return sqlerr.Wrap("dialect.table", name, sqlerr.ErrValidation,
			fmt.Errorf("table name contains one of %q", invalidNameChars))
	}
	switch p.Dialect {
	case Oracle:
		if len(name) > oracleMaxIdentifier {
			return sqlerr.Wrap("dialect.table", name, sqlerr.ErrDialectUnsupported,
				fmt.Errorf("Oracle table names are limited to %d characters", oracleMaxIdentifier))
		}
	case MsSqlServer, MySql, PostgreSql:
	}
	return nil
}

// Table returns the quoted, schema-qualified table name for a suffix.
func (p Profile) Table(suffix string) string {
	name := p.TableBaseName(suffix)
	schema := p.schema()
	switch p.Dialect {
	case MsSqlServer:
		return "[" + schema + "].[" + name + "]"
	case MySql:
		if schema == "" {
			return "`" + name + "`"
		}
		return "`" + schema + "`.`" + name + "`"
	case Oracle:
		if schema == "" {
			return name
		}
		return upper.String(schema) + "." + name
	case PostgreSql:
		if schema == "" {
			return `"` + name + `"`
		}
		return `"` + schema + `"."` + name + `"`
	}
	return name
}

// oracleColumnNames renames columns whose natural names clash with Oracle keywords.
var oracleColumnNames = map[string]string{
	ColTime: "EXPIRETIME",
}

// Col quotes a column name.
func (p Profile) Col(name string) string {
	switch p.Dialect {
	case MsSqlServer, MySql:
		return name
	case Oracle:
		if renamed, ok := oracleColumnNames[name]; ok {
			return renamed
		}
		return truncate(upper.String(name), oracleMaxIdentifier)
	case PostgreSql:
		return `"` + name + `"`
	}
	return name
}

// CorrelationCol is the quoted column holding a correlation property.
func (p Profile) CorrelationCol(property string) string {
	switch p.Dialect {
	case Oracle:
		return truncate("CORR_"+upper.String(property), oracleMaxIdentifier)
	case MsSqlServer, MySql, PostgreSql:
		return p.Col(CorrelationPrefix + property)
	}
	return CorrelationPrefix + property
}

// IndexName builds an index name unique within the index namespace of the
// dialect. MsSql and MySql scope names per table; Oracle and PostgreSql per
// schema, so the table name is folded in.
func (p Profile) IndexName(suffix, name string) string {
	switch p.Dialect {
	case MsSqlServer, MySql:
		return "Index_" + name
	case Oracle:
		full := upper.String(p.TablePrefix + suffix + "_" + name)
		if len(full) <= oracleMaxIdentifier {
			return full
		}
		h := fnv.New32a()
		h.Write([]byte(full))
		return fmt.Sprintf("%s_%08X", truncate(full, oracleMaxIdentifier-9), h.Sum32())
	case PostgreSql:
		return `"` + p.TableBaseName(suffix) + "_" + name + `"`
	}
	return name
}

// Bool renders a boolean literal.
func (p Profile) Bool(v bool) string {
	switch p.Dialect {
	case PostgreSql:
		if v {
			return "true"
		}
		return "false"
	case MsSqlServer, MySql, Oracle:
		if v {
			return "1"
		}
		return "0"
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
