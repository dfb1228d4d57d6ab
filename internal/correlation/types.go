// Package correlation determines how stored saga state is looked up.
//
// A saga type either declares its correlation property through an annotation
// or the property is inferred by walking the instruction stream of the
// type's mapping configuration method. Both paths produce a Definition and
// validate it against the saga's state type. Nothing is ever executed.
package correlation

import (
	"fmt"
	"strings"
)

// PropertyType is the storage kind of a correlation property.
type PropertyType int

const (
	DateTime PropertyType = iota + 1
	DateTimeOffset
	String
	Int
	Guid
)

// PropertyTypes lists every supported kind in declaration order.
var PropertyTypes = []PropertyType{DateTime, DateTimeOffset, String, Int, Guid}

func (t PropertyType) String() string {
	switch t {
	case DateTime:
		return "DateTime"
	case DateTimeOffset:
		return "DateTimeOffset"
	case String:
		return "String"
	case Int:
		return "Int"
	case Guid:
		return "Guid"
	default:
		return fmt.Sprintf("PropertyType(%d)", int(t))
	}
}

// MarshalText renders the kind by name.
func (t PropertyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts a kind name or any recognised field type alias.
func (t *PropertyType) UnmarshalText(text []byte) error {
	for _, k := range PropertyTypes {
		if strings.EqualFold(k.String(), string(text)) {
			*t = k
			return nil
		}
	}
	k, ok := ParsePropertyType(string(text))
	if !ok {
		return fmt.Errorf("unknown correlation property type %q", text)
	}
	*t = k
	return nil
}

// typeAliases maps lower-cased field type names to storage kinds.
var typeAliases = map[string]PropertyType{
	"system.datetime":       DateTime,
	"datetime":              DateTime,
	"time.time":             DateTime,
	"system.datetimeoffset": DateTimeOffset,
	"datetimeoffset":        DateTimeOffset,
	"system.string":         String,
	"string":                String,
	"system.int16":          Int,
	"system.int32":          Int,
	"system.int64":          Int,
	"system.uint16":         Int,
	"system.uint32":         Int,
	"int":                   Int,
	"int32":                 Int,
	"int64":                 Int,
	"long":                  Int,
	"system.guid":           Guid,
	"guid":                  Guid,
	"uuid.uuid":             Guid,
}

// ParsePropertyType maps a field type name to its storage kind.
func ParsePropertyType(typeName string) (PropertyType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(typeName))]
	return t, ok
}

// Property is a correlation property on the saga state.
type Property struct {
	Name string       `json:"name"`
	Type PropertyType `json:"type"`
}

// ColumnName is the saga table column holding the property value.
func (p *Property) ColumnName() string {
	return "Correlation_" + p.Name
}

// Definition is the persistence metadata of one saga type.
type Definition struct {
	// Name is the full type name of the saga.
	Name string `json:"name"`

	// TableSuffix is appended to the table prefix to form the table name.
	TableSuffix string `json:"table_suffix"`

	// Correlation is nil for sagas that are only found through custom finders.
	Correlation *Property `json:"correlation,omitempty"`

	// Transitional is used while migrating from one correlation property to another.
	Transitional *Property `json:"transitional,omitempty"`

	// StateType is the full name of the saga state type.
	StateType string `json:"state_type,omitempty"`
}

// Properties returns the present correlation properties in column order.
func (d *Definition) Properties() []*Property {
	var props []*Property
	if d.Correlation != nil {
		props = append(props, d.Correlation)
	}
	if d.Transitional != nil {
		props = append(props, d.Transitional)
	}
	return props
}

// Mapping links a message property to the saga property it correlates with.
type Mapping struct {
	MessageType     string `json:"message_type,omitempty"`
	MessageProperty string `json:"message_property,omitempty"`
	SagaProperty    string `json:"saga_property"`
}

// Expression is the result of analyzing a mapping configuration method.
type Expression struct {
	Mappings []Mapping `json:"mappings"`
}

// SagaProperty returns the single saga property all mappings target.
// Returns "" when there are no mappings.
func (e *Expression) SagaProperty() string {
	if e == nil || len(e.Mappings) == 0 {
		return ""
	}
	return e.Mappings[0].SagaProperty
}
