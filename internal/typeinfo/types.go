package typeinfo

import (
	"sort"
	"strings"
)

// Module is a set of type descriptions from one compiled unit.
type Module struct {
	Name  string
	Types map[string]*TypeDefinition
}

// NewModule creates a module from the given definitions.
// Each definition's FullName is used as its key.
func NewModule(name string, defs ...*TypeDefinition) *Module {
	m := &Module{Name: name, Types: make(map[string]*TypeDefinition, len(defs))}
	for _, d := range defs {
		if d.Module == "" {
			d.Module = name
		}
		m.Types[d.FullName] = d
	}
	return m
}

// Lookup returns the type with the given full name.
func (m *Module) Lookup(fullName string) (*TypeDefinition, bool) {
	t, ok := m.Types[fullName]
	return t, ok
}

// Names returns all type names in sorted order.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.Types))
	for name := range m.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeDefinition describes one compiled type.
type TypeDefinition struct {
	FullName          string               `json:"full_name"`
	Module            string               `json:"module,omitempty"`
	Abstract          bool                 `json:"abstract,omitempty"`
	GenericParameters []string             `json:"generic_parameters,omitempty"`
	BaseType          *TypeReference       `json:"base_type,omitempty"`
	Properties        []PropertyDefinition `json:"properties,omitempty"`
	Attributes        []Attribute          `json:"attributes,omitempty"`
	Methods           []MethodDefinition   `json:"methods,omitempty"`
}

// ShortName returns the unqualified name with any generic arity marker removed.
func (t *TypeDefinition) ShortName() string {
	name := t.FullName
	if i := strings.LastIndexAny(name, "./+"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '`'); i >= 0 {
		name = name[:i]
	}
	return name
}

// HasGenericParameters reports whether the type is an open generic.
func (t *TypeDefinition) HasGenericParameters() bool {
	return len(t.GenericParameters) > 0
}

// Property finds a property by exact name.
func (t *TypeDefinition) Property(name string) (*PropertyDefinition, bool) {
	for i := range t.Properties {
		if t.Properties[i].Name == name {
			return &t.Properties[i], true
		}
	}
	return nil, false
}

// Attribute finds an annotation by name.
func (t *TypeDefinition) Attribute(name string) (*Attribute, bool) {
	for i := range t.Attributes {
		if t.Attributes[i].Name == name {
			return &t.Attributes[i], true
		}
	}
	return nil, false
}

// Method finds a method by name.
func (t *TypeDefinition) Method(name string) (*MethodDefinition, bool) {
	for i := range t.Methods {
		if t.Methods[i].Name == name {
			return &t.Methods[i], true
		}
	}
	return nil, false
}

// TypeReference points at a type, possibly a closed generic.
type TypeReference struct {
	FullName         string          `json:"full_name"`
	GenericArguments []TypeReference `json:"generic_arguments,omitempty"`
}

// PropertyDefinition is a property with its accessor flags.
// Type is the full name of the property type, e.g. "System.Guid".
type PropertyDefinition struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	HasGetter bool   `json:"has_getter"`
	HasSetter bool   `json:"has_setter"`
}

// Attribute is an annotation with named string arguments.
type Attribute struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// Arg returns a named argument or "" when absent.
func (a *Attribute) Arg(name string) string {
	if a == nil || a.Arguments == nil {
		return ""
	}
	return a.Arguments[name]
}

// MethodDefinition holds a method's decoded instruction stream.
type MethodDefinition struct {
	Name         string        `json:"name"`
	Instructions []Instruction `json:"instructions,omitempty"`
}

// Instruction is one decoded opcode.
//
// Member is set for call-like and token-loading opcodes. Value holds any
// literal operand (strings, numbers, branch targets) in text form.
type Instruction struct {
	OpCode string           `json:"op"`
	Member *MemberReference `json:"member,omitempty"`
	Value  string           `json:"value,omitempty"`
}

// MemberReference names a method, field or property on a declaring type.
type MemberReference struct {
	DeclaringType string `json:"declaring_type"`
	Name          string `json:"name"`
}

// String renders the member as "Type::Name".
func (m *MemberReference) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.DeclaringType + "::" + m.Name
}
