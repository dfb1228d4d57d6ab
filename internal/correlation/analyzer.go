package correlation

import (
	"strings"

	"github.com/roach88/sqlpersistence/internal/typeinfo"
)

// MemberName identifies a method by its declaring type and name.
// DeclaringType is compared without generic arity or instantiation.
type MemberName struct {
	DeclaringType string
	Name          string
}

func (m MemberName) matches(ref *typeinfo.MemberReference) bool {
	return ref != nil && ref.Name == m.Name && openTypeName(ref.DeclaringType) == m.DeclaringType
}

// Vocabulary names the framework members the analyzer recognises.
type Vocabulary struct {
	// SagaBase is the generic base every saga type directly derives from.
	SagaBase string

	// Annotation carries explicit correlation metadata.
	Annotation string

	// ConfigureMethod is the method whose instruction stream is analyzed.
	ConfigureMethod string

	// ExpressionBuilder is the type whose static methods build expression trees.
	ExpressionBuilder string

	// StrictBuilderMethods are the builder methods allowed outside a
	// message value expression.
	StrictBuilderMethods []string

	// BeginMapping starts the saga side of a mapping.
	BeginMapping MemberName

	// CommitMapping binds the mapping to a saga property.
	CommitMapping MemberName

	TypeFromHandle   MemberName
	MethodFromHandle MemberName

	// GetterPrefix is stripped from accessor method names.
	GetterPrefix string
}

// DefaultVocabulary returns the member names used by the saga framework.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		SagaBase:             "saga.Saga",
		Annotation:           "saga.SqlSaga",
		ConfigureMethod:      "ConfigureHowToFindSaga",
		ExpressionBuilder:    "expr.Expression",
		StrictBuilderMethods: []string{"Parameter", "Property", "Lambda", "Convert", "Constant", "Add"},
		BeginMapping:         MemberName{DeclaringType: "saga.PropertyMapper", Name: "ConfigureMapping"},
		CommitMapping:        MemberName{DeclaringType: "saga.ToSagaExpression", Name: "ToSaga"},
		TypeFromHandle:       MemberName{DeclaringType: "reflect.Type", Name: "TypeFromHandle"},
		MethodFromHandle:     MemberName{DeclaringType: "reflect.Method", Name: "MethodFromHandle"},
		GetterPrefix:         "get_",
	}
}

// branchOpCodes are rejected wherever they appear.
var branchOpCodes = map[string]bool{
	"br": true, "brtrue": true, "brfalse": true, "brnull": true, "brzero": true, "brinst": true,
	"beq": true, "bne": true, "bge": true, "bgt": true, "ble": true, "blt": true,
	"switch": true, "leave": true, "jmp": true, "endfinally": true, "endfilter": true,
}

// dataOpCodes only move values and carry no control flow or side effects.
var dataOpCodes = map[string]bool{
	"nop": true, "ret": true, "pop": true, "dup": true,
	"ldstr": true, "ldnull": true, "ldtoken": true,
	"newarr": true, "castclass": true, "isinst": true, "box": true, "unbox.any": true,
	"ldfld": true, "ldsfld": true, "ldflda": true, "ldsflda": true,
}

// dataOpCodePrefixes cover opcode families with short and indexed forms.
var dataOpCodePrefixes = []string{"ldarg", "ldloc", "stloc", "ldc.", "stelem", "ldelem", "conv."}

func normalizeOpCode(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	op = strings.TrimSuffix(op, ".s")
	op = strings.TrimSuffix(op, ".un")
	return op
}

func isBranch(op string) bool {
	return branchOpCodes[normalizeOpCode(op)]
}

func isDataOpCode(op string) bool {
	op = strings.ToLower(strings.TrimSpace(op))
	if dataOpCodes[op] {
		return true
	}
	for _, p := range dataOpCodePrefixes {
		if strings.HasPrefix(op, p) {
			return true
		}
	}
	return false
}

// openTypeName strips generic arity ("`1") and instantiation ("<...>").
func openTypeName(name string) string {
	if i := strings.IndexAny(name, "`<["); i >= 0 {
		return name[:i]
	}
	return name
}

// analyzer walks one instruction stream. It is a small interpreter over a
// restricted grammar: it never evaluates anything, it only tracks which
// property tokens are fed into which phase of a mapping.
type analyzer struct {
	vocab    Vocabulary
	typeName string

	// permissive is true while building a message value expression.
	permissive bool

	pendingMember *typeinfo.MemberReference
	pendingName   string

	messageProp *typeinfo.MemberReference
	sagaProp    *typeinfo.MemberReference
	inMapping   bool

	mappings []Mapping
}

// Analyze validates the instruction stream of a mapping configuration method
// and extracts the mappings it declares.
//
// Branches anywhere in the stream are rejected before anything else is
// considered, so an otherwise valid mapping never hides a loop.
func Analyze(typeName string, method *typeinfo.MethodDefinition, vocab Vocabulary) (*Expression, error) {
	for i, ins := range method.Instructions {
		if isBranch(ins.OpCode) {
			return nil, reject(typeName, ReasonBranching,
				"%s contains branching logic (%s at offset %d)", method.Name, ins.OpCode, i)
		}
	}

	a := &analyzer{vocab: vocab, typeName: typeName, permissive: true}
	for i := range method.Instructions {
		if err := a.step(i, &method.Instructions[i]); err != nil {
			return nil, err
		}
	}
	if a.inMapping {
		return nil, reject(typeName, ReasonIncompleteMapping,
			"%s begins a mapping that is never bound to a saga property", method.Name)
	}

	expr := &Expression{Mappings: a.mappings}
	for _, m := range expr.Mappings[min(1, len(expr.Mappings)):] {
		if m.SagaProperty != expr.Mappings[0].SagaProperty {
			return nil, reject(typeName, ReasonMultipleProperties,
				"all mappings must use the same saga property, found %s and %s",
				expr.Mappings[0].SagaProperty, m.SagaProperty)
		}
	}
	return expr, nil
}

func (a *analyzer) step(offset int, ins *typeinfo.Instruction) error {
	op := strings.ToLower(strings.TrimSpace(ins.OpCode))
	switch op {
	case "call":
		return a.call(offset, ins)
	case "callvirt":
		return a.callvirt(offset, ins)
	case "ldtoken":
		if ins.Member != nil {
			a.pendingMember = ins.Member
		}
		return nil
	case "ldstr":
		a.pendingName = ins.Value
		return nil
	}

	if isDataOpCode(op) {
		return nil
	}
	return a.unexpected(offset, ins)
}

func (a *analyzer) call(offset int, ins *typeinfo.Instruction) error {
	ref := ins.Member
	if ref == nil {
		return a.unexpected(offset, ins)
	}
	if a.vocab.TypeFromHandle.matches(ref) || a.vocab.MethodFromHandle.matches(ref) {
		return nil
	}
	if openTypeName(ref.DeclaringType) != a.vocab.ExpressionBuilder {
		return a.unexpected(offset, ins)
	}
	if !a.permissive && !a.strictAllowed(ref.Name) {
		return reject(a.typeName, ReasonUnexpectedInstruction,
			"expression method %s is not allowed in a saga property expression (offset %d)", ref.Name, offset)
	}
	if ref.Name == "Property" {
		a.recordProperty()
	}
	return nil
}

func (a *analyzer) callvirt(offset int, ins *typeinfo.Instruction) error {
	switch {
	case a.vocab.BeginMapping.matches(ins.Member):
		if a.inMapping {
			return reject(a.typeName, ReasonIncompleteMapping,
				"mapping started at offset %d before the previous one was bound", offset)
		}
		a.inMapping = true
		a.permissive = false
		a.sagaProp = nil
		return nil

	case a.vocab.CommitMapping.matches(ins.Member):
		if !a.inMapping || a.sagaProp == nil {
			return reject(a.typeName, ReasonIncompleteMapping,
				"%s at offset %d has no saga property expression", ins.Member.Name, offset)
		}
		m := Mapping{SagaProperty: a.propertyName(a.sagaProp)}
		if a.messageProp != nil {
			m.MessageType = a.messageProp.DeclaringType
			m.MessageProperty = a.propertyName(a.messageProp)
		}
		a.mappings = append(a.mappings, m)
		a.inMapping = false
		a.permissive = true
		a.messageProp = nil
		a.sagaProp = nil
		return nil
	}
	return a.unexpected(offset, ins)
}

// recordProperty attributes the most recently loaded member token or
// property name to the current mapping phase.
func (a *analyzer) recordProperty() {
	var ref *typeinfo.MemberReference
	switch {
	case a.pendingMember != nil:
		ref = a.pendingMember
	case a.pendingName != "":
		ref = &typeinfo.MemberReference{Name: a.pendingName}
	default:
		return
	}
	a.pendingMember = nil
	a.pendingName = ""

	if a.inMapping {
		a.sagaProp = ref
	} else {
		a.messageProp = ref
	}
}

func (a *analyzer) propertyName(ref *typeinfo.MemberReference) string {
	return strings.TrimPrefix(ref.Name, a.vocab.GetterPrefix)
}

func (a *analyzer) strictAllowed(name string) bool {
	for _, m := range a.vocab.StrictBuilderMethods {
		if m == name {
			return true
		}
	}
	return false
}

func (a *analyzer) unexpected(offset int, ins *typeinfo.Instruction) error {
	if ins.Member != nil {
		return reject(a.typeName, ReasonUnexpectedInstruction,
			"unexpected instruction %s %s at offset %d", ins.OpCode, ins.Member, offset)
	}
	return reject(a.typeName, ReasonUnexpectedInstruction,
		"unexpected instruction %s at offset %d", ins.OpCode, offset)
}
