package correlation

import (
	"io"
	"log/slog"

	"github.com/roach88/sqlpersistence/internal/typeinfo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func call(declType, name string) typeinfo.Instruction {
	return typeinfo.Instruction{OpCode: "call", Member: &typeinfo.MemberReference{DeclaringType: declType, Name: name}}
}

func callvirt(declType, name string) typeinfo.Instruction {
	return typeinfo.Instruction{OpCode: "callvirt", Member: &typeinfo.MemberReference{DeclaringType: declType, Name: name}}
}

func op(code string) typeinfo.Instruction {
	return typeinfo.Instruction{OpCode: code}
}

func ldtoken(declType, name string) typeinfo.Instruction {
	return typeinfo.Instruction{OpCode: "ldtoken", Member: &typeinfo.MemberReference{DeclaringType: declType, Name: name}}
}

func ldstr(v string) typeinfo.Instruction {
	return typeinfo.Instruction{OpCode: "ldstr", Value: v}
}

// propertyLambda is the instruction sequence for "x => x.<prop>".
func propertyLambda(owner, prop string) []typeinfo.Instruction {
	return []typeinfo.Instruction{
		{OpCode: "ldtoken", Value: owner},
		call("reflect.Type", "TypeFromHandle"),
		ldstr("x"),
		call("expr.Expression", "Parameter"),
		op("stloc.0"),
		op("ldloc.0"),
		ldtoken(owner, "get_"+prop),
		call("reflect.Method", "MethodFromHandle"),
		op("castclass"),
		call("expr.Expression", "Property"),
		op("ldc.i4.1"),
		op("newarr"),
		op("dup"),
		op("ldc.i4.0"),
		op("ldloc.0"),
		op("stelem.ref"),
		call("expr.Expression", "Lambda"),
	}
}

// mapping is the instruction sequence for
// mapper.ConfigureMapping(m => m.<msgProp>).ToSaga(s => s.<sagaProp>).
func mapping(msgType, msgProp, stateType, sagaProp string) []typeinfo.Instruction {
	var ins []typeinfo.Instruction
	ins = append(ins, op("ldarg.1"))
	ins = append(ins, propertyLambda(msgType, msgProp)...)
	ins = append(ins, callvirt("saga.PropertyMapper`1", "ConfigureMapping"))
	ins = append(ins, propertyLambda(stateType, sagaProp)...)
	ins = append(ins, callvirt("saga.ToSagaExpression`2", "ToSaga"))
	ins = append(ins, op("pop"))
	return ins
}

func configureMethod(body ...[]typeinfo.Instruction) typeinfo.MethodDefinition {
	m := typeinfo.MethodDefinition{Name: "ConfigureHowToFindSaga"}
	for _, b := range body {
		m.Instructions = append(m.Instructions, b...)
	}
	m.Instructions = append(m.Instructions, op("ret"))
	return m
}

func orderState() *typeinfo.TypeDefinition {
	return &typeinfo.TypeDefinition{
		FullName: "Orders.OrderSagaData",
		Properties: []typeinfo.PropertyDefinition{
			{Name: "OrderId", Type: "System.Guid", HasGetter: true, HasSetter: true},
			{Name: "OrderNumber", Type: "System.Int32", HasGetter: true, HasSetter: true},
			{Name: "Customer", Type: "System.String", HasGetter: true, HasSetter: true},
			{Name: "PlacedAt", Type: "System.DateTime", HasGetter: true, HasSetter: true},
			{Name: "Total", Type: "System.Decimal", HasGetter: true, HasSetter: true},
			{Name: "ReadOnlyId", Type: "System.Guid", HasGetter: true},
		},
	}
}

func sagaType(name string, method typeinfo.MethodDefinition, attrs ...typeinfo.Attribute) *typeinfo.TypeDefinition {
	return &typeinfo.TypeDefinition{
		FullName: name,
		BaseType: &typeinfo.TypeReference{
			FullName:         "saga.Saga`1",
			GenericArguments: []typeinfo.TypeReference{{FullName: "Orders.OrderSagaData"}},
		},
		Attributes: attrs,
		Methods:    []typeinfo.MethodDefinition{method},
	}
}

func sqlSaga(args map[string]string) typeinfo.Attribute {
	return typeinfo.Attribute{Name: "saga.SqlSaga", Arguments: args}
}
