package correlation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlpersistence/internal/sqlerr"
	"github.com/roach88/sqlpersistence/internal/typeinfo"
)

func TestAnalyze_SingleMapping(t *testing.T) {
	method := configureMethod(mapping("Orders.StartOrder", "OrderId", "Orders.OrderSagaData", "OrderId"))

	expr, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
	require.NoError(t, err)
	require.Len(t, expr.Mappings, 1)
	assert.Equal(t, Mapping{
		MessageType:     "Orders.StartOrder",
		MessageProperty: "OrderId",
		SagaProperty:    "OrderId",
	}, expr.Mappings[0])
	assert.Equal(t, "OrderId", expr.SagaProperty())
}

func TestAnalyze_MultipleMappingsSameProperty(t *testing.T) {
	method := configureMethod(
		mapping("Orders.StartOrder", "OrderId", "Orders.OrderSagaData", "OrderId"),
		mapping("Orders.CompleteOrder", "Id", "Orders.OrderSagaData", "OrderId"),
	)

	expr, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
	require.NoError(t, err)
	assert.Len(t, expr.Mappings, 2)
	assert.Equal(t, "Id", expr.Mappings[1].MessageProperty)
}

func TestAnalyze_ConflictingSagaProperties(t *testing.T) {
	method := configureMethod(
		mapping("Orders.StartOrder", "OrderId", "Orders.OrderSagaData", "OrderId"),
		mapping("Orders.CompleteOrder", "Number", "Orders.OrderSagaData", "OrderNumber"),
	)

	_, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
	assert.Equal(t, ReasonMultipleProperties, ReasonOf(err))
}

func TestAnalyze_NoMappings(t *testing.T) {
	method := configureMethod()

	expr, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
	require.NoError(t, err)
	assert.Empty(t, expr.Mappings)
	assert.Equal(t, "", expr.SagaProperty())
}

func TestAnalyze_RejectsBranchesAnywhere(t *testing.T) {
	branches := []string{"br", "br.s", "brtrue", "brfalse.s", "beq", "bne.un.s", "blt.un", "switch", "leave.s"}
	valid := mapping("Orders.StartOrder", "OrderId", "Orders.OrderSagaData", "OrderId")

	for _, code := range branches {
		for _, at := range []int{0, len(valid) / 2, len(valid)} {
			ins := append([]typeinfo.Instruction{}, valid[:at]...)
			ins = append(ins, typeinfo.Instruction{OpCode: code, Value: "IL_0000"})
			ins = append(ins, valid[at:]...)
			method := configureMethod(ins)

			_, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
			require.Error(t, err, "%s at %d", code, at)
			assert.Equal(t, ReasonBranching, ReasonOf(err), "%s at %d", code, at)
			assert.True(t, errors.Is(err, sqlerr.ErrValidation))
		}
	}
}

func TestAnalyze_RejectsUnknownCalls(t *testing.T) {
	method := configureMethod(
		[]typeinfo.Instruction{call("System.IO.File", "Delete")},
		mapping("Orders.StartOrder", "OrderId", "Orders.OrderSagaData", "OrderId"),
	)

	_, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
	assert.Equal(t, ReasonUnexpectedInstruction, ReasonOf(err))
	assert.Contains(t, err.Error(), "System.IO.File::Delete")
}

func TestAnalyze_RejectsCalliAndNewobj(t *testing.T) {
	for _, code := range []string{"calli", "newobj", "stfld", "throw"} {
		method := configureMethod([]typeinfo.Instruction{op(code)})
		_, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
		assert.Equal(t, ReasonUnexpectedInstruction, ReasonOf(err), code)
	}
}

func TestAnalyze_ExpressionCallStrictness(t *testing.T) {
	callExpr := call("expr.Expression", "Call")

	t.Run("allowed in message expression", func(t *testing.T) {
		ins := []typeinfo.Instruction{op("ldarg.1")}
		ins = append(ins, propertyLambda("Orders.StartOrder", "OrderId")...)
		ins = append(ins, callExpr)
		ins = append(ins, callvirt("saga.PropertyMapper`1", "ConfigureMapping"))
		ins = append(ins, propertyLambda("Orders.OrderSagaData", "OrderId")...)
		ins = append(ins, callvirt("saga.ToSagaExpression`2", "ToSaga"))
		method := configureMethod(ins)

		_, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
		assert.NoError(t, err)
	})

	t.Run("rejected in saga expression", func(t *testing.T) {
		ins := []typeinfo.Instruction{op("ldarg.1")}
		ins = append(ins, propertyLambda("Orders.StartOrder", "OrderId")...)
		ins = append(ins, callvirt("saga.PropertyMapper`1", "ConfigureMapping"))
		ins = append(ins, propertyLambda("Orders.OrderSagaData", "OrderId")...)
		ins = append(ins, callExpr)
		ins = append(ins, callvirt("saga.ToSagaExpression`2", "ToSaga"))
		method := configureMethod(ins)

		_, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
		assert.Equal(t, ReasonUnexpectedInstruction, ReasonOf(err))
	})
}

func TestAnalyze_PropertyByName(t *testing.T) {
	ins := []typeinfo.Instruction{
		op("ldarg.1"),
		ldstr("m"), call("expr.Expression", "Parameter"), op("stloc.0"), op("ldloc.0"),
		ldstr("OrderId"), call("expr.Expression", "Property"), call("expr.Expression", "Lambda"),
		callvirt("saga.PropertyMapper`1", "ConfigureMapping"),
		ldstr("s"), call("expr.Expression", "Parameter"), op("stloc.1"), op("ldloc.1"),
		ldstr("Customer"), call("expr.Expression", "Property"),
		call("expr.Expression", "Convert"),
		call("expr.Expression", "Lambda"),
		callvirt("saga.ToSagaExpression`2", "ToSaga"),
	}
	method := configureMethod(ins)

	expr, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
	require.NoError(t, err)
	assert.Equal(t, "Customer", expr.SagaProperty())
	assert.Equal(t, "OrderId", expr.Mappings[0].MessageProperty)
}

func TestAnalyze_IncompleteMapping(t *testing.T) {
	ins := []typeinfo.Instruction{op("ldarg.1")}
	ins = append(ins, propertyLambda("Orders.StartOrder", "OrderId")...)
	ins = append(ins, callvirt("saga.PropertyMapper`1", "ConfigureMapping"))
	method := configureMethod(ins)

	_, err := Analyze("Orders.OrderSaga", &method, DefaultVocabulary())
	assert.Equal(t, ReasonIncompleteMapping, ReasonOf(err))
}
