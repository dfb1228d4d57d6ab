package typeinfo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadModule(t *testing.T) {
	module, err := LoadModule("testdata/orders")
	require.NoError(t, err)

	assert.Equal(t, "Orders", module.Name)
	assert.Equal(t, []string{
		"Orders.OrderSaga",
		"Orders.OrderSagaData",
		"Orders.ShippingSaga",
		"Orders.StartOrder",
	}, module.Names())

	saga, ok := module.Lookup("Orders.OrderSaga")
	require.True(t, ok)
	assert.Equal(t, "OrderSaga", saga.ShortName())
	assert.Equal(t, "Orders", saga.Module)
	require.NotNil(t, saga.BaseType)
	assert.Equal(t, "Orders.OrderSagaData", saga.BaseType.GenericArguments[0].FullName)

	method, ok := saga.Method("ConfigureHowToFindSaga")
	require.True(t, ok)
	assert.Len(t, method.Instructions, 27)
	assert.Equal(t, "ldarg.1", method.Instructions[0].OpCode)
	assert.Equal(t, "expr.Expression::Parameter", method.Instructions[4].Member.String())

	shipping, _ := module.Lookup("Orders.ShippingSaga")
	attr, ok := shipping.Attribute("saga.SqlSaga")
	require.True(t, ok)
	assert.Equal(t, "Customer", attr.Arg("CorrelationProperty"))
	assert.Equal(t, "", attr.Arg("TransitionalCorrelationProperty"))

	data, _ := module.Lookup("Orders.OrderSagaData")
	p, ok := data.Property("OrderId")
	require.True(t, ok)
	assert.Equal(t, PropertyDefinition{Name: "OrderId", Type: "System.Guid", HasGetter: true, HasSetter: true}, *p)
}

func TestLoadModule_Errors(t *testing.T) {
	_, err := LoadModule(filepath.Join(t.TempDir(), "missing"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)

	empty := t.TempDir()
	_, err = LoadModule(empty)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNoFiles, le.Code)

	broken := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(broken, "x.cue"), []byte("package x\ntypes: {"), 0o644))
	_, err = LoadModule(broken)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeLoadFailed, le.Code)
}

func TestParseModule(t *testing.T) {
	src := []byte(`
types: {
	"A.Saga": {abstract: true, generic_parameters: ["T"]}
	"A.Bad": {properties: "not a list"}
}
`)
	module, err := ParseModule("inline.cue", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A.Bad")

	assert.Equal(t, "inline", module.Name)
	saga, ok := module.Lookup("A.Saga")
	require.True(t, ok)
	assert.True(t, saga.Abstract)
	assert.True(t, saga.HasGenericParameters())
	_, ok = module.Lookup("A.Bad")
	assert.False(t, ok)
}

func TestTypeDefinition_ShortName(t *testing.T) {
	tests := map[string]string{
		"Orders.OrderSaga":        "OrderSaga",
		"Orders.Outer+NestedSaga": "NestedSaga",
		"saga.Saga`1":             "Saga",
		"Plain":                   "Plain",
	}
	for full, want := range tests {
		td := &TypeDefinition{FullName: full}
		assert.Equal(t, want, td.ShortName(), full)
	}
}
