package casting

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSignaturePassesThroughWithNoParamTypes(t *testing.T) {
	kwargs := map[string]any{"x": 1}
	out, err := ToSignature(kwargs, nil)
	require.NoError(t, err)
	assert.Equal(t, kwargs, out)
}

func TestToSignatureConvertsDeclaredParam(t *testing.T) {
	kwargs := map[string]any{"X": float64(2), "Y": "unrelated"}
	paramTypes := map[string]reflect.Type{"X": reflect.TypeOf(int(0))}

	out, err := ToSignature(kwargs, paramTypes)
	require.NoError(t, err)
	assert.Equal(t, 2, out["X"])
	assert.Equal(t, "unrelated", out["Y"], "undeclared names pass through unchanged")
}

func TestToSignatureRejectsUnconvertibleValue(t *testing.T) {
	kwargs := map[string]any{"X": map[string]any{"a": 1}}
	paramTypes := map[string]reflect.Type{"X": reflect.TypeOf(int(0))}

	_, err := ToSignature(kwargs, paramTypes)
	assert.Error(t, err)
}

func TestToSignaturePassesThroughNilValue(t *testing.T) {
	kwargs := map[string]any{"X": nil}
	paramTypes := map[string]reflect.Type{"X": reflect.TypeOf(int(0))}

	out, err := ToSignature(kwargs, paramTypes)
	require.NoError(t, err)
	assert.Nil(t, out["X"])
}
