package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctionSource(t *testing.T) {
	assert.Equal(t, "function() {\nreturn 1\n}", functionSource("return 1"))
}

func TestEnvelopeExpression(t *testing.T) {
	expr, err := envelopeExpression("return arguments[0] + arguments[1]", []any{1, "a"})
	require.NoError(t, err)
	assert.Contains(t, expr, "(async function() {\nreturn arguments[0] + arguments[1]\n})")
	assert.Contains(t, expr, `.apply(window, [1,"a"])`)

	expr, err = envelopeExpression("return 1", nil)
	require.NoError(t, err)
	assert.Contains(t, expr, ".apply(window, [])")

	_, err = envelopeExpression("return 1", []any{make(chan int)})
	require.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	var v any
	require.NoError(t, decodeEnvelope(`{"v":{"a":1}}`, &v))
	assert.Equal(t, map[string]any{"a": float64(1)}, v)

	v = "stale"
	require.NoError(t, decodeEnvelope(`{"v":null}`, &v))
	assert.Nil(t, v)

	require.NoError(t, decodeEnvelope(`{}`, &v))
	assert.Nil(t, v)

	var res lookupResult
	require.NoError(t, decodeEnvelope(`{"v":{"found":true,"present":true,"value":"x"}}`, &res))
	assert.Equal(t, lookupResult{Found: true, Present: true, Value: "x"}, res)

	require.Error(t, decodeEnvelope("not json", &v))
}
