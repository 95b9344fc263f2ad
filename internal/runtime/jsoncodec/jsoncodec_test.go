package jsoncodec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "polyflow"}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out testPayload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	indented, err := MarshalIndent(in, "", "  ")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(indented), "\n  \"id\""))
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := testPayload{ID: 7, Name: "stream"}

	require.NoError(t, Encode(buf, payload))

	var decoded testPayload
	require.NoError(t, Decode(buf, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestConvertAndNormalize(t *testing.T) {
	var typed testPayload
	require.NoError(t, Convert(map[string]any{"id": float64(3), "name": "add"}, &typed))
	assert.Equal(t, testPayload{ID: 3, Name: "add"}, typed)

	generic, err := Normalize(testPayload{ID: 1, Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "x"}, generic)

	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}
