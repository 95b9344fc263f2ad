package schema

import (
	"errors"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
)

func echoSchema() *jsonschema.Schema {
	return Object(map[string]*jsonschema.Schema{
		"msg": NonEmptyString("text to echo"),
	}, "msg")
}

func TestValidateRequiredField(t *testing.T) {
	v := MustNew(echoSchema())

	_, err := v.Validate(map[string]any{})
	require.Error(t, err)

	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"msg"}, verr.FieldNames())
	assert.Equal(t, []string{"is required"}, verr.Fields["msg"])
}

func TestValidateTrimsAndRejectsBlank(t *testing.T) {
	v := MustNew(echoSchema())

	out, err := v.Validate(map[string]any{"msg": "  hi  "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, out)

	_, err = v.Validate(map[string]any{"msg": "   "})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields["msg"], 1)
	assert.Contains(t, verr.Fields["msg"][0], "minLength")
}

func TestValidateWithoutTrimKeepsWhitespace(t *testing.T) {
	v := MustNew(echoSchema(), WithoutTrim())

	out, err := v.Validate(map[string]any{"msg": " hi "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": " hi "}, out)
}

func TestValidateCoercesStrings(t *testing.T) {
	v := MustNew(Object(map[string]*jsonschema.Schema{
		"a":       Integer(""),
		"ratio":   Number(""),
		"verbose": Boolean(""),
		"tags":    Array(String(""), ""),
	}, "a"))

	out, err := v.Validate(map[string]string{
		"a":       "2",
		"ratio":   "0.5",
		"verbose": "true",
		"tags":    "x, y",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a":       int64(2),
		"ratio":   0.5,
		"verbose": true,
		"tags":    []any{"x", "y"},
	}, out)
}

func TestValidateWithoutCoercionReportsType(t *testing.T) {
	v := MustNew(Object(map[string]*jsonschema.Schema{"a": Integer("")}, "a"), WithoutCoercion())

	_, err := v.Validate(map[string]any{"a": "2"})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"a"}, verr.FieldNames())
}

func TestValidateReportsEveryInvalidField(t *testing.T) {
	v := MustNew(Object(map[string]*jsonschema.Schema{
		"a": Integer(""),
		"b": Integer(""),
	}, "a", "b"))

	_, err := v.Validate(map[string]any{"a": "x", "extra": 1})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"a", "b", "extra"}, verr.FieldNames())
	assert.Equal(t, []string{"is not allowed"}, verr.Fields["extra"])
	assert.Equal(t, []string{"is required"}, verr.Fields["b"])
}

func TestValidateOpenObjectPassesUnknownFields(t *testing.T) {
	v := MustNew(OpenObject(map[string]*jsonschema.Schema{"a": Integer("")}))

	out, err := v.Validate(map[string]any{"a": float64(1), "note": "kept"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "note": "kept"}, out)
}

func TestValidateAppliesDefaults(t *testing.T) {
	v := MustNew(Object(map[string]*jsonschema.Schema{
		"name":  String(""),
		"times": WithDefault(Integer(""), 3),
	}, "name"))

	out, err := v.Validate(map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "times": float64(3)}, out)
}

func TestValidateNonObjectInput(t *testing.T) {
	v := MustNew(echoSchema())

	_, err := v.Validate([]any{1, 2})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{errspkg.RootField}, verr.FieldNames())
}

func TestValidateAcceptsJSONBytes(t *testing.T) {
	v := MustNew(echoSchema())

	out, err := v.Validate([]byte(`{"msg":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hello"}, out)
}

func TestScalarSchema(t *testing.T) {
	v := MustNew(Integer("count"))

	out, err := v.Validate(" 7 ")
	require.NoError(t, err)
	assert.Equal(t, int64(7), out)

	_, err = v.Validate("seven")
	assert.True(t, errspkg.IsValidation(err))
}

type greeting struct {
	Name  string `json:"name"`
	Times int    `json:"times,omitempty"`
}

func TestForReturnsTypedValue(t *testing.T) {
	v := MustFor[greeting]()

	out, err := v.Validate(map[string]string{"name": " ada ", "times": "2"})
	require.NoError(t, err)
	assert.Equal(t, greeting{Name: "ada", Times: 2}, out)

	_, err = v.Validate(map[string]any{"times": 1})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"name"}, verr.FieldNames())

	require.NotNil(t, v.JSONSchema())
	assert.Contains(t, v.JSONSchema().Properties, "name")
}

func TestNewRejectsNil(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNew(nil) })
}

func TestFields(t *testing.T) {
	fields := Fields(Object(map[string]*jsonschema.Schema{
		"b": Integer("second"),
		"a": String("first"),
	}, "a"))

	assert.Equal(t, []Field{
		{Name: "a", Type: "string", Description: "first", Required: true},
		{Name: "b", Type: "integer", Description: "second"},
	}, fields)
	assert.Nil(t, Fields(nil))
}

func TestValidateCoercesNestedValues(t *testing.T) {
	v := MustNew(Object(map[string]*jsonschema.Schema{
		"limits": Object(map[string]*jsonschema.Schema{
			"max":  Integer(""),
			"name": String(""),
		}, "max"),
		"points": Array(Object(map[string]*jsonschema.Schema{"x": Number("")}, "x"), ""),
	}, "limits"))

	raw := map[string]any{
		"limits": map[string]any{"max": "3", "name": " cap "},
		"points": []any{map[string]any{"x": "1.5"}},
	}
	out, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"limits": map[string]any{"max": int64(3), "name": "cap"},
		"points": []any{map[string]any{"x": 1.5}},
	}, out)
	assert.Equal(t, "3", raw["limits"].(map[string]any)["max"], "input is left untouched")

	_, err = v.Validate(map[string]any{"limits": map[string]any{"max": "three"}})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"limits"}, verr.FieldNames())
}
