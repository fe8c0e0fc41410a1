package props_test

import (
	"testing"

	"github.com/tobsdb/nanoq/internal/props"
	"github.com/tobsdb/nanoq/internal/types"
	"gotest.tools/assert"
)

func TestParseBoolPropSafe(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		b, err := props.ParseBoolPropSafe(props.FieldPropIndex, "true")
		assert.NilError(t, err)
		assert.Assert(t, b)
	})

	t.Run("bad syntax", func(t *testing.T) {
		_, err := props.ParseBoolPropSafe(props.FieldPropOptional, "yes please")
		assert.ErrorContains(t, err, "Invalid syntax: optional(yes please)")
	})
}

func TestParseKeyPropSafe(t *testing.T) {
	ok, err := props.ParseKeyPropSafe("primary")
	assert.NilError(t, err)
	assert.Assert(t, ok)

	_, err = props.ParseKeyPropSafe("foreign")
	assert.ErrorContains(t, err, "Invalid syntax: key(foreign)")
}

func TestParseDefaultPropSafe(t *testing.T) {
	t.Run("quoted string", func(t *testing.T) {
		v, err := props.ParseDefaultPropSafe(types.FieldTypeString, `"hello"`)
		assert.NilError(t, err)
		assert.Equal(t, v, "hello")
	})

	t.Run("int", func(t *testing.T) {
		v, err := props.ParseDefaultPropSafe(types.FieldTypeInt, "12")
		assert.NilError(t, err)
		assert.Equal(t, v, int64(12))
	})

	t.Run("invalid int", func(t *testing.T) {
		_, err := props.ParseDefaultPropSafe(types.FieldTypeInt, "twelve")
		assert.ErrorContains(t, err, "default(twelve) is not a valid prop")
	})

	t.Run("array", func(t *testing.T) {
		_, err := props.ParseDefaultPropSafe(types.FieldTypeArray, "[]")
		assert.ErrorContains(t, err, "is not allowed on type Array")
	})
}
