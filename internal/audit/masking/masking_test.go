package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "", MaskSecret("   "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))

	// A prefixed secret keeps its prefix for attribution.
	assert.Equal(t, "tok_****wxyz", MaskSecret("tok_abcdwxyz"))
	assert.Equal(t, "tok_****", MaskSecret("tok_abcd"))
}

func TestMaskJSON(t *testing.T) {
	assert.Nil(t, MaskJSON(nil))
	assert.Nil(t, MaskJSON(map[string]any{}))
	assert.Nil(t, MaskJSON(map[string]any{"  ": "dropped"}))

	masked := MaskJSON(map[string]any{
		"token":  "secret-value-1234",
		"count":  7,
		"nested": map[string]any{"key": "another-secret"},
		"list":   []any{"value-one", 2},
	})

	assert.Equal(t, "****1234", masked["token"])
	assert.Equal(t, 7, masked["count"])
	nested, ok := masked["nested"].(map[string]any)
	if assert.True(t, ok) {
		assert.Equal(t, "****cret", nested["key"])
	}
	list, ok := masked["list"].([]any)
	if assert.True(t, ok) {
		assert.Equal(t, "****-one", list[0])
		assert.Equal(t, 2, list[1])
	}
}
