package docfs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// stripJSON runs the strip pass and asserts the result is still valid JSON,
// returning the re-decoded document.
func stripJSON(t *testing.T, src string) any {
	t.Helper()

	out := stripMarker([]byte(src), FormatJSON)
	require.True(t, json.Valid(out), "stripped output is not JSON: %s", out)

	var v any

	require.NoError(t, json.Unmarshal(out, &v))

	return v
}

func TestStripMarkerJSON(t *testing.T) {
	t.Run("object member middle", func(t *testing.T) {
		got := stripJSON(t, `{"a": 1, "gone": "`+deleteMarker+`", "b": 2}`)
		assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, got)
	})

	t.Run("object member last", func(t *testing.T) {
		got := stripJSON(t, "{\n\t\"a\": 1,\n\t\"gone\": \""+deleteMarker+"\"\n}")
		assert.Equal(t, map[string]any{"a": float64(1)}, got)
	})

	t.Run("object member first", func(t *testing.T) {
		got := stripJSON(t, "{\n\t\"gone\": \""+deleteMarker+"\",\n\t\"b\": 2\n}")
		assert.Equal(t, map[string]any{"b": float64(2)}, got)
	})

	t.Run("sole member", func(t *testing.T) {
		got := stripJSON(t, `{"gone": "`+deleteMarker+`"}`)
		assert.Equal(t, map[string]any{}, got)
	})

	t.Run("array element middle keeps one comma", func(t *testing.T) {
		got := stripJSON(t, `["x", "`+deleteMarker+`", "y"]`)
		assert.Equal(t, []any{"x", "y"}, got)
	})

	t.Run("array element first", func(t *testing.T) {
		got := stripJSON(t, `["`+deleteMarker+`", "y"]`)
		assert.Equal(t, []any{"y"}, got)
	})

	t.Run("array element last", func(t *testing.T) {
		got := stripJSON(t, "[\n\t\"x\",\n\t\""+deleteMarker+"\"\n]")
		assert.Equal(t, []any{"x"}, got)
	})

	t.Run("nested", func(t *testing.T) {
		got := stripJSON(t, "{\n\t\"a\": {\n\t\t\"b\": \""+deleteMarker+"\"\n\t},\n\t\"c\": 3\n}")
		assert.Equal(t, map[string]any{"a": map[string]any{}, "c": float64(3)}, got)
	})
}

func TestStripMarkerNoop(t *testing.T) {
	src := []byte(`{"a": "untouched"}`)
	assert.Equal(t, src, stripMarker(src, FormatJSON))

	src = []byte("a: b\nc: d\n")
	assert.Equal(t, src, stripMarker(src, FormatYAML))
}

func TestStripMarkerYAML(t *testing.T) {
	src := "a:\n    b: secret\ngone: " + deleteMarker + "\nc: 3\n"

	out := stripMarker([]byte(src), FormatYAML)

	var doc map[string]any

	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": "secret"},
		"c": 3,
	}, doc)
}

func TestStripMarkerINI(t *testing.T) {
	src := "[section]\nkey = value\ndead = " + deleteMarker + "\n"

	out := stripMarker([]byte(src), FormatINI)

	f, err := ini.Load(out)
	require.NoError(t, err)

	sec := f.Section("section")
	assert.Equal(t, "value", sec.Key("key").String())
	assert.False(t, sec.HasKey("dead"))
}

func TestStripMarkerDotenv(t *testing.T) {
	src := "KEY=value\nDEAD=" + deleteMarker + "\nOTHER=x"

	out := stripMarker([]byte(src), FormatDotenv)
	assert.Equal(t, "KEY=value\nOTHER=x", string(out))
}
