package stepflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryLookup(t *testing.T) {
	memory := Memory{
		"name": "demo",
		"home": map[string]any{"city": "Berlin", "zip": nil},
		"items": []any{
			map[string]any{"name": "first"},
			"second",
		},
	}

	t.Run("top-level key", func(t *testing.T) {
		value, ok := memory.Lookup("name")
		require.True(t, ok)
		require.Equal(t, "demo", value)
	})

	t.Run("nested key", func(t *testing.T) {
		value, ok := memory.Lookup("home.city")
		require.True(t, ok)
		require.Equal(t, "Berlin", value)
	})

	t.Run("sequence index", func(t *testing.T) {
		value, ok := memory.Lookup("items.0.name")
		require.True(t, ok)
		require.Equal(t, "first", value)
	})

	t.Run("explicit null counts as present", func(t *testing.T) {
		value, ok := memory.Lookup("home.zip")
		require.True(t, ok)
		require.Nil(t, value)
	})

	t.Run("missing key", func(t *testing.T) {
		_, ok := memory.Lookup("home.street")
		require.False(t, ok)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, ok := memory.Lookup("items.5")
		require.False(t, ok)
	})

	t.Run("non-numeric index", func(t *testing.T) {
		_, ok := memory.Lookup("items.first")
		require.False(t, ok)
	})

	t.Run("descent into scalar", func(t *testing.T) {
		_, ok := memory.Lookup("name.length")
		require.False(t, ok)
	})
}

func TestMemorySet(t *testing.T) {
	t.Run("creates intermediate maps", func(t *testing.T) {
		memory := NewMemory()
		require.NoError(t, memory.Set("a.b.c", "value"))
		value, ok := memory.Lookup("a.b.c")
		require.True(t, ok)
		require.Equal(t, "value", value)
	})

	t.Run("overwrites existing leaf", func(t *testing.T) {
		memory := Memory{"a": map[string]any{"b": "old"}}
		require.NoError(t, memory.Set("a.b", "new"))
		value, _ := memory.Lookup("a.b")
		require.Equal(t, "new", value)
	})

	t.Run("scalar at intermediate segment is an error", func(t *testing.T) {
		memory := Memory{"a": "scalar"}
		err := memory.Set("a.b", "value")
		require.Error(t, err)
		require.Contains(t, err.Error(), "non-container")
		// The scalar is untouched.
		value, _ := memory.Lookup("a")
		require.Equal(t, "scalar", value)
	})
}

func TestMemoryClone(t *testing.T) {
	memory := Memory{"nested": map[string]any{"key": "value"}, "list": []any{1, 2}}
	cloned := memory.Clone()
	require.NoError(t, cloned.Set("nested.key", "changed"))
	cloned["list"].([]any)[0] = 99

	value, _ := memory.Lookup("nested.key")
	require.Equal(t, "value", value)
	require.Equal(t, 1, memory["list"].([]any)[0])
}

func TestMemoryMergeIsShallow(t *testing.T) {
	memory := Memory{"config": map[string]any{"host": "localhost", "port": 8080}}
	memory.Merge(map[string]any{"config": map[string]any{"host": "example.com"}})

	// The overriding key replaced the prior value entirely.
	_, ok := memory.Lookup("config.port")
	require.False(t, ok)
	value, _ := memory.Lookup("config.host")
	require.Equal(t, "example.com", value)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "hello", "hello"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"integral float", float64(4), "4"},
		{"fractional float", 2.5, "2.5"},
		{"int", 42, "42"},
		{"nil", nil, "null"},
		{"map", map[string]any{"a": float64(1)}, `{"a":1}`},
		{"slice", []any{"x", "y"}, `["x","y"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, formatValue(tt.value))
		})
	}
}
