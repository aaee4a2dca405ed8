package stepflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyMemoryUpdates(t *testing.T) {
	queries := NewJSONQueryEngine()

	t.Run("regex capture stored as string", func(t *testing.T) {
		memory := Memory{"existing": "kept"}
		updated, err := applyMemoryUpdates(queries, "version: 1.4.2\n", []*UpdateSpec{
			{Regex: `version: (\S+)`, Variable: "memory.release"},
		}, memory)
		require.NoError(t, err)
		require.Equal(t, "1.4.2", updated["release"])
		require.Equal(t, "kept", updated["existing"])

		// The caller's memory is untouched until the runner commits.
		_, found := memory.Lookup("release")
		require.False(t, found)
	})

	t.Run("json extraction preserves value type", func(t *testing.T) {
		updated, err := applyMemoryUpdates(queries, `{"stats": {"count": 7}}`, []*UpdateSpec{
			{JSON: "stats.count", Variable: "total"},
		}, Memory{})
		require.NoError(t, err)
		require.Equal(t, float64(7), updated["total"])
	})

	t.Run("dotted variable creates nested structure", func(t *testing.T) {
		updated, err := applyMemoryUpdates(queries, "id=abc123\n", []*UpdateSpec{
			{Regex: `id=(\w+)`, Variable: "memory.deploy.id"},
		}, Memory{})
		require.NoError(t, err)
		value, found := updated.Lookup("deploy.id")
		require.True(t, found)
		require.Equal(t, "abc123", value)
	})

	t.Run("later updates see earlier effects", func(t *testing.T) {
		updated, err := applyMemoryUpdates(queries, "a=1 b=2\n", []*UpdateSpec{
			{Regex: `a=(\d)`, Variable: "pair.a"},
			{Regex: `b=(\d)`, Variable: "pair.b"},
		}, Memory{})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"a": "1", "b": "2"}, updated["pair"])
	})

	t.Run("first failure aborts the rest", func(t *testing.T) {
		updated, err := applyMemoryUpdates(queries, "no match here", []*UpdateSpec{
			{Regex: `value: (\d+)`, Variable: "first"},
			{Regex: `(here)`, Variable: "second"},
		}, Memory{})
		require.Nil(t, updated)
		var updateErr *MemoryUpdateError
		require.ErrorAs(t, err, &updateErr)
		require.Equal(t, "first", updateErr.Variable)
	})

	t.Run("no specs returns memory unchanged", func(t *testing.T) {
		memory := Memory{"a": "b"}
		updated, err := applyMemoryUpdates(queries, "output", nil, memory)
		require.NoError(t, err)
		require.Equal(t, memory, updated)
	})
}

func TestExtractValue(t *testing.T) {
	queries := NewJSONQueryEngine()

	t.Run("regex spans lines", func(t *testing.T) {
		value, err := extractValue(queries, "begin\npayload\nend", &UpdateSpec{
			Regex: `begin(.*)end`, Variable: "v",
		})
		require.NoError(t, err)
		require.Equal(t, "\npayload\n", value)
	})

	t.Run("regex needs exactly one capture group", func(t *testing.T) {
		_, err := extractValue(queries, "x", &UpdateSpec{Regex: `(a)(b)`, Variable: "v"})
		require.ErrorContains(t, err, "exactly one capture group")

		_, err = extractValue(queries, "x", &UpdateSpec{Regex: `ab`, Variable: "v"})
		require.ErrorContains(t, err, "exactly one capture group")
	})

	t.Run("invalid regex", func(t *testing.T) {
		_, err := extractValue(queries, "x", &UpdateSpec{Regex: `([`, Variable: "v"})
		require.ErrorContains(t, err, "invalid regex")
	})

	t.Run("regex no match", func(t *testing.T) {
		_, err := extractValue(queries, "nothing", &UpdateSpec{Regex: `(absent\d+)`, Variable: "v"})
		require.ErrorContains(t, err, "did not match")
	})

	t.Run("json missing path", func(t *testing.T) {
		_, err := extractValue(queries, `{"a": 1}`, &UpdateSpec{JSON: "b", Variable: "v"})
		require.ErrorContains(t, err, "not found in output")
	})

	t.Run("json non-JSON output", func(t *testing.T) {
		_, err := extractValue(queries, "plain", &UpdateSpec{JSON: "a", Variable: "v"})
		var notJSON *OutputNotJSONError
		require.ErrorAs(t, err, &notJSON)
	})

	t.Run("jq expression", func(t *testing.T) {
		value, err := extractValue(queries, `{"items": ["a", "b"]}`, &UpdateSpec{
			JSON: ".items[0]", Variable: "v",
		})
		require.NoError(t, err)
		require.Equal(t, "a", value)
	})
}
