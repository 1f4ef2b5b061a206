package breadcrumb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValuePathBasic(t *testing.T) {
	v := FromAny(map[string]any{
		"tool":  "echo",
		"input": map[string]any{"message": "hi"},
	})

	got, ok := v.Path("input.message")
	require.True(t, ok)
	require.Equal(t, "hi", got.Str)

	_, ok = v.Path("input.missing")
	require.False(t, ok)
}

func TestValuePathArrayIndex(t *testing.T) {
	v := FromAny(map[string]any{
		"tool_requests": []any{
			map[string]any{"tool": "random"},
			map[string]any{"tool": "echo"},
		},
	})

	got, ok := v.Path("tool_requests[1].tool")
	require.True(t, ok)
	require.Equal(t, "echo", got.Str)

	_, ok = v.Path("tool_requests[5].tool")
	require.False(t, ok)
}

func TestValuePathRootSentinel(t *testing.T) {
	v := FromAny(map[string]any{"status": "success"})
	got, ok := v.Path("$.status")
	require.True(t, ok)
	require.Equal(t, "success", got.Str)

	whole, ok := v.Path("$")
	require.True(t, ok)
	require.Equal(t, v.Kind, whole.Kind)
}

func TestValueJSONRoundTrip(t *testing.T) {
	original := FromAny(map[string]any{
		"requestId": "r1",
		"count":     float64(3),
		"tags":      []any{"a", "b"},
		"nested":    map[string]any{"ok": true},
	})

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, original.Equal(decoded))
}

func TestValueEqual(t *testing.T) {
	a := FromAny(map[string]any{"x": float64(1), "y": []any{"a"}})
	b := FromAny(map[string]any{"y": []any{"a"}, "x": float64(1)})
	require.True(t, a.Equal(b))

	c := FromAny(map[string]any{"x": float64(2), "y": []any{"a"}})
	require.False(t, a.Equal(c))
}
