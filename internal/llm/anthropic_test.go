package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnthropicClientCompleteParsesTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": []map[string]any{
				{"type": "text", "text": "hello back"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 3},
		})
	}))
	t.Cleanup(server.Close)

	c := NewAnthropicClient("test-key", server.URL, "")
	resp, err := c.Complete(t.Context(), Request{
		System:   "be nice",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", resp.Text)
	require.Equal(t, 10, resp.InputTokens)
	require.Equal(t, 3, resp.OutputTokens)
}

func TestAnthropicClientCompleteErrorsOnEmptyTextContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_2",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-20250514",
			"content":     []map[string]any{},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 0},
		})
	}))
	t.Cleanup(server.Close)

	c := NewAnthropicClient("test-key", server.URL, "")
	_, err := c.Complete(t.Context(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
}
