package agentrunner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

func historyBreadcrumb(messages []map[string]any) breadcrumb.Breadcrumb {
	items := make([]any, len(messages))
	for i, m := range messages {
		items[i] = m
	}
	return breadcrumb.Breadcrumb{
		SchemaName: schemaAgentContext,
		Context:    breadcrumb.FromAny(map[string]any{"messages": items}),
	}
}

func TestBuildWindowKeepsHistoryThatFits(t *testing.T) {
	bus := newFakeBus()
	trigger := breadcrumb.Breadcrumb{ID: "trig", SchemaName: "event.v1", Title: "t"}
	activeCtx := historyBreadcrumb([]map[string]any{
		{"role": "user", "content": "hello"},
		{"role": "assistant", "content": "hi there"},
	})

	r := New(bus, &scriptedLLM{}, nil, Config{Workspace: "ws"})
	def := Definition{Model: "claude-3-5-sonnet", ContextMaxTokens: 0, ContextMaxCount: 10}

	messages, err := r.buildWindow(context.Background(), def, &activeCtx, &trigger)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(messages), 2)
	require.Equal(t, "hello", messages[0].Content)
}

func TestBuildWindowSummarizesOverflowHistory(t *testing.T) {
	bus := newFakeBus()
	trigger := breadcrumb.Breadcrumb{ID: "trig", SchemaName: "event.v1", Title: "t"}

	var msgs []map[string]any
	for i := 0; i < 50; i++ {
		msgs = append(msgs, map[string]any{"role": "user", "content": strings.Repeat("x", 200)})
	}
	activeCtx := historyBreadcrumb(msgs)

	llmClient := &scriptedLLM{replies: []string{"condensed summary of earlier turns"}}
	r := New(bus, llmClient, nil, Config{Workspace: "ws"})
	def := Definition{Model: "claude-3-5-sonnet", ContextMaxTokens: 200, ContextMaxCount: 50}

	messages, err := r.buildWindow(context.Background(), def, &activeCtx, &trigger)
	require.NoError(t, err)

	found := false
	for _, m := range messages {
		if strings.Contains(m.Content, "condensed summary") {
			found = true
		}
	}
	require.True(t, found, "expected a summarized-history message when history overflows the window")
	require.Greater(t, llmClient.calls, 0)
}
