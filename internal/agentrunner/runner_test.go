package agentrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcrt-dev/rcrt/internal/busclient"
	"github.com/rcrt-dev/rcrt/internal/dedup"
	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
	"github.com/rcrt-dev/rcrt/pkg/selector"
)

func newTestJournal(t *testing.T) *dedup.Journal {
	t.Helper()
	j, err := dedup.Open("", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// TestHandleTriggerOrchestratesNestedToolCall covers spec §8 scenario 4: a
// reply carrying tool_requests fans out a tool.request.v1, waits for the
// matching tool.response.v1, feeds it back to the model, and applies the
// model's final create action.
func TestHandleTriggerOrchestratesNestedToolCall(t *testing.T) {
	bus := newFakeBus()
	triggerID := bus.create(breadcrumb.Breadcrumb{
		SchemaName: "user.message.v1",
		Tags:       []string{"workspace:ws", "user:message"},
		Context:    breadcrumb.FromAny(map[string]any{"text": "what time is it"}),
	})

	def := Definition{
		Name:             "agent1",
		Model:            "test-model",
		MaxIterations:    8,
		ContextMaxCount:  10,
		ContextMaxTokens: 50000,
		Subscriptions: []selector.Selector{
			{SchemaName: "user.message.v1"},
		},
	}

	scripted := &scriptedLLM{replies: []string{
		`{"action":"none","tool_requests":[{"tool":"echo","input":{"message":"hi"}}]}`,
		`{"action":"create","breadcrumb":{"schema_name":"agent.response.v1","title":"done","context":{"result":"ok"}}}`,
	}}

	r := New(bus, scripted, newTestJournal(t), Config{
		Workspace:           "ws",
		ToolResponseTimeout: 2 * time.Second,
	})

	// Simulate the tool runner: watch for the tool.request.v1 breadcrumb
	// and publish a matching response shortly after.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			summaries, _ := bus.List(context.Background(), busclient.ListQuery{SchemaName: schemaToolRequest})
			if len(summaries) > 0 {
				full, _ := bus.Get(context.Background(), summaries[0].ID)
				raw, _ := full.Context.ToAny().(map[string]any)
				reqID, _ := raw["requestId"].(string)
				bus.create(breadcrumb.Breadcrumb{
					SchemaName: "tool.response.v1",
					Tags:       []string{"workspace:ws", "tool:response", "tool:echo"},
					Context: breadcrumb.FromAny(map[string]any{
						"requestId": reqID,
						"status":    "ok",
						"output":    map[string]any{"message": "hi"},
					}),
				})
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	evt := busclient.Event{Type: busclient.EventCreated, BreadcrumbID: triggerID, SchemaName: "user.message.v1"}
	err := r.handleTrigger(context.Background(), def, evt)
	require.NoError(t, err)

	summaries, err := bus.List(context.Background(), busclient.ListQuery{SchemaName: "agent.response.v1"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	final, err := bus.Get(context.Background(), summaries[0].ID)
	require.NoError(t, err)
	require.Equal(t, "done", final.Title)
}

// TestHandleTriggerDedupSkipsReplayedEvent ensures a replayed trigger event
// (same breadcrumb id) is not processed twice.
func TestHandleTriggerDedupSkipsReplayedEvent(t *testing.T) {
	bus := newFakeBus()
	triggerID := bus.create(breadcrumb.Breadcrumb{
		SchemaName: "user.message.v1",
		Tags:       []string{"workspace:ws"},
	})

	def := Definition{Name: "agent1", Model: "test-model", MaxIterations: 8}
	scripted := &scriptedLLM{replies: []string{`{"action":"none"}`}}
	r := New(bus, scripted, newTestJournal(t), Config{Workspace: "ws"})

	evt := busclient.Event{Type: busclient.EventCreated, BreadcrumbID: triggerID, SchemaName: "user.message.v1"}
	require.NoError(t, r.handleTrigger(context.Background(), def, evt))
	require.NoError(t, r.handleTrigger(context.Background(), def, evt))
	require.Equal(t, 1, scripted.calls)
}

// TestPublishErrorOnUnparseableReply ensures a reply that stays malformed
// even after the repair retry produces an agent:error breadcrumb, per
// §4.4's failure handling.
func TestPublishErrorOnUnparseableReply(t *testing.T) {
	bus := newFakeBus()
	triggerID := bus.create(breadcrumb.Breadcrumb{
		SchemaName: "user.message.v1",
		Tags:       []string{"workspace:ws"},
	})

	def := Definition{Name: "agent1", Model: "test-model", MaxIterations: 8}
	scripted := &scriptedLLM{replies: []string{"not json", "still not json"}}
	r := New(bus, scripted, nil, Config{Workspace: "ws"})

	evt := busclient.Event{Type: busclient.EventCreated, BreadcrumbID: triggerID, SchemaName: "user.message.v1"}
	err := r.handleTrigger(context.Background(), def, evt)
	require.Error(t, err)

	summaries, listErr := bus.List(context.Background(), busclient.ListQuery{SchemaName: schemaAgentError})
	require.NoError(t, listErr)
	require.Len(t, summaries, 1)
}
