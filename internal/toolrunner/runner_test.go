package toolrunner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcrt-dev/rcrt/pkg/breadcrumb"
)

func publishRequest(t *testing.T, bus *fakeBus, tool, requestID string, input map[string]any, agent string) string {
	t.Helper()
	id, _, err := bus.Create(context.Background(), breadcrumb.Breadcrumb{
		Title:      "tool request",
		Tags:       []string{"workspace:tools", "tool:request", "agent:" + agent},
		SchemaName: schemaToolRequest,
		Context: breadcrumb.FromAny(map[string]any{
			"tool":      tool,
			"input":     input,
			"requestId": requestID,
		}),
	})
	require.NoError(t, err)
	return id
}

func TestEchoRoundTrip(t *testing.T) {
	bus := newFakeBus()
	registry := NewRegistry()
	registry.Register(stubEchoTool{})
	r := newTestRunner(bus, registry)

	publishRequest(t, bus, "echo", "r1", map[string]any{"message": "hi"}, "agent-1")
	r.handleRequest(context.Background(), bus.lastCreated().ID)

	resp := bus.lastCreated()
	require.Equal(t, schemaToolResponse, resp.SchemaName)

	raw, ok := resp.Context.ToAny().(map[string]any)
	require.True(t, ok)
	require.Equal(t, "success", raw["status"])
	require.Equal(t, "r1", raw["requestId"])
	require.Equal(t, "agent-1", raw["requestedBy"])

	output, ok := raw["output"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hi", output["message"])
}

func TestUnknownToolProducesNotFoundResponse(t *testing.T) {
	bus := newFakeBus()
	registry := NewRegistry()
	r := newTestRunner(bus, registry)

	publishRequest(t, bus, "nope", "r2", map[string]any{}, "agent-1")
	r.handleRequest(context.Background(), bus.lastCreated().ID)

	resp := bus.lastCreated()
	raw, _ := resp.Context.ToAny().(map[string]any)
	require.Equal(t, "error", raw["status"])
	require.Equal(t, "r2", raw["requestId"])

	errField, ok := raw["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "not_found", errField["kind"])
}

func TestMissingRequestIDIsRejectedAsValidation(t *testing.T) {
	bus := newFakeBus()
	registry := NewRegistry()
	registry.Register(stubEchoTool{})
	r := newTestRunner(bus, registry)

	publishRequest(t, bus, "echo", "", map[string]any{"message": "hi"}, "agent-1")
	r.handleRequest(context.Background(), bus.lastCreated().ID)

	resp := bus.lastCreated()
	raw, _ := resp.Context.ToAny().(map[string]any)
	require.Equal(t, "error", raw["status"])
	errField, ok := raw["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "validation", errField["kind"])
}

func TestDedupSkipsSecondRequestWithSameRequestID(t *testing.T) {
	bus := newFakeBus()
	registry := NewRegistry()
	registry.Register(stubEchoTool{})

	journal := newTestJournal(t)
	r := New(bus, registry, nil, journal, Config{Workspace: "tools", AgentID: "agent-1"})

	publishRequest(t, bus, "echo", "r3", map[string]any{"message": "hi"}, "agent-1")
	id := bus.lastCreated().ID

	r.handleRequest(context.Background(), id)
	firstCount := len(bus.created)

	r.handleRequest(context.Background(), id) // simulate a replayed SSE event
	require.Equal(t, firstCount, len(bus.created), "no duplicate response should be published")
}

func TestToolTimeoutProducesTimeoutResponse(t *testing.T) {
	bus := newFakeBus()
	registry := NewRegistry()
	registry.Register(slowTool{delay: 50 * time.Millisecond})
	r := New(bus, registry, nil, nil, Config{Workspace: "tools", AgentID: "agent-1", ToolTimeout: 5 * time.Millisecond})

	publishRequest(t, bus, "slow", "r4", map[string]any{}, "agent-1")
	r.handleRequest(context.Background(), bus.lastCreated().ID)

	resp := bus.lastCreated()
	raw, _ := resp.Context.ToAny().(map[string]any)
	require.Equal(t, "error", raw["status"])
}

func TestToolInputFailingSchemaIsRejectedAsValidation(t *testing.T) {
	bus := newFakeBus()
	registry := NewRegistry()
	registry.Register(stubEchoTool{})
	r := newTestRunner(bus, registry)

	publishRequest(t, bus, "echo", "r5", map[string]any{}, "agent-1")
	r.handleRequest(context.Background(), bus.lastCreated().ID)

	resp := bus.lastCreated()
	raw, _ := resp.Context.ToAny().(map[string]any)
	require.Equal(t, "error", raw["status"])
	errField, ok := raw["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "validation", errField["kind"])
}

type stubEchoTool struct{}

func (stubEchoTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        "echo",
		Description: "echo",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string"}},
			"required": ["message"]
		}`),
	}
}

func (stubEchoTool) Execute(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"message": in.Message})
}

type slowTool struct {
	delay time.Duration
}

func (slowTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{Name: "slow", Description: "slow"}
}

func (s slowTool) Execute(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	select {
	case <-time.After(s.delay):
		return json.RawMessage(`{}`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
