package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type fakeToolCaller struct {
	serverID string
	toolName string
	args     map[string]any
	result   *ToolCallResult
	err      error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	f.serverID = serverID
	f.toolName = toolName
	f.args = arguments
	return f.result, f.err
}

func TestSafeToolNameSanitizes(t *testing.T) {
	used := make(map[string]struct{})
	name := safeToolName("git-hub", "search/repo", used)
	if name != "mcp_git_hub_search_repo" {
		t.Fatalf("expected sanitized name, got %q", name)
	}
}

func TestSafeToolNameDeduplicates(t *testing.T) {
	used := make(map[string]struct{})
	first := safeToolName("foo-bar", "baz", used)
	second := safeToolName("foo_bar", "baz", used)

	if first == second {
		t.Fatalf("expected unique name for duplicate tool, got %q", second)
	}
	if !strings.HasPrefix(second, first+"_") {
		t.Fatalf("expected duplicate name to include hash suffix, got %q", second)
	}
}

func TestSafeToolNameTruncates(t *testing.T) {
	used := make(map[string]struct{})
	serverID := strings.Repeat("server", 10)
	toolName := strings.Repeat("tool", 10)
	name := safeToolName(serverID, toolName, used)

	if len(name) > maxToolNameLen {
		t.Fatalf("expected name length <= %d, got %d (%q)", maxToolNameLen, len(name), name)
	}
	if !strings.HasSuffix(name, toolNameHash(serverID, toolName)) {
		t.Fatalf("expected truncated name to include hash suffix, got %q", name)
	}
}

func TestMCPToolBridgeDescriptor(t *testing.T) {
	tool := &MCPTool{
		Name:        "do_thing",
		Description: "Does the thing",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"value":{"type":"string"}}}`),
	}
	bridge := NewToolBridge(&fakeToolCaller{}, "server", tool, "mcp_server_do_thing")

	desc := bridge.Descriptor()
	if desc.Name != "mcp_server_do_thing" {
		t.Fatalf("expected name %q, got %q", "mcp_server_do_thing", desc.Name)
	}
	if !strings.Contains(desc.Description, "Does the thing") || !strings.Contains(desc.Description, "mcp:server.do_thing") {
		t.Fatalf("expected description to carry tool doc and canonical name, got %q", desc.Description)
	}
}

func TestMCPToolBridgeExecute(t *testing.T) {
	caller := &fakeToolCaller{
		result: &ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: "ok"}},
		},
	}
	tool := &MCPTool{
		Name:        "do_thing",
		Description: "Does the thing",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"value":{"type":"string"}}}`),
	}
	bridge := NewToolBridge(caller, "server", tool, "mcp_server_do_thing")

	raw, err := bridge.Execute(context.Background(), json.RawMessage(`{"value":"hi"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("expected valid json output, got error %v (%s)", err, raw)
	}
	if out.Content != "ok" {
		t.Fatalf("expected content %q, got %q", "ok", out.Content)
	}
	if caller.serverID != "server" || caller.toolName != "do_thing" {
		t.Fatalf("expected call server/tool %q/%q, got %q/%q", "server", "do_thing", caller.serverID, caller.toolName)
	}
	if caller.args["value"] != "hi" {
		t.Fatalf("expected arg value %q, got %v", "hi", caller.args["value"])
	}
}

func TestMCPToolBridgeExecuteErrorResult(t *testing.T) {
	caller := &fakeToolCaller{
		result: &ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: "boom"}},
			IsError: true,
		},
	}
	tool := &MCPTool{Name: "do_thing"}
	bridge := NewToolBridge(caller, "server", tool, "mcp_server_do_thing")

	_, err := bridge.Execute(context.Background(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected error result to surface as a Go error")
	}
}
