package toolrunner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
}

func (s stubTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{Name: s.name, Description: "stub"}
}

func (s stubTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "echo"})

	tool, ok := r.Get("echo")
	require.True(t, ok)
	require.Equal(t, "echo", tool.Descriptor().Name)
	require.True(t, r.Active("echo"), "tools are active by default")
}

func TestRegistryMarkActivePreservedAcrossReregister(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "echo"})
	r.MarkActive("echo", false)

	r.Register(stubTool{name: "echo"}) // re-register, e.g. on restart
	require.False(t, r.Active("echo"), "active flag should survive re-registration")
}

func TestRegistryUnknownToolIsInactive(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Active("nope"))
	_, ok := r.Get("nope")
	require.False(t, ok)
}

func TestRegistryCatalogEntries(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "echo"})
	r.Register(stubTool{name: "shell.exec"})
	r.MarkActive("shell.exec", false)

	entries := r.CatalogEntries()
	byName := map[string]CatalogTool{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.True(t, byName["echo"].Active)
	require.False(t, byName["shell.exec"].Active)
}
