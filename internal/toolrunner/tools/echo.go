// Package tools holds the built-in toolrunner.Tool implementations bundled
// with the binary: echo, shell.exec, process.run, file.read, file.write,
// file.edit, web.fetch, web.search.
package tools

import (
	"context"
	"encoding/json"

	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// EchoTool returns its input message verbatim, the seed scenario the spec
// uses for the basic round-trip test.
type EchoTool struct{}

// NewEchoTool constructs an EchoTool.
func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "echo",
		Description: "Echo the given message back unchanged.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string"}},
			"required": ["message"]
		}`),
	}
}

func (t *EchoTool) Execute(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"message": in.Message})
}
