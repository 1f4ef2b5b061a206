package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// FileWriteTool writes content to a file scoped to a workspace root,
// adapted from the teacher's internal/tools/files.WriteTool.
type FileWriteTool struct {
	root string
}

// NewFileWriteTool constructs a FileWriteTool rooted at root.
func NewFileWriteTool(root string) *FileWriteTool {
	return &FileWriteTool{root: root}
}

func (t *FileWriteTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "file.write",
		Description: "Write content to a file in the workspace, overwriting by default.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"},
				"append": {"type": "boolean"}
			},
			"required": ["path", "content"]
		}`),
	}
}

func (t *FileWriteTool) Execute(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "file.write", err)
	}
	if strings.TrimSpace(in.Path) == "" {
		return nil, rerrors.New(rerrors.KindValidation, "file.write", fmt.Errorf("path is required"))
	}

	resolved, err := resolveWorkspacePath(t.root, in.Path)
	if err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "file.write", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, rerrors.New(rerrors.KindExecutorFault, "file.write", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return nil, rerrors.New(rerrors.KindExecutorFault, "file.write", err)
	}
	defer file.Close()

	n, err := file.WriteString(in.Content)
	if err != nil {
		return nil, rerrors.New(rerrors.KindExecutorFault, "file.write", err)
	}

	return json.Marshal(map[string]any{
		"path":          in.Path,
		"bytes_written": n,
		"append":        in.Append,
	})
}
