package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// FileReadTool reads a file scoped to a workspace root, adapted from the
// teacher's internal/tools/files.ReadTool + Resolver path-escape guard.
type FileReadTool struct {
	root         string
	maxReadBytes int
}

// NewFileReadTool constructs a FileReadTool rooted at root.
func NewFileReadTool(root string, maxReadBytes int) *FileReadTool {
	if maxReadBytes <= 0 {
		maxReadBytes = 200_000
	}
	return &FileReadTool{root: root, maxReadBytes: maxReadBytes}
}

func (t *FileReadTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "file.read",
		Description: "Read a file from the workspace with an optional offset and byte limit.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"offset": {"type": "integer", "minimum": 0},
				"max_bytes": {"type": "integer", "minimum": 0}
			},
			"required": ["path"]
		}`),
	}
}

func (t *FileReadTool) Execute(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Path     string `json:"path"`
		Offset   int64  `json:"offset"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "file.read", err)
	}
	if strings.TrimSpace(in.Path) == "" {
		return nil, rerrors.New(rerrors.KindValidation, "file.read", fmt.Errorf("path is required"))
	}
	if in.Offset < 0 {
		return nil, rerrors.New(rerrors.KindValidation, "file.read", fmt.Errorf("offset must be >= 0"))
	}

	resolved, err := resolveWorkspacePath(t.root, in.Path)
	if err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "file.read", err)
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, rerrors.New(rerrors.KindNotFound, "file.read", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, rerrors.New(rerrors.KindExecutorFault, "file.read", err)
	}
	if in.Offset > 0 {
		if _, err := file.Seek(in.Offset, io.SeekStart); err != nil {
			return nil, rerrors.New(rerrors.KindExecutorFault, "file.read", err)
		}
	}

	limit := t.maxReadBytes
	if in.MaxBytes > 0 && in.MaxBytes < limit {
		limit = in.MaxBytes
	}

	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - in.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return nil, rerrors.New(rerrors.KindExecutorFault, "file.read", err)
	}

	truncated := info.Size() > 0 && in.Offset+int64(len(buf)) < info.Size()

	return json.Marshal(map[string]any{
		"path":      in.Path,
		"content":   string(buf),
		"offset":    in.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	})
}
