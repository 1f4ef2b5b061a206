package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// FileEditTool applies find/replace edits to a file scoped to a workspace
// root, adapted from the teacher's internal/tools/files.EditTool.
type FileEditTool struct {
	root string
}

// NewFileEditTool constructs a FileEditTool rooted at root.
func NewFileEditTool(root string) *FileEditTool {
	return &FileEditTool{root: root}
}

func (t *FileEditTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "file.edit",
		Description: "Apply one or more find/replace edits to a file in the workspace.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"edits": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"old_text": {"type": "string"},
							"new_text": {"type": "string"},
							"replace_all": {"type": "boolean"}
						},
						"required": ["old_text", "new_text"]
					}
				}
			},
			"required": ["path", "edits"]
		}`),
	}
}

func (t *FileEditTool) Execute(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "file.edit", err)
	}
	if strings.TrimSpace(in.Path) == "" {
		return nil, rerrors.New(rerrors.KindValidation, "file.edit", fmt.Errorf("path is required"))
	}
	if len(in.Edits) == 0 {
		return nil, rerrors.New(rerrors.KindValidation, "file.edit", fmt.Errorf("edits are required"))
	}

	resolved, err := resolveWorkspacePath(t.root, in.Path)
	if err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "file.edit", err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, rerrors.New(rerrors.KindNotFound, "file.edit", err)
	}

	content := string(data)
	replacements := 0
	for _, edit := range in.Edits {
		if edit.OldText == "" {
			return nil, rerrors.New(rerrors.KindValidation, "file.edit", fmt.Errorf("old_text is required"))
		}
		if !strings.Contains(content, edit.OldText) {
			return nil, rerrors.New(rerrors.KindValidation, "file.edit", fmt.Errorf("old_text not found"))
		}
		if edit.ReplaceAll {
			count := strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
			replacements += count
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, rerrors.New(rerrors.KindExecutorFault, "file.edit", err)
	}

	return json.Marshal(map[string]any{
		"path":         in.Path,
		"replacements": replacements,
	})
}
