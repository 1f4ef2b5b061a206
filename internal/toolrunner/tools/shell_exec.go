package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// ShellExecTool runs a shell command in the workspace, adapted from the
// teacher's internal/tools/exec.ExecTool with background-process support
// dropped (the bus's at-most-once model has no analog for a long-lived
// process handle).
type ShellExecTool struct {
	workDir        string
	defaultTimeout time.Duration
}

// NewShellExecTool constructs a ShellExecTool rooted at workDir.
func NewShellExecTool(workDir string, defaultTimeout time.Duration) *ShellExecTool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &ShellExecTool{workDir: workDir, defaultTimeout: defaultTimeout}
}

func (t *ShellExecTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "shell.exec",
		Description: "Run a shell command in the workspace and return its output.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to execute."},
				"cwd": {"type": "string", "description": "Working directory relative to workspace root."},
				"timeout_seconds": {"type": "integer", "minimum": 0}
			},
			"required": ["command"]
		}`),
	}
}

func (t *ShellExecTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "shell.exec", err)
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return nil, rerrors.New(rerrors.KindValidation, "shell.exec", fmt.Errorf("command is required"))
	}

	timeout := t.defaultTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.workDir
	if in.Cwd != "" {
		dir, err := resolveWorkspacePath(t.workDir, in.Cwd)
		if err != nil {
			return nil, rerrors.New(rerrors.KindValidation, "shell.exec", err)
		}
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if runCtx.Err() != nil {
			return nil, rerrors.New(rerrors.KindTimeout, "shell.exec", fmt.Errorf("command exceeded %s", timeout))
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, rerrors.New(rerrors.KindExecutorFault, "shell.exec", runErr)
		}
	}

	return json.Marshal(map[string]any{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	})
}
