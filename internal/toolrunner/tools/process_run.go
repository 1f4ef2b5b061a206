package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	rcexec "github.com/rcrt-dev/rcrt/internal/exec"
	"github.com/rcrt-dev/rcrt/internal/rerrors"
	"github.com/rcrt-dev/rcrt/internal/toolrunner"
)

// ProcessRunTool runs an executable directly with explicit argv, with no
// shell interpretation, adapted from the teacher's internal/exec argument
// and executable sanitizers. Unlike shell.exec (which intentionally hands
// its command to sh -c and so allows pipes and redirects), this tool
// rejects shell metacharacters and option injection outright, for callers
// that want a single external command with no shell surface at all.
type ProcessRunTool struct {
	workDir        string
	defaultTimeout time.Duration
}

// NewProcessRunTool constructs a ProcessRunTool rooted at workDir.
func NewProcessRunTool(workDir string, defaultTimeout time.Duration) *ProcessRunTool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &ProcessRunTool{workDir: workDir, defaultTimeout: defaultTimeout}
}

func (t *ProcessRunTool) Descriptor() toolrunner.ToolDescriptor {
	return toolrunner.ToolDescriptor{
		Name:        "process.run",
		Description: "Run an executable directly with explicit arguments (no shell interpretation).",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"executable": {"type": "string"},
				"args": {"type": "array", "items": {"type": "string"}},
				"cwd": {"type": "string"},
				"timeout_seconds": {"type": "integer", "minimum": 0}
			},
			"required": ["executable"]
		}`),
	}
}

func (t *ProcessRunTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Executable     string   `json:"executable"`
		Args           []string `json:"args"`
		Cwd            string   `json:"cwd"`
		TimeoutSeconds int      `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "process.run", err)
	}

	executable, err := rcexec.SanitizeExecutableValue(in.Executable)
	if err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "process.run", err)
	}
	args, err := rcexec.SanitizeArguments(in.Args)
	if err != nil {
		return nil, rerrors.New(rerrors.KindValidation, "process.run", err)
	}

	timeout := t.defaultTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, executable, args...)
	cmd.Dir = t.workDir
	if in.Cwd != "" {
		dir, err := resolveWorkspacePath(t.workDir, in.Cwd)
		if err != nil {
			return nil, rerrors.New(rerrors.KindValidation, "process.run", err)
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
			return nil, rerrors.New(rerrors.KindTimeout, "process.run", fmt.Errorf("command exceeded %s", timeout))
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, rerrors.New(rerrors.KindExecutorFault, "process.run", runErr)
		}
	}

	return json.Marshal(map[string]any{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	})
}
