package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/security"
)

const maxExecTimeout = 10 * time.Minute

// ExecTool executes shell commands inside the workspace. Every command goes
// through the security guard before spawning.
type ExecTool struct {
	guard   *security.Guard
	timeout time.Duration
}

func NewExecTool(guard *security.Guard, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{guard: guard, timeout: timeout}
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Execute a shell command and return its output" }
func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"workingDir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
			"timeoutMs": map[string]interface{}{
				"type":        "number",
				"description": "Optional timeout in milliseconds",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	if err := t.guard.CheckCommand(command); err != nil {
		return ErrorResult(err.Error())
	}

	cwd := t.guard.Workspace()
	if wd, _ := args["workingDir"].(string); wd != "" {
		resolved, err := t.guard.CheckWorkingDir(wd)
		if err != nil {
			return ErrorResult(err.Error())
		}
		cwd = resolved
	}

	timeout := t.timeout
	if ms, ok := args["timeoutMs"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxExecTimeout {
			timeout = maxExecTimeout
		}
	}

	// CommandContext kills the child when the deadline fires.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s", timeout))
	}

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return ErrorResult(fmt.Sprintf("failed to run command: %v", err))
		}
	}

	var result string
	if stdout.Len() > 0 {
		result = strings.TrimSpace(stdout.String())
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + strings.TrimSpace(stderr.String())
	}
	if result == "" {
		result = "(command completed with no output)"
	}
	result += fmt.Sprintf("\n[exit code: %d]", exitCode)

	if exitCode != 0 {
		return ErrorResult(result)
	}
	return SilentResult(result)
}

var _ Tool = (*ExecTool)(nil)
