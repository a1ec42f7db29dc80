package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestExecTool(t *testing.T) *ExecTool {
	t.Helper()
	return NewExecTool(newTestGuard(t), 5*time.Second)
}

func TestExecEcho(t *testing.T) {
	tool := newTestExecTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})
	if res.IsError {
		t.Fatalf("exec failed: %s", res.ForLLM)
	}
	if !strings.HasPrefix(res.ForLLM, "hello") || !strings.HasSuffix(res.ForLLM, "[exit code: 0]") {
		t.Fatalf("output: %q", res.ForLLM)
	}
	if !res.Silent {
		t.Fatal("successful exec should be silent")
	}
}

func TestExecRequiresCommand(t *testing.T) {
	tool := newTestExecTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError || res.ForLLM != "command is required" {
		t.Fatalf("result: %+v", res)
	}
}

func TestExecNonZeroExit(t *testing.T) {
	tool := newTestExecTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo broken; exit 3"})
	if !res.IsError {
		t.Fatal("non-zero exit should be an error result")
	}
	if !strings.Contains(res.ForLLM, "broken") || !strings.HasSuffix(res.ForLLM, "[exit code: 3]") {
		t.Fatalf("output: %q", res.ForLLM)
	}
}

func TestExecNoOutput(t *testing.T) {
	tool := newTestExecTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "true"})
	if res.IsError {
		t.Fatalf("exec failed: %s", res.ForLLM)
	}
	if res.ForLLM != "(command completed with no output)\n[exit code: 0]" {
		t.Fatalf("output: %q", res.ForLLM)
	}
}

func TestExecStderrSection(t *testing.T) {
	tool := newTestExecTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo out; echo oops 1>&2"})
	if res.IsError {
		t.Fatalf("exec failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "out\nSTDERR:\noops") {
		t.Fatalf("output: %q", res.ForLLM)
	}
}

func TestExecTimeout(t *testing.T) {
	tool := newTestExecTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command":   "sleep 5",
		"timeoutMs": float64(100),
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "command timed out after") {
		t.Fatalf("result: %+v", res)
	}
}

func TestExecDeniedCommand(t *testing.T) {
	tool := newTestExecTool(t)
	for _, cmd := range []string{"sudo whoami", "rm -rf /tmp/x", "shutdown now"} {
		res := tool.Execute(context.Background(), map[string]interface{}{"command": cmd})
		if !res.IsError || !strings.HasPrefix(res.ForLLM, "Access denied") {
			t.Fatalf("%q: %+v", cmd, res)
		}
	}
}

func TestExecWorkingDir(t *testing.T) {
	guard := newTestGuard(t)
	if err := os.Mkdir(filepath.Join(guard.Workspace(), "inner"), 0755); err != nil {
		t.Fatal(err)
	}
	tool := NewExecTool(guard, 5*time.Second)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"command":    "pwd",
		"workingDir": "inner",
	})
	if res.IsError {
		t.Fatalf("exec failed: %s", res.ForLLM)
	}
	lines := strings.Split(res.ForLLM, "\n")
	if !strings.HasSuffix(lines[0], "/inner") {
		t.Fatalf("pwd output: %q", lines[0])
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"command":    "pwd",
		"workingDir": "../outside",
	})
	if !res.IsError || !strings.HasPrefix(res.ForLLM, "Access denied") {
		t.Fatalf("escape result: %+v", res)
	}
}
