package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Leavesfly/TinyClaw-sub001/internal/security"
)

func newTestGuard(t *testing.T) *security.Guard {
	t.Helper()
	guard, err := security.NewGuard(security.Policy{
		WorkspaceRoot:       t.TempDir(),
		RestrictToWorkspace: true,
	})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return guard
}

func TestWriteThenReadFile(t *testing.T) {
	guard := newTestGuard(t)
	write := NewWriteFileTool(guard)
	read := NewReadFileTool(guard)

	res := write.Execute(context.Background(), map[string]interface{}{
		"path":    "notes/todo.txt",
		"content": "buy milk",
	})
	if res.IsError {
		t.Fatalf("write failed: %s", res.ForLLM)
	}
	if res.ForLLM != "wrote 8 bytes to notes/todo.txt" {
		t.Fatalf("write output: %q", res.ForLLM)
	}
	if !res.Silent {
		t.Fatal("write result should be silent")
	}

	res = read.Execute(context.Background(), map[string]interface{}{"path": "notes/todo.txt"})
	if res.IsError {
		t.Fatalf("read failed: %s", res.ForLLM)
	}
	if res.ForLLM != "buy milk" {
		t.Fatalf("read content: %q", res.ForLLM)
	}
}

func TestReadFileMissing(t *testing.T) {
	read := NewReadFileTool(newTestGuard(t))
	res := read.Execute(context.Background(), map[string]interface{}{"path": "nope.txt"})
	if !res.IsError || !strings.Contains(res.ForLLM, "failed to read file") {
		t.Fatalf("result: %+v", res)
	}
}

func TestFilesystemToolsRequirePath(t *testing.T) {
	guard := newTestGuard(t)
	for _, tool := range []Tool{
		NewReadFileTool(guard),
		NewWriteFileTool(guard),
		NewAppendFileTool(guard),
		NewEditFileTool(guard),
	} {
		res := tool.Execute(context.Background(), map[string]interface{}{})
		if !res.IsError || res.ForLLM != "path is required" {
			t.Fatalf("%s: %+v", tool.Name(), res)
		}
	}
}

func TestFilesystemToolsDenyEscape(t *testing.T) {
	guard := newTestGuard(t)
	args := map[string]interface{}{
		"path":    "../escape.txt",
		"content": "x",
		"find":    "a",
		"replace": "b",
	}
	for _, tool := range []Tool{
		NewReadFileTool(guard),
		NewWriteFileTool(guard),
		NewAppendFileTool(guard),
		NewEditFileTool(guard),
		NewListDirTool(guard),
	} {
		res := tool.Execute(context.Background(), args)
		if !res.IsError {
			t.Fatalf("%s accepted a path outside the workspace", tool.Name())
		}
		if !strings.HasPrefix(res.ForLLM, "Access denied") {
			t.Fatalf("%s denial message: %q", tool.Name(), res.ForLLM)
		}
	}
}

func TestAppendFileCreatesAndAppends(t *testing.T) {
	guard := newTestGuard(t)
	tool := NewAppendFileTool(guard)

	res := tool.Execute(context.Background(), map[string]interface{}{"path": "log.txt", "content": "hello"})
	if res.IsError || res.ForLLM != "appended 5 bytes to log.txt" {
		t.Fatalf("first append: %+v", res)
	}
	res = tool.Execute(context.Background(), map[string]interface{}{"path": "log.txt", "content": " world"})
	if res.IsError {
		t.Fatalf("second append: %s", res.ForLLM)
	}

	data, err := os.ReadFile(filepath.Join(guard.Workspace(), "log.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("file content: %q", data)
	}
}

func TestEditFileUniqueMatch(t *testing.T) {
	guard := newTestGuard(t)
	path := filepath.Join(guard.Workspace(), "f.txt")
	if err := os.WriteFile(path, []byte("alpha beta alpha"), 0644); err != nil {
		t.Fatal(err)
	}
	tool := NewEditFileTool(guard)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"path": "f.txt", "find": "beta", "replace": "gamma",
	})
	if res.IsError || res.ForLLM != "replaced 1 occurrence(s) in f.txt" {
		t.Fatalf("edit: %+v", res)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alpha gamma alpha" {
		t.Fatalf("file content: %q", data)
	}
}

func TestEditFileAmbiguousRequiresAll(t *testing.T) {
	guard := newTestGuard(t)
	path := filepath.Join(guard.Workspace(), "f.txt")
	if err := os.WriteFile(path, []byte("alpha beta alpha"), 0644); err != nil {
		t.Fatal(err)
	}
	tool := NewEditFileTool(guard)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"path": "f.txt", "find": "alpha", "replace": "omega",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "occurs 2 times") || !strings.Contains(res.ForLLM, "pass all=true") {
		t.Fatalf("ambiguous edit: %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"path": "f.txt", "find": "alpha", "replace": "omega", "all": true,
	})
	if res.IsError || res.ForLLM != "replaced 2 occurrence(s) in f.txt" {
		t.Fatalf("edit all: %+v", res)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "alpha") {
		t.Fatalf("file content: %q", data)
	}
}

func TestEditFileNotFound(t *testing.T) {
	guard := newTestGuard(t)
	if err := os.WriteFile(filepath.Join(guard.Workspace(), "f.txt"), []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	tool := NewEditFileTool(guard)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"path": "f.txt", "find": "missing", "replace": "x",
	})
	if !res.IsError || res.ForLLM != "text not found in f.txt" {
		t.Fatalf("edit: %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"path": "f.txt", "find": "", "replace": "x",
	})
	if !res.IsError || res.ForLLM != "find is required" {
		t.Fatalf("empty find: %+v", res)
	}
}

func TestListDirSortedWithDirSuffix(t *testing.T) {
	guard := newTestGuard(t)
	ws := guard.Workspace()
	if err := os.WriteFile(filepath.Join(ws, "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(ws, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	tool := NewListDirTool(guard)

	res := tool.Execute(context.Background(), map[string]interface{}{})
	if res.IsError {
		t.Fatalf("list: %s", res.ForLLM)
	}
	if res.ForLLM != "a.txt\nb.txt\nsub/" {
		t.Fatalf("listing: %q", res.ForLLM)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"path": "sub"})
	if res.IsError || res.ForLLM != "(empty directory)" {
		t.Fatalf("empty dir: %+v", res)
	}
}
