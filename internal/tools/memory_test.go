package tools

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/Leavesfly/TinyClaw-sub001/internal/memory"
)

func TestMemoryToolsOverRealIndex(t *testing.T) {
	store := memory.NewStore(t.TempDir())
	if err := os.MkdirAll(store.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "# Memory\n\n## Facts\nThe dog is called Biscuit.\n"
	if err := os.WriteFile(store.MemoryFile(), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := memory.OpenIndex(store)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	search := NewMemorySearchTool(idx)
	res := search.Execute(context.Background(), map[string]interface{}{"query": "Biscuit"})
	if res.IsError {
		t.Fatalf("search: %s", res.ForLLM)
	}
	if !strings.HasPrefix(res.ForLLM, "MEMORY.md > Facts: ") {
		t.Fatalf("hit format: %q", res.ForLLM)
	}

	res = search.Execute(context.Background(), map[string]interface{}{"query": "submarine"})
	if res.IsError || res.ForLLM != "No matches in memory." {
		t.Fatalf("no-match result: %+v", res)
	}

	if res := search.Execute(context.Background(), map[string]interface{}{"query": "  "}); !res.IsError {
		t.Fatal("blank query accepted")
	}

	get := NewMemoryGetTool(store)
	if res := get.Execute(context.Background(), nil); !strings.Contains(res.ForLLM, "Biscuit") {
		t.Fatalf("memory_get: %q", res.ForLLM)
	}
}

func TestMemoryGetToolEmpty(t *testing.T) {
	store := memory.NewStore(t.TempDir())
	tool := NewMemoryGetTool(store)
	res := tool.Execute(context.Background(), nil)
	if res.IsError || res.ForLLM != "(memory file is empty)" {
		t.Fatalf("result: %+v", res)
	}
}
