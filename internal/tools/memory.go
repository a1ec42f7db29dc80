package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Leavesfly/TinyClaw-sub001/internal/memory"
)

// MemorySearchTool queries the full-text index over the memory directory.
// It is only registered when the index opened successfully.
type MemorySearchTool struct {
	index *memory.Index
}

func NewMemorySearchTool(index *memory.Index) *MemorySearchTool {
	return &MemorySearchTool{index: index}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search long-term memory notes for relevant passages"
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Keywords to look for",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of passages to return (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}
	limit := 0
	if n, ok := floatArg(args, "limit"); ok {
		limit = int(n)
	}

	hits, err := t.index.Search(ctx, query, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search: %v", err))
	}
	if len(hits) == 0 {
		return NewResult("No matches in memory.")
	}

	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(h.File)
		if h.Heading != "" {
			sb.WriteString(" > ")
			sb.WriteString(h.Heading)
		}
		sb.WriteString(": ")
		sb.WriteString(h.Snippet)
		sb.WriteByte('\n')
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

// MemoryGetTool returns the raw long-term notes file.
type MemoryGetTool struct {
	store *memory.Store
}

func NewMemoryGetTool(store *memory.Store) *MemoryGetTool {
	return &MemoryGetTool{store: store}
}

func (t *MemoryGetTool) Name() string { return "memory_get" }
func (t *MemoryGetTool) Description() string {
	return "Read the full contents of the long-term memory file"
}

func (t *MemoryGetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *MemoryGetTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content := t.store.Context()
	if content == "" {
		return NewResult("(memory file is empty)")
	}
	return NewResult(content)
}

var _ Tool = (*MemorySearchTool)(nil)
var _ Tool = (*MemoryGetTool)(nil)
