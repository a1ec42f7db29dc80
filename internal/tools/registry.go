package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

// Tool is the contract every built-in and dynamically registered tool
// implements. Name must be stable and snake_case; Parameters returns an
// OpenAI-style JSON schema object.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ToolError classification kinds.
const (
	ErrUnknownTool = "unknown_tool"
	ErrRuntime     = "runtime"
)

// ToolError distinguishes registry-level failures from ordinary tool error
// results. A ToolError never crashes the agent loop; it is stringified into
// the tool-role message like any other result.
type ToolError struct {
	Kind    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Registry holds the available tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		slog.Warn("tools.replaced", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool, or nil if not registered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool and instruments the call with duration and
// result size. An unknown name or a panic inside the tool becomes an error
// Result carrying a ToolError; the loop keeps running either way.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (result *Result) {
	tool := r.Get(name)
	if tool == nil {
		terr := &ToolError{Kind: ErrUnknownTool, Message: fmt.Sprintf("unknown tool: %s", name)}
		return ErrorResult(terr.Message).WithError(terr)
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			terr := &ToolError{Kind: ErrRuntime, Message: fmt.Sprintf("tool %s panicked: %v", name, rec)}
			slog.Error("tools.panic", "tool", name, "panic", rec)
			result = ErrorResult(terr.Message).WithError(terr)
		}
		slog.Debug("tools.executed",
			"tool", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"result_bytes", len(result.ForLLM),
			"is_error", result.IsError)
	}()

	result = tool.Execute(ctx, args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("tool %s returned no result", name))
	}
	return result
}

// Definitions returns the OpenAI tool definitions for every registered
// tool, sorted by name so request bodies are stable.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Summaries returns one "- name: description" line per tool for the system
// prompt, sorted by name.
func (r *Registry) Summaries() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- %s: %s", name, r.tools[name].Description())
	}
	return sb.String()
}
