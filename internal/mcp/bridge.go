package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/Leavesfly/TinyClaw-sub001/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the registry's Tool contract.
// It registers as mcp_<server>_<tool> so model-facing names never collide
// with built-ins.
type BridgeTool struct {
	server    string
	tool      mcpgo.Tool
	client    *mcpclient.Client
	timeout   time.Duration
	connected *atomic.Bool
}

func newBridgeTool(server string, tool mcpgo.Tool, client *mcpclient.Client, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{
		server:    server,
		tool:      tool,
		client:    client,
		timeout:   time.Duration(timeoutSec) * time.Second,
		connected: connected,
	}
}

func (t *BridgeTool) Name() string {
	return "mcp_" + sanitizeName(t.server) + "_" + sanitizeName(t.tool.Name)
}

// OriginalName is the tool's name on its own server.
func (t *BridgeTool) OriginalName() string { return t.tool.Name }

func (t *BridgeTool) Description() string {
	desc := t.tool.Description
	if desc == "" {
		desc = "Tool provided by the " + t.server + " MCP server."
	}
	return fmt.Sprintf("[%s] %s", t.server, desc)
}

func (t *BridgeTool) Parameters() map[string]interface{} {
	params := map[string]interface{}{"type": "object"}
	if t.tool.InputSchema.Type != "" {
		params["type"] = t.tool.InputSchema.Type
	}
	if len(t.tool.InputSchema.Properties) > 0 {
		params["properties"] = t.tool.InputSchema.Properties
	} else {
		params["properties"] = map[string]interface{}{}
	}
	if len(t.tool.InputSchema.Required) > 0 {
		params["required"] = t.tool.InputSchema.Required
	}
	return params
}

func (t *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !t.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %s is not connected", t.server))
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.tool.Name
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("call %s on %s: %v", t.tool.Name, t.server, err))
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return tools.ErrorResult(text)
	}
	if text == "" {
		text = "(no output)"
	}
	return tools.NewResult(text)
}

// flattenContent joins text parts. Non-text parts are summarized so the
// model at least knows they were there.
func flattenContent(contents []mcpgo.Content) string {
	var parts []string
	for _, content := range contents {
		switch c := content.(type) {
		case mcpgo.TextContent:
			parts = append(parts, c.Text)
		case mcpgo.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes base64]", c.MIMEType, len(c.Data)))
		case mcpgo.EmbeddedResource:
			if data, err := json.Marshal(c.Resource); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName maps a server or tool name onto the [a-zA-Z0-9_-] set that
// model-facing tool names allow.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
