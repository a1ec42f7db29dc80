package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/security"
)

// readImageMaxBytes bounds what gets base64-inlined into a vision request.
const readImageMaxBytes = 10 << 20

var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ReadImageTool sends a workspace image to a vision-capable model. Channels
// download attachments under media/ and the conversation references them by
// path; this tool turns such a path into an inline image request.
type ReadImageTool struct {
	guard    *security.Guard
	registry *providers.Registry
	provider string
}

// NewReadImageTool builds the tool against the named provider, normally the
// agent's own backend. Vision capability is the operator's model choice.
func NewReadImageTool(guard *security.Guard, registry *providers.Registry, provider string) *ReadImageTool {
	return &ReadImageTool{guard: guard, registry: registry, provider: provider}
}

func (t *ReadImageTool) Name() string { return "read_image" }
func (t *ReadImageTool) Description() string {
	return "Analyze an image file with a vision model. Use this for [media attached] image paths."
}

func (t *ReadImageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the image file (png, jpeg, gif, webp)",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "What to look for, e.g. 'What text is in this image?' (default: describe it)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadImageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		prompt = "Describe this image in detail."
	}

	resolved, err := t.guard.CheckFilePath(path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	mime, ok := imageMimeTypes[strings.ToLower(filepath.Ext(resolved))]
	if !ok {
		return ErrorResult(fmt.Sprintf("unsupported image type %q (png, jpeg, gif, webp)", filepath.Ext(resolved)))
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("stat image: %v", err))
	}
	if info.Size() > readImageMaxBytes {
		return ErrorResult(fmt.Sprintf("image too large: %d bytes (max %d)", info.Size(), readImageMaxBytes))
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read image: %v", err))
	}

	provider, err := t.registry.Get(t.provider)
	if err != nil {
		return ErrorResult(fmt.Sprintf("vision provider unavailable: %v", err))
	}

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Model: provider.DefaultModel(),
		Messages: []providers.Message{{
			Role:    "user",
			Content: prompt,
			Images: []providers.ImageContent{{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		}},
		Options: map[string]interface{}{
			providers.OptMaxTokens:   1024,
			providers.OptTemperature: 0.3,
		},
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("vision request failed: %v", err))
	}
	return NewResult(resp.Content)
}

var _ Tool = (*ReadImageTool)(nil)
