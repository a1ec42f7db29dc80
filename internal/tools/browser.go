package tools

import (
	"context"
	"fmt"

	"github.com/Leavesfly/TinyClaw-sub001/pkg/browser"
)

// BrowserTool exposes the shared headless browser to the agent. One page is
// reused across calls, so goto followed by text or screenshot operates on
// the same document.
type BrowserTool struct {
	browser *browser.Browser
}

func NewBrowserTool(b *browser.Browser) *BrowserTool {
	return &BrowserTool{browser: b}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Control a headless browser: open a page (goto), read its visible text (text), or capture a screenshot (screenshot). The page persists between calls."
}

func (t *BrowserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"goto", "text", "screenshot"},
				"description": "Browser operation to perform",
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to open (goto only)",
			},
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector to scope text extraction (text only, optional)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)

	switch action {
	case "goto":
		url, _ := args["url"].(string)
		if url == "" {
			return ErrorResult("url is required for goto")
		}
		title, err := t.browser.Goto(ctx, url)
		if err != nil {
			return ErrorResult(truncateStr(err.Error(), defaultErrorMaxChars))
		}
		if title == "" {
			return NewResult(fmt.Sprintf("Opened %s", url))
		}
		return NewResult(fmt.Sprintf("Opened %s (title: %s)", url, title))

	case "text":
		selector, _ := args["selector"].(string)
		text, err := t.browser.Text(ctx, selector)
		if err != nil {
			return ErrorResult(truncateStr(err.Error(), defaultErrorMaxChars))
		}
		if text == "" {
			return NewResult("(page has no visible text)")
		}
		return NewResult(truncateStr(text, defaultFetchMaxChars))

	case "screenshot":
		path, err := t.browser.Screenshot(ctx)
		if err != nil {
			return ErrorResult(truncateStr(err.Error(), defaultErrorMaxChars))
		}
		return NewResult(fmt.Sprintf("Screenshot saved: %s", path))

	default:
		return ErrorResult(fmt.Sprintf("unknown action: %q (want goto, text or screenshot)", action))
	}
}

var _ Tool = (*BrowserTool)(nil)
