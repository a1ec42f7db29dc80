package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
)

// History payloads are bounded so one verbose conversation cannot eat the
// calling session's context window.
const (
	historyMaxCharsPerMessage = 4000
	historyMaxTotalBytes      = 80 * 1024
)

// SessionsListTool lists the conversations this agent holds, newest first.
type SessionsListTool struct {
	sessions *sessions.Manager
}

func NewSessionsListTool(m *sessions.Manager) *SessionsListTool {
	return &SessionsListTool{sessions: m}
}

func (t *SessionsListTool) Name() string { return "sessions_list" }
func (t *SessionsListTool) Description() string {
	return "List conversation sessions with message counts and last activity"
}

func (t *SessionsListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max sessions to return (default 20)",
			},
			"active_minutes": map[string]interface{}{
				"type":        "number",
				"description": "Only sessions active in the last N minutes",
			},
		},
	}
}

func (t *SessionsListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session manager not available")
	}

	limit := 20
	if v, ok := floatArg(args, "limit"); ok && int(v) > 0 {
		limit = int(v)
	}

	infos := t.sessions.List()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Updated.After(infos[j].Updated) })

	if v, ok := floatArg(args, "active_minutes"); ok && int(v) > 0 {
		cutoff := time.Now().Add(-time.Duration(int(v)) * time.Minute)
		filtered := infos[:0]
		for _, s := range infos {
			if s.Updated.After(cutoff) {
				filtered = append(filtered, s)
			}
		}
		infos = filtered
	}
	if len(infos) > limit {
		infos = infos[:limit]
	}

	type sessionEntry struct {
		Key          string `json:"key"`
		MessageCount int    `json:"message_count"`
		Updated      string `json:"updated"`
	}
	entries := make([]sessionEntry, 0, len(infos))
	for _, s := range infos {
		entries = append(entries, sessionEntry{
			Key:          s.Key,
			MessageCount: s.MessageCount,
			Updated:      s.Updated.Format(time.RFC3339),
		})
	}

	out, _ := json.Marshal(map[string]interface{}{
		"count":    len(entries),
		"sessions": entries,
	})
	return SilentResult(string(out))
}

// SessionsHistoryTool fetches message history from another conversation.
type SessionsHistoryTool struct {
	sessions *sessions.Manager
}

func NewSessionsHistoryTool(m *sessions.Manager) *SessionsHistoryTool {
	return &SessionsHistoryTool{sessions: m}
}

func (t *SessionsHistoryTool) Name() string { return "sessions_history" }
func (t *SessionsHistoryTool) Description() string {
	return "Fetch message history for a session"
}

func (t *SessionsHistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_key": map[string]interface{}{
				"type":        "string",
				"description": "Session key to fetch history from (see sessions_list)",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Max messages to return (default 20)",
			},
			"include_tools": map[string]interface{}{
				"type":        "boolean",
				"description": "Include tool call/result messages (default false)",
			},
		},
		"required": []string{"session_key"},
	}
}

func (t *SessionsHistoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session manager not available")
	}

	sessionKey, _ := args["session_key"].(string)
	if sessionKey == "" {
		return ErrorResult("session_key is required")
	}

	limit := 20
	if v, ok := floatArg(args, "limit"); ok && int(v) > 0 {
		limit = int(v)
	}
	includeTools, _ := args["include_tools"].(bool)

	history := t.sessions.History(sessionKey)

	type msgEntry struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	var entries []msgEntry
	for _, m := range history {
		if !includeTools && m.Role == "tool" {
			continue
		}
		// Assistant messages that are only tool calls carry no text worth
		// relaying.
		if !includeTools && m.Role == "assistant" && len(m.ToolCalls) > 0 && strings.TrimSpace(m.Content) == "" {
			continue
		}

		content := m.Content
		if utf8.RuneCountInString(content) > historyMaxCharsPerMessage {
			runes := []rune(content)
			content = string(runes[:historyMaxCharsPerMessage]) + "... [truncated]"
		}
		entries = append(entries, msgEntry{Role: m.Role, Content: content})
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out, _ := json.Marshal(map[string]interface{}{
		"session_key": sessionKey,
		"messages":    entries,
		"count":       len(entries),
	})
	if len(out) > historyMaxTotalBytes {
		return SilentResult(fmt.Sprintf(
			`{"session_key":%q,"error":"history too large (%d bytes), use a smaller limit","count":%d}`,
			sessionKey, len(out), len(entries),
		))
	}
	return SilentResult(string(out))
}

// SessionsSendTool feeds a message into another conversation through the
// inbound queue, exactly as if it had arrived from that session's channel.
// The reply, if any, is delivered to the target conversation, not here.
type SessionsSendTool struct {
	sessions *sessions.Manager
	msgBus   *bus.MessageBus
}

func NewSessionsSendTool(m *sessions.Manager, b *bus.MessageBus) *SessionsSendTool {
	return &SessionsSendTool{sessions: m, msgBus: b}
}

func (t *SessionsSendTool) Name() string { return "sessions_send" }
func (t *SessionsSendTool) Description() string {
	return "Send a message into another session; the reply goes to that session's channel"
}

func (t *SessionsSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_key": map[string]interface{}{
				"type":        "string",
				"description": "Target session key (see sessions_list)",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message to send",
			},
		},
		"required": []string{"session_key", "message"},
	}
}

func (t *SessionsSendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.sessions == nil {
		return ErrorResult("session manager not available")
	}
	if t.msgBus == nil {
		return ErrorResult("message bus not available")
	}

	sessionKey, _ := args["session_key"].(string)
	message, _ := args["message"].(string)
	if sessionKey == "" {
		return ErrorResult("session_key is required")
	}
	if message == "" {
		return ErrorResult("message is required")
	}
	if sessionKey == ToolSessionKeyFromCtx(ctx) {
		return ErrorResult("target is the current session; just reply here instead")
	}

	known := false
	for _, k := range t.sessions.Keys() {
		if k == sessionKey {
			known = true
			break
		}
	}
	if !known {
		return ErrorResult(fmt.Sprintf("unknown session: %s (use sessions_list)", sessionKey))
	}

	// The key's channel segment routes the target turn's reply back to the
	// conversation it belongs to; the dispatch worker drops non-transport
	// prefixes like cron: or spawn:.
	channel, chatID, _ := strings.Cut(sessionKey, ":")
	if !t.msgBus.PublishInbound(bus.InboundMessage{
		Channel:    "system",
		SenderID:   "sessions_send",
		ChatID:     chatID,
		Content:    message,
		SessionKey: sessionKey,
		Metadata: map[string]string{
			"origin_channel": channel,
			"from_session":   ToolSessionKeyFromCtx(ctx),
		},
	}) {
		return ErrorResult("inbound queue full, try again shortly")
	}

	return SilentResult(fmt.Sprintf(`{"status":"queued","session_key":%q}`, sessionKey))
}

var _ Tool = (*SessionsListTool)(nil)
var _ Tool = (*SessionsHistoryTool)(nil)
var _ Tool = (*SessionsSendTool)(nil)
