package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
)

func newSessionsFixture(t *testing.T) *sessions.Manager {
	t.Helper()
	m := sessions.NewManager("")
	m.Append("telegram:1", providers.Message{Role: "user", Content: "hello"})
	m.Append("telegram:1", providers.Message{Role: "assistant", Content: "hi"})
	m.Append("discord:2", providers.Message{Role: "user", Content: "ping"})
	return m
}

func TestSessionsListTool(t *testing.T) {
	tool := NewSessionsListTool(newSessionsFixture(t))

	res := tool.Execute(context.Background(), map[string]interface{}{})
	if res.IsError {
		t.Fatalf("list: %s", res.ForLLM)
	}

	var out struct {
		Count    int `json:"count"`
		Sessions []struct {
			Key          string `json:"key"`
			MessageCount int    `json:"message_count"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(res.ForLLM), &out); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, res.ForLLM)
	}
	if out.Count != 2 {
		t.Fatalf("count = %d", out.Count)
	}
	counts := map[string]int{}
	for _, s := range out.Sessions {
		counts[s.Key] = s.MessageCount
	}
	if counts["telegram:1"] != 2 || counts["discord:2"] != 1 {
		t.Fatalf("sessions: %+v", out.Sessions)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"limit": float64(1)})
	if err := json.Unmarshal([]byte(res.ForLLM), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("limited count = %d", out.Count)
	}
}

func TestSessionsHistoryToolSkipsToolTraffic(t *testing.T) {
	m := sessions.NewManager("")
	m.Append("telegram:1", providers.Message{Role: "user", Content: "what time is it"})
	m.Append("telegram:1", providers.Message{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "c1", Name: "exec"}}})
	m.Append("telegram:1", providers.Message{Role: "tool", Content: "12:00", ToolCallID: "c1"})
	m.Append("telegram:1", providers.Message{Role: "assistant", Content: "it is noon"})
	tool := NewSessionsHistoryTool(m)

	res := tool.Execute(context.Background(), map[string]interface{}{"session_key": "telegram:1"})
	if res.IsError {
		t.Fatalf("history: %s", res.ForLLM)
	}
	var out struct {
		Count    int `json:"count"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(res.ForLLM), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 2 {
		t.Fatalf("count = %d, messages = %+v", out.Count, out.Messages)
	}
	if out.Messages[0].Role != "user" || out.Messages[1].Content != "it is noon" {
		t.Fatalf("messages: %+v", out.Messages)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"session_key": "telegram:1", "include_tools": true,
	})
	if err := json.Unmarshal([]byte(res.ForLLM), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 4 {
		t.Fatalf("include_tools count = %d", out.Count)
	}
}

func TestSessionsHistoryToolTruncatesLongMessages(t *testing.T) {
	m := sessions.NewManager("")
	m.Append("telegram:1", providers.Message{Role: "user", Content: strings.Repeat("x", historyMaxCharsPerMessage+50)})
	tool := NewSessionsHistoryTool(m)

	res := tool.Execute(context.Background(), map[string]interface{}{"session_key": "telegram:1"})
	var out struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(res.ForLLM), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Messages) != 1 || !strings.HasSuffix(out.Messages[0].Content, "... [truncated]") {
		t.Fatalf("messages: %+v", out.Messages)
	}
}

func TestSessionsHistoryToolRequiresKey(t *testing.T) {
	tool := NewSessionsHistoryTool(sessions.NewManager(""))
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError || res.ForLLM != "session_key is required" {
		t.Fatalf("result: %+v", res)
	}
}

func TestSessionsSendToolQueuesInbound(t *testing.T) {
	m := newSessionsFixture(t)
	b := bus.New()
	tool := NewSessionsSendTool(m, b)
	ctx := WithToolSessionKey(context.Background(), "telegram:1")

	res := tool.Execute(ctx, map[string]interface{}{
		"session_key": "discord:2",
		"message":     "heads up",
	})
	if res.IsError {
		t.Fatalf("send: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"status":"queued"`) {
		t.Fatalf("result: %q", res.ForLLM)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(waitCtx)
	if !ok {
		t.Fatal("nothing on the inbound queue")
	}
	if msg.Channel != "system" || msg.SenderID != "sessions_send" {
		t.Fatalf("message: %+v", msg)
	}
	if msg.SessionKey != "discord:2" || msg.ChatID != "2" || msg.Content != "heads up" {
		t.Fatalf("message: %+v", msg)
	}
	if msg.Metadata["origin_channel"] != "discord" || msg.Metadata["from_session"] != "telegram:1" {
		t.Fatalf("metadata: %v", msg.Metadata)
	}
}

func TestSessionsSendToolRejectsSelfAndUnknown(t *testing.T) {
	m := newSessionsFixture(t)
	tool := NewSessionsSendTool(m, bus.New())
	ctx := WithToolSessionKey(context.Background(), "telegram:1")

	res := tool.Execute(ctx, map[string]interface{}{
		"session_key": "telegram:1", "message": "hi",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "current session") {
		t.Fatalf("self send: %+v", res)
	}

	res = tool.Execute(ctx, map[string]interface{}{
		"session_key": "slack:9", "message": "hi",
	})
	if !res.IsError || res.ForLLM != "unknown session: slack:9 (use sessions_list)" {
		t.Fatalf("unknown target: %+v", res)
	}
}

func TestSessionsSendToolReportsFullQueue(t *testing.T) {
	m := newSessionsFixture(t)
	b := bus.NewWithCapacity(1)
	b.PublishInbound(bus.InboundMessage{Channel: "system", Content: "filler"})
	tool := NewSessionsSendTool(m, b)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"session_key": "discord:2", "message": "hi",
	})
	if !res.IsError || res.ForLLM != "inbound queue full, try again shortly" {
		t.Fatalf("result: %+v", res)
	}
}
