package tools

import (
	"context"
	"testing"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
)

func TestMessageToolPublishesOutbound(t *testing.T) {
	b := bus.New()
	tool := NewMessageTool(b)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"channel": "telegram",
		"chat_id": "42",
		"content": "hi there",
	})
	if res.IsError {
		t.Fatalf("execute: %s", res.ForLLM)
	}
	if res.ForLLM != "message queued for telegram:42" || !res.Silent {
		t.Fatalf("result: %+v", res)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("nothing on the outbound queue")
	}
	if msg.Channel != "telegram" || msg.ChatID != "42" || msg.Content != "hi there" {
		t.Fatalf("outbound message: %+v", msg)
	}
}

func TestMessageToolValidation(t *testing.T) {
	tool := NewMessageTool(bus.New())

	res := tool.Execute(context.Background(), map[string]interface{}{"content": "x"})
	if !res.IsError || res.ForLLM != "channel and chat_id are required" {
		t.Fatalf("missing routing: %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"channel": "telegram", "chat_id": "1"})
	if !res.IsError || res.ForLLM != "content is required" {
		t.Fatalf("missing content: %+v", res)
	}
}

func TestMessageToolNilBus(t *testing.T) {
	tool := NewMessageTool(nil)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"channel": "telegram", "chat_id": "1", "content": "x",
	})
	if !res.IsError || res.ForLLM != "message bus not available" {
		t.Fatalf("result: %+v", res)
	}
}

func TestMessageToolChannelCheck(t *testing.T) {
	b := bus.New()
	tool := NewMessageTool(b)
	tool.SetChannelCheck(func(channel string) bool { return channel == "discord" })

	res := tool.Execute(context.Background(), map[string]interface{}{
		"channel": "telegram", "chat_id": "1", "content": "x",
	})
	if !res.IsError || res.ForLLM != "channel not registered: telegram" {
		t.Fatalf("unregistered channel: %+v", res)
	}
	if b.OutboundLen() != 0 {
		t.Fatal("rejected message still queued")
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"channel": "discord", "chat_id": "1", "content": "x",
	})
	if res.IsError {
		t.Fatalf("registered channel rejected: %s", res.ForLLM)
	}
	if b.OutboundLen() != 1 {
		t.Fatalf("outbound len = %d", b.OutboundLen())
	}
}
