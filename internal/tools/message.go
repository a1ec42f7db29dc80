package tools

import (
	"context"
	"fmt"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
)

// MessageTool publishes an outbound message to a named channel. It holds
// only the bus handle; channel registration is checked through an injected
// func so the tool never references the channel manager directly.
type MessageTool struct {
	msgBus       *bus.MessageBus
	isRegistered func(channel string) bool
}

func NewMessageTool(b *bus.MessageBus) *MessageTool {
	return &MessageTool{msgBus: b}
}

// SetChannelCheck installs the channel-registration lookup. Without it the
// tool publishes unconditionally.
func (t *MessageTool) SetChannelCheck(fn func(channel string) bool) {
	t.isRegistered = fn
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to a user on a chat channel"
}

func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel name (e.g. telegram, discord, whatsapp)",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Chat or user ID to send to",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Message text",
			},
		},
		"required": []string{"channel", "chat_id", "content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)
	content, _ := args["content"].(string)

	if channel == "" || chatID == "" {
		return ErrorResult("channel and chat_id are required")
	}
	if content == "" {
		return ErrorResult("content is required")
	}
	if t.msgBus == nil {
		return ErrorResult("message bus not available")
	}
	if t.isRegistered != nil && !t.isRegistered(channel) {
		return ErrorResult(fmt.Sprintf("channel not registered: %s", channel))
	}

	t.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})

	return SilentResult(fmt.Sprintf("message queued for %s:%s", channel, chatID))
}

var _ Tool = (*MessageTool)(nil)
