// Package channels connects chat platforms to the agent runtime through
// the message bus. Adapters translate platform events into InboundMessages
// and deliver OutboundMessages back; everything else (sessions, tools, the
// loop) is transport-agnostic.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
)

// internalChannels never receive outbound dispatch; their replies are
// handled inside the process (CLI printing, console sockets).
var internalChannels = map[string]bool{
	"cli":    true,
	"system": true,
}

// IsInternal reports whether name is a synthetic in-process channel.
func IsInternal(name string) bool {
	return internalChannels[name]
}

// Channel is the transport contract. Start must return once the adapter's
// workers are launched; Send delivers one reply and reports failure to the
// dispatch worker, which logs and drops.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// WebhookChannel marks adapters fed by the gateway's webhook receiver
// rather than their own connection. The receiver hands over the raw
// platform body; the adapter parses, publishes inbound, and returns the
// immediate HTTP response body.
type WebhookChannel interface {
	Channel
	HandleIncoming(ctx context.Context, body []byte) ([]byte, error)
}

// BaseChannel carries the pieces every adapter needs: name, bus handle,
// allow-list, and the running flag. Embed it and implement the transport.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
	running   atomic.Bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowFrom []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowFrom: allowFrom}
}

func (c *BaseChannel) Name() string         { return c.name }
func (c *BaseChannel) IsRunning() bool      { return c.running.Load() }
func (c *BaseChannel) SetRunning(v bool)    { c.running.Store(v) }
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed checks senderID against the allow-list. An empty list allows
// everyone. Entries and sender IDs may use the compound "id|username" form;
// either side matches, and a leading "@" on an entry is ignored.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}

	idPart, userPart := splitCompoundID(senderID)
	for _, entry := range c.allowFrom {
		entry = strings.TrimPrefix(strings.TrimSpace(entry), "@")
		if entry == "" {
			continue
		}
		allowedID, allowedUser := splitCompoundID(entry)
		if senderID == entry || idPart == entry || idPart == allowedID ||
			(userPart != "" && (userPart == entry || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

func splitCompoundID(s string) (id, user string) {
	if i := strings.IndexByte(s, '|'); i > 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// HandleMessage is the single path from an adapter to the agent: allow-list
// check, session key derivation, inbound publish. Unauthorised senders are
// dropped with a log line, never answered.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		slog.Warn("channel.sender_rejected", "channel", c.name, "sender", senderID)
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    content,
		Media:      media,
		SessionKey: sessions.SessionKey(c.name, chatID),
		Metadata:   metadata,
	})
}

// Truncate shortens s for log lines.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
