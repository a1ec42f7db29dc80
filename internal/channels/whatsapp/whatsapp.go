// Package whatsapp connects the agent to a local WhatsApp bridge process
// over a websocket. The bridge owns the WhatsApp Web session and speaks a
// small JSON protocol; this channel relays messages in both directions and
// reconnects when the bridge drops.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

const (
	handshakeTimeout = 10 * time.Second
	maxBackoff       = 30 * time.Second
)

// bridgeMessage is the JSON frame exchanged with the bridge, both ways.
type bridgeMessage struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	From     string   `json:"from,omitempty"`
	FromName string   `json:"from_name,omitempty"`
	Chat     string   `json:"chat,omitempty"`
	To       string   `json:"to,omitempty"`
	Content  string   `json:"content,omitempty"`
	Media    []string `json:"media,omitempty"`
}

// Channel is the WhatsApp bridge adapter.
type Channel struct {
	*channels.BaseChannel
	cfg config.WhatsAppConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// New builds the adapter.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", msgBus, cfg.AllowFrom),
		cfg:         cfg,
	}, nil
}

// Start dials the bridge and launches the read loop. A bridge that is down
// at start is not fatal; the loop keeps retrying with backoff.
func (c *Channel) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.connect(); err != nil {
		slog.Warn("whatsapp.initial_connect_failed", "error", err)
	}
	go c.readLoop(loopCtx)

	c.SetRunning(true)
	return nil
}

// Stop closes the bridge connection and stops the read loop.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Send writes one outbound frame to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	data, err := json.Marshal(bridgeMessage{
		Type:    "message",
		To:      msg.ChatID,
		Content: msg.Content,
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.Dial(c.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.cfg.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp.bridge_connected", "url", c.cfg.BridgeURL)
	return nil
}

// readLoop consumes bridge frames and reconnects with exponential backoff
// whenever the connection drops.
func (c *Channel) readLoop(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("whatsapp.reconnecting", "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp.reconnect_failed", "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("whatsapp.read_error", "error", err)
			}
			c.dropConn()
			continue
		}
		c.handleFrame(data)
	}
}

func (c *Channel) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) handleFrame(data []byte) {
	var msg bridgeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("whatsapp.bad_frame", "error", err)
		return
	}
	if msg.Type != "message" || msg.From == "" {
		return
	}

	chatID := msg.Chat
	if chatID == "" {
		chatID = msg.From
	}

	content := msg.Content
	if content == "" && len(msg.Media) == 0 {
		return
	}

	// Group chats carry the "@g.us" suffix; annotate who is speaking.
	if strings.HasSuffix(chatID, "@g.us") {
		label := msg.FromName
		if label == "" {
			label = msg.From
		}
		content = fmt.Sprintf("[From: %s]\n%s", label, content)
	}

	slog.Debug("whatsapp.message",
		"chat_id", chatID,
		"sender", msg.From,
		"preview", channels.Truncate(content, 60))

	c.HandleMessage(msg.From, chatID, content, msg.Media, map[string]string{
		"message_id": msg.ID,
		"from_name":  msg.FromName,
	})
}
