// Package feishu connects the agent to Feishu/Lark. Events arrive through
// the gateway webhook receiver (push mode); replies go out via the Open
// Platform REST API.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

const (
	textChunkLimit = 4000
	dedupTTL       = 5 * time.Minute
	senderCacheTTL = 10 * time.Minute
)

// Channel is the Feishu/Lark adapter. It implements channels.WebhookChannel;
// the gateway feeds it raw callback bodies.
type Channel struct {
	*channels.BaseChannel
	cfg         config.FeishuConfig
	client      *LarkClient
	mediaDir    string
	botOpenID   string
	dedup       sync.Map // message_id -> struct{}
	senderNames sync.Map // open_id -> senderCacheEntry
}

type senderCacheEntry struct {
	name      string
	expiresAt time.Time
}

// New builds the adapter.
func New(cfg config.FeishuConfig, msgBus *bus.MessageBus, mediaDir string) (*Channel, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("feishu app_id and app_secret are required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("feishu", msgBus, cfg.AllowFrom),
		cfg:         cfg,
		client:      NewLarkClient(cfg.AppID, cfg.AppSecret, resolveDomain(cfg.Domain)),
		mediaDir:    mediaDir,
	}, nil
}

// Start probes the bot identity so mention detection works. A failed probe
// is not fatal; events still flow, group gating just stays closed until the
// next restart.
func (c *Channel) Start(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	openID, err := c.client.BotOpenID(probeCtx)
	if err != nil {
		slog.Warn("feishu.bot_probe_failed", "error", err)
	} else {
		c.botOpenID = openID
		slog.Info("feishu.connected", "bot_open_id", openID)
	}

	c.SetRunning(true)
	return nil
}

// Stop marks the channel stopped. Nothing to tear down; the webhook
// receiver owns the listener.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send delivers one reply, chunked to the API's message size. Replies with
// code fences go out as an interactive markdown card, which renders them;
// plain replies go as rich text.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("feishu bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat id for feishu send")
	}

	idType := resolveReceiveIDType(msg.ChatID)
	if wantsCard(msg.Content) {
		card, err := json.Marshal(markdownCard(msg.Content))
		if err != nil {
			return fmt.Errorf("marshal card: %w", err)
		}
		if err := c.client.SendMessage(ctx, idType, msg.ChatID, "interactive", string(card)); err != nil {
			return fmt.Errorf("feishu send card: %w", err)
		}
		return nil
	}

	text := msg.Content
	for len(text) > 0 {
		chunk := text
		if len(chunk) > textChunkLimit {
			cut := textChunkLimit
			if idx := strings.LastIndex(text[:textChunkLimit], "\n"); idx > textChunkLimit/2 {
				cut = idx + 1
			}
			chunk = text[:cut]
			text = text[cut:]
		} else {
			text = ""
		}
		if err := c.client.SendMessage(ctx, idType, msg.ChatID, "post", postContent(chunk)); err != nil {
			return fmt.Errorf("feishu send text: %w", err)
		}
	}
	return nil
}

// HandleIncoming processes one raw callback body from the webhook receiver.
// URL-verification probes get their challenge echoed back; message events
// are published to the bus. The returned bytes, when non-nil, are the HTTP
// response body.
func (c *Channel) HandleIncoming(ctx context.Context, body []byte) ([]byte, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse feishu callback: %w", err)
	}

	if env.Type == "url_verification" {
		if c.cfg.VerificationToken != "" && env.Token != c.cfg.VerificationToken {
			return nil, fmt.Errorf("feishu verification token mismatch")
		}
		return json.Marshal(map[string]string{"challenge": env.Challenge})
	}

	if c.cfg.VerificationToken != "" && env.Header.Token != c.cfg.VerificationToken {
		return nil, fmt.Errorf("feishu event token mismatch")
	}
	if env.Header.EventType != "im.message.receive_v1" {
		slog.Debug("feishu.event_ignored", "event_type", env.Header.EventType)
		return nil, nil
	}

	var event messageEvent
	if err := json.Unmarshal(env.Event, &event); err != nil {
		return nil, fmt.Errorf("parse feishu message event: %w", err)
	}
	c.handleMessage(ctx, &event)
	return nil, nil
}

func (c *Channel) handleMessage(ctx context.Context, event *messageEvent) {
	msg := &event.Message
	if msg.MessageID == "" || c.isDuplicate(msg.MessageID) {
		return
	}

	senderID := event.Sender.SenderID.OpenID
	if senderID == "" {
		return
	}

	mentionedBot := false
	mentionKey := ""
	for _, m := range msg.Mentions {
		if c.botOpenID != "" && m.ID.OpenID == c.botOpenID {
			mentionedBot = true
			mentionKey = m.Key
		}
	}
	// Groups only reach the agent when the bot is @mentioned.
	if msg.ChatType == "group" && !mentionedBot {
		return
	}

	content := parseContent(msg.Content, msg.MessageType)
	if mentionedBot {
		content = stripMention(content, mentionKey)
	}

	var media []string
	if msg.MessageType == "image" {
		if path, err := c.downloadImage(ctx, msg.MessageID, msg.Content); err != nil {
			slog.Warn("feishu.media_download_failed", "message_id", msg.MessageID, "error", err)
		} else {
			media = append(media, path)
		}
	}
	if content == "" && len(media) == 0 {
		return
	}
	if msg.ChatType == "group" {
		if label := c.senderLabel(ctx, senderID); label != "" {
			content = fmt.Sprintf("[From: %s]\n%s", label, content)
		}
	}

	slog.Debug("feishu.message",
		"chat_id", msg.ChatID,
		"sender", senderID,
		"chat_type", msg.ChatType,
		"preview", channels.Truncate(content, 60))

	c.HandleMessage(senderID, msg.ChatID, content, media, map[string]string{
		"message_id": msg.MessageID,
		"chat_type":  msg.ChatType,
	})
}

// downloadImage pulls the message's image into mediaDir and returns the
// local path.
func (c *Channel) downloadImage(ctx context.Context, messageID, rawContent string) (string, error) {
	if c.mediaDir == "" {
		return "", fmt.Errorf("media downloads disabled")
	}
	var m struct {
		ImageKey string `json:"image_key"`
	}
	if err := json.Unmarshal([]byte(rawContent), &m); err != nil || m.ImageKey == "" {
		return "", fmt.Errorf("no image_key in content")
	}

	data, _, err := c.client.DownloadMessageResource(ctx, messageID, m.ImageKey, "image")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(c.mediaDir, "feishu_*.png")
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := out.Write(data); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return filepath.Clean(out.Name()), nil
}

// senderLabel resolves the sender's display name, cached for a while since
// group chats repeat the same few speakers.
func (c *Channel) senderLabel(ctx context.Context, openID string) string {
	if e, ok := c.senderNames.Load(openID); ok {
		entry := e.(senderCacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.name
		}
		c.senderNames.Delete(openID)
	}

	name, err := c.client.UserName(ctx, openID)
	if err != nil {
		slog.Debug("feishu.sender_lookup_failed", "open_id", openID, "error", err)
		return ""
	}
	c.senderNames.Store(openID, senderCacheEntry{name: name, expiresAt: time.Now().Add(senderCacheTTL)})
	return name
}

// isDuplicate reports whether messageID was already seen. Feishu redelivers
// events the handler answered too slowly, so webhook mode needs this.
func (c *Channel) isDuplicate(messageID string) bool {
	_, loaded := c.dedup.LoadOrStore(messageID, struct{}{})
	if !loaded {
		go func() {
			time.Sleep(dedupTTL)
			c.dedup.Delete(messageID)
		}()
	}
	return loaded
}

func postContent(text string) string {
	content := map[string]any{
		"zh_cn": map[string]any{
			"content": [][]map[string]any{{{"tag": "md", "text": text}}},
		},
	}
	data, _ := json.Marshal(content)
	return string(data)
}

func markdownCard(text string) map[string]any {
	return map[string]any{
		"schema": "2.0",
		"config": map[string]any{"wide_screen_mode": true},
		"body": map[string]any{
			"elements": []map[string]any{{"tag": "markdown", "content": text}},
		},
	}
}

// wantsCard reports whether the reply needs card rendering (code blocks and
// tables survive there, not in plain posts).
func wantsCard(text string) bool {
	return strings.Contains(text, "```") ||
		strings.Contains(text, "|---") ||
		strings.Contains(text, "| --- ")
}

var _ channels.WebhookChannel = (*Channel)(nil)
