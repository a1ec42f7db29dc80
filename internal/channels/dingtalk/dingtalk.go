// Package dingtalk connects the agent to a DingTalk custom robot. Inbound
// messages arrive through the gateway webhook receiver; replies go to the
// conversation's session webhook when one is known, else to the configured
// group webhook signed with the robot secret.
package dingtalk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

// inboundEvent is the robot outgoing-message payload DingTalk posts to the
// webhook receiver.
type inboundEvent struct {
	MsgID            string `json:"msgId"`
	MsgType          string `json:"msgtype"`
	ConversationID   string `json:"conversationId"`
	ConversationType string `json:"conversationType"` // "1" private, "2" group
	SenderStaffID    string `json:"senderStaffId"`
	SenderNick       string `json:"senderNick"`
	SessionWebhook   string `json:"sessionWebhook"`
	SessionExpiresAt int64  `json:"sessionWebhookExpiredTime"` // unix millis
	Text             struct {
		Content string `json:"content"`
	} `json:"text"`
}

type sessionHook struct {
	url       string
	expiresAt time.Time
}

// Channel is the DingTalk adapter. It implements channels.WebhookChannel.
type Channel struct {
	*channels.BaseChannel
	cfg        config.DingTalkConfig
	httpClient *http.Client
	hooks      sync.Map // conversationId -> sessionHook
}

// New builds the adapter.
func New(cfg config.DingTalkConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("dingtalk webhook_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("dingtalk", msgBus, cfg.AllowFrom),
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Start marks the channel running; inbound traffic rides the gateway
// webhook receiver.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	slog.Info("dingtalk.ready")
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// HandleIncoming processes one robot message pushed by DingTalk.
func (c *Channel) HandleIncoming(_ context.Context, body []byte) ([]byte, error) {
	var event inboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parse dingtalk event: %w", err)
	}
	if event.MsgType != "text" || event.SenderStaffID == "" {
		return nil, nil
	}

	content := strings.TrimSpace(event.Text.Content)
	if content == "" {
		return nil, nil
	}

	chatID := event.ConversationID
	if chatID == "" {
		chatID = event.SenderStaffID
	}

	// Remember the conversation's reply URL while it is valid.
	if event.SessionWebhook != "" {
		exp := time.Now().Add(time.Hour)
		if event.SessionExpiresAt > 0 {
			exp = time.UnixMilli(event.SessionExpiresAt)
		}
		c.hooks.Store(chatID, sessionHook{url: event.SessionWebhook, expiresAt: exp})
	}

	if event.ConversationType == "2" && event.SenderNick != "" {
		content = fmt.Sprintf("[From: %s]\n%s", event.SenderNick, content)
	}

	slog.Debug("dingtalk.message",
		"conversation", chatID,
		"sender", event.SenderStaffID,
		"preview", channels.Truncate(content, 60))

	c.HandleMessage(event.SenderStaffID, chatID, content, nil, map[string]string{
		"message_id":  event.MsgID,
		"sender_nick": event.SenderNick,
	})
	return nil, nil
}

// Send posts one reply as markdown. The conversation's session webhook is
// preferred; the configured group webhook is the fallback and needs the
// timestamp signature.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("dingtalk robot not running")
	}

	target := ""
	if h, ok := c.hooks.Load(msg.ChatID); ok {
		hook := h.(sessionHook)
		if time.Now().Before(hook.expiresAt) {
			target = hook.url
		} else {
			c.hooks.Delete(msg.ChatID)
		}
	}
	if target == "" {
		target = c.signedWebhookURL(time.Now())
	}

	payload, err := json.Marshal(map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": firstLine(msg.Content),
			"text":  msg.Content,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal dingtalk message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send dingtalk message: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode dingtalk response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("dingtalk send failed: errcode=%d errmsg=%s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedWebhookURL appends the timestamp signature DingTalk requires on
// secret-protected robots: base64(hmac-sha256(secret, "ts\nsecret")).
func (c *Channel) signedWebhookURL(now time.Time) string {
	if c.cfg.Secret == "" {
		return c.cfg.WebhookURL
	}

	ts := fmt.Sprintf("%d", now.UnixMilli())
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(ts + "\n" + c.cfg.Secret))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sep := "?"
	if strings.Contains(c.cfg.WebhookURL, "?") {
		sep = "&"
	}
	return c.cfg.WebhookURL + sep + "timestamp=" + ts + "&sign=" + url.QueryEscape(sign)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return channels.Truncate(s, 60)
}

var _ channels.WebhookChannel = (*Channel)(nil)
