// Package qq connects the agent to QQ through a OneBot-compatible HTTP API
// (go-cqhttp and friends). Events arrive via the gateway webhook receiver;
// replies go to the API's send_private_msg / send_group_msg endpoints.
package qq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

// cqCode matches OneBot CQ segments like [CQ:at,qq=123] embedded in
// raw_message text.
var cqCode = regexp.MustCompile(`\[CQ:[^\]]*\]`)

// inboundEvent is the OneBot v11 message event.
type inboundEvent struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"` // "private" or "group"
	MessageID   int64  `json:"message_id"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id"`
	SelfID      int64  `json:"self_id"`
	RawMessage  string `json:"raw_message"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"` // group display name
	} `json:"sender"`
}

// Channel is the QQ adapter. It implements channels.WebhookChannel.
type Channel struct {
	*channels.BaseChannel
	cfg        config.QQConfig
	httpClient *http.Client
}

// New builds the adapter.
func New(cfg config.QQConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("qq api_base is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("qq", msgBus, cfg.AllowFrom),
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Start marks the channel running; inbound traffic rides the gateway
// webhook receiver.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	slog.Info("qq.ready", "api_base", c.cfg.APIBase)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// HandleIncoming processes one OneBot event. Group messages only reach the
// agent when the bot is @-mentioned; CQ segments are stripped either way.
func (c *Channel) HandleIncoming(_ context.Context, body []byte) ([]byte, error) {
	var event inboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parse qq event: %w", err)
	}
	if event.PostType != "message" || event.UserID == 0 {
		return nil, nil
	}

	isGroup := event.MessageType == "group"
	if isGroup {
		atBot := fmt.Sprintf("[CQ:at,qq=%d]", event.SelfID)
		if !strings.Contains(event.RawMessage, atBot) {
			return nil, nil
		}
	}

	content := strings.TrimSpace(cqCode.ReplaceAllString(event.RawMessage, ""))
	if content == "" {
		return nil, nil
	}

	senderID := strconv.FormatInt(event.UserID, 10)
	chatID := "private:" + senderID
	if isGroup {
		chatID = "group:" + strconv.FormatInt(event.GroupID, 10)
		label := event.Sender.Card
		if label == "" {
			label = event.Sender.Nickname
		}
		if label != "" {
			content = fmt.Sprintf("[From: %s]\n%s", label, content)
		}
	}

	slog.Debug("qq.message",
		"chat_id", chatID,
		"sender", senderID,
		"preview", channels.Truncate(content, 60))

	c.HandleMessage(senderID, chatID, content, nil, map[string]string{
		"message_id": strconv.FormatInt(event.MessageID, 10),
		"nickname":   event.Sender.Nickname,
	})
	return nil, nil
}

// Send posts one reply through the OneBot API. The chat id prefix picks the
// endpoint.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("qq bot not running")
	}

	kind, rawID, ok := strings.Cut(msg.ChatID, ":")
	if !ok {
		return fmt.Errorf("bad qq chat id %q", msg.ChatID)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad qq chat id %q: %w", msg.ChatID, err)
	}

	var endpoint string
	payload := map[string]any{"message": msg.Content}
	switch kind {
	case "group":
		endpoint = "/send_group_msg"
		payload["group_id"] = id
	case "private":
		endpoint = "/send_private_msg"
		payload["user_id"] = id
	default:
		return fmt.Errorf("bad qq chat id %q", msg.ChatID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal qq message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.APIBase, "/")+endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send qq message: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status  string `json:"status"`
		RetCode int    `json:"retcode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode qq response: %w", err)
	}
	if result.RetCode != 0 {
		return fmt.Errorf("qq send failed: retcode=%d", result.RetCode)
	}
	return nil
}

var _ channels.WebhookChannel = (*Channel)(nil)
