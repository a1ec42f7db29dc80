// Package telegram connects the agent to Telegram via Bot API long
// polling. DMs always reach the agent; group messages only when the bot
// is mentioned or replied to.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

// mediaMaxBytes caps downloads at the Bot API file limit.
const mediaMaxBytes int64 = 20 * 1024 * 1024

const downloadRetries = 3

// Channel is the Telegram adapter.
type Channel struct {
	*channels.BaseChannel
	bot      *telego.Bot
	cfg      config.TelegramConfig
	mediaDir string

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds the adapter. mediaDir receives downloaded attachments; empty
// disables downloads.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, mediaDir string) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		cfg:         cfg,
		mediaDir:    mediaDir,
	}, nil
}

// Start begins long polling and launches the update worker.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram.connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram.updates_closed")
					return
				}
				if update.Message != nil {
					c.handleUpdate(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the worker so Telegram releases the
// getUpdates lock before another instance can start.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram.poll_exit_timeout")
		}
	}
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || isServiceMessage(msg) {
		return
	}

	userID := fmt.Sprintf("%d", msg.From.ID)
	senderID := userID
	if msg.From.Username != "" {
		senderID = userID + "|" + msg.From.Username
	}

	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup && !c.mentioned(msg) {
		return
	}

	content := msg.Text
	if msg.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += msg.Caption
	}

	media := c.collectMedia(ctx, msg)
	if content == "" && len(media) == 0 {
		return
	}
	if isGroup {
		label := msg.From.FirstName
		if msg.From.Username != "" {
			label = "@" + msg.From.Username
		}
		content = fmt.Sprintf("[From: %s]\n%s", label, content)
	}

	chatID := fmt.Sprintf("%d", msg.Chat.ID)
	slog.Debug("telegram.message",
		"chat_id", chatID,
		"sender", senderID,
		"preview", channels.Truncate(content, 60))

	// Typing hint while the turn runs; best effort.
	_ = c.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: telego.ChatID{ID: msg.Chat.ID},
		Action: telego.ChatActionTyping,
	})

	c.HandleMessage(senderID, chatID, content, media, map[string]string{
		"message_id": fmt.Sprintf("%d", msg.MessageID),
		"username":   msg.From.Username,
	})
}

// mentioned reports whether the bot was addressed in a group message:
// an @mention entity, the username anywhere in the text, or a reply to
// one of the bot's messages.
func (c *Channel) mentioned(msg *telego.Message) bool {
	botUser := c.bot.Username()
	if botUser == "" {
		return false
	}
	needle := "@" + strings.ToLower(botUser)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, e := range pair.entities {
			if e.Type != "mention" && e.Type != "bot_command" {
				continue
			}
			if e.Offset+e.Length > len(pair.text) {
				continue
			}
			span := pair.text[e.Offset : e.Offset+e.Length]
			if strings.Contains(strings.ToLower(span), needle) {
				return true
			}
		}
		if strings.Contains(strings.ToLower(pair.text), needle) {
			return true
		}
	}

	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.Username == botUser {
		return true
	}
	return false
}

// collectMedia downloads attachments into mediaDir and returns their local
// paths. Failed downloads are logged and skipped; the message text still
// goes through.
func (c *Channel) collectMedia(ctx context.Context, msg *telego.Message) []string {
	if c.mediaDir == "" {
		return nil
	}

	var fileIDs []string
	if len(msg.Photo) > 0 {
		fileIDs = append(fileIDs, msg.Photo[len(msg.Photo)-1].FileID) // highest resolution last
	}
	if msg.Voice != nil {
		fileIDs = append(fileIDs, msg.Voice.FileID)
	}
	if msg.Audio != nil {
		fileIDs = append(fileIDs, msg.Audio.FileID)
	}
	if msg.Document != nil {
		fileIDs = append(fileIDs, msg.Document.FileID)
	}

	var paths []string
	for _, id := range fileIDs {
		path, err := c.download(ctx, id)
		if err != nil {
			slog.Warn("telegram.media_download_failed", "file_id", id, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (c *Channel) download(ctx context.Context, fileID string) (string, error) {
	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for %s", fileID)
	}
	if int64(file.FileSize) > mediaMaxBytes {
		return "", fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}
	out, err := os.CreateTemp(c.mediaDir, "tg_*"+ext)
	if err != nil {
		return "", err
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(resp.Body, mediaMaxBytes+1))
	if err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > mediaMaxBytes {
		os.Remove(out.Name())
		return "", fmt.Errorf("file exceeds %d bytes", mediaMaxBytes)
	}
	return out.Name(), nil
}

// isServiceMessage filters member-joined, title-changed and similar chat
// events that carry no user content.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if len(msg.Photo) > 0 || msg.Audio != nil || msg.Voice != nil ||
		msg.Video != nil || msg.Document != nil || msg.Sticker != nil ||
		msg.Location != nil || msg.Contact != nil {
		return false
	}
	return true
}
