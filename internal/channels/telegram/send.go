package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
)

// messageLimit is Telegram's hard cap per message.
const messageLimit = 4096

// Send delivers one reply, chunked at message boundaries. Each chunk goes
// out as HTML; a chunk Telegram rejects is retried as plain text, since a
// lost reply is worse than lost formatting.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, messageLimit) {
		if err := c.sendChunk(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendChunk(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: chatID},
		Text:      MarkdownToHTML(text),
		ParseMode: telego.ModeHTML,
	})
	if err == nil {
		return nil
	}
	slog.Debug("telegram.html_send_failed", "error", err)

	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit bytes, preferring
// paragraph breaks, then line breaks, then spaces, before cutting mid-word.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := findCut(text, limit)
		chunks = append(chunks, text[:cut])
		text = text[cut:]
		for len(text) > 0 && (text[0] == '\n' || text[0] == ' ') {
			text = text[1:]
		}
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func findCut(text string, limit int) int {
	window := text[:limit]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx >= limit/2 {
			return idx
		}
	}
	return limit
}
