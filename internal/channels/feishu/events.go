package feishu

import (
	"encoding/json"
	"fmt"
	"strings"
)

// callbackEnvelope is the outer shape of every Feishu event callback.
// URL-verification probes carry type/challenge at the top level; regular
// events arrive in the v2 schema with a header block.
type callbackEnvelope struct {
	Type      string          `json:"type,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	Token     string          `json:"token,omitempty"`
	Schema    string          `json:"schema,omitempty"`
	Header    callbackHeader  `json:"header,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type callbackHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Token     string `json:"token"`
}

// messageEvent is the im.message.receive_v1 payload.
type messageEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		ChatType    string `json:"chat_type"` // "p2p" or "group"
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
		Mentions    []struct {
			Key string `json:"key"` // @_user_N placeholder in the text
			ID  struct {
				OpenID string `json:"open_id"`
			} `json:"id"`
			Name string `json:"name"`
		} `json:"mentions"`
	} `json:"message"`
}

// parseContent extracts plain text from a message content blob. Rich "post"
// messages flatten to markdown-ish text; media types become placeholders the
// caller may replace with a downloaded path.
func parseContent(raw, messageType string) string {
	if raw == "" {
		return ""
	}
	switch messageType {
	case "text":
		var m struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			return m.Text
		}
		return raw
	case "post":
		return parsePostContent(raw)
	case "image":
		return "[image]"
	case "file":
		var m struct {
			FileName string `json:"file_name"`
		}
		if err := json.Unmarshal([]byte(raw), &m); err == nil && m.FileName != "" {
			return fmt.Sprintf("[file: %s]", m.FileName)
		}
		return "[file]"
	case "audio":
		return "[audio]"
	default:
		return fmt.Sprintf("[%s message]", messageType)
	}
}

func parsePostContent(raw string) string {
	var post map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &post); err != nil {
		return raw
	}

	var body json.RawMessage
	for _, lang := range []string{"zh_cn", "en_us"} {
		if b, ok := post[lang]; ok {
			body = b
			break
		}
	}
	if body == nil {
		for _, b := range post {
			body = b
			break
		}
	}
	if body == nil {
		return raw
	}

	var langBody struct {
		Content [][]postElement `json:"content"`
	}
	if err := json.Unmarshal(body, &langBody); err != nil {
		return raw
	}

	var lines []string
	for _, para := range langBody.Content {
		var parts []string
		for _, el := range para {
			switch el.Tag {
			case "text", "md":
				parts = append(parts, el.Text)
			case "at":
				if el.UserName != "" {
					parts = append(parts, "@"+el.UserName)
				}
			case "a":
				if el.Text != "" {
					parts = append(parts, fmt.Sprintf("[%s](%s)", el.Text, el.Href))
				} else {
					parts = append(parts, el.Href)
				}
			case "img":
				parts = append(parts, "[image]")
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ""))
		}
	}
	return strings.Join(lines, "\n")
}

type postElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	Href     string `json:"href,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

// stripMention removes the bot's @_user_N placeholder from the text.
func stripMention(text, key string) string {
	if key == "" {
		return text
	}
	return strings.TrimSpace(strings.ReplaceAll(text, key, ""))
}
