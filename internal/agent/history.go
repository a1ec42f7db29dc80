package agent

import (
	"log/slog"

	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

// sanitizeHistory repairs tool_use/tool_result pairing in stored history
// before it is sent to a provider. Summarisation keeps only a recent tail,
// which can strand tool messages without their assistant call, and crashes
// can strand calls without results. Providers reject both shapes.
func sanitizeHistory(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("agent.history_orphan_dropped", "tool_call_id", msgs[start].ToolCallID)
		start++
	}
	if start >= len(msgs) {
		return nil
	}

	var result []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		switch {
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			expected := make(map[string]bool, len(msg.ToolCalls))
			order := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expected[tc.ID] = true
				order = append(order, tc.ID)
			}
			result = append(result, msg)

			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				toolMsg := msgs[i]
				if expected[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expected, toolMsg.ToolCallID)
				} else {
					slog.Warn("agent.history_mismatched_result_dropped", "tool_call_id", toolMsg.ToolCallID)
				}
			}

			// Declared order keeps the synthesized placeholders deterministic.
			for _, id := range order {
				if expected[id] {
					slog.Warn("agent.history_result_synthesized", "tool_call_id", id)
					result = append(result, providers.Message{
						Role:       "tool",
						Content:    "[tool result lost when the session was compacted]",
						ToolCallID: id,
					})
				}
			}

		case msg.Role == "tool":
			slog.Warn("agent.history_orphan_dropped", "tool_call_id", msg.ToolCallID)

		default:
			result = append(result, msg)
		}
	}

	return result
}

// estimateTokens approximates the token footprint of a message list.
// Four characters per token is a workable bound for the mixed prose and
// JSON these histories carry.
func estimateTokens(msgs []providers.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + 16
			for k, v := range tc.Arguments {
				chars += len(k) + 16
				if s, ok := v.(string); ok {
					chars += len(s)
				}
			}
		}
	}
	return chars / 4
}
