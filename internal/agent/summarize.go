package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

const (
	// summarizeMsgThreshold triggers compaction on message count alone.
	summarizeMsgThreshold = 20
	// summarizeTokenShare triggers compaction when the estimated history
	// tokens pass this share of the context window.
	summarizeTokenShare = 0.75
	// summarizeKeepRecent messages survive compaction verbatim.
	summarizeKeepRecent = 4

	summarizeTimeout = 120 * time.Second
)

const summarySystemPrompt = "You condense chat transcripts. Produce a compact summary that preserves facts, names, decisions, open tasks, and anything the assistant promised to do. Write plain prose, no preamble."

// maybeSummarize compacts the session in the background when it has grown
// past the message or token threshold. Best-effort: a failed summary leaves
// the history untouched and the next turn tries again.
func (l *Loop) maybeSummarize(sessionKey string) {
	history := l.sessions.History(sessionKey)
	threshold := int(float64(l.contextWindow) * summarizeTokenShare)
	if len(history) < summarizeMsgThreshold && estimateTokens(history) < threshold {
		return
	}

	// One summarizer per session at a time; a concurrent turn skips and
	// retriggers on its own completion if still needed.
	muI, _ := l.summarizeMu.LoadOrStore(sessionKey, &sync.Mutex{})
	sessionMu := muI.(*sync.Mutex)
	if !sessionMu.TryLock() {
		slog.Debug("agent.summarize_in_progress", "session", sessionKey)
		return
	}

	go func() {
		defer sessionMu.Unlock()
		l.summarize(sessionKey)
	}()
}

func (l *Loop) summarize(sessionKey string) {
	// Re-read under the lock: a summarize that finished between the
	// threshold check and here may have already truncated.
	history := l.sessions.History(sessionKey)
	if len(history) <= summarizeKeepRecent {
		return
	}

	provider, model := l.snapshotProvider()
	prior := l.sessions.GetSummary(sessionKey)
	condense := history[:len(history)-summarizeKeepRecent]

	var transcript strings.Builder
	if prior != "" {
		transcript.WriteString("Existing summary:\n")
		transcript.WriteString(prior)
		transcript.WriteString("\n\nNewer messages:\n")
	}
	for _, m := range condense {
		switch m.Role {
		case "user":
			fmt.Fprintf(&transcript, "user: %s\n", m.Content)
		case "assistant":
			if m.Content != "" {
				fmt.Fprintf(&transcript, "assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&transcript, "assistant called tool %s\n", tc.Name)
			}
		case "tool":
			fmt.Fprintf(&transcript, "tool result: %s\n", truncate(m.Content, 300))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: transcript.String()},
		},
		Model: model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   1024,
			providers.OptTemperature: 0.3,
		},
	})
	if err != nil {
		slog.Warn("agent.summarize_failed", "session", sessionKey, "error", err)
		return
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		slog.Warn("agent.summarize_empty", "session", sessionKey)
		return
	}

	l.sessions.SetSummary(sessionKey, summary)
	l.sessions.Truncate(sessionKey, summarizeKeepRecent)
	if err := l.sessions.Save(sessionKey); err != nil {
		slog.Warn("agent.session_save_failed", "session", sessionKey, "error", err)
	}
	slog.Info("agent.session_summarized",
		"session", sessionKey,
		"condensed", len(condense),
		"kept", summarizeKeepRecent)
}
