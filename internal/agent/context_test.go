package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bootstrap"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

func fullSources() PromptSources {
	return PromptSources{
		Model:     "test-model",
		Workspace: "/home/user/workspace",
		Now:       time.Date(2026, 2, 3, 9, 30, 0, 0, time.UTC),
		Guides: []bootstrap.GuideFile{
			{Name: "AGENTS.md", Content: "# Agent guide"},
			{Name: "SOUL.md", Content: "# Soul"},
		},
		ToolSummary:   "- read_file: reads a file",
		SkillsIndex:   "- weather: forecasts",
		MemoryContext: "User prefers short answers.",
		Channel:       "telegram",
		ChatID:        "42",
		SessionKey:    "telegram:42",
		Summary:       "Earlier the user asked about birds.",
	}
}

func TestBuildSystemPromptSectionOrder(t *testing.T) {
	prompt := BuildSystemPrompt(fullSources())

	markers := []string{
		"You are TinyClaw",
		"# Agent guide",
		"# Soul",
		"## Tools",
		"## Skills",
		"## Memory",
		"## Current session",
		"## Earlier conversation (summarised)",
	}
	last := -1
	for _, m := range markers {
		i := strings.Index(prompt, m)
		if i < 0 {
			t.Fatalf("prompt missing %q", m)
		}
		if i <= last {
			t.Errorf("%q appears out of order", m)
		}
		last = i
	}

	if !strings.Contains(prompt, "\n\n---\n\n") {
		t.Error("sections should be separated by ---")
	}
	if !strings.Contains(prompt, "2026-02-03 09:30:00 UTC (Tuesday)") {
		t.Errorf("current time line missing or misformatted:\n%s", prompt)
	}
	if !strings.Contains(prompt, "NO_REPLY") {
		t.Error("identity block must state the silent-reply convention")
	}
}

func TestBuildSystemPromptOmitsAbsentSections(t *testing.T) {
	prompt := BuildSystemPrompt(PromptSources{Model: "m", Workspace: "/w"})

	for _, absent := range []string{"## Skills", "## Memory", "## Current session", "## Earlier conversation"} {
		if strings.Contains(prompt, absent) {
			t.Errorf("empty source should be omitted, found %q", absent)
		}
	}
	if strings.Contains(prompt, "------") {
		t.Error("no doubled separators for omitted sections")
	}
}

func TestBuildMessagesShape(t *testing.T) {
	history := []providers.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	msgs := BuildMessages(fullSources(), history, "new question")

	if len(msgs) != 4 {
		t.Fatalf("message count = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message role = %s", msgs[0].Role)
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Error("history must sit between system prompt and the new message")
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "new question" {
		t.Errorf("last message = %+v", last)
	}
}

func TestSessionHintsChannelGating(t *testing.T) {
	withChannel := sessionHints(PromptSources{Channel: "discord", ChatID: "9", SessionKey: "discord:9"})
	if !strings.Contains(withChannel, "Channel: discord") || !strings.Contains(withChannel, "message tool") {
		t.Errorf("channel hints incomplete:\n%s", withChannel)
	}

	// Direct CLI turns have a session key but no channel; no routing advice.
	direct := sessionHints(PromptSources{SessionKey: "cli:direct"})
	if !strings.Contains(direct, "Session key: cli:direct") {
		t.Errorf("session key missing:\n%s", direct)
	}
	if strings.Contains(direct, "message tool") {
		t.Error("routing advice should only appear for channel-bound sessions")
	}

	if sessionHints(PromptSources{}) != "" {
		t.Error("no hints for empty sources")
	}
}
