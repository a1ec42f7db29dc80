package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bootstrap"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

// PromptSources carries everything the system prompt is assembled from.
// The loop gathers these fresh each turn; building from them is pure.
type PromptSources struct {
	Model     string
	Workspace string
	Now       time.Time

	Guides        []bootstrap.GuideFile
	ToolSummary   string
	SkillsIndex   string
	MemoryContext string

	Channel    string
	ChatID     string
	SessionKey string

	Summary string
}

const sectionSeparator = "\n\n---\n\n"

// BuildSystemPrompt assembles the single system message: identity, guide
// files, tools, skills, memory, session hints, then the running summary.
// Absent sources are omitted rather than rendered empty.
func BuildSystemPrompt(src PromptSources) string {
	sections := []string{identityBlock(src)}

	for _, g := range src.Guides {
		sections = append(sections, g.Content)
	}

	if src.ToolSummary != "" {
		sections = append(sections, "## Tools\n\nYou can call these tools; full schemas arrive with the request:\n"+src.ToolSummary)
	}

	if src.SkillsIndex != "" {
		sections = append(sections, "## Skills\n\nInstalled skills. Read a skill's SKILL.md with the file tools when it fits the task:\n"+src.SkillsIndex)
	}

	if src.MemoryContext != "" {
		sections = append(sections, "## Memory\n\n"+src.MemoryContext)
	}

	if hints := sessionHints(src); hints != "" {
		sections = append(sections, hints)
	}

	if src.Summary != "" {
		sections = append(sections, "## Earlier conversation (summarised)\n\n"+src.Summary)
	}

	return strings.Join(sections, sectionSeparator)
}

// BuildMessages produces the full request list: system prompt, stored
// history with tool pairing repaired, then the new user message.
func BuildMessages(src PromptSources, history []providers.Message, userMessage string) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: BuildSystemPrompt(src)})
	msgs = append(msgs, sanitizeHistory(history)...)
	msgs = append(msgs, providers.Message{Role: "user", Content: userMessage})
	return msgs
}

func identityBlock(src PromptSources) string {
	var b strings.Builder
	b.WriteString("You are TinyClaw, a resident personal agent. You talk to your human over chat channels and act through tools inside your workspace.\n\n")
	if src.Workspace != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", src.Workspace)
	}
	if src.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", src.Model)
	}
	if !src.Now.IsZero() {
		fmt.Fprintf(&b, "Current time: %s\n", src.Now.Format("2006-01-02 15:04:05 MST (Monday)"))
	}
	b.WriteString("\nKeep replies in plain chat register. If a message needs no reply at all, respond with exactly NO_REPLY.")
	return b.String()
}

func sessionHints(src PromptSources) string {
	if src.Channel == "" && src.SessionKey == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Current session\n")
	if src.Channel != "" {
		fmt.Fprintf(&b, "\nChannel: %s", src.Channel)
	}
	if src.ChatID != "" {
		fmt.Fprintf(&b, "\nChat: %s", src.ChatID)
	}
	if src.SessionKey != "" {
		fmt.Fprintf(&b, "\nSession key: %s", src.SessionKey)
	}
	if src.Channel != "" {
		b.WriteString("\n\nPlain replies go back to this chat. Use the message tool only to reach a different channel or chat.")
	}
	return b.String()
}
