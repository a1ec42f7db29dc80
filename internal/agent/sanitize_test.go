package agent

import (
	"strings"
	"testing"
)

func TestSanitizeAssistantContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "Here is your answer.", "Here is your answer."},
		{"empty stays empty", "", ""},
		{
			"garbled tool xml drops everything",
			"Let me check.\n<function_call>read_file</function_call>\nDone.",
			"",
		},
		{
			"parameter tags drop everything",
			`Sure: <parameter name="path">x</parameter>`,
			"",
		},
		{
			"thinking tags removed",
			"<think>the user wants pasta</think>Try the carbonara.",
			"Try the carbonara.",
		},
		{
			"multiline thinking removed",
			"<thinking>\nstep 1\nstep 2\n</thinking>\n\nHere you go.",
			"Here you go.",
		},
		{
			"final tags unwrapped",
			"<final>The answer is 42.</final>",
			"The answer is 42.",
		},
		{
			"narrated tool call lines removed",
			"Checking now.\n[Tool Call: read_file]\nArguments: {\"path\": \"a\"}\n{\n}\nFound it.",
			"Checking now.\nFound it.",
		},
		{
			"echoed system message removed",
			"[System Message] You are TinyClaw.\nWorkspace: /w\n\nHello there!",
			"Hello there!",
		},
		{
			"duplicate paragraphs collapsed",
			"Same thing.\n\nSame thing.\n\nDifferent.",
			"Same thing.\n\nDifferent.",
		},
		{
			"surrounding whitespace trimmed",
			"  spaced out  \n",
			"spaced out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeAssistantContent(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsSilentReply(t *testing.T) {
	silent := []string{
		"NO_REPLY",
		"  NO_REPLY  ",
		"NO_REPLY.",
		"NO_REPLY (nothing needed here)",
		"Nothing to add. NO_REPLY",
	}
	for _, s := range silent {
		if !IsSilentReply(s) {
			t.Errorf("IsSilentReply(%q) = false, want true", s)
		}
	}

	loud := []string{
		"",
		"Sure thing!",
		"NO_REPLYING to that",
		"I would never say no_reply in lowercase",
		strings.Repeat("x", 10),
	}
	for _, s := range loud {
		if IsSilentReply(s) {
			t.Errorf("IsSilentReply(%q) = true, want false", s)
		}
	}
}
