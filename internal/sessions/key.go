package sessions

import (
	"fmt"
	"strings"
)

// SessionKey builds the canonical conversation key for a channel chat.
func SessionKey(channel, chatID string) string {
	return fmt.Sprintf("%s:%s", channel, chatID)
}

// CronKey is the dedicated session for a scheduled job without a delivery
// channel.
func CronKey(jobID string) string {
	return "cron:" + jobID
}

// SpawnKey is the fresh session for a short-lived sub-agent task.
func SpawnKey(taskID string) string {
	return "spawn:" + taskID
}

// IsSpawnKey reports whether key belongs to a sub-agent session.
func IsSpawnKey(key string) bool {
	return strings.HasPrefix(key, "spawn:")
}

// IsCronKey reports whether key belongs to a scheduled-job session.
func IsCronKey(key string) bool {
	return strings.HasPrefix(key, "cron:")
}

// HeartbeatKey is the session the heartbeat prompt runs in.
const HeartbeatKey = "heartbeat:main"

// CLIKey is the default session for one-shot and REPL CLI chats.
const CLIKey = "cli:default"
