package scheduler

import (
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/schedule"
)

// Payload is what a job does when it fires: the message routed into the
// agent loop, and optionally a channel to deliver the reply to.
type Payload struct {
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

// JobState is the mutable run bookkeeping, persisted with the job.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // "ok" | "error"
	LastError   string `json:"lastError,omitempty"`
}

// CronJob is one scheduled task.
type CronJob struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Schedule    schedule.Schedule `json:"schedule"`
	Payload     Payload           `json:"payload"`
	State       JobState          `json:"state"`
	Enabled     bool              `json:"enabled"`
	CreatedAtMs int64             `json:"createdAtMs,omitempty"`

	// nextRun keeps the monotonic reading for EVERY jobs, so a wall-clock
	// jump cannot re-fire them. NextRunAtMs is its wall-clock projection.
	nextRun  time.Time
	inFlight bool
}

// Snapshot returns a copy safe to hand outside the scheduler's lock.
func (j *CronJob) Snapshot() CronJob {
	c := *j
	c.inFlight = false
	return c
}

// document is the on-disk shape of cron/jobs.json.
type document struct {
	Jobs []*CronJob `json:"jobs"`
}
