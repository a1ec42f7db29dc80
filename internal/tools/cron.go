package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/schedule"
	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
)

// CronTool lets the agent manage its own scheduled jobs.
type CronTool struct {
	svc *scheduler.Service
}

func NewCronTool(svc *scheduler.Service) *CronTool {
	return &CronTool{svc: svc}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Create, list, enable, disable or delete scheduled jobs (reminders, recurring tasks)"
}

func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"create", "list", "enable", "disable", "delete"},
				"description": "Operation to perform",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Short job name (create)",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Prompt the agent runs when the job fires (create)",
			},
			"cron": map[string]interface{}{
				"type":        "string",
				"description": "Five-field cron expression, e.g. '0 9 * * *' (create; exactly one of cron/every_seconds/at)",
			},
			"every_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Repeat interval in seconds (create)",
			},
			"at": map[string]interface{}{
				"type":        "string",
				"description": "One-shot fire time, RFC3339 (create)",
			},
			"deliver": map[string]interface{}{
				"type":        "boolean",
				"description": "Deliver the job's reply to the current chat (create)",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Job id (enable/disable/delete)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.svc == nil {
		return ErrorResult("scheduler not available")
	}
	action, _ := args["action"].(string)

	switch strings.ToLower(strings.TrimSpace(action)) {
	case "create":
		return t.create(ctx, args)
	case "list":
		return t.list()
	case "enable":
		return t.withJobID(args, t.svc.Enable, "enabled")
	case "disable":
		return t.withJobID(args, t.svc.Disable, "disabled")
	case "delete":
		return t.withJobID(args, t.svc.Remove, "deleted")
	default:
		return ErrorResult(fmt.Sprintf("unsupported action: %s", action))
	}
}

func (t *CronTool) create(ctx context.Context, args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	message, _ := args["message"].(string)
	if message == "" {
		return ErrorResult("message is required for create")
	}

	sched, err := scheduleFromArgs(args)
	if err != nil {
		return ErrorResult(err.Error())
	}

	payload := scheduler.Payload{Message: message}
	if deliver, _ := args["deliver"].(bool); deliver {
		channel := ToolChannelFromCtx(ctx)
		chatID := ToolChatIDFromCtx(ctx)
		if channel == "" || chatID == "" {
			return ErrorResult("deliver requested but no originating chat is known")
		}
		payload.Deliver = true
		payload.Channel = channel
		payload.ChatID = chatID
	}

	job, err := t.svc.Add(name, sched, payload)
	if err != nil {
		return ErrorResult(fmt.Sprintf("create job: %v", err))
	}
	next := time.UnixMilli(job.State.NextRunAtMs).Format(time.RFC3339)
	return NewResult(fmt.Sprintf("Created job %s (%s), next run %s", job.ID, job.Schedule.Describe(), next))
}

func (t *CronTool) list() *Result {
	jobs := t.svc.List()
	if len(jobs) == 0 {
		return NewResult("No scheduled jobs.")
	}
	var sb strings.Builder
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "%s  %s  [%s, %s]", job.ID, job.Name, job.Schedule.Describe(), state)
		if job.State.NextRunAtMs > 0 {
			fmt.Fprintf(&sb, "  next %s", time.UnixMilli(job.State.NextRunAtMs).Format(time.RFC3339))
		}
		if job.State.LastStatus != "" {
			fmt.Fprintf(&sb, "  last %s", job.State.LastStatus)
			if job.State.LastError != "" {
				fmt.Fprintf(&sb, " (%s)", job.State.LastError)
			}
		}
		sb.WriteByte('\n')
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

func (t *CronTool) withJobID(args map[string]interface{}, op func(string) error, verb string) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	if err := op(id); err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(fmt.Sprintf("Job %s %s", id, verb))
}

// scheduleFromArgs builds the schedule from exactly one of the three forms.
func scheduleFromArgs(args map[string]interface{}) (schedule.Schedule, error) {
	expr, _ := args["cron"].(string)
	everySecs, hasEvery := floatArg(args, "every_seconds")
	atStr, _ := args["at"].(string)

	given := 0
	if expr != "" {
		given++
	}
	if hasEvery {
		given++
	}
	if atStr != "" {
		given++
	}
	if given != 1 {
		return schedule.Schedule{}, fmt.Errorf("exactly one of cron, every_seconds or at is required")
	}

	switch {
	case expr != "":
		return schedule.Cron(expr), nil
	case hasEvery:
		if everySecs <= 0 {
			return schedule.Schedule{}, fmt.Errorf("every_seconds must be positive")
		}
		return schedule.Every(time.Duration(everySecs * float64(time.Second))), nil
	default:
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			return schedule.Schedule{}, fmt.Errorf("at must be RFC3339: %v", err)
		}
		return schedule.At(at), nil
	}
}

// floatArg reads a JSON number argument; decoders hand them over as float64.
func floatArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

var _ Tool = (*CronTool)(nil)
