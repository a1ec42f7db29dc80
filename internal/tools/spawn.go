package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
)

// SpawnRunner executes one sub-agent task in a fresh session and returns
// its final text. The runner owns the capped iteration budget.
type SpawnRunner interface {
	RunSpawn(ctx context.Context, sessionKey, task string) (string, error)
}

// Spawn task status constants.
const (
	SpawnStatusRunning   = "running"
	SpawnStatusCompleted = "completed"
	SpawnStatusFailed    = "failed"
)

// SpawnTask tracks one background sub-agent run.
type SpawnTask struct {
	ID          string
	Label       string
	Task        string
	Status      string
	Result      string
	CreatedAt   int64
	CompletedAt int64

	originChannel string
	originChatID  string
	originSession string
}

// SpawnTool runs short-lived sub-agent tasks in the background and
// announces their results back into the originating conversation.
type SpawnTool struct {
	msgBus *bus.MessageBus

	mu            sync.Mutex
	runner        SpawnRunner
	tasks         map[string]*SpawnTask
	maxConcurrent int

	baseCtx context.Context
	cancel  context.CancelFunc
}

const defaultMaxSpawns = 4

func NewSpawnTool(msgBus *bus.MessageBus) *SpawnTool {
	return &SpawnTool{
		msgBus:        msgBus,
		tasks:         make(map[string]*SpawnTask),
		maxConcurrent: defaultMaxSpawns,
	}
}

// SetRunner wires the agent loop in. The loop is constructed after the
// registry, so this cannot happen in the constructor.
func (t *SpawnTool) SetRunner(r SpawnRunner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runner = r
}

// Start binds the lifetime of background tasks to ctx. Tasks spawned
// before Start run under context.Background.
func (t *SpawnTool) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseCtx, t.cancel = context.WithCancel(ctx)
}

// Stop cancels all running tasks.
func (t *SpawnTool) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Run a task in a background sub-agent; the result is announced here when it finishes"
}

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Full task description for the sub-agent",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short label used when announcing the result",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	if strings.HasPrefix(ToolSessionKeyFromCtx(ctx), "spawn:") {
		return ErrorResult("sub-agents cannot spawn further sub-agents")
	}
	label, _ := args["label"].(string)
	if label == "" {
		label = truncateLabel(task, 50)
	}

	t.mu.Lock()
	if t.runner == nil {
		t.mu.Unlock()
		return ErrorResult("sub-agent runner not available")
	}
	running := 0
	for _, st := range t.tasks {
		if st.Status == SpawnStatusRunning {
			running++
		}
	}
	if running >= t.maxConcurrent {
		t.mu.Unlock()
		return ErrorResult(fmt.Sprintf("max concurrent sub-agents reached (%d)", t.maxConcurrent))
	}

	id := uuid.NewString()[:8]
	st := &SpawnTask{
		ID:            id,
		Label:         label,
		Task:          task,
		Status:        SpawnStatusRunning,
		CreatedAt:     time.Now().UnixMilli(),
		originChannel: ToolChannelFromCtx(ctx),
		originChatID:  ToolChatIDFromCtx(ctx),
		originSession: ToolSessionKeyFromCtx(ctx),
	}
	t.tasks[id] = st
	runner := t.runner
	runCtx := t.baseCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	t.mu.Unlock()

	slog.Info("spawn.started", "task", id, "label", label)
	go t.run(runCtx, runner, st)

	return AsyncResult(fmt.Sprintf("Spawned sub-agent %q (id %s). Its result will be announced in this conversation.", label, id))
}

func (t *SpawnTool) run(ctx context.Context, runner SpawnRunner, st *SpawnTask) {
	result, err := runner.RunSpawn(ctx, sessions.SpawnKey(st.ID), st.Task)

	t.mu.Lock()
	st.CompletedAt = time.Now().UnixMilli()
	if err != nil {
		st.Status = SpawnStatusFailed
		st.Result = err.Error()
	} else {
		st.Status = SpawnStatusCompleted
		st.Result = result
	}
	status, text := st.Status, st.Result
	t.mu.Unlock()

	elapsed := time.Duration(st.CompletedAt-st.CreatedAt) * time.Millisecond
	slog.Info("spawn.finished", "task", st.ID, "status", status, "duration_ms", elapsed.Milliseconds())

	t.announce(st, status, text, elapsed)
}

// announce feeds the outcome back through the inbound queue so the parent
// conversation can relay it. Without a known origin there is nobody to
// tell; the outcome stays queryable in the task table.
func (t *SpawnTool) announce(st *SpawnTask, status, text string, elapsed time.Duration) {
	if t.msgBus == nil || st.originSession == "" {
		return
	}
	var content string
	if status == SpawnStatusCompleted {
		content = fmt.Sprintf("Sub-agent %q (id %s) completed in %s.\n\nResult:\n%s",
			st.Label, st.ID, elapsed.Round(time.Second), text)
	} else {
		content = fmt.Sprintf("Sub-agent %q (id %s) failed after %s: %s",
			st.Label, st.ID, elapsed.Round(time.Second), text)
	}

	t.msgBus.PublishInbound(bus.InboundMessage{
		Channel:    "system",
		SenderID:   "spawn:" + st.ID,
		ChatID:     st.originChatID,
		Content:    content,
		SessionKey: st.originSession,
		Metadata: map[string]string{
			"origin_channel": st.originChannel,
			"spawn_id":       st.ID,
			"spawn_label":    st.Label,
		},
	})
}

// Tasks returns a snapshot of all spawn tasks, newest first.
func (t *SpawnTool) Tasks() []SpawnTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SpawnTask, 0, len(t.tasks))
	for _, st := range t.tasks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

func truncateLabel(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

var _ Tool = (*SpawnTool)(nil)
