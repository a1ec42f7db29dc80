package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Leavesfly/TinyClaw-sub001/internal/agent"
	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/schedule"
	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
	"github.com/Leavesfly/TinyClaw-sub001/internal/security"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
	"github.com/Leavesfly/TinyClaw-sub001/internal/tools"
)

// demoScenarios are end-to-end self-checks over the core runtime pieces,
// run against a scripted provider: no network, no API key, no config file.
var demoScenarios = []struct {
	name string
	desc string
	run  func() error
}{
	{"pure-chat", "one message in, one reply out, no tools", demoPureChat},
	{"tool-call", "tool round trip with paired tool_call ids", demoToolCall},
	{"sandbox-denial", "path outside the workspace is refused as data", demoSandboxDenial},
	{"iteration-cap", "runaway tool loop stops at the budget", demoIterationCap},
	{"bus-backpressure", "full inbound queue drops instead of blocking", demoBusBackpressure},
	{"cron-every", "EVERY job fires once per interval, no double-fire", demoCronEvery},
}

func demoCmd() *cobra.Command {
	names := make([]string, len(demoScenarios))
	for i, s := range demoScenarios {
		names[i] = s.name
	}

	return &cobra.Command{
		Use:       "demo [scenario]",
		Short:     "Run built-in self-check scenarios against a scripted model",
		Long:      "Run one of the built-in self-check scenarios, or all of them when no\nname is given. Scenarios exercise the agent loop, sandbox, bus and\nscheduler with a scripted in-process model.\n\nScenarios: " + strings.Join(names, ", "),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			return runDemo(filter)
		},
	}
}

func runDemo(filter string) error {
	ran, failed := 0, 0
	for _, sc := range demoScenarios {
		if filter != "" && sc.name != filter {
			continue
		}
		ran++
		if err := sc.run(); err != nil {
			failed++
			fmt.Printf("FAIL %-18s %v\n", sc.name, err)
		} else {
			fmt.Printf("PASS %-18s %s\n", sc.name, sc.desc)
		}
	}
	if ran == 0 {
		return fmt.Errorf("unknown scenario %q", filter)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, ran)
	}
	return nil
}

// demoProvider returns canned responses in order, repeating the last one
// when the script runs out.
type demoProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
	calls     int
}

func (p *demoProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func (p *demoProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(providers.StreamChunk{Content: resp.Content})
		onChunk(providers.StreamChunk{Done: true})
	}
	return resp, nil
}

func (p *demoProvider) DefaultModel() string { return "demo-model" }
func (p *demoProvider) Name() string         { return "demo" }

func (p *demoProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// demoLoop assembles a memory-only loop over a throwaway workspace.
func demoLoop(p providers.Provider, reg *tools.Registry, workspace string, maxIterations int) (*agent.Loop, *sessions.Manager) {
	if reg == nil {
		reg = tools.NewRegistry()
	}
	sess := sessions.NewManager("")
	loop := agent.New(agent.Config{
		Provider:      p,
		Model:         "demo-model",
		MaxIterations: maxIterations,
		Workspace:     workspace,
		Sessions:      sess,
		Tools:         reg,
	})
	return loop, sess
}

func demoWorkspace() (string, func(), error) {
	dir, err := os.MkdirTemp("", "tinyclaw-demo-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

func demoPureChat() error {
	ws, cleanup, err := demoWorkspace()
	if err != nil {
		return err
	}
	defer cleanup()

	p := &demoProvider{responses: []*providers.ChatResponse{
		{Content: "Hello", FinishReason: "stop"},
	}}
	loop, sess := demoLoop(p, nil, ws, 0)

	got, err := loop.ProcessDirect(context.Background(), "Hi", "demo:1")
	if err != nil {
		return err
	}
	if got != "Hello" {
		return fmt.Errorf("reply = %q, want Hello", got)
	}
	if p.callCount() != 1 {
		return fmt.Errorf("llm calls = %d, want 1", p.callCount())
	}
	if history := sess.History("demo:1"); len(history) != 2 {
		return fmt.Errorf("history length = %d, want 2", len(history))
	}
	return nil
}

func demoToolCall() error {
	ws, cleanup, err := demoWorkspace()
	if err != nil {
		return err
	}
	defer cleanup()
	if err := os.WriteFile(filepath.Join(ws, "notes.txt"), []byte("contents-of-notes"), 0o644); err != nil {
		return err
	}

	guard, err := security.NewGuard(security.Policy{WorkspaceRoot: ws, RestrictToWorkspace: true})
	if err != nil {
		return err
	}
	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool(guard))

	p := &demoProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "read_file", Arguments: map[string]interface{}{"path": "notes.txt"}}}},
		{Content: "Here: contents-of-notes", FinishReason: "stop"},
	}}
	loop, sess := demoLoop(p, reg, ws, 0)

	got, err := loop.ProcessDirect(context.Background(), "what is in my notes?", "demo:2")
	if err != nil {
		return err
	}
	if got != "Here: contents-of-notes" {
		return fmt.Errorf("reply = %q", got)
	}
	if p.callCount() != 2 {
		return fmt.Errorf("llm calls = %d, want 2", p.callCount())
	}

	history := sess.History("demo:2")
	if len(history) != 4 {
		return fmt.Errorf("history length = %d, want 4", len(history))
	}
	if history[2].Role != "tool" || history[2].ToolCallID != "c1" {
		return fmt.Errorf("tool message not paired with its call: %+v", history[2])
	}
	if history[2].Content != "contents-of-notes" {
		return fmt.Errorf("tool result = %q", history[2].Content)
	}
	return nil
}

func demoSandboxDenial() error {
	ws, cleanup, err := demoWorkspace()
	if err != nil {
		return err
	}
	defer cleanup()

	guard, err := security.NewGuard(security.Policy{WorkspaceRoot: ws, RestrictToWorkspace: true})
	if err != nil {
		return err
	}
	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool(guard))

	p := &demoProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "read_file", Arguments: map[string]interface{}{"path": "/etc/passwd"}}}},
		{Content: "I can't read that.", FinishReason: "stop"},
	}}
	loop, sess := demoLoop(p, reg, ws, 0)

	if _, err := loop.ProcessDirect(context.Background(), "read /etc/passwd", "demo:3"); err != nil {
		return err
	}

	for _, m := range sess.History("demo:3") {
		if m.Role == "tool" {
			if !strings.HasPrefix(m.Content, "Access denied") {
				return fmt.Errorf("tool result = %q, want Access denied prefix", m.Content)
			}
			return nil
		}
	}
	return fmt.Errorf("no tool message recorded")
}

func demoIterationCap() error {
	ws, cleanup, err := demoWorkspace()
	if err != nil {
		return err
	}
	defer cleanup()

	var mu sync.Mutex
	executions := 0
	reg := tools.NewRegistry()
	reg.Register(&demoCountingTool{onExec: func() {
		mu.Lock()
		executions++
		mu.Unlock()
	}})

	// The model never stops asking for tools.
	p := &demoProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "t", Name: "busywork", Arguments: map[string]interface{}{}}}},
	}}
	loop, _ := demoLoop(p, reg, ws, 3)

	got, err := loop.ProcessDirect(context.Background(), "loop forever", "demo:4")
	if err != nil {
		return err
	}

	mu.Lock()
	n := executions
	mu.Unlock()
	if n != 3 {
		return fmt.Errorf("tool executions = %d, want exactly 3", n)
	}
	if !strings.Contains(got, "3") {
		return fmt.Errorf("cap message should mention the budget: %q", got)
	}
	return nil
}

type demoCountingTool struct {
	onExec func()
}

func (t *demoCountingTool) Name() string        { return "busywork" }
func (t *demoCountingTool) Description() string { return "Does another round of busywork." }
func (t *demoCountingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *demoCountingTool) Execute(context.Context, map[string]interface{}) *tools.Result {
	t.onExec()
	return tools.NewResult("more")
}

func demoBusBackpressure() error {
	msgBus := bus.New()
	for i := 0; i < bus.DefaultCapacity; i++ {
		if !msgBus.PublishInbound(bus.InboundMessage{Channel: "demo", ChatID: "1", Content: fmt.Sprintf("msg-%d", i)}) {
			return fmt.Errorf("queue rejected message %d below capacity", i)
		}
	}
	if msgBus.PublishInbound(bus.InboundMessage{Channel: "demo", ChatID: "1", Content: "overflow"}) {
		return fmt.Errorf("message beyond capacity was not dropped")
	}
	if n := msgBus.InboundLen(); n != bus.DefaultCapacity {
		return fmt.Errorf("queued = %d, want %d untouched", n, bus.DefaultCapacity)
	}
	return nil
}

func demoCronEvery() error {
	ws, cleanup, err := demoWorkspace()
	if err != nil {
		return err
	}
	defer cleanup()

	var mu sync.Mutex
	fires := 0
	handler := func(ctx context.Context, job scheduler.CronJob) error {
		mu.Lock()
		fires++
		mu.Unlock()
		return nil
	}

	// Scaled-down rendition of "EVERY 1s over 10s fires 10 ± 1 times".
	jobsPath := filepath.Join(ws, "jobs.json")
	svc := scheduler.New(scheduler.NewFileStore(jobsPath), handler,
		scheduler.WithTickInterval(20*time.Millisecond))
	job, err := svc.Add("demo-tick", schedule.Every(200*time.Millisecond), scheduler.Payload{Message: "tick"})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	time.Sleep(2 * time.Second)
	svc.Stop()

	mu.Lock()
	n := fires
	mu.Unlock()
	if n < 9 || n > 11 {
		return fmt.Errorf("fires = %d in 2s, want 10 +/- 1", n)
	}

	final, ok := svc.Get(job.ID)
	if !ok {
		return fmt.Errorf("job vanished")
	}
	if final.State.NextRunAtMs <= final.State.LastRunAtMs {
		return fmt.Errorf("nextRunAtMs %d not after lastRunAtMs %d",
			final.State.NextRunAtMs, final.State.LastRunAtMs)
	}

	// The document on disk reflects the final state.
	persisted, err := scheduler.NewFileStore(jobsPath).Load()
	if err != nil {
		return err
	}
	if len(persisted) != 1 || persisted[0].State.LastRunAtMs == 0 {
		return fmt.Errorf("jobs.json does not reflect the run")
	}
	return nil
}
