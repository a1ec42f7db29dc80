// Package agent runs the think-act-observe loop: it builds context for an
// OpenAI-compatible LLM, executes the tool calls the model asks for, and
// persists the conversation after every turn.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bootstrap"
	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/memory"
	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
	"github.com/Leavesfly/TinyClaw-sub001/internal/skills"
	"github.com/Leavesfly/TinyClaw-sub001/internal/tools"
)

var tracer = otel.Tracer("tinyclaw/agent")

const (
	defaultMaxIterations = 20
	defaultContextWindow = 200_000
	defaultMaxTokens     = 8192

	// Sub-agents get a tighter budget; anything bigger belongs in the
	// parent conversation where the human can steer.
	spawnMaxIterations = 8
)

// Config assembles a Loop. Provider, Sessions, and Tools are required;
// Skills, Memory, Bus, and Events are optional collaborators.
type Config struct {
	Provider      providers.Provider
	Model         string
	MaxTokens     int
	Temperature   float64
	ContextWindow int
	MaxIterations int
	Workspace     string

	Sessions *sessions.Manager
	Tools    *tools.Registry
	Bus      *bus.MessageBus
	Skills   *skills.Loader
	Memory   *memory.Store
	Events   bus.EventPublisher
}

// Loop is the resident agent. One Loop serves every session in the process;
// the gateway runs a single bus consumer so turns execute one at a time.
type Loop struct {
	mu       sync.RWMutex // guards provider and model for live swaps
	provider providers.Provider
	model    string

	maxTokens     int
	temperature   float64
	contextWindow int
	maxIterations int
	workspace     string

	sessions *sessions.Manager
	tools    *tools.Registry
	msgBus   *bus.MessageBus
	skills   *skills.Loader
	memory   *memory.Store
	events   bus.EventPublisher

	summarizeMu sync.Map // session key → *sync.Mutex

	// turnCtx outlives the consumer's ctx so an in-flight turn can finish
	// during shutdown; Drain cancels it after the grace period.
	turnCtx  context.Context
	turnStop context.CancelFunc
	active   sync.WaitGroup
}

// New builds a Loop from cfg, applying defaults for unset knobs.
func New(cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = defaultContextWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	turnCtx, turnStop := context.WithCancel(context.Background())
	return &Loop{
		provider:      cfg.Provider,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		contextWindow: cfg.ContextWindow,
		maxIterations: cfg.MaxIterations,
		workspace:     cfg.Workspace,
		sessions:      cfg.Sessions,
		tools:         cfg.Tools,
		msgBus:        cfg.Bus,
		skills:        cfg.Skills,
		memory:        cfg.Memory,
		events:        cfg.Events,
		turnCtx:       turnCtx,
		turnStop:      turnStop,
	}
}

// SwapProvider replaces the backing LLM client. A turn that already
// snapshotted the old client finishes on it; the next turn sees the new one.
func (l *Loop) SwapProvider(p providers.Provider, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.provider = p
	if model != "" {
		l.model = model
	}
	slog.Info("agent.provider_swapped", "provider", p.Name(), "model", l.model)
}

func (l *Loop) snapshotProvider() (providers.Provider, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.provider, l.model
}

// Model returns the currently configured model name.
func (l *Loop) Model() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model
}

// ProcessDirect runs one turn and returns the final assistant text.
func (l *Loop) ProcessDirect(ctx context.Context, text, sessionKey string) (string, error) {
	return l.turn(ctx, turnRequest{sessionKey: sessionKey, message: text})
}

// ProcessDirectStream runs one turn, delivering content deltas to onChunk
// as they arrive. onChunk runs on the transport's goroutine.
func (l *Loop) ProcessDirectStream(ctx context.Context, text, sessionKey string, onChunk func(string)) (string, error) {
	return l.turn(ctx, turnRequest{sessionKey: sessionKey, message: text, onChunk: onChunk})
}

// ProcessDirectWithChannel runs one turn with an originating channel and
// chat bound into the tool context, so tools like cron and message know
// where the conversation lives. Used by scheduler-triggered runs.
func (l *Loop) ProcessDirectWithChannel(ctx context.Context, text, sessionKey, channel, chatID string) (string, error) {
	return l.turn(ctx, turnRequest{sessionKey: sessionKey, message: text, channel: channel, chatID: chatID})
}

// RunSpawn executes a sub-agent task in its own session with a tighter
// iteration budget. Satisfies the spawn tool's runner contract.
func (l *Loop) RunSpawn(ctx context.Context, sessionKey, task string) (string, error) {
	budget := spawnMaxIterations
	if l.maxIterations < budget {
		budget = l.maxIterations
	}
	return l.turn(ctx, turnRequest{sessionKey: sessionKey, message: task, maxIterations: budget})
}

// Run consumes inbound messages until ctx is cancelled. Turns execute
// sequentially: one LLM conversation at a time per process, messages of one
// session strictly in arrival order.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("agent.consumer_started")
	for {
		msg, ok := l.msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("agent.consumer_stopped")
			return
		}
		l.handleInbound(msg)
	}
}

// Drain waits up to grace for the in-flight turn to finish, then cancels
// the turn context. Call after the Run consumer has exited.
func (l *Loop) Drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		l.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("agent.drain_timeout", "grace", grace.String())
	}
	l.turnStop()
}

func (l *Loop) handleInbound(msg bus.InboundMessage) {
	sessionKey := msg.SessionKey
	if sessionKey == "" {
		sessionKey = sessions.SessionKey(msg.Channel, msg.ChatID)
	}

	// Sub-agent completion announcements arrive on the synthetic "system"
	// channel; the reply belongs on the channel the task came from.
	replyChannel := msg.Channel
	if origin := msg.Metadata["origin_channel"]; origin != "" {
		replyChannel = origin
	}

	content := msg.Content
	if len(msg.Media) > 0 {
		content += "\n[media attached: " + strings.Join(msg.Media, ", ") + "]"
	}

	text, err := l.turn(l.turnCtx, turnRequest{
		sessionKey: sessionKey,
		message:    content,
		channel:    replyChannel,
		chatID:     msg.ChatID,
	})
	if err != nil {
		slog.Error("agent.turn_failed", "session", sessionKey, "error", err)
		text = fmt.Sprintf("I hit an error handling that: %v", err)
	}

	if text == "" || IsSilentReply(text) {
		slog.Debug("agent.reply_suppressed", "session", sessionKey)
		return
	}
	if replyChannel == "" || replyChannel == "system" {
		slog.Debug("agent.reply_without_channel", "session", sessionKey)
		return
	}
	l.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: replyChannel,
		ChatID:  msg.ChatID,
		Content: text,
	})
}

type turnRequest struct {
	sessionKey    string
	message       string
	channel       string
	chatID        string
	onChunk       func(string)
	maxIterations int // 0 = loop default
}

// turn is the core think-act-observe cycle shared by every entry point.
func (l *Loop) turn(ctx context.Context, req turnRequest) (string, error) {
	l.active.Add(1)
	defer l.active.Done()

	provider, model := l.snapshotProvider()
	maxIter := req.maxIterations
	if maxIter <= 0 {
		maxIter = l.maxIterations
	}

	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session", req.sessionKey),
		attribute.String("channel", req.channel),
		attribute.String("model", model),
	))
	defer span.End()

	ctx = tools.WithToolChannel(ctx, req.channel)
	ctx = tools.WithToolChatID(ctx, req.chatID)
	ctx = tools.WithToolSessionKey(ctx, req.sessionKey)

	l.emit("run.started", map[string]string{"run_id": runID, "session": req.sessionKey})

	history := l.sessions.History(req.sessionKey)
	src := l.gatherSources(req, model)
	messages := BuildMessages(src, history, req.message)

	// New messages are buffered and flushed after the turn so the stored
	// history never shows a half-finished tool exchange.
	pending := []providers.Message{{Role: "user", Content: req.message}}

	var totalUsage providers.Usage
	var finalContent string
	var asyncAck string
	toolRounds := 0
	llmCalls := 0

	for {
		llmCalls++
		resp, err := l.callLLM(ctx, provider, model, messages, req.onChunk, llmCalls)
		if err != nil {
			// The user message stays in the session so a retry is natural,
			// and the failure is recorded so the next turn can see it.
			pending = append(pending, providers.Message{
				Role:    "assistant",
				Content: fmt.Sprintf("[error: the model call failed: %v]", err),
			})
			l.flush(req.sessionKey, pending)
			l.emit("run.failed", map[string]string{"run_id": runID, "error": err.Error()})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("llm call %d: %w", llmCalls, err)
		}
		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = SanitizeAssistantContent(resp.Content)
			break
		}

		if toolRounds >= maxIter {
			slog.Warn("agent.iteration_cap", "session", req.sessionKey, "cap", maxIter)
			finalContent = fmt.Sprintf("I stopped after %d rounds of tool calls without reaching an answer. The partial work is in this conversation; narrow the request or raise max_tool_iterations to let me continue.", maxIter)
			break
		}
		toolRounds++

		// The assistant message carries only the tool_calls array; any
		// interleaved text from the model is reasoning, not an answer.
		assistantMsg := providers.Message{Role: "assistant", ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)
		pending = append(pending, assistantMsg)

		// Declared order, one at a time. Results are data even when they
		// are errors; the loop never aborts on a failed tool.
		for _, tc := range resp.ToolCalls {
			executed := l.executeToolCall(ctx, runID, tc)
			messages = append(messages, executed.msg)
			pending = append(pending, executed.msg)
			if executed.asyncAck != "" {
				asyncAck = executed.asyncAck
			}
		}
	}

	if finalContent == "" {
		if asyncAck != "" {
			finalContent = asyncAck
		} else {
			finalContent = "..."
		}
	}

	pending = append(pending, providers.Message{Role: "assistant", Content: finalContent})
	l.flush(req.sessionKey, pending)

	span.SetAttributes(
		attribute.Int("llm_calls", llmCalls),
		attribute.Int("tool_rounds", toolRounds),
		attribute.Int("prompt_tokens", totalUsage.PromptTokens),
		attribute.Int("completion_tokens", totalUsage.CompletionTokens),
	)
	l.emit("run.completed", map[string]string{"run_id": runID, "session": req.sessionKey})

	l.maybeSummarize(req.sessionKey)

	return finalContent, nil
}

func (l *Loop) callLLM(ctx context.Context, provider providers.Provider, model string, messages []providers.Message, onChunk func(string), call int) (*providers.ChatResponse, error) {
	llmCtx, llmSpan := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.call", call),
		attribute.Int("llm.messages", len(messages)),
	))
	defer llmSpan.End()

	req := providers.ChatRequest{
		Messages: messages,
		Tools:    l.tools.Definitions(),
		Model:    model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   l.maxTokens,
			providers.OptTemperature: l.temperature,
		},
	}

	var resp *providers.ChatResponse
	var err error
	if onChunk != nil {
		resp, err = provider.ChatStream(llmCtx, req, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				onChunk(chunk.Content)
				l.emit("chunk", map[string]string{"content": chunk.Content})
			}
		})
	} else {
		resp, err = provider.Chat(llmCtx, req)
	}

	if err != nil {
		llmSpan.RecordError(err)
		llmSpan.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Usage != nil {
		llmSpan.SetAttributes(
			attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	return resp, nil
}

type executedTool struct {
	msg      providers.Message
	asyncAck string
}

func (l *Loop) executeToolCall(ctx context.Context, runID string, tc providers.ToolCall) executedTool {
	l.emit("tool.call", map[string]string{"run_id": runID, "tool": tc.Name, "id": tc.ID})
	slog.Info("agent.tool_call", "tool", tc.Name, "id", tc.ID)

	toolCtx, toolSpan := tracer.Start(ctx, "tool.exec", trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
	))
	start := time.Now()
	result := l.tools.Execute(toolCtx, tc.Name, tc.Arguments)
	toolSpan.SetAttributes(
		attribute.Int64("tool.duration_ms", time.Since(start).Milliseconds()),
		attribute.Int("tool.result_bytes", len(result.ForLLM)),
		attribute.Bool("tool.is_error", result.IsError),
	)
	if result.IsError {
		toolSpan.SetStatus(codes.Error, truncate(result.ForLLM, 200))
		slog.Warn("agent.tool_error", "tool", tc.Name, "error", truncate(result.ForLLM, 200))
	}
	toolSpan.End()

	l.emit("tool.result", map[string]interface{}{
		"run_id": runID, "tool": tc.Name, "id": tc.ID, "is_error": result.IsError,
	})

	out := executedTool{msg: providers.Message{
		Role:       "tool",
		Content:    result.ForLLM,
		ToolCallID: tc.ID,
	}}
	if result.Async && result.ForUser != "" {
		out.asyncAck = result.ForUser
	}
	return out
}

// gatherSources reads the ambient prompt inputs fresh for this turn. Spawn
// and cron sessions get a minimal prompt: identity and tools, no persona
// files, no skills, no memory dump.
func (l *Loop) gatherSources(req turnRequest, model string) PromptSources {
	src := PromptSources{
		Model:       model,
		Workspace:   l.workspace,
		Now:         time.Now(),
		ToolSummary: l.tools.Summaries(),
		Channel:     req.channel,
		ChatID:      req.chatID,
		SessionKey:  req.sessionKey,
		Summary:     l.sessions.GetSummary(req.sessionKey),
	}

	if sessions.IsSpawnKey(req.sessionKey) || sessions.IsCronKey(req.sessionKey) {
		return src
	}

	src.Guides = bootstrap.LoadGuideFiles(l.workspace)
	if l.skills != nil {
		src.SkillsIndex = l.skills.Index()
	}
	if l.memory != nil {
		src.MemoryContext = l.memory.Context()
	}
	return src
}

// flush appends the buffered turn messages and persists the session.
// Persistence failures are logged, never fatal: the in-memory session is
// intact and the next save may succeed.
func (l *Loop) flush(sessionKey string, msgs []providers.Message) {
	for _, msg := range msgs {
		l.sessions.Append(sessionKey, msg)
	}
	if err := l.sessions.Save(sessionKey); err != nil {
		slog.Warn("agent.session_save_failed", "session", sessionKey, "error", err)
	}
}

func (l *Loop) emit(name string, payload interface{}) {
	if l.events == nil {
		return
	}
	l.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
