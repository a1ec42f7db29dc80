package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
)

type stubRunner struct {
	fn func(ctx context.Context, sessionKey, task string) (string, error)
}

func (s *stubRunner) RunSpawn(ctx context.Context, sessionKey, task string) (string, error) {
	return s.fn(ctx, sessionKey, task)
}

func spawnOriginCtx() context.Context {
	ctx := WithToolChannel(context.Background(), "telegram")
	ctx = WithToolChatID(ctx, "42")
	return WithToolSessionKey(ctx, "telegram:42")
}

func TestSpawnAnnouncesResult(t *testing.T) {
	b := bus.New()
	tool := NewSpawnTool(b)
	tool.SetRunner(&stubRunner{fn: func(ctx context.Context, sessionKey, task string) (string, error) {
		if !strings.HasPrefix(sessionKey, "spawn:") {
			t.Errorf("sub-agent session key = %q", sessionKey)
		}
		return "research done", nil
	}})

	res := tool.Execute(spawnOriginCtx(), map[string]interface{}{
		"task":  "research the weather",
		"label": "weather",
	})
	if res.IsError || !res.Async {
		t.Fatalf("spawn result: %+v", res)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no announce arrived on the bus")
	}
	if msg.Channel != "system" {
		t.Fatalf("announce channel = %q", msg.Channel)
	}
	if msg.SessionKey != "telegram:42" {
		t.Fatalf("announce session = %q", msg.SessionKey)
	}
	if msg.Metadata["origin_channel"] != "telegram" {
		t.Fatalf("announce metadata = %v", msg.Metadata)
	}
	if !strings.Contains(msg.Content, "research done") {
		t.Fatalf("announce content = %q", msg.Content)
	}

	tasks := tool.Tasks()
	if len(tasks) != 1 || tasks[0].Status != SpawnStatusCompleted {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestSpawnReportsFailure(t *testing.T) {
	b := bus.New()
	tool := NewSpawnTool(b)
	tool.SetRunner(&stubRunner{fn: func(ctx context.Context, sessionKey, task string) (string, error) {
		return "", errors.New("provider unreachable")
	}})

	if res := tool.Execute(spawnOriginCtx(), map[string]interface{}{"task": "t"}); res.IsError {
		t.Fatalf("spawn: %s", res.ForLLM)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no announce arrived")
	}
	if !strings.Contains(msg.Content, "failed") || !strings.Contains(msg.Content, "provider unreachable") {
		t.Fatalf("announce content = %q", msg.Content)
	}
}

func TestSpawnRequiresTaskAndRunner(t *testing.T) {
	tool := NewSpawnTool(bus.New())
	if res := tool.Execute(context.Background(), map[string]interface{}{}); !res.IsError {
		t.Fatal("empty task accepted")
	}
	if res := tool.Execute(context.Background(), map[string]interface{}{"task": "t"}); !res.IsError {
		t.Fatal("spawn without a runner accepted")
	}
}

func TestSpawnRefusesNesting(t *testing.T) {
	tool := NewSpawnTool(bus.New())
	tool.SetRunner(&stubRunner{fn: func(ctx context.Context, sessionKey, task string) (string, error) {
		return "", nil
	}})
	ctx := WithToolSessionKey(context.Background(), "spawn:abc123")
	if res := tool.Execute(ctx, map[string]interface{}{"task": "t"}); !res.IsError {
		t.Fatal("nested spawn accepted")
	}
}

func TestSpawnConcurrencyCap(t *testing.T) {
	release := make(chan struct{})
	tool := NewSpawnTool(bus.New())
	tool.SetRunner(&stubRunner{fn: func(ctx context.Context, sessionKey, task string) (string, error) {
		<-release
		return "done", nil
	}})
	defer close(release)

	for i := 0; i < defaultMaxSpawns; i++ {
		if res := tool.Execute(spawnOriginCtx(), map[string]interface{}{"task": "t"}); res.IsError {
			t.Fatalf("spawn %d rejected: %s", i, res.ForLLM)
		}
	}
	if res := tool.Execute(spawnOriginCtx(), map[string]interface{}{"task": "t"}); !res.IsError {
		t.Fatal("spawn beyond the concurrency cap accepted")
	}
}
