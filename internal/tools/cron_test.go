package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
)

func newCronTool(t *testing.T) (*CronTool, *scheduler.Service) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	svc := scheduler.New(scheduler.NewFileStore(path), nil)
	return NewCronTool(svc), svc
}

func TestCronToolCreateAndList(t *testing.T) {
	tool, svc := newCronTool(t)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"action":        "create",
		"name":          "standup",
		"message":       "post the standup summary",
		"every_seconds": float64(3600),
	})
	if res.IsError {
		t.Fatalf("create failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Created job") {
		t.Fatalf("unexpected create output: %s", res.ForLLM)
	}

	jobs := svc.List()
	if len(jobs) != 1 {
		t.Fatalf("scheduler has %d jobs, want 1", len(jobs))
	}
	if jobs[0].Payload.Message != "post the standup summary" {
		t.Fatalf("payload = %+v", jobs[0].Payload)
	}

	res = tool.Execute(context.Background(), map[string]interface{}{"action": "list"})
	if res.IsError || !strings.Contains(res.ForLLM, "standup") {
		t.Fatalf("list output: %s", res.ForLLM)
	}
}

func TestCronToolCreateRequiresExactlyOneScheduleForm(t *testing.T) {
	tool, _ := newCronTool(t)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"action":        "create",
		"message":       "m",
		"cron":          "0 9 * * *",
		"every_seconds": float64(60),
	})
	if !res.IsError {
		t.Fatal("two schedule forms accepted")
	}

	res = tool.Execute(context.Background(), map[string]interface{}{
		"action":  "create",
		"message": "m",
	})
	if !res.IsError {
		t.Fatal("no schedule form accepted")
	}
}

func TestCronToolDeliverCapturesOrigin(t *testing.T) {
	tool, svc := newCronTool(t)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"action":        "create",
		"message":       "m",
		"every_seconds": float64(60),
		"deliver":       true,
	})
	if !res.IsError {
		t.Fatal("deliver accepted without an originating chat")
	}

	ctx := WithToolChannel(context.Background(), "telegram")
	ctx = WithToolChatID(ctx, "12345")
	res = tool.Execute(ctx, map[string]interface{}{
		"action":        "create",
		"message":       "m",
		"every_seconds": float64(60),
		"deliver":       true,
	})
	if res.IsError {
		t.Fatalf("create with origin failed: %s", res.ForLLM)
	}
	p := svc.List()[0].Payload
	if !p.Deliver || p.Channel != "telegram" || p.ChatID != "12345" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestCronToolEnableDisableDelete(t *testing.T) {
	tool, svc := newCronTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"action":        "create",
		"message":       "m",
		"every_seconds": float64(60),
	})
	if res.IsError {
		t.Fatalf("create: %s", res.ForLLM)
	}
	id := svc.List()[0].ID

	if res := tool.Execute(context.Background(), map[string]interface{}{"action": "disable", "id": id}); res.IsError {
		t.Fatalf("disable: %s", res.ForLLM)
	}
	if svc.List()[0].Enabled {
		t.Fatal("job still enabled")
	}
	if res := tool.Execute(context.Background(), map[string]interface{}{"action": "enable", "id": id}); res.IsError {
		t.Fatalf("enable: %s", res.ForLLM)
	}
	if !svc.List()[0].Enabled {
		t.Fatal("job still disabled")
	}
	if res := tool.Execute(context.Background(), map[string]interface{}{"action": "delete", "id": id}); res.IsError {
		t.Fatalf("delete: %s", res.ForLLM)
	}
	if len(svc.List()) != 0 {
		t.Fatal("job still present")
	}
	if res := tool.Execute(context.Background(), map[string]interface{}{"action": "delete", "id": id}); !res.IsError {
		t.Fatal("deleting a missing job succeeded")
	}
}

func TestCronToolUnknownAction(t *testing.T) {
	tool, _ := newCronTool(t)
	if res := tool.Execute(context.Background(), map[string]interface{}{"action": "explode"}); !res.IsError {
		t.Fatal("unknown action accepted")
	}
}
