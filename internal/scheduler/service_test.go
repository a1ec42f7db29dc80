package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/schedule"
)

// testClock is a settable wall clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestService(t *testing.T, handler Handler) (*Service, *testClock, string) {
	t.Helper()
	clock := newTestClock()
	path := filepath.Join(t.TempDir(), "cron", "jobs.json")
	svc := New(NewFileStore(path), handler, WithNow(clock.Now))
	return svc, clock, path
}

func TestAddPersistsAndReloads(t *testing.T) {
	svc, _, path := newTestService(t, nil)

	job, err := svc.Add("morning", schedule.Every(time.Minute), Payload{Message: "good morning"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a job id")
	}
	if !job.Enabled {
		t.Fatal("new job should be enabled")
	}
	if job.State.NextRunAtMs == 0 {
		t.Fatal("enabled job must have nextRunAtMs set")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("jobs.json not written: %v", err)
	}

	reloaded := New(NewFileStore(path), nil, WithNow(newTestClock().Now))
	jobs := reloaded.List()
	if len(jobs) != 1 {
		t.Fatalf("reloaded %d jobs, want 1", len(jobs))
	}
	if jobs[0].ID != job.ID || jobs[0].Payload.Message != "good morning" {
		t.Fatalf("reloaded job mismatch: %+v", jobs[0])
	}
}

func TestEveryJobFiresOnInterval(t *testing.T) {
	var mu sync.Mutex
	var got []string
	handler := func(ctx context.Context, job CronJob) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, job.Payload.Message)
		return nil
	}
	svc, clock, _ := newTestService(t, handler)

	if _, err := svc.Add("tick", schedule.Every(time.Second), Payload{Message: "ping"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if n := svc.RunOnce(context.Background()); n != 0 {
		t.Fatalf("fired %d jobs before interval elapsed", n)
	}

	clock.Advance(1100 * time.Millisecond)
	if n := svc.RunOnce(context.Background()); n != 1 {
		t.Fatalf("fired %d jobs, want 1", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "ping" {
		t.Fatalf("handler runs = %v", got)
	}

	jobs := svc.List()
	if jobs[0].State.LastStatus != "ok" {
		t.Fatalf("lastStatus = %q, want ok", jobs[0].State.LastStatus)
	}
	if jobs[0].State.LastRunAtMs == 0 {
		t.Fatal("lastRunAtMs not recorded")
	}
	if jobs[0].State.NextRunAtMs <= jobs[0].State.LastRunAtMs {
		t.Fatal("nextRunAtMs not advanced past the fire time")
	}
}

func TestAtJobFiresOnceThenDisables(t *testing.T) {
	fired := 0
	handler := func(ctx context.Context, job CronJob) error {
		fired++
		return nil
	}
	svc, clock, _ := newTestService(t, handler)

	at := clock.Now().Add(5 * time.Second)
	if _, err := svc.Add("once", schedule.At(at), Payload{Message: "reminder"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	clock.Advance(6 * time.Second)
	if n := svc.RunOnce(context.Background()); n != 1 {
		t.Fatalf("fired %d, want 1", n)
	}
	clock.Advance(time.Minute)
	if n := svc.RunOnce(context.Background()); n != 0 {
		t.Fatalf("one-shot fired again: %d", n)
	}
	if fired != 1 {
		t.Fatalf("handler ran %d times, want 1", fired)
	}
	job := svc.List()[0]
	if job.Enabled {
		t.Fatal("one-shot still enabled after firing")
	}
}

func TestAddRejectsPastAt(t *testing.T) {
	svc, clock, _ := newTestService(t, nil)
	if _, err := svc.Add("late", schedule.At(clock.Now().Add(-time.Hour)), Payload{}); err == nil {
		t.Fatal("expected error adding a one-shot in the past")
	}
}

func TestMissedOneShotFiresAfterReload(t *testing.T) {
	clock := newTestClock()
	path := filepath.Join(t.TempDir(), "jobs.json")
	store := NewFileStore(path)

	past := clock.Now().Add(-time.Hour)
	seed := &CronJob{
		ID:       "job-1",
		Name:     "missed",
		Schedule: schedule.At(past),
		Payload:  Payload{Message: "overdue"},
		Enabled:  true,
	}
	if err := store.Save([]*CronJob{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fired := 0
	svc := New(store, func(ctx context.Context, job CronJob) error {
		fired++
		return nil
	}, WithNow(clock.Now))

	if n := svc.RunOnce(context.Background()); n != 1 {
		t.Fatalf("missed one-shot did not fire: %d", n)
	}
	if fired != 1 {
		t.Fatalf("handler ran %d times", fired)
	}
}

func TestInFlightJobNotRefired(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	handler := func(ctx context.Context, job CronJob) error {
		close(started)
		<-release
		return nil
	}
	svc, clock, _ := newTestService(t, handler)
	if _, err := svc.Add("slow", schedule.Every(time.Second), Payload{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	clock.Advance(1100 * time.Millisecond)
	if n := svc.runDue(context.Background()); n != 1 {
		t.Fatalf("fired %d, want 1", n)
	}
	<-started

	// The handler is still running; even a due next run must be skipped.
	clock.Advance(2 * time.Second)
	if n := svc.runDue(context.Background()); n != 0 {
		t.Fatalf("in-flight job fired again: %d", n)
	}
	close(release)
	svc.wg.Wait()
}

func TestHandlerErrorRecorded(t *testing.T) {
	handler := func(ctx context.Context, job CronJob) error {
		return errors.New("backend unavailable")
	}
	svc, clock, _ := newTestService(t, handler)
	if _, err := svc.Add("failing", schedule.Every(time.Second), Payload{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	clock.Advance(1100 * time.Millisecond)
	svc.RunOnce(context.Background())

	job := svc.List()[0]
	if job.State.LastStatus != "error" {
		t.Fatalf("lastStatus = %q, want error", job.State.LastStatus)
	}
	if job.State.LastError != "backend unavailable" {
		t.Fatalf("lastError = %q", job.State.LastError)
	}
	if !job.Enabled {
		t.Fatal("a failed run must not disable a recurring job")
	}
}

func TestHandlerPanicRecorded(t *testing.T) {
	handler := func(ctx context.Context, job CronJob) error {
		panic("boom")
	}
	svc, clock, _ := newTestService(t, handler)
	if _, err := svc.Add("panicky", schedule.Every(time.Second), Payload{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	clock.Advance(1100 * time.Millisecond)
	svc.RunOnce(context.Background())

	if st := svc.List()[0].State; st.LastStatus != "error" || st.LastError == "" {
		t.Fatalf("panic not recorded: %+v", st)
	}
}

func TestDisableEnable(t *testing.T) {
	fired := 0
	svc, clock, _ := newTestService(t, func(ctx context.Context, job CronJob) error {
		fired++
		return nil
	})
	job, err := svc.Add("toggle", schedule.Every(time.Second), Payload{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := svc.Disable(job.ID); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if got := svc.List()[0]; got.Enabled || got.State.NextRunAtMs != 0 {
		t.Fatalf("disabled job state: %+v", got)
	}
	clock.Advance(5 * time.Second)
	if n := svc.RunOnce(context.Background()); n != 0 {
		t.Fatalf("disabled job fired: %d", n)
	}

	if err := svc.Enable(job.ID); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	clock.Advance(1100 * time.Millisecond)
	if n := svc.RunOnce(context.Background()); n != 1 {
		t.Fatalf("re-enabled job did not fire: %d", n)
	}
	if fired != 1 {
		t.Fatalf("handler ran %d times, want 1", fired)
	}
}

func TestRemove(t *testing.T) {
	svc, _, path := newTestService(t, nil)
	job, err := svc.Add("gone", schedule.Every(time.Minute), Payload{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := svc.Remove(job.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(svc.List()) != 0 {
		t.Fatal("job still listed after remove")
	}
	reloaded := New(NewFileStore(path), nil)
	if len(reloaded.List()) != 0 {
		t.Fatal("job still on disk after remove")
	}
	if err := svc.Remove(job.ID); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestClockJumpBackwardDoesNotRefire(t *testing.T) {
	fired := 0
	svc, clock, _ := newTestService(t, func(ctx context.Context, job CronJob) error {
		fired++
		return nil
	})
	if _, err := svc.Add("steady", schedule.Every(time.Second), Payload{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	clock.Advance(1100 * time.Millisecond)
	if n := svc.RunOnce(context.Background()); n != 1 {
		t.Fatalf("fired %d, want 1", n)
	}

	// NTP-style step backward: the already-fired job must stay quiet until
	// its interval elapses again.
	clock.Set(clock.Now().Add(-time.Hour))
	if n := svc.RunOnce(context.Background()); n != 0 {
		t.Fatalf("job re-fired after backward clock jump: %d", n)
	}
	if fired != 1 {
		t.Fatalf("handler ran %d times, want 1", fired)
	}
}

func TestCorruptDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := New(NewFileStore(path), nil)
	if len(svc.List()) != 0 {
		t.Fatal("expected empty job list from corrupt document")
	}
}

func TestTickerFiresJobs(t *testing.T) {
	firedCh := make(chan string, 4)
	clock := newTestClock()
	path := filepath.Join(t.TempDir(), "jobs.json")
	svc := New(NewFileStore(path), func(ctx context.Context, job CronJob) error {
		firedCh <- job.Name
		return nil
	}, WithNow(clock.Now), WithTickInterval(5*time.Millisecond))

	if _, err := svc.Add("bg", schedule.Every(time.Second), Payload{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	clock.Advance(1100 * time.Millisecond)
	select {
	case name := <-firedCh:
		if name != "bg" {
			t.Fatalf("fired %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never fired the due job")
	}
}
