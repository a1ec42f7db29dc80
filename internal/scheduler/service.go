// Package scheduler runs cron jobs: a single 1 Hz ticker fires due jobs
// into a caller-supplied handler and persists the job document after every
// state change.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Leavesfly/TinyClaw-sub001/internal/schedule"
)

// Handler executes one due job. It runs on its own goroutine so a slow
// agent turn never stalls the tick; errors are recorded on the job state.
type Handler func(ctx context.Context, job CronJob) error

// Store persists the cron document. Implementations must write the whole
// document atomically.
type Store interface {
	Load() ([]*CronJob, error)
	Save(jobs []*CronJob) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTickInterval overrides the tick period. Defaults to one second.
func WithTickInterval(d time.Duration) Option {
	return func(s *Service) { s.tick = d }
}

// Service owns the job list and its persistence. All mutation goes through
// the read-write lock; state changes are saved before the lock is released.
type Service struct {
	store   Store
	handler Handler
	log     *slog.Logger
	now     func() time.Time
	tick    time.Duration

	mu   sync.RWMutex
	jobs []*CronJob

	running bool
	stop    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// New loads the persisted jobs and primes their next runs. A document that
// fails to load is logged and the service starts empty rather than taking
// the runtime down with it.
func New(store Store, handler Handler, opts ...Option) *Service {
	s := &Service{
		store:   store,
		handler: handler,
		log:     slog.Default(),
		now:     time.Now,
		tick:    time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	jobs, err := store.Load()
	if err != nil {
		s.log.Warn("cron.load_failed", "error", err)
		jobs = nil
	}
	now := s.now()
	for _, job := range jobs {
		if job.Enabled {
			s.prime(job, now)
		}
	}
	s.jobs = jobs
	return s
}

// prime computes a job's next run from now. A one-shot whose time passed
// while the process was down fires immediately if it never ran, otherwise
// the job is disabled.
func (s *Service) prime(job *CronJob, now time.Time) {
	next, ok, err := job.Schedule.Next(now)
	if err == nil && ok {
		job.nextRun = next
		job.State.NextRunAtMs = next.UnixMilli()
		return
	}
	if err == nil && job.Schedule.Kind == schedule.KindAt && job.State.LastRunAtMs == 0 {
		job.nextRun = now
		job.State.NextRunAtMs = now.UnixMilli()
		return
	}
	if err != nil {
		s.log.Warn("cron.job.schedule_invalid", "job", job.ID, "error", err)
	}
	job.Enabled = false
	job.nextRun = time.Time{}
	job.State.NextRunAtMs = 0
}

// Start launches the ticker worker. Safe to call once.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	count := len(s.jobs)
	s.mu.Unlock()

	s.log.Info("cron.started", "jobs", count)
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// Stop halts the ticker and waits for in-flight handlers to return. The
// handlers' context decides how long they keep running after cancel.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.wg.Wait()
	s.log.Info("cron.stopped")
}

// RunOnce fires every currently due job and waits for the handlers to
// finish. It is the manual trigger used by tests; the ticker calls the
// same path without waiting.
func (s *Service) RunOnce(ctx context.Context) int {
	n := s.runDue(ctx)
	s.wg.Wait()
	return n
}

// runDue scans for due jobs under the read lock, then re-checks and fires
// them under the write lock. A firing job is marked in-flight so a later
// tick cannot start it again while its handler still runs.
func (s *Service) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.RLock()
	var due []string
	for _, job := range s.jobs {
		if job.Enabled && !job.inFlight && !job.nextRun.IsZero() && !now.Before(job.nextRun) {
			due = append(due, job.ID)
		}
	}
	s.mu.RUnlock()
	if len(due) == 0 {
		return 0
	}

	fired := 0
	s.mu.Lock()
	for _, id := range due {
		job := s.findLocked(id)
		if job == nil || !job.Enabled || job.inFlight || job.nextRun.IsZero() || now.Before(job.nextRun) {
			continue
		}
		job.inFlight = true
		job.State.LastRunAtMs = now.UnixMilli()
		if job.Schedule.Kind == schedule.KindAt {
			job.Enabled = false
			job.nextRun = time.Time{}
			job.State.NextRunAtMs = 0
		} else {
			s.prime(job, now)
		}
		snap := job.Snapshot()
		fired++
		s.wg.Add(1)
		go s.execute(ctx, snap)
	}
	if fired > 0 {
		if err := s.saveLocked(); err != nil {
			s.log.Warn("cron.save_failed", "error", err)
		}
	}
	s.mu.Unlock()
	return fired
}

func (s *Service) execute(ctx context.Context, job CronJob) {
	defer s.wg.Done()
	s.log.Info("cron.job.fired", "job", job.ID, "name", job.Name)
	start := time.Now()
	err := s.invoke(ctx, job)

	status := "ok"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
		s.log.Warn("cron.job.failed", "job", job.ID, "error", err)
	}
	s.log.Info("cron.job.finished",
		"job", job.ID,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	s.mu.Lock()
	if j := s.findLocked(job.ID); j != nil {
		j.inFlight = false
		j.State.LastStatus = status
		j.State.LastError = errMsg
		if err := s.saveLocked(); err != nil {
			s.log.Warn("cron.save_failed", "error", err)
		}
	}
	s.mu.Unlock()
}

// invoke shields the run loop from a panicking handler.
func (s *Service) invoke(ctx context.Context, job CronJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	if s.handler == nil {
		return nil
	}
	return s.handler(ctx, job)
}

// Add validates the schedule, assigns an id, and persists the new job
// enabled. A schedule with no future run is rejected.
func (s *Service) Add(name string, sched schedule.Schedule, payload Payload) (CronJob, error) {
	if err := sched.Validate(); err != nil {
		return CronJob{}, err
	}
	now := s.now()
	next, ok, err := sched.Next(now)
	if err != nil {
		return CronJob{}, err
	}
	if !ok {
		return CronJob{}, fmt.Errorf("schedule %s has no future run", sched.Describe())
	}

	job := &CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Schedule:    sched,
		Payload:     payload,
		Enabled:     true,
		CreatedAtMs: now.UnixMilli(),
		nextRun:     next,
	}
	job.State.NextRunAtMs = next.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := s.saveLocked(); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return CronJob{}, err
	}
	s.log.Info("cron.job.added", "job", job.ID, "name", name, "schedule", sched.Describe())
	return job.Snapshot(), nil
}

// List returns job snapshots in creation order.
func (s *Service) List() []CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CronJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Snapshot())
	}
	return out
}

// Get returns a snapshot of one job.
func (s *Service) Get(id string) (CronJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job := s.findLocked(id); job != nil {
		return job.Snapshot(), true
	}
	return CronJob{}, false
}

// Enable re-arms a job from the current time.
func (s *Service) Enable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(id)
	if job == nil {
		return fmt.Errorf("cron job %s not found", id)
	}
	if job.Enabled {
		return nil
	}
	job.Enabled = true
	s.prime(job, s.now())
	if !job.Enabled {
		return fmt.Errorf("schedule %s has no future run", job.Schedule.Describe())
	}
	return s.saveLocked()
}

// Disable stops a job from firing. Its history is kept.
func (s *Service) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(id)
	if job == nil {
		return fmt.Errorf("cron job %s not found", id)
	}
	if !job.Enabled {
		return nil
	}
	job.Enabled = false
	job.nextRun = time.Time{}
	job.State.NextRunAtMs = 0
	return s.saveLocked()
}

// Remove deletes a job and persists the document.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.saveLocked(); err != nil {
				return err
			}
			s.log.Info("cron.job.removed", "job", id)
			return nil
		}
	}
	return fmt.Errorf("cron job %s not found", id)
}

func (s *Service) findLocked(id string) *CronJob {
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (s *Service) saveLocked() error {
	return s.store.Save(s.jobs)
}

// FileStore keeps the cron document in a single JSON file, replaced
// atomically on save.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path (conventionally
// <workspace>/cron/jobs.json). The directory is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the document. A missing file is an empty job list.
func (f *FileStore) Load() ([]*CronJob, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return doc.Jobs, nil
}

// Save writes the whole document through a temp file and rename.
func (f *FileStore) Save(jobs []*CronJob) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if jobs == nil {
		jobs = []*CronJob{}
	}
	data, err := json.MarshalIndent(document{Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "jobs-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, f.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
