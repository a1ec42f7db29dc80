// Package heartbeat wakes the agent on a fixed interval with a synthetic
// prompt built from the heartbeat notes file, so standing instructions run
// without anyone messaging the agent.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Callback receives the synthetic prompt. The caller routes it into the
// agent loop; an error or panic here never stops the ticker.
type Callback func(ctx context.Context, prompt string) error

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

// Service is the heartbeat daemon.
type Service struct {
	interval  time.Duration
	notesPath string
	logPath   string
	callback  Callback
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	lastRun time.Time
	lastErr string
}

// New builds a heartbeat firing every interval. notesPath is the standing
// instructions file (HEARTBEAT.md); each run is appended to logPath.
func New(interval time.Duration, notesPath, logPath string, cb Callback, opts ...Option) *Service {
	s := &Service{
		interval:  interval,
		notesPath: notesPath,
		logPath:   logPath,
		callback:  cb,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the ticker. A non-positive interval disables the service.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("heartbeat.disabled")
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("heartbeat.started", "interval", s.interval.String())
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop halts the ticker and waits for the loop to exit.
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
	s.log.Info("heartbeat.stopped")
}

// Tick performs one heartbeat cycle. Exported so tests and the CLI can
// fire a beat without waiting for the ticker.
func (s *Service) Tick(ctx context.Context) {
	notes := s.readNotes()
	if !HasActionableContent(notes) {
		// Nothing on the standing agenda; an empty beat would just burn
		// tokens.
		s.log.Debug("heartbeat.skipped", "reason", "no actionable notes")
		return
	}

	now := s.now()
	prompt := BuildPrompt(now, notes)

	err := s.invoke(ctx, prompt)
	s.mu.Lock()
	s.lastRun = now
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("heartbeat.failed", "error", err)
		s.appendLog(now, "error: "+err.Error())
		return
	}
	s.log.Debug("heartbeat.ok")
	s.appendLog(now, "ok")
}

func (s *Service) invoke(ctx context.Context, prompt string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat callback panicked: %v", r)
		}
	}()
	if s.callback == nil {
		return nil
	}
	return s.callback(ctx, prompt)
}

// LastRun returns the previous beat's time and error ("" when it
// succeeded).
func (s *Service) LastRun() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Service) readNotes() string {
	data, err := os.ReadFile(s.notesPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *Service) appendLog(now time.Time, line string) {
	if s.logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", now.UTC().Format(time.RFC3339), line)
}

// HasActionableContent reports whether the notes contain at least one line
// that is worth waking the agent for. Blank lines, headings, HTML comments,
// and empty checkboxes are scaffolding, not agenda; a file holding only those
// skips the beat.
func HasActionableContent(notes string) bool {
	inComment := false
	for _, line := range strings.Split(notes, "\n") {
		trimmed := strings.TrimSpace(line)
		if inComment {
			if strings.Contains(trimmed, "-->") {
				inComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "<!--") {
			if !strings.Contains(trimmed, "-->") {
				inComment = true
			}
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if isEmptyCheckbox(trimmed) {
			continue
		}
		return true
	}
	return false
}

func isEmptyCheckbox(line string) bool {
	for _, marker := range []string{"- [ ]", "* [ ]", "- [x]", "* [x]"} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			return strings.TrimSpace(rest) == ""
		}
	}
	return false
}

// BuildPrompt assembles the synthetic heartbeat message.
func BuildPrompt(now time.Time, notes string) string {
	return fmt.Sprintf("[heartbeat] Current time: %s\n\n%s",
		now.Format("2006-01-02 15:04:05 MST"), notes)
}
