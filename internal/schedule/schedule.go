// Package schedule defines the three schedule kinds for cron jobs and
// computes fire times. It is pure; the scheduler owns tickers and
// persistence.
package schedule

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Kind discriminates the schedule variants.
type Kind string

const (
	KindCron  Kind = "CRON"  // five-field cron expression, wall clock
	KindEvery Kind = "EVERY" // fixed interval
	KindAt    Kind = "AT"    // one-shot absolute time
)

// Schedule is the serialisable schedule of a cron job.
// Wire shape: {kind, expr?, everyMs?, atMs?}.
type Schedule struct {
	Kind    Kind   `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

func Cron(expr string) Schedule {
	return Schedule{Kind: KindCron, Expr: expr}
}

func Every(d time.Duration) Schedule {
	return Schedule{Kind: KindEvery, EveryMs: d.Milliseconds()}
}

func At(t time.Time) Schedule {
	return Schedule{Kind: KindAt, AtMs: t.UnixMilli()}
}

// Validate checks the schedule is well-formed for its kind.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if s.Expr == "" {
			return fmt.Errorf("cron schedule requires an expression")
		}
		if !gronx.New().IsValid(s.Expr) {
			return fmt.Errorf("invalid cron expression %q", s.Expr)
		}
	case KindEvery:
		if s.EveryMs <= 0 {
			return fmt.Errorf("every schedule requires a positive interval")
		}
	case KindAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("at schedule requires a timestamp")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// Next returns the next fire time strictly after now. ok=false means the
// schedule will never fire again (an AT whose time has passed).
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case KindCron:
		next, err := gronx.NextTickAfter(s.Expr, now, false)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("cron next tick: %w", err)
		}
		return next, true, nil
	case KindEvery:
		if s.EveryMs <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule requires a positive interval")
		}
		// now.Add keeps the monotonic reading, so interval arithmetic is
		// immune to wall-clock jumps.
		return now.Add(time.Duration(s.EveryMs) * time.Millisecond), true, nil
	case KindAt:
		at := time.UnixMilli(s.AtMs)
		if at.After(now) {
			return at, true, nil
		}
		return time.Time{}, false, nil
	}
	return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", s.Kind)
}

// Describe renders a short human-readable form for list output.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindCron:
		return fmt.Sprintf("cron %q", s.Expr)
	case KindEvery:
		return fmt.Sprintf("every %s", time.Duration(s.EveryMs)*time.Millisecond)
	case KindAt:
		return fmt.Sprintf("at %s", time.UnixMilli(s.AtMs).Format(time.RFC3339))
	}
	return "unknown"
}
