package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys bounds the limiter map so rotating source keys cannot
	// exhaust memory.
	maxTrackedKeys = 4096

	// Webhook posts per key: burst of 30, refilling at 30/minute.
	limitBurst  = 30
	limitRefill = 2 * time.Second

	staleAfter = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter rate-limits webhook posts per source key (IP or platform
// id). Safe for concurrent use.
type KeyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func NewKeyedLimiter() *KeyedLimiter {
	return &KeyedLimiter{entries: make(map[string]*limiterEntry)}
}

// Allow reports whether key may proceed, consuming one token if so.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxTrackedKeys {
			l.prune(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(limitRefill), limitBurst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// prune drops stale entries; if everything is fresh it evicts arbitrary
// entries until under the cap. Called with the lock held.
func (l *KeyedLimiter) prune(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) >= staleAfter {
			delete(l.entries, k)
		}
	}
	for len(l.entries) >= maxTrackedKeys {
		for k := range l.entries {
			delete(l.entries, k)
			break
		}
	}
}
