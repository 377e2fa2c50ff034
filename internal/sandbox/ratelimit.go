package sandbox

import (
	"sync"
	"time"

	"github.com/ankittk/deskpilot/internal/action"
	"github.com/ankittk/deskpilot/internal/clock"
	"github.com/ankittk/deskpilot/internal/policy"
)

// bucketRetention is how long a finished window is kept before it may be dropped.
const bucketRetention = time.Hour

type bucketKey struct {
	kind     action.Kind
	windowMs int64
	index    int64 // floor(nowMs / windowMs)
}

// Ledger counts actions per kind in fixed windows. One Ledger is shared by
// every run that should be jointly rate limited. Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[bucketKey]int
	lastGC  time.Time
}

// NewLedger returns an empty ledger. A nil clock uses the wall clock.
func NewLedger(c clock.Clock) *Ledger {
	if c == nil {
		c = clock.Real()
	}
	return &Ledger{clock: c, buckets: make(map[bucketKey]int)}
}

// Take counts one occurrence of kind in the current window and reports
// whether it fits the quota. The counter is incremented even when the call
// is refused; used is the count before this call.
func (l *Ledger) Take(kind action.Kind, rl policy.RateLimit) (used int, ok bool) {
	if rl.WindowMs <= 0 {
		return 0, true
	}
	now := l.clock.Now()
	key := bucketKey{kind: kind, windowMs: rl.WindowMs, index: now.UnixMilli() / rl.WindowMs}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.gcLocked(now)
	used = l.buckets[key]
	l.buckets[key] = used + 1
	return used, used < rl.Max
}

// Count returns the current window's count for kind without changing it.
func (l *Ledger) Count(kind action.Kind, rl policy.RateLimit) int {
	if rl.WindowMs <= 0 {
		return 0
	}
	key := bucketKey{kind: kind, windowMs: rl.WindowMs, index: l.clock.Now().UnixMilli() / rl.WindowMs}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets[key]
}

// Len returns the number of live buckets.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// gcLocked drops buckets whose window ended more than an hour ago. It runs at
// most once a minute.
func (l *Ledger) gcLocked(now time.Time) {
	if now.Sub(l.lastGC) < time.Minute {
		return
	}
	l.lastGC = now
	cutoff := now.Add(-bucketRetention).UnixMilli()
	for k := range l.buckets {
		if (k.index+1)*k.windowMs < cutoff {
			delete(l.buckets, k)
		}
	}
}
