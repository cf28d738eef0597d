package capture

import (
	"sync"
	"time"
)

// flushTrigger fires once each time the interval since the last flush is exceeded.
// The last-flush time moves at trigger time, not when the transcription finishes.
type flushTrigger struct {
	interval  time.Duration
	lastFlush time.Time

	mu sync.Mutex
}

func newFlushTrigger(interval time.Duration) *flushTrigger {
	return &flushTrigger{interval: interval}
}

// reset starts a new interval at now
func (t *flushTrigger) reset(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFlush = now
}

// check reports whether a flush is due at now and, if so, restarts the interval
func (t *flushTrigger) check(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastFlush) <= t.interval {
		return false
	}

	t.lastFlush = now
	return true
}
