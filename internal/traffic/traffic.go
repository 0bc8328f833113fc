package traffic

import (
	"sync"
	"time"
)

// DefaultMaxAge bounds how long outcomes are retained.
const DefaultMaxAge = 5 * time.Minute

// Tracker keeps sliding windows of poll (or call) outcomes. The status server
// derives its degraded state from ErrorRate.
type Tracker struct {
	mu           sync.Mutex
	maxAge       time.Duration
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
	lastSuccess  time.Time
	lastError    string
}

// New creates a Tracker retaining outcomes for maxAge (DefaultMaxAge when <= 0).
// now overrides the time source; nil uses time.Now.
func New(maxAge time.Duration, now func() time.Time) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{maxAge: maxAge, now: now}
}

// RecordSuccess records a successful outcome.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.successTimes = append(t.successTimes, now)
	t.lastSuccess = now
	t.pruneLocked(now)
}

// RecordError records a failed outcome.
func (t *Tracker) RecordError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.errorTimes = append(t.errorTimes, now)
	if err != nil {
		t.lastError = err.Error()
	}
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	successCount := countInWindow(t.successTimes, cutoff)
	return errCount, errCount + successCount
}

// LastSuccess returns the time of the last success, zero if none.
func (t *Tracker) LastSuccess() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSuccess
}

// LastError returns the message of the most recent failure.
func (t *Tracker) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.lastSuccess = time.Time{}
	t.lastError = ""
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
}
