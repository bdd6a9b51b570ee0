// ABOUTME: Cancellable scheduled tasks for reconnect backoff, auto-mode ticks and settle delays
// ABOUTME: Real scheduler wraps time.AfterFunc; Fake is advanced manually by tests

package timers

import (
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a scheduled task.
type Timer interface {
	// Stop cancels the task. It returns false if the task already ran or was stopped.
	Stop() bool
}

// Scheduler runs f once after d elapses.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

// Real returns a Scheduler backed by the runtime timer wheel.
func Real() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Stop cancels t if it is non-nil. It is the idiom every owner uses when
// clearing a per-purpose timer slot.
func Stop(t Timer) {
	if t != nil {
		t.Stop()
	}
}

// Fake is a Scheduler whose clock only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance, in due order.
type Fake struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*fakeTimer
	delays  []time.Duration
}

type fakeTimer struct {
	f       *Fake
	due     time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewFake returns a Fake scheduler at time zero.
func NewFake() *Fake {
	return &Fake{}
}

// AfterFunc records the task and the requested delay.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := &fakeTimer{f: f, due: f.now + d, seq: f.seq, fn: fn}
	f.pending = append(f.pending, t)
	f.delays = append(f.delays, d)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.f.removeLocked(t)
	return true
}

func (f *Fake) removeLocked(t *fakeTimer) {
	for i, p := range f.pending {
		if p == t {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, firing every task that becomes due.
// Tasks scheduled by fired callbacks also fire if they fall within the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + d
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.due
		next.fired = true
		f.removeLocked(next)
		fn := next.fn
		f.mu.Unlock()

		fn()
	}
}

func (f *Fake) nextDueLocked(limit time.Duration) *fakeTimer {
	if len(f.pending) == 0 {
		return nil
	}
	sort.SliceStable(f.pending, func(i, j int) bool {
		if f.pending[i].due == f.pending[j].due {
			return f.pending[i].seq < f.pending[j].seq
		}
		return f.pending[i].due < f.pending[j].due
	})
	if f.pending[0].due > limit {
		return nil
	}
	return f.pending[0]
}

// Pending returns the number of scheduled tasks that have neither fired nor been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Delays returns every delay passed to AfterFunc, in call order.
func (f *Fake) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.delays))
	copy(out, f.delays)
	return out
}

// NextDelay returns the remaining time until the earliest pending task, and false when none is pending.
func (f *Fake) NextDelay() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.nextDueLocked(1<<62 - 1)
	if next == nil {
		return 0, false
	}
	return next.due - f.now, true
}
