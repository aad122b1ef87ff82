package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/crystal-mush/mushscript/pkg/scripting"
)

// fakeClock fires timers only when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every due timer callback in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// active returns the timers that have neither fired nor been stopped.
func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// queueExec collects posted work until drain runs it.
type queueExec struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queueExec) Post(f func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, f)
	return true
}

func (q *queueExec) queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

func (q *queueExec) drain() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.fns) == 0 {
			q.mu.Unlock()
			return n
		}
		f := q.fns[0]
		q.fns = q.fns[1:]
		q.mu.Unlock()
		f()
		n++
	}
}

// stubCo is a coroutine that waits once per entry in rewaits after its
// first resume, then completes.
type stubCo struct {
	suspended bool
	wait      float64
	rewaits   []float64
	err       error
	resumes   int
	closed    bool
	onResume  func()
}

func newStub(rewaits ...float64) *stubCo {
	return &stubCo{suspended: true, rewaits: rewaits}
}

func (c *stubCo) Suspended() bool      { return c.suspended && !c.closed }
func (c *stubCo) WaitSeconds() float64 { return c.wait }
func (c *stubCo) Close()               { c.closed = true }

func (c *stubCo) Resume() (scripting.Status, error) {
	c.resumes++
	if c.onResume != nil {
		c.onResume()
	}
	if c.err != nil {
		c.suspended = false
		return 0, c.err
	}
	if len(c.rewaits) > 0 {
		c.wait, c.rewaits = c.rewaits[0], c.rewaits[1:]
		return scripting.StatusYielded, nil
	}
	c.suspended = false
	return scripting.StatusCompleted, nil
}
