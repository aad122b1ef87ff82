package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mushscript/pkg/scheduler"
	"github.com/crystal-mush/mushscript/pkg/scripting"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

type memLoader struct {
	mu    sync.Mutex
	rows  []*trigger.TriggerData
	loads int
}

func (l *memLoader) attached(a trigger.AttachType, id int) []*trigger.TriggerData {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	var out []*trigger.TriggerData
	for _, r := range l.rows {
		if r.AttachType != a {
			continue
		}
		if got, err := r.AttachedEntityID(); err == nil && got == id {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (l *memLoader) ZoneTriggers(_ context.Context, zone int) ([]*trigger.TriggerData, error) {
	return l.attached(trigger.AttachWorld, zone), nil
}

func (l *memLoader) MobTriggers(_ context.Context, mob int) ([]*trigger.TriggerData, error) {
	return l.attached(trigger.AttachMob, mob), nil
}

func (l *memLoader) ObjectTriggers(_ context.Context, obj int) ([]*trigger.TriggerData, error) {
	return l.attached(trigger.AttachObject, obj), nil
}

func (l *memLoader) Trigger(_ context.Context, id int) (*trigger.TriggerData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rows {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, trigger.ErrNotFound
}

type memVars struct {
	mu    sync.Mutex
	data  map[int]map[string]string
	saves int
}

func (v *memVars) LoadVars(_ context.Context, id int) (map[string]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]string)
	for k, val := range v.data[id] {
		out[k] = val
	}
	return out, nil
}

func (v *memVars) SaveVars(_ context.Context, id int, vars map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.data == nil {
		v.data = make(map[int]map[string]string)
	}
	v.data[id] = vars
	v.saves++
	return nil
}

func (v *memVars) get(id int, key string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.data[id][key]
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) scheduler.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()
	for _, t := range due {
		if !t.stopped {
			t.f()
		}
	}
}

type queueExec struct {
	fns []func()
}

func (q *queueExec) Post(f func()) bool {
	q.fns = append(q.fns, f)
	return true
}

func (q *queueExec) drain() {
	for len(q.fns) > 0 {
		f := q.fns[0]
		q.fns = q.fns[1:]
		f()
	}
}

type harness struct {
	m      *Manager
	engine *scripting.Engine
	sched  *scheduler.Scheduler
	clock  *fakeClock
	exec   *queueExec
	loader *memLoader
	vars   *memVars
	roll   int
}

func newHarness(t *testing.T, opts scheduler.Options, rows ...*trigger.TriggerData) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		exec:   &queueExec{},
		loader: &memLoader{rows: rows},
		vars:   &memVars{},
		roll:   0,
	}
	h.engine = scripting.NewEngine(scripting.Config{MaxInstructions: 20000})
	if err := h.engine.Initialize(); err != nil {
		t.Fatal(err)
	}
	opts.Clock = h.clock
	h.sched = scheduler.New(h.exec, opts)
	h.m = New(Options{
		Loader:    h.loader,
		Vars:      h.vars,
		Engine:    h.engine,
		Scheduler: h.sched,
		Roll:      func() int { return h.roll },
	})
	t.Cleanup(func() {
		h.sched.Shutdown()
		h.engine.Shutdown()
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.exec.drain()
}

func mobTrig(id, vnum int, f trigger.MobFlag, code string, args ...string) *trigger.TriggerData {
	return &trigger.TriggerData{
		ID: id, Name: fmt.Sprintf("mob%d", id), AttachType: trigger.AttachMob,
		Flags: trigger.Flags(f), Commands: code, NumArgs: len(args), ArgList: args,
		MobID: trigger.Attached(vnum),
	}
}

func objTrig(id, vnum int, f trigger.ObjectFlag, code string, args ...string) *trigger.TriggerData {
	return &trigger.TriggerData{
		ID: id, Name: fmt.Sprintf("obj%d", id), AttachType: trigger.AttachObject,
		Flags: trigger.Flags(f), Commands: code, NumArgs: len(args), ArgList: args,
		ObjectID: trigger.Attached(vnum),
	}
}

func worldTrig(id, zone int, f trigger.WorldFlag, code string, args ...string) *trigger.TriggerData {
	return &trigger.TriggerData{
		ID: id, Name: fmt.Sprintf("wld%d", id), AttachType: trigger.AttachWorld,
		Flags: trigger.Flags(f), Commands: code, NumArgs: len(args), ArgList: args,
		ZoneID: trigger.Attached(zone),
	}
}
