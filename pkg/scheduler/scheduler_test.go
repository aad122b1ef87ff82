package scheduler

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/scripting"
)

type finished struct {
	id  uint64
	err error
}

func newTestScheduler(opts Options) (*Scheduler, *fakeClock, *queueExec, *[]finished) {
	clock := newFakeClock()
	exec := &queueExec{}
	opts.Clock = clock
	s := New(exec, opts)
	var done []finished
	s.SetOnFinish(func(p *PendingCoroutine, err error) {
		done = append(done, finished{p.ID, err})
	})
	return s, clock, exec, &done
}

func TestScheduleWaitClampsDelay(t *testing.T) {
	s, _, _, _ := newTestScheduler(Options{})
	tests := []struct {
		in   float64
		want time.Duration
	}{
		{-5, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{0.05, 100 * time.Millisecond},
		{math.NaN(), 100 * time.Millisecond},
		{2, 2 * time.Second},
		{300, 300 * time.Second},
		{301, 300 * time.Second},
		{1e12, 300 * time.Second},
	}
	for _, tt := range tests {
		id := s.ScheduleWait(newStub(), nil, 1, tt.in)
		if id == 0 {
			t.Fatalf("ScheduleWait(%v) rejected", tt.in)
		}
		p, ok := s.Pending(id)
		if !ok {
			t.Fatalf("entry %d missing", id)
		}
		if p.Delay != tt.want {
			t.Errorf("delay for %v = %v, want %v", tt.in, p.Delay, tt.want)
		}
	}
}

func TestPerOwnerCap(t *testing.T) {
	s, _, _, _ := newTestScheduler(Options{})
	for i := 0; i < MaxPendingPerEntity; i++ {
		if s.ScheduleWait(newStub(), nil, 5, 10) == 0 {
			t.Fatalf("wait %d rejected below the cap", i+1)
		}
	}
	if id := s.ScheduleWait(newStub(), nil, 5, 10); id != 0 {
		t.Errorf("101st wait for one owner = %d, want 0", id)
	}
	if s.PendingForOwner(5) != MaxPendingPerEntity {
		t.Errorf("PendingForOwner = %d", s.PendingForOwner(5))
	}
	if s.ScheduleWait(newStub(), nil, 6, 10) == 0 {
		t.Error("another owner must not be affected by the per-owner cap")
	}
}

func TestGlobalCap(t *testing.T) {
	s, _, _, _ := newTestScheduler(Options{})
	for i := 0; i < MaxPendingCoroutines; i++ {
		owner := gamedb.DBRef(i / MaxPendingPerEntity)
		if s.ScheduleWait(newStub(), nil, owner, 10) == 0 {
			t.Fatalf("wait %d rejected below the cap", i+1)
		}
	}
	if id := s.ScheduleWait(newStub(), nil, 99999, 10); id != 0 {
		t.Errorf("10001st wait = %d, want 0", id)
	}
	if s.PendingCount() != MaxPendingCoroutines {
		t.Errorf("PendingCount = %d", s.PendingCount())
	}
}

func TestResumeCompletesAndRemoves(t *testing.T) {
	s, clock, exec, done := newTestScheduler(Options{})
	co := newStub()
	id := s.ScheduleWait(co, nil, 1, 2)

	clock.Advance(1999 * time.Millisecond)
	if exec.drain() != 0 {
		t.Fatal("resume posted before the delay elapsed")
	}
	clock.Advance(time.Millisecond)
	if exec.queued() != 1 {
		t.Fatalf("queued = %d, want the resume posted to the executor", exec.queued())
	}
	if co.resumes != 0 {
		t.Fatal("timer callback must not resume the coroutine itself")
	}
	exec.drain()

	if co.resumes != 1 {
		t.Errorf("resumes = %d", co.resumes)
	}
	if _, ok := s.Pending(id); ok {
		t.Error("completed entry still pending")
	}
	if len(*done) != 1 || (*done)[0].id != id || (*done)[0].err != nil {
		t.Errorf("finish callbacks = %+v", *done)
	}
	if !co.closed {
		t.Error("finished coroutine was not closed")
	}
}

// A coroutine that waits again keeps its entry: same id, counts unchanged,
// re-armed before ResumeCoroutine returns.
func TestReWaitReArmsSameEntry(t *testing.T) {
	s, clock, exec, done := newTestScheduler(Options{})
	co := newStub(3)
	id := s.ScheduleWait(co, nil, 1, 1)

	clock.Advance(time.Second)
	exec.drain()

	p, ok := s.Pending(id)
	if !ok {
		t.Fatal("entry was finalized although the script waited again")
	}
	if p.Resumes != 1 || p.Delay != 3*time.Second {
		t.Errorf("entry = resumes %d delay %v", p.Resumes, p.Delay)
	}
	if s.PendingCount() != 1 || s.PendingForOwner(1) != 1 {
		t.Errorf("counts changed: total %d owner %d", s.PendingCount(), s.PendingForOwner(1))
	}
	if len(*done) != 0 {
		t.Fatal("finish called for a re-suspended coroutine")
	}

	clock.Advance(3 * time.Second)
	exec.drain()
	if _, ok := s.Pending(id); ok {
		t.Error("entry still pending after completion")
	}
	if len(*done) != 1 {
		t.Errorf("finish callbacks = %d, want 1", len(*done))
	}
}

func TestResumeErrorRemovesWithoutRetry(t *testing.T) {
	s, clock, exec, done := newTestScheduler(Options{})
	co := newStub()
	co.err = errors.New("boom")
	id := s.ScheduleWait(co, nil, 1, 1)

	clock.Advance(time.Second)
	exec.drain()
	clock.Advance(time.Hour)
	exec.drain()

	if co.resumes != 1 {
		t.Errorf("resumes = %d, want exactly one attempt", co.resumes)
	}
	if _, ok := s.Pending(id); ok {
		t.Error("failed entry still pending")
	}
	if len(*done) != 1 || (*done)[0].err == nil {
		t.Errorf("finish callbacks = %+v", *done)
	}
}

func TestResumeRequiresSuspendedCoroutine(t *testing.T) {
	s, _, _, done := newTestScheduler(Options{})
	co := newStub()
	id := s.ScheduleWait(co, nil, 1, 1)
	co.suspended = false

	s.ResumeCoroutine(id)
	if co.resumes != 0 {
		t.Error("a coroutine that is not suspended must not be resumed")
	}
	if len(*done) != 1 || !scripting.IsKind((*done)[0].err, scripting.InvalidState) {
		t.Errorf("finish callbacks = %+v, want InvalidState", *done)
	}
	if s.PendingCount() != 0 {
		t.Error("entry not dropped")
	}
}

func TestResumeUnknownIDIsNoop(t *testing.T) {
	s, _, _, done := newTestScheduler(Options{})
	s.ResumeCoroutine(12345)
	if len(*done) != 0 {
		t.Error("unknown id produced a finish callback")
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	s, _, _, _ := newTestScheduler(Options{})
	a := s.ScheduleWait(newStub(), nil, 1, 1)
	s.CancelForEntity(1)
	b := s.ScheduleWait(newStub(), nil, 1, 1)
	if b <= a {
		t.Errorf("ids %d then %d; want monotonic", a, b)
	}
}

func TestCancelForEntity(t *testing.T) {
	s, clock, exec, done := newTestScheduler(Options{})
	var mine []*stubCo
	for i := 0; i < 3; i++ {
		co := newStub()
		mine = append(mine, co)
		s.ScheduleWait(co, nil, 10, 1)
	}
	other := newStub()
	s.ScheduleWait(other, nil, 11, 1)

	if n := s.CancelForEntity(10); n != 3 {
		t.Fatalf("CancelForEntity = %d, want 3", n)
	}
	if s.PendingForOwner(10) != 0 || s.PendingCount() != 1 {
		t.Errorf("after cancel: owner %d total %d", s.PendingForOwner(10), s.PendingCount())
	}

	clock.Advance(time.Second)
	exec.drain()
	for i, co := range mine {
		if co.resumes != 0 {
			t.Errorf("cancelled coroutine %d was resumed", i)
		}
		if !co.closed {
			t.Errorf("cancelled coroutine %d was not closed", i)
		}
	}
	if other.resumes != 1 {
		t.Error("other owner's coroutine must still run")
	}
	if len(*done) != 1 {
		t.Errorf("finish callbacks = %d; cancellation must not report", len(*done))
	}
}

// A timer that already posted its resume before the cancel must still be
// a no-op when the posted work runs.
func TestCancelAfterTimerPosted(t *testing.T) {
	s, clock, exec, _ := newTestScheduler(Options{})
	co := newStub()
	s.ScheduleWait(co, nil, 10, 1)
	clock.Advance(time.Second)
	if exec.queued() != 1 {
		t.Fatal("expected a queued resume")
	}
	s.CancelForEntity(10)
	exec.drain()
	if co.resumes != 0 {
		t.Error("resume ran after cancellation")
	}
}

func TestCancelWhileRunning(t *testing.T) {
	s, clock, exec, done := newTestScheduler(Options{})
	co := newStub(5)
	co.onResume = func() {
		if co.closed {
			t.Error("running coroutine was closed under itself")
		}
		s.CancelForEntity(10)
		if co.closed {
			t.Error("running coroutine was closed under itself")
		}
	}
	s.ScheduleWait(co, nil, 10, 1)
	clock.Advance(time.Second)
	exec.drain()

	if s.PendingCount() != 0 {
		t.Error("cancelled entry was re-armed")
	}
	if !co.closed {
		t.Error("coroutine not closed after its resume returned")
	}
	if len(*done) != 0 {
		t.Error("cancelled entry reported as finished")
	}
}

func TestDestroyedOwnerIsNotResumed(t *testing.T) {
	s, clock, exec, _ := newTestScheduler(Options{})
	w := gamedb.NewWorld()
	room := w.AddRoom("Temple", 3001, 30)
	guard := w.AddActor("guard", 3060, room.ID)
	w.OnDestroy(func(ref gamedb.DBRef) { s.CancelForEntity(ref) })

	co := newStub()
	if s.ScheduleWait(co, nil, guard.ID, 2) == 0 {
		t.Fatal("rejected")
	}
	clock.Advance(time.Second)
	exec.drain()
	if !w.Destroy(guard.ID) {
		t.Fatal("Destroy failed")
	}
	clock.Advance(time.Second)
	exec.drain()

	if co.resumes != 0 {
		t.Error("coroutine resumed after its owner was destroyed")
	}
	if n := s.PendingForOwner(guard.ID); n != 0 {
		t.Errorf("PendingForOwner = %d, want 0", n)
	}
}

func TestShutdownWithTimerInFlight(t *testing.T) {
	s, clock, exec, _ := newTestScheduler(Options{})
	co := newStub()
	s.ScheduleWait(co, nil, 1, 1)
	inflight := clock.active()
	if len(inflight) != 1 {
		t.Fatalf("active timers = %d", len(inflight))
	}

	if n := s.Shutdown(); n != 1 {
		t.Errorf("Shutdown cancelled %d, want 1", n)
	}
	// The callback was already running when Shutdown flipped the flag.
	inflight[0].f()
	if exec.queued() != 0 {
		t.Error("timer callback posted to the executor after shutdown")
	}
	if co.resumes != 0 || !co.closed {
		t.Errorf("coroutine resumes %d closed %v", co.resumes, co.closed)
	}
	if s.ScheduleWait(newStub(), nil, 1, 1) != 0 {
		t.Error("ScheduleWait must be rejected after Shutdown")
	}
	if s.Shutdown() != 0 {
		t.Error("second Shutdown must be a no-op")
	}
}

func TestShutdownWithResumeQueued(t *testing.T) {
	s, clock, exec, done := newTestScheduler(Options{})
	co := newStub()
	s.ScheduleWait(co, nil, 1, 1)
	clock.Advance(time.Second)
	s.Shutdown()
	exec.drain()
	if co.resumes != 0 || len(*done) != 0 {
		t.Error("queued resume touched the coroutine after shutdown")
	}
}

func TestRealThreadWaitAndResume(t *testing.T) {
	e := scripting.NewEngine(scripting.Config{})
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	owner := &gamedb.Actor{ID: 4, Name: "clock"}
	sc, err := scripting.NewContextBuilder(scripting.ActorOwner(owner)).Trigger(1, "tick", nil, nil).Build()
	if err != nil {
		t.Fatal(err)
	}
	th, err := e.CreateThread()
	if err != nil {
		t.Fatal(err)
	}
	code := `vars.n = 1; wait(0.5); vars.n = 2; wait(700); vars.n = 3`
	if err := e.LoadCached(th, code, "trigger:1:test"); err != nil {
		t.Fatal(err)
	}
	st, err := e.Run(th, sc)
	if err != nil || st != scripting.StatusYielded {
		t.Fatalf("Run = %v, %v", st, err)
	}

	s, clock, exec, done := newTestScheduler(Options{})
	id := s.ScheduleWait(th, sc, owner.ID, th.WaitSeconds())
	clock.Advance(500 * time.Millisecond)
	exec.drain()
	p, ok := s.Pending(id)
	if !ok || p.Delay != 300*time.Second {
		t.Fatalf("after first resume: ok %v delay %v", ok, p.Delay)
	}
	clock.Advance(300 * time.Second)
	exec.drain()
	if len(*done) != 1 || (*done)[0].err != nil {
		t.Fatalf("finish = %+v", *done)
	}
	if got := th.Variables()["n"]; got != "3" {
		t.Errorf("vars.n = %q", got)
	}
}
