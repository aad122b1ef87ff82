// Package scheduler parks suspended scripts on timers and resumes them on
// the strand.
//
// Timer callbacks never touch a coroutine. They only post a resume request
// to the executor; the request looks the entry up again when it runs, so a
// cancelled or finished entry turns the request into a no-op.
package scheduler

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/metrics"
	"github.com/crystal-mush/mushscript/pkg/scripting"
)

const (
	MinDelaySeconds      = 0.1
	MaxDelaySeconds      = 300.0
	MaxPendingCoroutines = 10000
	MaxPendingPerEntity  = 100
)

// Coroutine is a script execution suspended in wait().
// *scripting.Thread implements it.
type Coroutine interface {
	Suspended() bool
	Resume() (scripting.Status, error)
	WaitSeconds() float64
	Close()
}

// PendingCoroutine is one parked coroutine.
type PendingCoroutine struct {
	ID      uint64
	Co      Coroutine
	Context *scripting.ScriptContext
	Owner   gamedb.DBRef
	Delay   time.Duration // clamped delay of the current wait
	Resumes int
	Created time.Time

	timer     Timer
	cancelled bool
}

// FinishFunc is called on the strand when a pending coroutine completes
// (err == nil) or fails. It is not called for cancelled entries.
type FinishFunc func(p *PendingCoroutine, err error)

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	MaxPending  int
	MaxPerOwner int
	Clock       Clock
	Metrics     *metrics.Metrics
}

// Scheduler owns the table of pending coroutines.
type Scheduler struct {
	exec    Executor
	clock   Clock
	metrics *metrics.Metrics

	maxPending  int
	maxPerOwner int

	initialized atomic.Bool

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*PendingCoroutine
	byOwner  map[gamedb.DBRef]map[uint64]struct{}
	running  uint64
	onFinish FinishFunc
}

// New creates an initialized Scheduler that resumes coroutines on exec.
func New(exec Executor, opts Options) *Scheduler {
	if opts.MaxPending <= 0 {
		opts.MaxPending = MaxPendingCoroutines
	}
	if opts.MaxPerOwner <= 0 {
		opts.MaxPerOwner = MaxPendingPerEntity
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	s := &Scheduler{
		exec:        exec,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		maxPending:  opts.MaxPending,
		maxPerOwner: opts.MaxPerOwner,
		pending:     make(map[uint64]*PendingCoroutine),
		byOwner:     make(map[gamedb.DBRef]map[uint64]struct{}),
	}
	s.initialized.Store(true)
	return s
}

// SetOnFinish installs the completion callback.
func (s *Scheduler) SetOnFinish(f FinishFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinish = f
}

// Initialized reports whether the scheduler accepts work.
func (s *Scheduler) Initialized() bool { return s.initialized.Load() }

// ClampDelay limits a requested wait to [MinDelaySeconds, MaxDelaySeconds].
func ClampDelay(seconds float64) float64 {
	if math.IsNaN(seconds) || seconds < MinDelaySeconds {
		return MinDelaySeconds
	}
	if seconds > MaxDelaySeconds {
		return MaxDelaySeconds
	}
	return seconds
}

func toDuration(seconds float64) time.Duration {
	return time.Duration(ClampDelay(seconds) * float64(time.Second))
}

// ScheduleWait parks co for delaySeconds (clamped) on behalf of owner and
// returns its id. It returns 0 when the scheduler is shut down or a cap
// would be exceeded; the caller then owns co and must close it.
func (s *Scheduler) ScheduleWait(co Coroutine, sc *scripting.ScriptContext, owner gamedb.DBRef, delaySeconds float64) uint64 {
	if !s.initialized.Load() {
		log.Printf("scheduler: rejecting wait for %s: not initialized", owner)
		s.metrics.SchedulerEvent("rejected")
		return 0
	}
	if co == nil || !co.Suspended() {
		log.Printf("scheduler: rejecting wait for %s: coroutine is not suspended", owner)
		s.metrics.SchedulerEvent("rejected")
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.maxPending {
		log.Printf("scheduler: rejecting wait for %s: global limit (%d) reached", owner, s.maxPending)
		s.metrics.SchedulerEvent("rejected")
		return 0
	}
	if len(s.byOwner[owner]) >= s.maxPerOwner {
		log.Printf("scheduler: rejecting wait for %s: per-owner limit (%d) reached", owner, s.maxPerOwner)
		s.metrics.SchedulerEvent("rejected")
		return 0
	}

	s.nextID++
	p := &PendingCoroutine{
		ID:      s.nextID,
		Co:      co,
		Context: sc,
		Owner:   owner,
		Delay:   toDuration(delaySeconds),
		Created: s.clock.Now(),
	}
	s.pending[p.ID] = p
	ids := s.byOwner[owner]
	if ids == nil {
		ids = make(map[uint64]struct{})
		s.byOwner[owner] = ids
	}
	ids[p.ID] = struct{}{}
	s.arm(p)

	s.metrics.SchedulerEvent("scheduled")
	s.metrics.SetPending(len(s.pending))
	return p.ID
}

// arm starts p's timer. Caller holds s.mu.
func (s *Scheduler) arm(p *PendingCoroutine) {
	id := p.ID
	p.timer = s.clock.AfterFunc(p.Delay, func() { s.fire(id) })
}

// fire runs on the timer goroutine.
func (s *Scheduler) fire(id uint64) {
	if !s.initialized.Load() {
		return
	}
	if !s.exec.Post(func() { s.ResumeCoroutine(id) }) {
		log.Printf("scheduler: executor refused resume of coroutine %d", id)
	}
}

// ResumeCoroutine resumes the pending coroutine id. It must run on the
// strand. Unknown ids are ignored. The scheduler never reschedules on its
// own: a new wait() records its delay in the coroutine, and only then is
// the same entry re-armed with that delay, before ResumeCoroutine returns.
// Otherwise the entry is removed and the finish callback runs.
func (s *Scheduler) ResumeCoroutine(id uint64) {
	if !s.initialized.Load() {
		return
	}
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		s.running = id
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if !p.Co.Suspended() {
		s.mu.Lock()
		s.running = 0
		s.remove(p)
		s.mu.Unlock()
		err := &scripting.ScriptError{Kind: scripting.InvalidState, Msg: "coroutine is not suspended"}
		log.Printf("scheduler: dropping coroutine %d (owner %s): %v", id, p.Owner, err)
		s.metrics.SchedulerEvent("failed")
		s.finish(p, err)
		return
	}

	p.Resumes++
	s.metrics.SchedulerEvent("resumed")
	st, err := p.Co.Resume()

	s.mu.Lock()
	s.running = 0
	if p.cancelled {
		// Cancelled by something the script did while running.
		s.mu.Unlock()
		p.Co.Close()
		return
	}
	if err == nil && st == scripting.StatusYielded {
		p.Delay = toDuration(p.Co.WaitSeconds())
		s.arm(p)
		s.mu.Unlock()
		return
	}
	s.remove(p)
	s.mu.Unlock()

	if err != nil {
		log.Printf("scheduler: coroutine %d (owner %s) failed: %v", id, p.Owner, err)
		s.metrics.SchedulerEvent("failed")
	} else {
		s.metrics.SchedulerEvent("finished")
	}
	s.finish(p, err)
}

func (s *Scheduler) finish(p *PendingCoroutine, err error) {
	s.mu.Lock()
	f := s.onFinish
	s.mu.Unlock()
	if f != nil {
		f(p, err)
	}
	p.Co.Close()
}

// remove deletes p from the tables. Caller holds s.mu.
func (s *Scheduler) remove(p *PendingCoroutine) {
	delete(s.pending, p.ID)
	if ids := s.byOwner[p.Owner]; ids != nil {
		delete(ids, p.ID)
		if len(ids) == 0 {
			delete(s.byOwner, p.Owner)
		}
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	s.metrics.SetPending(len(s.pending))
}

// CancelForEntity removes every pending coroutine owned by owner, stops
// their timers and closes them. It must be called, on the strand, before
// the owner is destroyed. It returns the number of entries removed.
func (s *Scheduler) CancelForEntity(owner gamedb.DBRef) int {
	s.mu.Lock()
	var victims []*PendingCoroutine
	for id := range s.byOwner[owner] {
		p := s.pending[id]
		victims = append(victims, p)
	}
	for _, p := range victims {
		s.remove(p)
		p.cancelled = true
	}
	running := s.running
	s.mu.Unlock()

	for _, p := range victims {
		if p.ID != running {
			p.Co.Close()
		}
		s.metrics.SchedulerEvent("cancelled")
	}
	if len(victims) > 0 {
		log.Printf("scheduler: cancelled %d coroutine(s) for %s", len(victims), owner)
	}
	return len(victims)
}

// Shutdown stops accepting work and cancels every pending coroutine.
// Timer callbacks already in flight see the cleared flag and return
// without posting. It returns the number of entries cancelled.
func (s *Scheduler) Shutdown() int {
	if !s.initialized.CompareAndSwap(true, false) {
		return 0
	}
	s.mu.Lock()
	victims := make([]*PendingCoroutine, 0, len(s.pending))
	for _, p := range s.pending {
		victims = append(victims, p)
	}
	for _, p := range victims {
		s.remove(p)
		p.cancelled = true
	}
	running := s.running
	s.mu.Unlock()

	for _, p := range victims {
		if p.ID != running {
			p.Co.Close()
		}
	}
	log.Printf("scheduler: shut down, %d pending coroutine(s) cancelled", len(victims))
	return len(victims)
}

// Pending returns a snapshot of the entry with the given id.
func (s *Scheduler) Pending(id uint64) (PendingCoroutine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return PendingCoroutine{}, false
	}
	return *p, true
}

// PendingCount returns the number of pending coroutines.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PendingForOwner returns the number of pending coroutines owned by owner.
func (s *Scheduler) PendingForOwner(owner gamedb.DBRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byOwner[owner])
}
