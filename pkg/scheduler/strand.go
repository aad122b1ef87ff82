package scheduler

import (
	"errors"
	"log"
	"runtime/debug"
	"sync"
)

// ErrStrandStopped is returned by Do once the strand has stopped.
var ErrStrandStopped = errors.New("scheduler: strand stopped")

// Executor runs posted work serially.
type Executor interface {
	// Post queues f. It returns false if f will never run.
	Post(f func()) bool
}

// Strand is the single serialized execution context. Every VM entry point
// and every game-state mutation runs inside a function posted to it.
type Strand struct {
	work     chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
}

// NewStrand creates a strand with the given queue depth. Call Run to
// start executing.
func NewStrand(depth int) *Strand {
	if depth < 1 {
		depth = 1
	}
	return &Strand{
		work: make(chan func(), depth),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Post queues f. It blocks while the queue is full and returns false once
// the strand is stopping.
func (s *Strand) Post(f func()) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.work <- f:
		return true
	case <-s.stop:
		return false
	}
}

// Do runs f on the strand and waits for it to finish. It must not be
// called from the strand itself.
func (s *Strand) Do(f func()) error {
	finished := make(chan struct{})
	if !s.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrStrandStopped
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		// Stopped before f ran.
		select {
		case <-finished:
			return nil
		default:
			return ErrStrandStopped
		}
	}
}

// Run executes posted work until Stop is called. A panic in one function
// is logged and does not stop the strand.
func (s *Strand) Run() {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case f := <-s.work:
			s.exec(f)
		}
	}
}

func (s *Strand) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: PANIC on strand: %v\n%s", r, debug.Stack())
		}
	}()
	f()
}

// Stop ends Run after the function currently executing returns. Work
// still queued is discarded. Stop waits for Run to return if it was
// started.
func (s *Strand) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	started := true
	s.runOnce.Do(func() { started = false })
	if started {
		<-s.done
	} else {
		close(s.done)
	}
}
