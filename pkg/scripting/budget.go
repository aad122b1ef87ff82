package scripting

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errBudgetExceeded = errors.New("instruction budget exceeded")

// budget is a context.Context that counts instructions. The gopher-lua
// main loop polls Done once per VM instruction when a context is set, so
// the number of Done calls is the number of instructions executed. Once
// the limit passes, the channel is closed and the VM raises an error on
// its next instruction.
type budget struct {
	limit    int64
	used     atomic.Int64
	done     chan struct{}
	once     sync.Once
	exceeded atomic.Bool
}

func newBudget(limit int64) *budget {
	return &budget{limit: limit, done: make(chan struct{})}
}

func (b *budget) Deadline() (time.Time, bool) { return time.Time{}, false }

func (b *budget) Done() <-chan struct{} {
	if b.used.Add(1) > b.limit {
		b.once.Do(func() {
			b.exceeded.Store(true)
			close(b.done)
		})
	}
	return b.done
}

func (b *budget) Err() error {
	if b.exceeded.Load() {
		return errBudgetExceeded
	}
	return nil
}

func (b *budget) Value(any) any { return nil }

// Exceeded reports whether the script ran out of instructions.
func (b *budget) Exceeded() bool { return b.exceeded.Load() }

// Used returns the number of instructions counted so far.
func (b *budget) Used() int64 { return b.used.Load() }
