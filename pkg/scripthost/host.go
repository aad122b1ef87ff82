// Package scripthost owns one script runtime: the strand, the engine, the
// scheduler and the trigger dispatcher, created and torn down in order.
package scripthost

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/crystal-mush/mushscript/pkg/config"
	"github.com/crystal-mush/mushscript/pkg/dispatch"
	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/metrics"
	"github.com/crystal-mush/mushscript/pkg/scheduler"
	"github.com/crystal-mush/mushscript/pkg/scripting"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

// ErrClosed is returned once the host has shut down.
var ErrClosed = errors.New("scripthost: closed")

// Options wires a Host. Config and Loader are required.
type Options struct {
	Config   *config.Config
	Loader   trigger.Loader
	Vars     dispatch.VarStore
	World    *gamedb.World
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Clock    scheduler.Clock
	Bindings []scripting.Binding
	Marshal  scripting.EntityMarshaler
	Roll     func() int
}

// Host is the explicit runtime handle.
type Host struct {
	strand  *scheduler.Strand
	engine  *scripting.Engine
	sched   *scheduler.Scheduler
	mgr     *dispatch.Manager
	bus     *events.Bus
	world   *gamedb.World
	metrics *metrics.Metrics

	running  atomic.Bool
	closed   atomic.Bool
	stopOnce sync.Once
}

// New builds and initializes a Host. Call Run or Start to begin
// processing work.
func New(opts Options) (*Host, error) {
	if opts.Config == nil {
		return nil, errors.New("scripthost: missing config")
	}
	if opts.Loader == nil {
		return nil, errors.New("scripthost: missing trigger loader")
	}
	cfg := opts.Config
	h := &Host{
		strand:  scheduler.NewStrand(cfg.StrandDepth),
		bus:     opts.Bus,
		world:   opts.World,
		metrics: opts.Metrics,
	}
	if h.bus == nil {
		h.bus = events.NewBus()
	}

	h.engine = scripting.NewEngine(scripting.Config{
		MaxInstructions: cfg.MaxInstructions,
		Marshal:         opts.Marshal,
		Metrics:         opts.Metrics,
	})
	for _, b := range opts.Bindings {
		if err := h.engine.Register(b); err != nil {
			return nil, err
		}
	}
	if err := h.engine.Initialize(); err != nil {
		return nil, err
	}

	h.sched = scheduler.New(h.strand, scheduler.Options{
		MaxPending:  cfg.MaxPending,
		MaxPerOwner: cfg.MaxPendingPerEntity,
		Clock:       opts.Clock,
		Metrics:     opts.Metrics,
	})
	h.mgr = dispatch.New(dispatch.Options{
		Loader:    opts.Loader,
		Vars:      opts.Vars,
		Engine:    h.engine,
		Scheduler: h.sched,
		Metrics:   opts.Metrics,
		Roll:      opts.Roll,
	})
	h.bus.SubscribeGlobal(h.mgr)
	if h.world != nil {
		h.world.OnDestroy(func(ref gamedb.DBRef) { h.mgr.EntityDestroyed(ref) })
	}
	log.Printf("scripthost: ready (budget %d, pending cap %d, per-entity cap %d)",
		cfg.MaxInstructions, cfg.MaxPending, cfg.MaxPendingPerEntity)
	return h, nil
}

func (h *Host) Engine() *scripting.Engine       { return h.engine }
func (h *Host) Scheduler() *scheduler.Scheduler { return h.sched }
func (h *Host) Manager() *dispatch.Manager      { return h.mgr }
func (h *Host) Bus() *events.Bus                { return h.bus }
func (h *Host) World() *gamedb.World            { return h.world }

// Run executes strand work on the calling goroutine until Shutdown.
func (h *Host) Run() {
	if h.closed.Load() || !h.running.CompareAndSwap(false, true) {
		return
	}
	h.strand.Run()
}

// Start runs the strand on a new goroutine.
func (h *Host) Start() {
	if h.closed.Load() || !h.running.CompareAndSwap(false, true) {
		return
	}
	go h.strand.Run()
}

// Post queues f on the strand.
func (h *Host) Post(f func()) bool {
	if h.closed.Load() {
		return false
	}
	return h.strand.Post(f)
}

// Do runs f on the strand and waits for it. It must not be called from
// the strand.
func (h *Host) Do(f func()) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.running.Load() {
		return errors.New("scripthost: strand is not running")
	}
	return h.strand.Do(f)
}

// Emit delivers ev to the bus on the strand.
func (h *Host) Emit(ev events.Event) bool {
	return h.Post(func() { h.bus.Emit(ev) })
}

// Invalidate drops cached trigger sets. It is safe from any goroutine.
func (h *Host) Invalidate() { h.mgr.Invalidate() }

// Shutdown stops dispatch, cancels every pending coroutine, closes the
// VM and stops the strand, in that order. It is safe to call more than
// once.
func (h *Host) Shutdown() {
	h.stopOnce.Do(func() {
		h.mgr.Close()
		teardown := func() {
			n := h.sched.Shutdown()
			h.engine.Shutdown()
			log.Printf("scripthost: shut down (%d pending cancelled)", n)
		}
		if h.running.Load() {
			if err := h.strand.Do(teardown); err != nil {
				log.Printf("scripthost: teardown on strand failed: %v", err)
				teardown()
			}
		} else {
			teardown()
		}
		h.closed.Store(true)
		h.strand.Stop()
		h.bus.Cleanup()
	})
}

// Closed reports whether Shutdown has run.
func (h *Host) Closed() bool { return h.closed.Load() }
