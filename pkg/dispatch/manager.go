// Package dispatch matches game events to attached triggers and drives
// their execution through the script engine and the coroutine scheduler.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/metrics"
	"github.com/crystal-mush/mushscript/pkg/scheduler"
	"github.com/crystal-mush/mushscript/pkg/scripting"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

// VarStore persists trigger variables between runs and restarts.
type VarStore interface {
	LoadVars(ctx context.Context, triggerID int) (map[string]string, error)
	SaveVars(ctx context.Context, triggerID int, vars map[string]string) error
}

// Report summarizes one dispatch.
type Report struct {
	Matched   int
	Completed int
	Suspended int
	Failed    int
}

func (r *Report) add(o Report) {
	r.Matched += o.Matched
	r.Completed += o.Completed
	r.Suspended += o.Suspended
	r.Failed += o.Failed
}

// Options wires a Manager to its collaborators.
type Options struct {
	Loader    trigger.Loader
	Vars      VarStore // optional
	Engine    *scripting.Engine
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
	// Roll returns a number in [0, 100) for percent-chance triggers.
	Roll func() int
}

// Manager owns the trigger sets and runs them. Fire methods must be
// called on the strand.
type Manager struct {
	loader  trigger.Loader
	vars    VarStore
	engine  *scripting.Engine
	sched   *scheduler.Scheduler
	metrics *metrics.Metrics
	roll    func() int
	closed  atomic.Bool

	mu   sync.Mutex
	mobs map[int]*trigger.Set
	objs map[int]*trigger.Set
	zone map[int]*trigger.Set
	byID map[int]*trigger.TriggerData
}

// New creates a Manager and installs it as the scheduler's finish
// callback so resumed scripts persist their variables.
func New(opts Options) *Manager {
	m := &Manager{
		loader:  opts.Loader,
		vars:    opts.Vars,
		engine:  opts.Engine,
		sched:   opts.Scheduler,
		metrics: opts.Metrics,
		roll:    opts.Roll,
	}
	if m.roll == nil {
		m.roll = func() int { return rand.Intn(100) }
	}
	m.resetCaches()
	if m.sched != nil {
		m.sched.SetOnFinish(m.onFinish)
	}
	return m
}

func (m *Manager) resetCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mobs = make(map[int]*trigger.Set)
	m.objs = make(map[int]*trigger.Set)
	m.zone = make(map[int]*trigger.Set)
	m.byID = make(map[int]*trigger.TriggerData)
}

// Invalidate drops every cached trigger set. Sets are reloaded on the
// next event. Running and pending scripts are not affected.
func (m *Manager) Invalidate() {
	m.resetCaches()
	log.Printf("dispatch: trigger cache invalidated")
}

// set returns the cached set for (attach, id), loading it on first use.
func (m *Manager) set(ctx context.Context, attach trigger.AttachType, id int) (*trigger.Set, error) {
	m.mu.Lock()
	cache := m.cacheFor(attach)
	if s, ok := cache[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	var (
		rows []*trigger.TriggerData
		err  error
	)
	switch attach {
	case trigger.AttachMob:
		rows, err = m.loader.MobTriggers(ctx, id)
	case trigger.AttachObject:
		rows, err = m.loader.ObjectTriggers(ctx, id)
	case trigger.AttachWorld:
		rows, err = m.loader.ZoneTriggers(ctx, id)
	default:
		return nil, fmt.Errorf("dispatch: load set: bad attach type %d", int(attach))
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: load %s %d triggers: %w", attach, id, err)
	}

	s := trigger.NewSet(attach, id)
	for _, row := range rows {
		td, err := m.prepare(ctx, row)
		if err != nil {
			log.Printf("dispatch: skipping trigger %d: %v", row.ID, err)
			continue
		}
		if err := s.Add(td); err != nil {
			log.Printf("dispatch: skipping trigger %d: %v", td.ID, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cache = m.cacheFor(attach)
	if existing, ok := cache[id]; ok {
		return existing, nil
	}
	cache[id] = s
	for _, td := range s.All() {
		m.byID[td.ID] = td
	}
	return s, nil
}

// cacheFor returns the set cache of attach. Caller holds m.mu.
func (m *Manager) cacheFor(attach trigger.AttachType) map[int]*trigger.Set {
	switch attach {
	case trigger.AttachMob:
		return m.mobs
	case trigger.AttachObject:
		return m.objs
	default:
		return m.zone
	}
}

// prepare validates a loaded row and merges its persisted variables.
func (m *Manager) prepare(ctx context.Context, td *trigger.TriggerData) (*trigger.TriggerData, error) {
	if err := td.Validate(); err != nil {
		return nil, err
	}
	td = td.Clone()
	if m.vars == nil {
		return td, nil
	}
	stored, err := m.vars.LoadVars(ctx, td.ID)
	if err != nil {
		log.Printf("dispatch: trigger %d: loading variables: %v", td.ID, err)
		return td, nil
	}
	for k, v := range stored {
		td.Variables[k] = v
	}
	return td, nil
}

// FireMob runs the triggers of actor's prototype that carry f.
func (m *Manager) FireMob(ctx context.Context, actor *gamedb.Actor, f trigger.MobFlag, ev events.Event) Report {
	if actor == nil || !actor.IsNPC {
		return Report{}
	}
	return m.fire(ctx, trigger.AttachMob, actor.Vnum, trigger.Flags(f), mobFilters[f], scripting.ActorOwner(actor), ev)
}

// FireObject runs the triggers of obj's prototype that carry f.
func (m *Manager) FireObject(ctx context.Context, obj *gamedb.Object, f trigger.ObjectFlag, ev events.Event) Report {
	if obj == nil {
		return Report{}
	}
	return m.fire(ctx, trigger.AttachObject, obj.Vnum, trigger.Flags(f), objFilters[f], scripting.ObjectOwner(obj), ev)
}

// FireWorld runs the triggers of room's zone that carry f, with the room
// as owner.
func (m *Manager) FireWorld(ctx context.Context, room *gamedb.Room, f trigger.WorldFlag, ev events.Event) Report {
	if room == nil {
		return Report{}
	}
	if ev.Room == nil {
		ev.Room = room
	}
	return m.fire(ctx, trigger.AttachWorld, room.Zone, trigger.Flags(f), worldFilters[f], scripting.RoomOwner(room), ev)
}

func (m *Manager) fire(ctx context.Context, attach trigger.AttachType, id int, f trigger.Flags, kind filterKind, owner scripting.Owner, ev events.Event) Report {
	var rep Report
	s, err := m.set(ctx, attach, id)
	if err != nil {
		log.Printf("%v", err)
		return rep
	}
	for _, td := range s.Matching(f) {
		if m.closed.Load() {
			break
		}
		if !argsMatch(kind, td, ev, m.roll) {
			continue
		}
		rep.Matched++
		rep.add(m.execute(td, owner, ev))
	}
	return rep
}

// execute runs one trigger. It never panics and never returns an error;
// failures are logged and counted.
func (m *Manager) execute(td *trigger.TriggerData, owner scripting.Owner, ev events.Event) (rep Report) {
	m.metrics.Dispatch(td.AttachType.String())

	var th *scripting.Thread
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: PANIC in trigger %d (%s): %v\n%s", td.ID, td.Name, r, debug.Stack())
			if th != nil {
				th.Close()
			}
			rep = Report{Failed: 1}
		}
	}()

	sc, err := scripting.NewContextBuilder(owner).
		Actor(ev.Actor).
		Target(ev.Target).
		Object(ev.Object).
		Room(ev.Room).
		Command(ev.Command).
		Argument(ev.Argument).
		Speech(ev.Speech).
		Direction(ev.Direction).
		Amount(ev.Amount).
		Trigger(td.ID, td.Name, td.ArgList, m.varsOf(td)).
		Build()
	if err != nil {
		log.Printf("dispatch: trigger %d (%s): %v", td.ID, td.Name, err)
		return Report{Failed: 1}
	}

	th, err = m.engine.CreateThread()
	if err != nil {
		log.Printf("dispatch: trigger %d (%s): %v", td.ID, td.Name, err)
		return Report{Failed: 1}
	}
	if err := m.engine.LoadCached(th, td.Commands, td.CacheKey()); err != nil {
		// Compile failures are logged once by the engine.
		if !scripting.IsKind(err, scripting.CompilationFailed) {
			log.Printf("dispatch: trigger %d (%s): %v", td.ID, td.Name, err)
		}
		th.Close()
		return Report{Failed: 1}
	}

	st, err := m.engine.Run(th, sc)
	if err != nil {
		log.Printf("dispatch: trigger %d (%s) on %s: %v", td.ID, td.Name, owner.Ref(), err)
		th.Close()
		return Report{Failed: 1}
	}
	if st == scripting.StatusCompleted {
		m.persist(td.ID, th.Variables())
		th.Close()
		return Report{Completed: 1}
	}

	if id := m.sched.ScheduleWait(th, sc, owner.Ref(), th.WaitSeconds()); id == 0 {
		log.Printf("dispatch: trigger %d (%s) on %s: wait rejected, script abandoned", td.ID, td.Name, owner.Ref())
		th.Close()
		return Report{Failed: 1}
	}
	return Report{Suspended: 1}
}

func (m *Manager) varsOf(td *trigger.TriggerData) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return td.Variables
}

// persist writes a finished script's variables back to its trigger and
// to the variable store.
func (m *Manager) persist(triggerID int, vars map[string]string) {
	m.mu.Lock()
	if td, ok := m.byID[triggerID]; ok {
		td.Variables = vars
	}
	m.mu.Unlock()

	if m.vars == nil {
		return
	}
	if err := m.vars.SaveVars(context.Background(), triggerID, vars); err != nil {
		log.Printf("dispatch: trigger %d: saving variables: %v", triggerID, err)
	}
}

type variableSource interface {
	Variables() map[string]string
}

// onFinish runs on the strand when a resumed script completes or fails.
func (m *Manager) onFinish(p *scheduler.PendingCoroutine, err error) {
	if p.Context == nil {
		return
	}
	if err != nil {
		log.Printf("dispatch: trigger %d (%s) failed after %d resume(s): %v",
			p.Context.TriggerID(), p.Context.TriggerName(), p.Resumes, err)
		return
	}
	if vs, ok := p.Co.(variableSource); ok {
		m.persist(p.Context.TriggerID(), vs.Variables())
	}
}

// FindTriggerByID returns a trigger by id, from the cache or the loader.
func (m *Manager) FindTriggerByID(ctx context.Context, id int) (*trigger.TriggerData, error) {
	m.mu.Lock()
	td, ok := m.byID[id]
	m.mu.Unlock()
	if ok {
		return td, nil
	}

	td, err := m.loader.Trigger(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dispatch: find trigger %d: %w", id, err)
	}
	td, err = m.prepare(ctx, td)
	if err != nil {
		return nil, fmt.Errorf("dispatch: find trigger %d: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byID[id]; ok {
		return existing, nil
	}
	m.byID[id] = td
	return td, nil
}

// DebugExecuteTrigger runs trigger id as owner, ignoring its flags and
// argument filters.
func (m *Manager) DebugExecuteTrigger(ctx context.Context, id int, owner scripting.Owner, ev events.Event) (Report, error) {
	td, err := m.FindTriggerByID(ctx, id)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Matched: 1}
	rep.add(m.execute(td, owner, ev))
	return rep, nil
}

// EntityDestroyed cancels every pending script owned by ref. It must be
// called synchronously while ref is being destroyed.
func (m *Manager) EntityDestroyed(ref gamedb.DBRef) int {
	return m.sched.CancelForEntity(ref)
}

// Close stops the manager from receiving bus events.
func (m *Manager) Close() { m.closed.Store(true) }

// Closed implements events.Subscriber.
func (m *Manager) Closed() bool { return m.closed.Load() }
