// Package scripting hosts the sandboxed Lua VM that trigger scripts run in.
//
// One Engine owns one gopher-lua state. Scripts are compiled once per
// cache key and run on per-invocation threads, each with a private global
// table that falls back to a curated sandbox. All Engine methods except
// CacheStats must be called from the strand.
package scripting

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/metrics"
)

// DefaultMaxInstructions is the per-resume instruction budget.
const DefaultMaxInstructions = 1000000

// Binding adds a named capability to the sandbox.
type Binding interface {
	Name() string
	Install(L *lua.LState) lua.LValue
}

// EntityMarshaler converts a game entity to the value scripts see.
type EntityMarshaler func(L *lua.LState, e gamedb.Entity) lua.LValue

// DefaultMarshaler exposes an entity as {id, name, kind}.
func DefaultMarshaler(L *lua.LState, e gamedb.Entity) lua.LValue {
	t := L.NewTable()
	t.RawSetString("id", lua.LNumber(e.Ref()))
	t.RawSetString("name", lua.LString(e.Label()))
	t.RawSetString("kind", lua.LString(e.Kind().String()))
	return t
}

// Config controls an Engine.
type Config struct {
	MaxInstructions int64
	Marshal         EntityMarshaler
	Metrics         *metrics.Metrics
}

// Engine owns the VM, the sandbox and the bytecode cache.
type Engine struct {
	cfg         Config
	L           *lua.LState
	sb          *sandbox
	cache       *bytecodeCache
	bindings    []Binding
	initialized atomic.Bool
}

// NewEngine creates an Engine. Call Initialize before use.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxInstructions <= 0 {
		cfg.MaxInstructions = DefaultMaxInstructions
	}
	if cfg.Marshal == nil {
		cfg.Marshal = DefaultMarshaler
	}
	return &Engine{cfg: cfg, cache: newBytecodeCache()}
}

// Initialize opens the VM. Calling it again is a no-op.
func (e *Engine) Initialize() error {
	if e.initialized.Load() {
		return nil
	}
	e.L, e.sb = openSandbox()
	for _, b := range e.bindings {
		e.sb.box.RawSetString(b.Name(), b.Install(e.L))
	}
	e.initialized.Store(true)
	log.Printf("scripting: engine initialized (%d bindings, budget %d instructions)",
		len(e.bindings), e.cfg.MaxInstructions)
	return nil
}

// Shutdown clears the bytecode cache and then closes the VM. Threads must
// already be closed. Calling it again is a no-op.
func (e *Engine) Shutdown() {
	if !e.initialized.CompareAndSwap(true, false) {
		return
	}
	e.cache.clear()
	e.sb = nil
	e.L.Close()
	e.L = nil
	log.Printf("scripting: engine shut down")
}

// Initialized reports whether the VM is open.
func (e *Engine) Initialized() bool { return e.initialized.Load() }

// Register adds a binding under its name. Bindings registered before
// Initialize are installed when the VM opens.
func (e *Engine) Register(b Binding) error {
	name := b.Name()
	if name == "" || IsBlocked(name) {
		return newError(SandboxViolation, "", nil, "binding name %q is not allowed", name)
	}
	e.bindings = append(e.bindings, b)
	if e.initialized.Load() {
		e.sb.box.RawSetString(name, b.Install(e.L))
	}
	return nil
}

// CacheStats reports bytecode cache activity.
func (e *Engine) CacheStats() CacheStats { return e.cache.stats() }

// Compile returns the compiled form of code, compiling it at most once
// per key. A compile failure is cached too and returned as is on every
// later call for the same key.
func (e *Engine) Compile(code, key string) (*lua.FunctionProto, error) {
	if !e.initialized.Load() {
		return nil, newError(NotInitialized, key, nil, "compile")
	}
	ent, cached := e.cache.get(code, key)
	switch {
	case ent.err != nil && cached:
		e.cfg.Metrics.CacheLookup("failure")
		return nil, ent.err
	case ent.err != nil:
		e.cfg.Metrics.CacheLookup("miss")
		log.Printf("scripting: %v", ent.err)
		return nil, ent.err
	case cached:
		e.cfg.Metrics.CacheLookup("hit")
	default:
		e.cfg.Metrics.CacheLookup("miss")
	}
	return ent.proto, nil
}

// CreateThread returns a fresh, isolated thread.
func (e *Engine) CreateThread() (*Thread, error) {
	if !e.initialized.Load() {
		return nil, newError(NotInitialized, "", nil, "create thread")
	}
	co, cancel := e.L.NewThread()
	th := &Thread{engine: e, co: co, cancel: cancel}
	th.env = newEnv(co, e.sb.box, th.deny)
	th.env.RawSetString("pcall", co.NewFunction(th.protect(e.sb.pcall)))
	th.env.RawSetString("xpcall", co.NewFunction(th.protect(e.sb.xpcall)))
	th.env.RawSetString("wait", co.NewFunction(func(L *lua.LState) int {
		seconds := float64(L.OptNumber(1, 0))
		if th.protected > 0 {
			// A yield inside pcall unwinds only the protected call.
			th.fault = "wait() called inside pcall or xpcall"
			L.RaiseError("wait() cannot be called inside pcall or xpcall")
			return 0
		}
		th.waitSeconds = seconds
		th.waiting = true
		return L.Yield()
	}))
	return th, nil
}

// LoadCached binds the compiled form of code to th.
func (e *Engine) LoadCached(th *Thread, code, key string) error {
	if th.state != threadNew {
		return newError(InvalidState, key, nil, "thread already has a script")
	}
	proto, err := e.Compile(code, key)
	if err != nil {
		return err
	}
	th.fn = th.co.NewFunctionFromProto(proto)
	th.fn.Env = th.env
	th.key = key
	th.state = threadLoaded
	return nil
}

// Run binds sc into the thread's globals and runs the script until it
// completes or first calls wait().
func (e *Engine) Run(th *Thread, sc *ScriptContext) (Status, error) {
	if !e.initialized.Load() {
		return 0, newError(NotInitialized, th.key, nil, "run")
	}
	if th.state != threadLoaded {
		return 0, newError(InvalidState, th.key, nil, "thread is not ready to run")
	}
	if sc == nil {
		return 0, newError(InvalidState, th.key, nil, "missing script context")
	}
	th.sc = sc
	e.bindContext(th, sc)
	return e.resume(th)
}

// Resume continues a thread suspended in wait().
func (e *Engine) Resume(th *Thread) (Status, error) {
	if !e.initialized.Load() {
		return 0, newError(NotInitialized, th.key, nil, "resume")
	}
	if th.state != threadSuspended || th.co == nil {
		return 0, newError(InvalidState, th.key, nil, "thread is not suspended")
	}
	return e.resume(th)
}

func (e *Engine) resume(th *Thread) (st Status, err error) {
	b := newBudget(e.cfg.MaxInstructions)
	th.co.SetContext(b)
	th.waiting = false

	var (
		rs     lua.ResumeState
		luaErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				rs, luaErr = lua.ResumeError, fmt.Errorf("panic: %v", r)
			}
		}()
		rs, luaErr, _ = e.L.Resume(th.co, th.fn)
	}()
	if th.co != nil {
		th.co.RemoveContext()
	}

	switch {
	case th.violation != "":
		err = newError(SandboxViolation, th.key, luaErr, "%s", th.violation)
	case th.fault != "":
		err = newError(ExecutionFailed, th.key, luaErr, "%s", th.fault)
	case b.Exceeded():
		err = newError(Timeout, th.key, nil, "exceeded %d instructions", e.cfg.MaxInstructions)
	case rs == lua.ResumeError || luaErr != nil:
		err = newError(ExecutionFailed, th.key, luaErr, "runtime error")
	case rs == lua.ResumeYield && !th.waiting:
		err = newError(InvalidState, th.key, nil, "script yielded outside wait()")
	case rs == lua.ResumeYield:
		th.state = threadSuspended
		e.cfg.Metrics.ScriptRun("yielded")
		return StatusYielded, nil
	case th.waiting:
		err = newError(ExecutionFailed, th.key, nil, "script finished while suspended in wait()")
	default:
		th.state = threadDead
		e.cfg.Metrics.ScriptRun("completed")
		return StatusCompleted, nil
	}

	th.state = threadDead
	switch KindOf(err) {
	case Timeout:
		e.cfg.Metrics.ScriptRun("timeout")
	case SandboxViolation:
		e.cfg.Metrics.ScriptRun("sandbox")
	default:
		e.cfg.Metrics.ScriptRun("failed")
	}
	return 0, err
}

// bindContext exposes sc to the script as globals.
func (e *Engine) bindContext(th *Thread, sc *ScriptContext) {
	L, env := th.co, th.env

	env.RawSetString("self", e.entity(L, sc.Owner().Entity()))
	if a := sc.Actor(); a != nil {
		env.RawSetString("actor", e.entity(L, a))
	}
	if t := sc.Target(); t != nil {
		env.RawSetString("target", e.entity(L, t))
	}
	if o := sc.Object(); o != nil {
		env.RawSetString("object", e.entity(L, o))
	}
	if r := sc.Room(); r != nil {
		env.RawSetString("room", e.entity(L, r))
	}
	env.RawSetString("cmd", lua.LString(sc.Command()))
	env.RawSetString("arg", lua.LString(sc.Argument()))
	env.RawSetString("speech", lua.LString(sc.Speech()))
	env.RawSetString("direction", lua.LString(sc.Direction()))
	env.RawSetString("amount", lua.LNumber(sc.Amount()))

	args := L.NewTable()
	for _, a := range sc.Args() {
		args.Append(lua.LString(a))
	}
	env.RawSetString("args", args)

	th.vars = L.NewTable()
	for k, v := range sc.Variables() {
		th.vars.RawSetString(k, lua.LString(v))
	}
	env.RawSetString("vars", th.vars)

	prefix := fmt.Sprintf("[trigger:%d %s]", sc.TriggerID(), sc.TriggerName())
	env.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Printf("%s %s", prefix, strings.Join(parts, " "))
		return 0
	}))
}

func (e *Engine) entity(L *lua.LState, ent gamedb.Entity) lua.LValue {
	if ent == nil {
		return lua.LNil
	}
	return e.cfg.Marshal(L, ent)
}
