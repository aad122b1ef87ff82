package scripting

import (
	"context"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// Status is the outcome of running or resuming a thread.
type Status int

const (
	StatusCompleted Status = iota + 1
	StatusYielded
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusYielded:
		return "yielded"
	default:
		return "unknown"
	}
}

type threadState int

const (
	threadNew threadState = iota
	threadLoaded
	threadSuspended
	threadDead
)

// Thread is one isolated script execution: its own coroutine, its own
// global table and its own wait primitive. A Thread is used by one
// invocation only and must be driven from the strand.
type Thread struct {
	engine *Engine
	co     *lua.LState
	cancel context.CancelFunc
	env    *lua.LTable
	fn     *lua.LFunction
	key    string
	state  threadState
	sc     *ScriptContext
	vars   *lua.LTable

	waitSeconds float64
	waiting     bool
	violation   string
	fault       string
	protected   int
}

// deny records the first sandbox violation of the run.
func (t *Thread) deny(what string) {
	if t.violation == "" {
		t.violation = what
	}
}

// protect wraps a protected-call primitive so wait() knows it is running
// under one.
func (t *Thread) protect(call lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		t.protected++
		defer func() { t.protected-- }()
		return call(L)
	}
}

// Key returns the cache key of the loaded script.
func (t *Thread) Key() string { return t.key }

// Context returns the context bound by Engine.Run, or nil.
func (t *Thread) Context() *ScriptContext { return t.sc }

// Suspended reports whether the thread is parked in wait().
func (t *Thread) Suspended() bool { return t.state == threadSuspended }

// Dead reports whether the thread finished, failed or was closed.
func (t *Thread) Dead() bool { return t.state == threadDead }

// WaitSeconds returns the delay requested by the last wait() call.
func (t *Thread) WaitSeconds() float64 { return t.waitSeconds }

// Resume continues a suspended thread. See Engine.Resume.
func (t *Thread) Resume() (Status, error) { return t.engine.Resume(t) }

// Close releases the coroutine. It is safe to call more than once.
func (t *Thread) Close() {
	if t.co == nil {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.co.Close()
	t.co = nil
	t.fn = nil
	t.state = threadDead
}

// Variables returns the script's vars table as strings. Keys and values
// that are not strings, numbers or booleans are skipped.
func (t *Thread) Variables() map[string]string {
	out := make(map[string]string)
	if t.vars == nil {
		return out
	}
	t.vars.ForEach(func(k, v lua.LValue) {
		ks, ok := scalarString(k)
		if !ok {
			return
		}
		if vs, ok := scalarString(v); ok {
			out[ks] = vs
		}
	})
	return out
}

func scalarString(v lua.LValue) (string, bool) {
	switch v := v.(type) {
	case lua.LString:
		return string(v), true
	case lua.LNumber:
		return v.String(), true
	case lua.LBool:
		return strconv.FormatBool(bool(v)), true
	}
	return "", false
}
