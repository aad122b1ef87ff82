package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// blockedNames are globals a script may never read, whatever bindings are
// registered.
var blockedNames = map[string]bool{
	"io":             true,
	"os":             true,
	"debug":          true,
	"package":        true,
	"require":        true,
	"dofile":         true,
	"loadfile":       true,
	"load":           true,
	"loadstring":     true,
	"getmetatable":   true,
	"setmetatable":   true,
	"rawget":         true,
	"rawset":         true,
	"rawequal":       true,
	"collectgarbage": true,
	"_G":             true,
	"newproxy":       true,
	"getfenv":        true,
	"setfenv":        true,
	"module":         true,
	"coroutine":      true,
	"channel":        true,
}

// IsBlocked reports whether name is outside the sandbox.
func IsBlocked(name string) bool { return blockedNames[name] }

// safeGlobals are copied from the VM's base library into the sandbox.
// pcall and xpcall are not among them: each thread gets its own wrappers
// so wait() can tell it is running under a protected call.
var safeGlobals = []string{
	"assert", "error", "ipairs", "next", "pairs", "select",
	"tonumber", "tostring", "type", "unpack", "_VERSION",
	lua.StringLibName, lua.TabLibName, lua.MathLibName,
}

// MaxResultLength bounds the strings string.rep and table.concat may
// build. Both run as a single VM instruction, so the instruction budget
// does not bound them.
const MaxResultLength = 4 << 20

// sandbox is what every thread environment is built from.
type sandbox struct {
	box    *lua.LTable
	pcall  lua.LGFunction
	xpcall lua.LGFunction
}

// openSandbox creates an LState with only base, table, string and math
// loaded and returns it with the curated table that script environments
// fall back to.
func openSandbox() (*lua.LState, *sandbox) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetTop(0)

	sb := &sandbox{
		box:    L.NewTable(),
		pcall:  globalFunc(L, "pcall"),
		xpcall: globalFunc(L, "xpcall"),
	}
	limitLengths(L)
	for _, name := range safeGlobals {
		if v := L.GetGlobal(name); v != lua.LNil {
			sb.box.RawSetString(name, v)
		}
	}

	// String methods ("x"):upper() look up the string metatable, which
	// OpenString points at the library table itself.
	shared := newShield(func(string) {})
	mt := L.NewTable()
	mt.RawSetString("__index", shared.wrap(L, L.GetGlobal(lua.StringLibName), lua.StringLibName))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(lua.LString(""), mt)

	// Strip what OpenBase left so nothing run on the main state can
	// reach it either.
	for name := range blockedNames {
		L.SetGlobal(name, lua.LNil)
	}
	return L, sb
}

func globalFunc(L *lua.LState, name string) lua.LGFunction {
	return L.GetGlobal(name).(*lua.LFunction).GFunction
}

// limitLengths replaces string.rep and table.concat with versions that
// refuse to build a result longer than MaxResultLength.
func limitLengths(L *lua.LState) {
	str := L.GetGlobal(lua.StringLibName).(*lua.LTable)
	rep := str.RawGetString("rep").(*lua.LFunction).GFunction
	str.RawSetString("rep", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		n := L.CheckInt(2)
		if n > 0 && int64(len(s))*int64(n) > MaxResultLength {
			L.RaiseError("string.rep: result longer than %d bytes", MaxResultLength)
			return 0
		}
		return rep(L)
	}))

	tbl := L.GetGlobal(lua.TabLibName).(*lua.LTable)
	concat := tbl.RawGetString("concat").(*lua.LFunction).GFunction
	tbl.RawSetString("concat", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		sep := L.OptString(2, "")
		i := L.OptInt(3, 1)
		j := L.OptInt(4, t.Len())
		total := 0
		for k := i; k <= j; k++ {
			switch v := t.RawGetInt(k).(type) {
			case lua.LString:
				total += len(v)
			case lua.LNumber:
				total += len(v.String())
			default:
				// concat reports the bad element itself.
				return concat(L)
			}
			total += len(sep)
			if total > MaxResultLength {
				L.RaiseError("table.concat: result longer than %d bytes", MaxResultLength)
				return 0
			}
		}
		return concat(L)
	}))
}

// shield hands out read-only proxies of shared tables, one per table, so
// that a script can read the libraries and bindings but never change what
// another script sees.
type shield struct {
	proxies map[*lua.LTable]*lua.LTable
	onWrite func(what string)
}

func newShield(onWrite func(what string)) *shield {
	return &shield{proxies: make(map[*lua.LTable]*lua.LTable), onWrite: onWrite}
}

// wrap returns v unchanged unless it is a table, in which case it returns
// the proxy for it. Tables reached through a proxy are proxied too.
func (s *shield) wrap(L *lua.LState, v lua.LValue, name string) lua.LValue {
	t, ok := v.(*lua.LTable)
	if !ok {
		return v
	}
	if p, ok := s.proxies[t]; ok {
		return p
	}
	p := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		L.Push(s.wrap(L, t.RawGet(key), name+"."+key.String()))
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		what := name + "." + L.Get(2).String()
		s.onWrite(fmt.Sprintf("write to %s", what))
		L.RaiseError("sandbox: %s is read-only", what)
		return 0
	}))
	mt.RawSetString("__len", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(t.Len()))
		return 1
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(p, mt)
	s.proxies[t] = p
	return p
}

// newEnv creates a per-thread global table. Reads that miss the table
// fall through to box, with shared tables behind read-only proxies.
// Blocked names call deny and raise an error in the script.
func newEnv(L *lua.LState, box *lua.LTable, deny func(what string)) *lua.LTable {
	env := L.NewTable()
	sh := newShield(deny)
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		if s, ok := key.(lua.LString); ok && blockedNames[string(s)] {
			deny(fmt.Sprintf("read of %q", string(s)))
			L.RaiseError("sandbox: access to %q is not allowed", string(s))
			return 0
		}
		L.Push(sh.wrap(L, box.RawGet(key), key.String()))
		return 1
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(env, mt)
	return env
}
