// Package bindings holds script capabilities registered with the engine.
package bindings

import (
	"fmt"
	"io"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Output exposes a "mud" table to scripts with send(who, msg) and
// echo(msg). Lines are written to W prefixed with the recipient; the game
// server replaces this with its own connection layer.
type Output struct {
	mu sync.Mutex
	W  io.Writer
}

// NewOutput returns an Output writing to w.
func NewOutput(w io.Writer) *Output { return &Output{W: w} }

func (o *Output) Name() string { return "mud" }

func (o *Output) Install(L *lua.LState) lua.LValue {
	t := L.NewTable()
	t.RawSetString("send", L.NewFunction(o.send))
	t.RawSetString("echo", L.NewFunction(o.echo))
	return t
}

// send(who, msg...) where who is an entity table or a name.
func (o *Output) send(L *lua.LState) int {
	who := recipient(L.Get(1))
	o.write(who, joinArgs(L, 2))
	return 0
}

// echo(msg...) sends to the room of the running script.
func (o *Output) echo(L *lua.LState) int {
	o.write("room", joinArgs(L, 1))
	return 0
}

func (o *Output) write(who, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.W, "[%s] %s\n", who, msg)
}

func recipient(v lua.LValue) string {
	if t, ok := v.(*lua.LTable); ok {
		if name, ok := t.RawGetString("name").(lua.LString); ok {
			return string(name)
		}
		return "?"
	}
	return v.String()
}

func joinArgs(L *lua.LState, from int) string {
	var parts []string
	for i := from; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	return strings.Join(parts, " ")
}
