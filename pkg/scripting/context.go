package scripting

import (
	"errors"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// OwnerKind tags the active member of Owner.
type OwnerKind int

const (
	OwnerNone OwnerKind = iota
	OwnerActor
	OwnerObject
	OwnerRoom
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerActor:
		return "actor"
	case OwnerObject:
		return "object"
	case OwnerRoom:
		return "room"
	default:
		return "none"
	}
}

// Owner is the entity a script runs as ("self"). It is a closed sum over
// Actor, Object and Room; use Switch to handle every case.
type Owner struct {
	kind   OwnerKind
	actor  *gamedb.Actor
	object *gamedb.Object
	room   *gamedb.Room
}

func ActorOwner(a *gamedb.Actor) Owner   { return Owner{kind: OwnerActor, actor: a} }
func ObjectOwner(o *gamedb.Object) Owner { return Owner{kind: OwnerObject, object: o} }
func RoomOwner(r *gamedb.Room) Owner     { return Owner{kind: OwnerRoom, room: r} }

// Kind returns the active member.
func (o Owner) Kind() OwnerKind { return o.kind }

// IsZero reports whether no owner was set.
func (o Owner) IsZero() bool {
	switch o.kind {
	case OwnerActor:
		return o.actor == nil
	case OwnerObject:
		return o.object == nil
	case OwnerRoom:
		return o.room == nil
	}
	return true
}

// Switch calls exactly one of the handlers, matching the active member.
func (o Owner) Switch(actor func(*gamedb.Actor), object func(*gamedb.Object), room func(*gamedb.Room)) {
	switch o.kind {
	case OwnerActor:
		actor(o.actor)
	case OwnerObject:
		object(o.object)
	case OwnerRoom:
		room(o.room)
	}
}

// Entity returns the owner as a generic entity, or nil.
func (o Owner) Entity() gamedb.Entity {
	if o.IsZero() {
		return nil
	}
	var e gamedb.Entity
	o.Switch(
		func(a *gamedb.Actor) { e = a },
		func(ob *gamedb.Object) { e = ob },
		func(r *gamedb.Room) { e = r },
	)
	return e
}

// Ref returns the owner's reference, or gamedb.Nothing.
func (o Owner) Ref() gamedb.DBRef {
	if e := o.Entity(); e != nil {
		return e.Ref()
	}
	return gamedb.Nothing
}

// ScriptContext is the immutable who/what/where of one script invocation.
// Build one with ContextBuilder.
type ScriptContext struct {
	owner     Owner
	actor     *gamedb.Actor
	target    gamedb.Entity
	object    *gamedb.Object
	room      *gamedb.Room
	command   string
	argument  string
	speech    string
	direction string
	amount    int64

	triggerID   int
	triggerName string
	args        []string
	vars        map[string]string
}

func (c *ScriptContext) Owner() Owner           { return c.owner }
func (c *ScriptContext) Actor() *gamedb.Actor   { return c.actor }
func (c *ScriptContext) Target() gamedb.Entity  { return c.target }
func (c *ScriptContext) Object() *gamedb.Object { return c.object }
func (c *ScriptContext) Room() *gamedb.Room     { return c.room }
func (c *ScriptContext) Command() string        { return c.command }
func (c *ScriptContext) Argument() string       { return c.argument }
func (c *ScriptContext) Speech() string         { return c.speech }
func (c *ScriptContext) Direction() string      { return c.direction }
func (c *ScriptContext) Amount() int64          { return c.amount }
func (c *ScriptContext) TriggerID() int         { return c.triggerID }
func (c *ScriptContext) TriggerName() string    { return c.triggerName }

// Args returns a copy of the trigger's declared arguments.
func (c *ScriptContext) Args() []string { return append([]string(nil), c.args...) }

// Variables returns a copy of the variables snapshot taken at build time.
func (c *ScriptContext) Variables() map[string]string {
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// ErrNoOwner is returned by Build when no owner was set.
var ErrNoOwner = errors.New("scripting: context has no owner")

// ContextBuilder assembles a ScriptContext.
type ContextBuilder struct {
	c ScriptContext
}

// NewContextBuilder starts a context owned by owner.
func NewContextBuilder(owner Owner) *ContextBuilder {
	return &ContextBuilder{c: ScriptContext{owner: owner}}
}

func (b *ContextBuilder) Actor(a *gamedb.Actor) *ContextBuilder   { b.c.actor = a; return b }
func (b *ContextBuilder) Target(e gamedb.Entity) *ContextBuilder  { b.c.target = e; return b }
func (b *ContextBuilder) Object(o *gamedb.Object) *ContextBuilder { b.c.object = o; return b }
func (b *ContextBuilder) Room(r *gamedb.Room) *ContextBuilder     { b.c.room = r; return b }
func (b *ContextBuilder) Command(s string) *ContextBuilder        { b.c.command = s; return b }
func (b *ContextBuilder) Argument(s string) *ContextBuilder       { b.c.argument = s; return b }
func (b *ContextBuilder) Speech(s string) *ContextBuilder         { b.c.speech = s; return b }
func (b *ContextBuilder) Direction(s string) *ContextBuilder      { b.c.direction = s; return b }
func (b *ContextBuilder) Amount(n int64) *ContextBuilder          { b.c.amount = n; return b }

// Trigger records which trigger the context is for.
func (b *ContextBuilder) Trigger(id int, name string, args []string, vars map[string]string) *ContextBuilder {
	b.c.triggerID = id
	b.c.triggerName = name
	b.c.args = append([]string(nil), args...)
	b.c.vars = make(map[string]string, len(vars))
	for k, v := range vars {
		b.c.vars[k] = v
	}
	return b
}

// Build returns the finished context. The builder may be reused; later
// changes do not affect contexts already built.
func (b *ContextBuilder) Build() (*ScriptContext, error) {
	if b.c.owner.IsZero() {
		return nil, ErrNoOwner
	}
	c := b.c
	c.args = append([]string(nil), b.c.args...)
	c.vars = make(map[string]string, len(b.c.vars))
	for k, v := range b.c.vars {
		c.vars[k] = v
	}
	return &c, nil
}
