package gamedb

import "fmt"

// DBRef is the runtime reference of a live game entity.
type DBRef int

const (
	Nothing DBRef = -1
)

// String formats the reference the way builders type it.
func (r DBRef) String() string {
	return fmt.Sprintf("#%d", int(r))
}

// EntityKind identifies which kind of game entity a reference points at.
type EntityKind int

const (
	KindActor  EntityKind = 0
	KindObject EntityKind = 1
	KindRoom   EntityKind = 2
)

func (k EntityKind) String() string {
	switch k {
	case KindActor:
		return "actor"
	case KindObject:
		return "object"
	case KindRoom:
		return "room"
	default:
		return "unknown"
	}
}

// Entity is the back-reference scripts hold on a game entity.
type Entity interface {
	Ref() DBRef
	Kind() EntityKind
	Label() string
}

// Actor is a mob or player instance.
type Actor struct {
	ID    DBRef
	Name  string
	Vnum  int   // mob prototype number, -1 for players
	Room  DBRef // current location
	IsNPC bool
}

func (a *Actor) Ref() DBRef       { return a.ID }
func (a *Actor) Kind() EntityKind { return KindActor }
func (a *Actor) Label() string    { return a.Name }

// Object is an item instance.
type Object struct {
	ID       DBRef
	Name     string
	Vnum     int   // object prototype number
	Location DBRef // room, carrier or container
}

func (o *Object) Ref() DBRef       { return o.ID }
func (o *Object) Kind() EntityKind { return KindObject }
func (o *Object) Label() string    { return o.Name }

// Room is a location; rooms belong to a zone.
type Room struct {
	ID   DBRef
	Name string
	Vnum int
	Zone int
}

func (r *Room) Ref() DBRef       { return r.ID }
func (r *Room) Kind() EntityKind { return KindRoom }
func (r *Room) Label() string    { return r.Name }
