package gamedb

import (
	"sort"
	"sync"
)

// DestroyHook runs synchronously while an entity is being destroyed,
// before it leaves the world.
type DestroyHook func(ref DBRef)

// World holds the live entities the scripting runtime can reference.
type World struct {
	mu      sync.RWMutex
	Actors  map[DBRef]*Actor
	Objects map[DBRef]*Object
	Rooms   map[DBRef]*Room
	next    DBRef
	hooks   []DestroyHook
}

// NewWorld creates an empty World.
func NewWorld() *World {
	return &World{
		Actors:  make(map[DBRef]*Actor),
		Objects: make(map[DBRef]*Object),
		Rooms:   make(map[DBRef]*Room),
	}
}

// OnDestroy registers a hook that runs for every destroyed entity.
func (w *World) OnDestroy(h DestroyHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, h)
}

func (w *World) alloc() DBRef {
	ref := w.next
	w.next++
	return ref
}

// AddRoom creates a room in the given zone.
func (w *World) AddRoom(name string, vnum, zone int) *Room {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := &Room{ID: w.alloc(), Name: name, Vnum: vnum, Zone: zone}
	w.Rooms[r.ID] = r
	return r
}

// AddActor creates a mob instance of prototype vnum in room.
func (w *World) AddActor(name string, vnum int, room DBRef) *Actor {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := &Actor{ID: w.alloc(), Name: name, Vnum: vnum, Room: room, IsNPC: vnum >= 0}
	w.Actors[a.ID] = a
	return a
}

// AddObject creates an object instance of prototype vnum at location.
func (w *World) AddObject(name string, vnum int, location DBRef) *Object {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := &Object{ID: w.alloc(), Name: name, Vnum: vnum, Location: location}
	w.Objects[o.ID] = o
	return o
}

// Lookup returns the entity with the given reference.
func (w *World) Lookup(ref DBRef) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if a, ok := w.Actors[ref]; ok {
		return a, true
	}
	if o, ok := w.Objects[ref]; ok {
		return o, true
	}
	if r, ok := w.Rooms[ref]; ok {
		return r, true
	}
	return nil, false
}

// Destroy removes an entity. Destroy hooks run before removal so that
// anything still pointing at the entity can let go of it first.
func (w *World) Destroy(ref DBRef) bool {
	if _, ok := w.Lookup(ref); !ok {
		return false
	}
	w.mu.RLock()
	hooks := make([]DestroyHook, len(w.hooks))
	copy(hooks, w.hooks)
	w.mu.RUnlock()

	for _, h := range hooks {
		h(ref)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.Actors, ref)
	delete(w.Objects, ref)
	delete(w.Rooms, ref)
	return true
}

// InRoom returns the actors and objects located in room, ordered by
// reference.
func (w *World) InRoom(room DBRef) []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []Entity
	for _, a := range w.Actors {
		if a.Room == room {
			out = append(out, a)
		}
	}
	for _, o := range w.Objects {
		if o.Location == room {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref() < out[j].Ref() })
	return out
}
