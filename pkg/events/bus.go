package events

import (
	"sync"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-entity pub/sub event bus with support for global
// subscribers. Game code emits events about a subject; the trigger
// dispatcher listens globally and anything else can watch one entity.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[gamedb.DBRef][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[gamedb.DBRef][]Subscriber),
	}
}

// Subscribe registers a subscriber for events about one entity.
func (b *Bus) Subscribe(ref gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ref] = append(b.subscribers[ref], sub)
}

// Unsubscribe removes a subscriber for one entity.
func (b *Bus) Unsubscribe(ref gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[ref]
	for i, s := range subs {
		if s == sub {
			b.subscribers[ref] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[ref]) == 0 {
		delete(b.subscribers, ref)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit delivers ev to the subscribers of its subject and to all global
// subscribers, synchronously and in registration order.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.SubjectRef()]
	globals := b.global
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
	for _, s := range globals {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// EmitTo sends ev with subject overridden.
func (b *Bus) EmitTo(subject gamedb.Entity, ev Event) {
	ev.Subject = subject
	b.Emit(ev)
}

// EmitToRoom emits one copy of ev for every actor and object in room, each
// with itself as subject, and then one for the room itself.
func (b *Bus) EmitToRoom(w *gamedb.World, room *gamedb.Room, ev Event) {
	b.EmitToRoomExcept(w, room, gamedb.Nothing, ev)
}

// EmitToRoomExcept is EmitToRoom without the entity except, typically the
// actor who caused the event.
func (b *Bus) EmitToRoomExcept(w *gamedb.World, room *gamedb.Room, except gamedb.DBRef, ev Event) {
	if room == nil {
		return
	}
	ev.Room = room
	for _, ent := range w.InRoom(room.ID) {
		if ent.Ref() == except {
			continue
		}
		b.EmitTo(ent, ev)
	}
	b.EmitTo(room, ev)
}

// Subscribers returns the number of active subscribers for an entity.
func (b *Bus) Subscribers(ref gamedb.DBRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, s := range b.subscribers[ref] {
		if !s.Closed() {
			count++
		}
	}
	return count
}

// Cleanup removes closed subscribers.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ref, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, ref)
		} else {
			b.subscribers[ref] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}
