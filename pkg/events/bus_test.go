package events

import (
	"sync"
	"testing"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	events   []Event
	isClosed bool
}

func (m *mockSubscriber) Receive(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

func (m *mockSubscriber) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func TestBusEmitToSubject(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	guard := &gamedb.Actor{ID: 1, Name: "guard"}
	bus.Subscribe(guard.ID, sub)

	bus.Emit(Event{Type: EvSpeech, Subject: guard, Speech: "Hello world"})
	bus.Emit(Event{Type: EvSpeech, Subject: &gamedb.Actor{ID: 2}, Speech: "not for the guard"})

	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Speech != "Hello world" || events[0].Type != EvSpeech {
		t.Errorf("unexpected event %+v", events[0])
	}
}

func TestBusGlobalSubscriber(t *testing.T) {
	bus := NewBus()
	global := &mockSubscriber{}
	bus.SubscribeGlobal(global)

	bus.Emit(Event{Type: EvCommand, Subject: &gamedb.Object{ID: 5}, Command: "pull", Argument: "lever"})

	events := global.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 global event, got %d", len(events))
	}
	if events[0].SubjectRef() != 5 {
		t.Errorf("subject = %v", events[0].SubjectRef())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	guard := &gamedb.Actor{ID: 1}

	bus.Subscribe(guard.ID, sub)
	bus.Unsubscribe(guard.ID, sub)
	bus.Emit(Event{Type: EvGreet, Subject: guard})

	if len(sub.Events()) != 0 {
		t.Error("expected no events after unsubscribe")
	}
}

func TestBusClosedSubscriberSkipped(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{isClosed: true}
	guard := &gamedb.Actor{ID: 1}

	bus.Subscribe(guard.ID, sub)
	bus.Emit(Event{Type: EvGreet, Subject: guard})

	if len(sub.Events()) != 0 {
		t.Error("closed subscriber should not receive events")
	}
}

func roomWithTwo(t *testing.T) (*gamedb.World, *gamedb.Room, *gamedb.Actor, *gamedb.Object) {
	t.Helper()
	w := gamedb.NewWorld()
	room := w.AddRoom("Temple", 3001, 30)
	guard := w.AddActor("guard", 3060, room.ID)
	fountain := w.AddObject("fountain", 3135, room.ID)
	w.AddActor("elsewhere", 3061, gamedb.Nothing)
	return w, room, guard, fountain
}

func TestBusEmitToRoom(t *testing.T) {
	w, room, guard, fountain := roomWithTwo(t)
	bus := NewBus()
	global := &mockSubscriber{}
	bus.SubscribeGlobal(global)

	bus.EmitToRoom(w, room, Event{Type: EvSpeech, Speech: "Hello room"})

	var subjects []gamedb.DBRef
	for _, ev := range global.Events() {
		subjects = append(subjects, ev.SubjectRef())
		if ev.Room != room {
			t.Errorf("event for %v has room %v", ev.SubjectRef(), ev.Room)
		}
	}
	want := []gamedb.DBRef{guard.ID, fountain.ID, room.ID}
	if len(subjects) != len(want) {
		t.Fatalf("subjects = %v, want %v", subjects, want)
	}
	for i := range want {
		if subjects[i] != want[i] {
			t.Errorf("subjects = %v, want %v", subjects, want)
		}
	}
}

func TestBusEmitToRoomExcept(t *testing.T) {
	w, room, guard, _ := roomWithTwo(t)
	bus := NewBus()
	sub := &mockSubscriber{}
	bus.Subscribe(guard.ID, sub)
	global := &mockSubscriber{}
	bus.SubscribeGlobal(global)

	bus.EmitToRoomExcept(w, room, guard.ID, Event{Type: EvSpeech, Actor: guard, Speech: "Hello others"})

	if len(sub.Events()) != 0 {
		t.Errorf("excluded guard got %d events", len(sub.Events()))
	}
	if len(global.Events()) != 2 {
		t.Errorf("global got %d events, want fountain and room", len(global.Events()))
	}
}

func TestBusCleanup(t *testing.T) {
	bus := NewBus()
	active := &mockSubscriber{}
	closed := &mockSubscriber{isClosed: true}
	ref := gamedb.DBRef(1)

	bus.Subscribe(ref, active)
	bus.Subscribe(ref, closed)
	bus.SubscribeGlobal(&mockSubscriber{isClosed: true})

	bus.Cleanup()

	if bus.Subscribers(ref) != 1 {
		t.Errorf("expected 1 active subscriber, got %d", bus.Subscribers(ref))
	}
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		t    EventType
		want string
	}{
		{EvSpeech, "speech"},
		{EvGreet, "greet"},
		{EvHitPercent, "hit_percent"},
		{EvDestroyed, "destroyed"},
		{EventType(999), "unknown"},
		{EventType(-1), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
		if tt.want != "unknown" {
			if back, ok := ParseEventType(tt.want); !ok || back != tt.t {
				t.Errorf("ParseEventType(%q) = %v, %v", tt.want, back, ok)
			}
		}
	}
}
