package events

import "github.com/crystal-mush/mushscript/pkg/gamedb"

// EventType classifies what happened in the world.
type EventType int

const (
	EvSpeech     EventType = iota // Someone spoke
	EvCommand                     // A command was typed
	EvGreet                       // An actor arrived where the subject is
	EvEnter                       // An actor entered a room
	EvLeave                       // An actor left
	EvDoor                        // A door was manipulated
	EvDeath                       // The subject died
	EvFight                       // A combat round involving the subject
	EvHitPercent                  // The subject's hit points dropped
	EvReceive                     // The subject was given something
	EvBribe                       // The subject was given money
	EvGet                         // The subject was picked up
	EvDrop                        // The subject was dropped
	EvGive                        // The subject was handed over
	EvWear                        // The subject was worn
	EvRemove                      // The subject was removed
	EvConsume                     // The subject was eaten or quaffed
	EvLoad                        // The subject was loaded into the world
	EvCast                        // A spell was cast at the subject
	EvTimer                       // The subject's timer expired
	EvRandom                      // Periodic random check
	EvReset                       // Zone reset
	EvTime                        // Hour of game time changed
	EvDestroyed                   // The subject is being destroyed
)

var eventNames = [...]string{
	EvSpeech:     "speech",
	EvCommand:    "command",
	EvGreet:      "greet",
	EvEnter:      "enter",
	EvLeave:      "leave",
	EvDoor:       "door",
	EvDeath:      "death",
	EvFight:      "fight",
	EvHitPercent: "hit_percent",
	EvReceive:    "receive",
	EvBribe:      "bribe",
	EvGet:        "get",
	EvDrop:       "drop",
	EvGive:       "give",
	EvWear:       "wear",
	EvRemove:     "remove",
	EvConsume:    "consume",
	EvLoad:       "load",
	EvCast:       "cast",
	EvTimer:      "timer",
	EvRandom:     "random",
	EvReset:      "reset",
	EvTime:       "time",
	EvDestroyed:  "destroyed",
}

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, bool) {
	for i, name := range eventNames {
		if name == s {
			return EventType(i), true
		}
	}
	return 0, false
}

// Event is a game event that flows through the bus. Subject is the entity
// whose triggers should react; the other fields become the script context.
type Event struct {
	Type      EventType
	Subject   gamedb.Entity
	Actor     *gamedb.Actor
	Target    gamedb.Entity
	Object    *gamedb.Object
	Room      *gamedb.Room
	Command   string
	Argument  string
	Speech    string
	Direction string
	Amount    int64
}

// SubjectRef returns the subject's reference, or gamedb.Nothing.
func (ev Event) SubjectRef() gamedb.DBRef {
	if ev.Subject == nil {
		return gamedb.Nothing
	}
	return ev.Subject.Ref()
}
