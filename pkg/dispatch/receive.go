package dispatch

import (
	"context"

	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

var mobEvents = map[events.EventType][]trigger.MobFlag{
	events.EvSpeech:     {trigger.MobSpeech},
	events.EvCommand:    {trigger.MobCommand},
	events.EvGreet:      {trigger.MobGreet, trigger.MobGreetAll},
	events.EvEnter:      {trigger.MobEntry},
	events.EvLeave:      {trigger.MobLeave},
	events.EvDoor:       {trigger.MobDoor},
	events.EvDeath:      {trigger.MobDeath},
	events.EvFight:      {trigger.MobFight},
	events.EvHitPercent: {trigger.MobHitPercent},
	events.EvReceive:    {trigger.MobReceive},
	events.EvBribe:      {trigger.MobBribe},
	events.EvLoad:       {trigger.MobLoad},
	events.EvCast:       {trigger.MobCast},
	events.EvRandom:     {trigger.MobRandom},
	events.EvTime:       {trigger.MobTime},
}

var objEvents = map[events.EventType][]trigger.ObjectFlag{
	events.EvCommand: {trigger.ObjCommand},
	events.EvGet:     {trigger.ObjGet},
	events.EvDrop:    {trigger.ObjDrop},
	events.EvGive:    {trigger.ObjGive},
	events.EvWear:    {trigger.ObjWear},
	events.EvRemove:  {trigger.ObjRemove},
	events.EvLoad:    {trigger.ObjLoad},
	events.EvCast:    {trigger.ObjCast},
	events.EvLeave:   {trigger.ObjLeave},
	events.EvConsume: {trigger.ObjConsume},
	events.EvTimer:   {trigger.ObjTimer},
	events.EvRandom:  {trigger.ObjRandom},
	events.EvTime:    {trigger.ObjTime},
}

var worldEvents = map[events.EventType][]trigger.WorldFlag{
	events.EvSpeech:  {trigger.WorldSpeech},
	events.EvCommand: {trigger.WorldCommand},
	events.EvEnter:   {trigger.WorldEnter},
	events.EvDrop:    {trigger.WorldDrop},
	events.EvLeave:   {trigger.WorldLeave},
	events.EvDoor:    {trigger.WorldDoor},
	events.EvCast:    {trigger.WorldCast},
	events.EvReset:   {trigger.WorldReset},
	events.EvRandom:  {trigger.WorldRandom},
	events.EvTime:    {trigger.WorldTime},
}

// Receive implements events.Subscriber. It must be called on the strand.
// A destroyed subject has its pending scripts cancelled; any other event
// fires the flags its type maps to for the subject's kind.
func (m *Manager) Receive(ev events.Event) {
	if ev.Type == events.EvDestroyed {
		if ref := ev.SubjectRef(); ref != gamedb.Nothing {
			m.EntityDestroyed(ref)
		}
		return
	}
	m.Handle(context.Background(), ev)
}

// Handle fires the triggers ev maps to and returns the combined report.
func (m *Manager) Handle(ctx context.Context, ev events.Event) Report {
	var rep Report
	switch s := ev.Subject.(type) {
	case *gamedb.Actor:
		for _, f := range mobEvents[ev.Type] {
			rep.add(m.FireMob(ctx, s, f, ev))
		}
	case *gamedb.Object:
		for _, f := range objEvents[ev.Type] {
			rep.add(m.FireObject(ctx, s, f, ev))
		}
	case *gamedb.Room:
		for _, f := range worldEvents[ev.Type] {
			rep.add(m.FireWorld(ctx, s, f, ev))
		}
	}
	return rep
}
