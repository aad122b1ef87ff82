package dispatch

import (
	"strconv"
	"strings"

	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

type filterKind int

const (
	filterNone    filterKind = iota
	filterCommand            // typed command abbreviates an argument word
	filterSpeech             // speech contains an argument phrase
	filterChance             // first argument is a percent chance
	filterAtLeast            // event amount >= first argument
	filterAtMost             // event amount <= first argument
	filterEqual              // event amount == first argument
)

var mobFilters = map[trigger.MobFlag]filterKind{
	trigger.MobCommand:    filterCommand,
	trigger.MobSpeech:     filterSpeech,
	trigger.MobAct:        filterSpeech,
	trigger.MobRandom:     filterChance,
	trigger.MobGreet:      filterChance,
	trigger.MobGreetAll:   filterChance,
	trigger.MobEntry:      filterChance,
	trigger.MobReceive:    filterChance,
	trigger.MobFight:      filterChance,
	trigger.MobLoad:       filterChance,
	trigger.MobDeath:      filterChance,
	trigger.MobLeave:      filterChance,
	trigger.MobDoor:       filterChance,
	trigger.MobMemory:     filterChance,
	trigger.MobCast:       filterChance,
	trigger.MobBribe:      filterAtLeast,
	trigger.MobHitPercent: filterAtMost,
	trigger.MobTime:       filterEqual,
}

var objFilters = map[trigger.ObjectFlag]filterKind{
	trigger.ObjCommand: filterCommand,
	trigger.ObjRandom:  filterChance,
	trigger.ObjGet:     filterChance,
	trigger.ObjDrop:    filterChance,
	trigger.ObjGive:    filterChance,
	trigger.ObjWear:    filterChance,
	trigger.ObjRemove:  filterChance,
	trigger.ObjLoad:    filterChance,
	trigger.ObjCast:    filterChance,
	trigger.ObjLeave:   filterChance,
	trigger.ObjConsume: filterChance,
	trigger.ObjTime:    filterEqual,
}

var worldFilters = map[trigger.WorldFlag]filterKind{
	trigger.WorldCommand: filterCommand,
	trigger.WorldSpeech:  filterSpeech,
	trigger.WorldRandom:  filterChance,
	trigger.WorldReset:   filterChance,
	trigger.WorldEnter:   filterChance,
	trigger.WorldDrop:    filterChance,
	trigger.WorldCast:    filterChance,
	trigger.WorldLeave:   filterChance,
	trigger.WorldDoor:    filterChance,
	trigger.WorldTime:    filterEqual,
}

// argsMatch applies the argument filter of kind to td for ev. roll returns
// a number in [0, 100).
func argsMatch(kind filterKind, td *trigger.TriggerData, ev events.Event, roll func() int) bool {
	args := td.ArgList
	switch kind {
	case filterCommand:
		return matchCommand(args, ev.Command)
	case filterSpeech:
		return matchSpeech(args, ev.Speech)
	case filterChance:
		n, ok := firstNumber(args)
		if !ok || n >= 100 {
			return true
		}
		return roll() < int(n)
	case filterAtLeast:
		n, ok := firstNumber(args)
		return !ok || ev.Amount >= n
	case filterAtMost:
		n, ok := firstNumber(args)
		return !ok || ev.Amount <= n
	case filterEqual:
		n, ok := firstNumber(args)
		return !ok || ev.Amount == n
	}
	return true
}

func firstNumber(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// matchCommand reports whether cmd abbreviates one of the words in args.
// A "*" argument matches any command.
func matchCommand(args []string, cmd string) bool {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if cmd == "" {
		return false
	}
	for _, a := range args {
		for _, word := range strings.Fields(strings.ToLower(a)) {
			if word == "*" || strings.HasPrefix(word, cmd) {
				return true
			}
		}
	}
	return false
}

// matchSpeech reports whether speech contains one of the phrases in args,
// case-insensitively. No arguments, or a "*" argument, matches anything.
func matchSpeech(args []string, speech string) bool {
	if len(args) == 0 {
		return true
	}
	speech = strings.ToLower(speech)
	for _, a := range args {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "*" || (a != "" && strings.Contains(speech, a)) {
			return true
		}
	}
	return false
}
