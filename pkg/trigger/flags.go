package trigger

import (
	"fmt"
	"strings"
)

// AttachType says what kind of entity a trigger row is attached to.
// The three types are mutually exclusive per trigger.
type AttachType int

const (
	AttachMob    AttachType = 0
	AttachObject AttachType = 1
	AttachWorld  AttachType = 2
)

func (a AttachType) String() string {
	switch a {
	case AttachMob:
		return "MOB"
	case AttachObject:
		return "OBJECT"
	case AttachWorld:
		return "WORLD"
	default:
		return "UNKNOWN"
	}
}

// ParseAttachType accepts the names used in trigger files ("mob", "obj",
// "object", "world", "room"), case-insensitively.
func ParseAttachType(s string) (AttachType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mob", "mobile":
		return AttachMob, nil
	case "obj", "object":
		return AttachObject, nil
	case "world", "room", "zone", "wld":
		return AttachWorld, nil
	}
	return 0, fmt.Errorf("trigger: unknown attach type %q", s)
}

// Flags is the raw activation bitset stored with a trigger row.
//
// Bit positions are shared between attach types: bit 6 means Greet on a
// mob, Get on an object and Enter on a room. A Flags value is meaningless
// without the AttachType it was stored with.
type Flags uint32

// Has reports whether every bit of f is set.
func (fl Flags) Has(f Flags) bool { return fl&f == f && f != 0 }

// MobFlag is an activation bit interpreted with the mob table.
type MobFlag Flags

// ObjectFlag is an activation bit interpreted with the object table.
type ObjectFlag Flags

// WorldFlag is an activation bit interpreted with the world table.
type WorldFlag Flags

const (
	MobGlobal     MobFlag = 1 << 0
	MobRandom     MobFlag = 1 << 1
	MobCommand    MobFlag = 1 << 2
	MobSpeech     MobFlag = 1 << 3
	MobAct        MobFlag = 1 << 4
	MobDeath      MobFlag = 1 << 5
	MobGreet      MobFlag = 1 << 6
	MobGreetAll   MobFlag = 1 << 7
	MobEntry      MobFlag = 1 << 8
	MobReceive    MobFlag = 1 << 9
	MobFight      MobFlag = 1 << 10
	MobHitPercent MobFlag = 1 << 11
	MobBribe      MobFlag = 1 << 12
	MobLoad       MobFlag = 1 << 13
	MobMemory     MobFlag = 1 << 14
	MobCast       MobFlag = 1 << 15
	MobLeave      MobFlag = 1 << 16
	MobDoor       MobFlag = 1 << 17
	MobTime       MobFlag = 1 << 19
)

const (
	ObjGlobal  ObjectFlag = 1 << 0
	ObjRandom  ObjectFlag = 1 << 1
	ObjCommand ObjectFlag = 1 << 2
	ObjTimer   ObjectFlag = 1 << 5
	ObjGet     ObjectFlag = 1 << 6
	ObjDrop    ObjectFlag = 1 << 7
	ObjGive    ObjectFlag = 1 << 8
	ObjWear    ObjectFlag = 1 << 9
	ObjRemove  ObjectFlag = 1 << 11
	ObjLoad    ObjectFlag = 1 << 13
	ObjCast    ObjectFlag = 1 << 15
	ObjLeave   ObjectFlag = 1 << 16
	ObjConsume ObjectFlag = 1 << 18
	ObjTime    ObjectFlag = 1 << 19
)

const (
	WorldGlobal  WorldFlag = 1 << 0
	WorldRandom  WorldFlag = 1 << 1
	WorldCommand WorldFlag = 1 << 2
	WorldSpeech  WorldFlag = 1 << 3
	WorldReset   WorldFlag = 1 << 5
	WorldEnter   WorldFlag = 1 << 6
	WorldDrop    WorldFlag = 1 << 7
	WorldCast    WorldFlag = 1 << 15
	WorldLeave   WorldFlag = 1 << 16
	WorldDoor    WorldFlag = 1 << 17
	WorldTime    WorldFlag = 1 << 19
)

// Name tables, indexed by bit position. Empty strings are unused bits.
var (
	mobFlagNames = []string{
		"Global", "Random", "Command", "Speech", "Act", "Death", "Greet",
		"Greet-All", "Entry", "Receive", "Fight", "HitPrcnt", "Bribe", "Load",
		"Memory", "Cast", "Leave", "Door", "", "Time",
	}
	objFlagNames = []string{
		"Global", "Random", "Command", "", "", "Timer", "Get", "Drop", "Give",
		"Wear", "", "Remove", "", "Load", "", "Cast", "Leave", "", "Consume",
		"Time",
	}
	worldFlagNames = []string{
		"Global", "Random", "Command", "Speech", "", "Zone Reset", "Enter",
		"Drop", "", "", "", "", "", "", "", "Cast", "Leave", "Door", "", "Time",
	}
)

func namesFor(a AttachType) []string {
	switch a {
	case AttachMob:
		return mobFlagNames
	case AttachObject:
		return objFlagNames
	case AttachWorld:
		return worldFlagNames
	}
	return nil
}

// DecodeFlags renders a bitset with the name table of the given attach
// type. Bits the table does not name come out as UNUSED.
func DecodeFlags(a AttachType, fl Flags) string {
	if fl == 0 {
		return "None"
	}
	table := namesFor(a)
	if table == nil {
		return fmt.Sprintf("UNKNOWN(%#x)", uint32(fl))
	}
	var parts []string
	for bit := 0; bit < 32; bit++ {
		if fl&(1<<bit) == 0 {
			continue
		}
		if bit < len(table) && table[bit] != "" {
			parts = append(parts, table[bit])
		} else {
			parts = append(parts, "UNUSED")
		}
	}
	return strings.Join(parts, " ")
}

// ParseFlags is the inverse of DecodeFlags for one attach type. Names are
// matched case-insensitively; "-" and "_" are interchangeable.
func ParseFlags(a AttachType, names []string) (Flags, error) {
	table := namesFor(a)
	if table == nil {
		return 0, fmt.Errorf("trigger: unknown attach type %d", int(a))
	}
	var fl Flags
	for _, raw := range names {
		want := normalizeFlagName(raw)
		found := false
		for bit, name := range table {
			if name != "" && normalizeFlagName(name) == want {
				fl |= 1 << bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("trigger: %s has no flag named %q", a, raw)
		}
	}
	return fl, nil
}

func normalizeFlagName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ReplaceAll(s, " ", "-")
}

func (f MobFlag) String() string    { return DecodeFlags(AttachMob, Flags(f)) }
func (f ObjectFlag) String() string { return DecodeFlags(AttachObject, Flags(f)) }
func (f WorldFlag) String() string  { return DecodeFlags(AttachWorld, Flags(f)) }
