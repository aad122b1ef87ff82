package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrNotFound is returned by loaders for unknown trigger ids.
	ErrNotFound = errors.New("trigger: not found")
	// ErrAmbiguousAttachment means the attachment fields do not agree
	// with the attach type.
	ErrAmbiguousAttachment = errors.New("trigger: ambiguous attachment")
)

// AttachID is an optional attachment identifier. Zone and prototype
// numbers start at 0, so presence is tracked separately.
type AttachID struct {
	ID    int
	Valid bool
}

// Attached returns a populated AttachID.
func Attached(id int) AttachID { return AttachID{ID: id, Valid: true} }

// TriggerData is one loaded trigger row.
type TriggerData struct {
	ID         int
	Name       string
	AttachType AttachType
	Flags      Flags
	Commands   string // Lua source
	NumArgs    int
	ArgList    []string
	Variables  map[string]string

	// Exactly one of these is populated, matching AttachType.
	ZoneID   AttachID
	MobID    AttachID
	ObjectID AttachID
}

// AttachedEntityID returns the zone, mob or object number the trigger
// belongs to. The populated field must be the one AttachType names and
// the other two must be empty.
func (t *TriggerData) AttachedEntityID() (int, error) {
	var want, other1, other2 AttachID
	switch t.AttachType {
	case AttachMob:
		want, other1, other2 = t.MobID, t.ObjectID, t.ZoneID
	case AttachObject:
		want, other1, other2 = t.ObjectID, t.MobID, t.ZoneID
	case AttachWorld:
		want, other1, other2 = t.ZoneID, t.MobID, t.ObjectID
	default:
		return 0, fmt.Errorf("%w: trigger %d has attach type %d", ErrAmbiguousAttachment, t.ID, int(t.AttachType))
	}
	if !want.Valid || other1.Valid || other2.Valid {
		return 0, fmt.Errorf("%w: trigger %d is %s but attachment fields disagree", ErrAmbiguousAttachment, t.ID, t.AttachType)
	}
	return want.ID, nil
}

// Validate checks the invariants a loader must uphold.
func (t *TriggerData) Validate() error {
	if _, err := t.AttachedEntityID(); err != nil {
		return err
	}
	if t.NumArgs != len(t.ArgList) {
		return fmt.Errorf("trigger: trigger %d declares %d args but lists %d", t.ID, t.NumArgs, len(t.ArgList))
	}
	return nil
}

// FlagsString decodes Flags with the table of the trigger's own attach type.
func (t *TriggerData) FlagsString() string {
	return DecodeFlags(t.AttachType, t.Flags)
}

// HasMobFlag reports whether a mob trigger carries f.
func (t *TriggerData) HasMobFlag(f MobFlag) bool {
	return t.AttachType == AttachMob && t.Flags.Has(Flags(f))
}

// HasObjectFlag reports whether an object trigger carries f.
func (t *TriggerData) HasObjectFlag(f ObjectFlag) bool {
	return t.AttachType == AttachObject && t.Flags.Has(Flags(f))
}

// HasWorldFlag reports whether a world trigger carries f.
func (t *TriggerData) HasWorldFlag(f WorldFlag) bool {
	return t.AttachType == AttachWorld && t.Flags.Has(Flags(f))
}

// CacheKey identifies the compiled form of this trigger. It changes only
// when the name or the source text changes.
func (t *TriggerData) CacheKey() string {
	return CacheKey(t.ID, t.Name, t.Commands)
}

// CacheKey builds "trigger:<id>:<hex(hash(name + source))>".
func CacheKey(id int, name, source string) string {
	return fmt.Sprintf("trigger:%d:%x", id, xxhash.Sum64String(name+source))
}

// Clone returns a copy that shares nothing mutable with t.
func (t *TriggerData) Clone() *TriggerData {
	c := *t
	c.ArgList = append([]string(nil), t.ArgList...)
	c.Variables = make(map[string]string, len(t.Variables))
	for k, v := range t.Variables {
		c.Variables[k] = v
	}
	return &c
}

// Loader is the data-access collaborator that supplies trigger rows.
type Loader interface {
	ZoneTriggers(ctx context.Context, zone int) ([]*TriggerData, error)
	MobTriggers(ctx context.Context, mob int) ([]*TriggerData, error)
	ObjectTriggers(ctx context.Context, object int) ([]*TriggerData, error)
	Trigger(ctx context.Context, id int) (*TriggerData, error)
}
