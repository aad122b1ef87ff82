package trigger

import "fmt"

// Set is the ordered list of triggers attached to one mob prototype,
// object prototype or zone. It references its owner by number only.
type Set struct {
	Attach   AttachType
	OwnerID  int
	triggers []*TriggerData
}

// NewSet creates an empty set for the given owner.
func NewSet(attach AttachType, ownerID int) *Set {
	return &Set{Attach: attach, OwnerID: ownerID}
}

// Add appends a trigger. Triggers of another attach type or owner are
// rejected; mixing them would let flag bits be read with the wrong table.
func (s *Set) Add(t *TriggerData) error {
	id, err := t.AttachedEntityID()
	if err != nil {
		return err
	}
	if t.AttachType != s.Attach || id != s.OwnerID {
		return fmt.Errorf("trigger: trigger %d (%s %d) does not belong to %s set %d",
			t.ID, t.AttachType, id, s.Attach, s.OwnerID)
	}
	s.triggers = append(s.triggers, t)
	return nil
}

// All returns the triggers in load order.
func (s *Set) All() []*TriggerData {
	out := make([]*TriggerData, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// Len returns the number of triggers in the set.
func (s *Set) Len() int { return len(s.triggers) }

// Matching returns the triggers carrying every bit of f, in load order.
// f is read with the table of s.Attach.
func (s *Set) Matching(f Flags) []*TriggerData {
	var out []*TriggerData
	for _, t := range s.triggers {
		if t.Flags.Has(f) {
			out = append(out, t)
		}
	}
	return out
}

// Find returns the trigger with the given id.
func (s *Set) Find(id int) (*TriggerData, bool) {
	for _, t := range s.triggers {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}
