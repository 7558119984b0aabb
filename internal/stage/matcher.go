package stage

import (
	"velo/internal/predicate"
)

// paramLastApproval is an ordering directive rather than a field
// predicate: "true" selects the chronologically last matching event.
const paramLastApproval = "last_approval"

type eventFields map[string]interface{}

func (f eventFields) Field(name string) (interface{}, bool) {
	v, ok := f[name]
	if v == nil {
		ok = false
	}
	return v, ok
}

// Match locates the event instance that bounds the given stage on one
// work item's timeline and returns its timestamp. The second return is
// false when no event qualifies; callers must treat that stage as not
// computed, never as a zero boundary.
//
// Tie-break when several events qualify: approval stages take the latest
// timestamp (the decisive approval), every other stage type takes the
// earliest (first occurrence defines the stage boundary).
func Match(itemID string, def Definition, events []Event) (boundary Event, ok bool) {
	set := paramPredicates(def.Event)
	wantLatest := def.Event.Type == EventPRApproved || lastApprovalRequested(def.Event)

	for _, ev := range events {
		if ev.WorkItemID != itemID || ev.Type != def.Event.Type {
			continue
		}
		if ev.Timestamp.IsZero() {
			// Malformed event data is contained per item, not fatal.
			continue
		}
		if !matchesValues(def.Event, ev) {
			continue
		}
		if !set.Match(eventFields(ev.Fields)) {
			continue
		}
		if !ok {
			boundary, ok = ev, true
			continue
		}
		if wantLatest {
			if ev.Timestamp.After(boundary.Timestamp) {
				boundary = ev
			}
		} else if ev.Timestamp.Before(boundary.Timestamp) {
			boundary = ev
		}
	}
	return boundary, ok
}

func matchesValues(spec EventSpec, ev Event) bool {
	if len(spec.Values) == 0 {
		return true
	}
	discriminator, ok := eventFields(ev.Fields).Field(spec.Type.DiscriminatorField())
	if !ok {
		return false
	}
	s, ok := predicate.AsString(discriminator)
	if !ok {
		return false
	}
	for _, v := range spec.Values {
		if s == v {
			return true
		}
	}
	return false
}

func paramPredicates(spec EventSpec) predicate.Set {
	var set predicate.Set
	for key, values := range spec.Params {
		if key == paramLastApproval {
			continue
		}
		set = append(set, predicate.In{Field: key, Values: values})
	}
	return set
}

func lastApprovalRequested(spec EventSpec) bool {
	values, ok := spec.Params[paramLastApproval]
	return ok && len(values) == 1 && values[0] == "true"
}
