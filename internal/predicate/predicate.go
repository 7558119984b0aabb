package predicate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candidate exposes the named fields of a record under evaluation. The
// second return reports whether the field is present at all; a present
// field whose value is nil is treated as absent.
type Candidate interface {
	Field(name string) (interface{}, bool)
}

// Predicate is a single named-field constraint. Match receives the raw
// field value and whether the field was present on the candidate.
type Predicate interface {
	FieldName() string
	Match(value interface{}, present bool) bool
}

// Set combines predicates with AND semantics. An empty set matches
// every candidate.
type Set []Predicate

func (s Set) Match(c Candidate) bool {
	for _, p := range s {
		value, present := c.Field(p.FieldName())
		if value == nil {
			present = false
		}
		if !p.Match(value, present) {
			return false
		}
	}
	return true
}

// Eq matches when the field value equals Value. Fold enables
// case-insensitive comparison for field families that define it
// (display-name lookups); everything else is exact byte match.
type Eq struct {
	Field string
	Value string
	Fold  bool
}

func (p Eq) FieldName() string { return p.Field }

func (p Eq) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	s, ok := AsString(value)
	if !ok {
		return false
	}
	if p.Fold {
		return strings.EqualFold(s, p.Value)
	}
	return s == p.Value
}

// In matches when the field value is a member of Values. For slice-valued
// fields (labels) membership holds when any element is in Values.
type In struct {
	Field  string
	Values []string
	Fold   bool
}

func (p In) FieldName() string { return p.Field }

func (p In) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	for _, candidate := range stringValues(value) {
		for _, allowed := range p.Values {
			if p.Fold && strings.EqualFold(candidate, allowed) {
				return true
			}
			if !p.Fold && candidate == allowed {
				return true
			}
		}
	}
	return false
}

// NotIn is the exclusion counterpart of In. Absent fields pass: an item
// without the field cannot carry an excluded value.
type NotIn struct {
	Field  string
	Values []string
	Fold   bool
}

func (p NotIn) FieldName() string { return p.Field }

func (p NotIn) Match(value interface{}, present bool) bool {
	if !present {
		return true
	}
	return !(In{Field: p.Field, Values: p.Values, Fold: p.Fold}).Match(value, present)
}

// NumberRange matches lower <= value <= upper. A nil bound is unbounded
// on that side.
type NumberRange struct {
	Field string
	Lower *float64
	Upper *float64
}

func (p NumberRange) FieldName() string { return p.Field }

func (p NumberRange) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	n, ok := AsNumber(value)
	if !ok {
		return false
	}
	if p.Lower != nil && n < *p.Lower {
		return false
	}
	if p.Upper != nil && n > *p.Upper {
		return false
	}
	return true
}

// TimeRange matches from <= value <= to, inclusive on both ends.
type TimeRange struct {
	Field string
	From  *time.Time
	To    *time.Time
}

func (p TimeRange) FieldName() string { return p.Field }

func (p TimeRange) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	t, ok := AsTime(value)
	if !ok {
		return false
	}
	if p.From != nil && t.Before(*p.From) {
		return false
	}
	if p.To != nil && t.After(*p.To) {
		return false
	}
	return true
}

// Partial operators. All three compare against the literal field value:
// no trimming, and the probe string is never interpreted as pattern
// syntax, so metacharacters ('%', '_', quotes) only match themselves.
type Contains struct {
	Field string
	Value string
}

func (p Contains) FieldName() string { return p.Field }

func (p Contains) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	s, ok := AsString(value)
	return ok && strings.Contains(s, p.Value)
}

type Begins struct {
	Field string
	Value string
}

func (p Begins) FieldName() string { return p.Field }

func (p Begins) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	s, ok := AsString(value)
	return ok && strings.HasPrefix(s, p.Value)
}

type Ends struct {
	Field string
	Value string
}

func (p Ends) FieldName() string { return p.Field }

func (p Ends) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	s, ok := AsString(value)
	return ok && strings.HasSuffix(s, p.Value)
}

// Missing matches presence itself: Expected=true matches absent fields,
// Expected=false matches present ones.
type Missing struct {
	Field    string
	Expected bool
}

func (p Missing) FieldName() string { return p.Field }

func (p Missing) Match(value interface{}, present bool) bool {
	if p.Expected {
		return !present
	}
	return present
}

// AsString coerces scalar field values to their string form. Slices and
// maps do not coerce.
func AsString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// AsNumber coerces numeric field values, including numeric strings as
// stored by some providers.
func AsNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// AsTime coerces time-valued fields; RFC 3339 strings are accepted for
// providers that store timestamps as text.
func AsTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func stringValues(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := AsString(e); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		if s, ok := AsString(value); ok {
			return []string{s}
		}
		return nil
	}
}
