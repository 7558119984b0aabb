package predicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mapCandidate map[string]interface{}

func (m mapCandidate) Field(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

func TestEq(t *testing.T) {
	tests := []struct {
		name    string
		pred    Eq
		value   interface{}
		present bool
		want    bool
	}{
		{
			name:    "exact match",
			pred:    Eq{Field: "status", Value: "Done"},
			value:   "Done",
			present: true,
			want:    true,
		},
		{
			name:    "case differs without fold",
			pred:    Eq{Field: "status", Value: "Done"},
			value:   "done",
			present: true,
			want:    false,
		},
		{
			name:    "case differs with fold",
			pred:    Eq{Field: "assignee", Value: "Alice Smith", Fold: true},
			value:   "alice smith",
			present: true,
			want:    true,
		},
		{
			name:    "absent field",
			pred:    Eq{Field: "status", Value: "Done"},
			present: false,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Match(tt.value, tt.present))
		})
	}
}

func TestInAndNotIn(t *testing.T) {
	in := In{Field: "labels", Values: []string{"bug", "urgent"}}
	assert.True(t, in.Match([]string{"feature", "bug"}, true))
	assert.False(t, in.Match([]string{"feature"}, true))
	assert.True(t, in.Match("urgent", true))
	assert.False(t, in.Match(nil, false))

	notIn := NotIn{Field: "labels", Values: []string{"label1"}}
	assert.False(t, notIn.Match([]string{"label1", "other"}, true))
	assert.True(t, notIn.Match([]string{"other"}, true))
	assert.True(t, notIn.Match(nil, false), "absent field cannot carry an excluded value")
}

func TestNumberRange(t *testing.T) {
	lower, upper := 1.0, 10.0

	tests := []struct {
		name  string
		pred  NumberRange
		value interface{}
		want  bool
	}{
		{"inside", NumberRange{Field: "points", Lower: &lower, Upper: &upper}, 5.0, true},
		{"at lower bound", NumberRange{Field: "points", Lower: &lower, Upper: &upper}, 1.0, true},
		{"at upper bound", NumberRange{Field: "points", Lower: &lower, Upper: &upper}, 10.0, true},
		{"below", NumberRange{Field: "points", Lower: &lower, Upper: &upper}, 0.5, false},
		{"above", NumberRange{Field: "points", Lower: &lower, Upper: &upper}, 11.0, false},
		{"unbounded lower", NumberRange{Field: "points", Upper: &upper}, -100.0, true},
		{"numeric string", NumberRange{Field: "points", Lower: &lower}, "3", true},
		{"non numeric", NumberRange{Field: "points", Lower: &lower}, "many", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Match(tt.value, true))
		})
	}
}

func TestTimeRange(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	pred := TimeRange{Field: "created_at", From: &from, To: &to}

	assert.True(t, pred.Match(from, true), "inclusive lower bound")
	assert.True(t, pred.Match(to, true), "inclusive upper bound")
	assert.True(t, pred.Match(from.Add(24*time.Hour), true))
	assert.False(t, pred.Match(from.Add(-time.Second), true))
	assert.False(t, pred.Match(to.Add(time.Second), true))
	assert.True(t, pred.Match("2026-01-15T10:00:00Z", true))
}

func TestPartialMatchLiteralSemantics(t *testing.T) {
	// A probe carrying SQL metacharacters must only match as a literal
	// substring, never as active syntax.
	probe := "Ev';--"

	contains := Contains{Field: "summary", Value: probe}
	assert.False(t, contains.Match("Every event counts", true))
	assert.False(t, contains.Match("Ev", true))
	assert.True(t, contains.Match("prefix Ev';-- suffix", true))

	wildcard := Contains{Field: "summary", Value: "%"}
	assert.False(t, wildcard.Match("anything", true))
	assert.True(t, wildcard.Match("50% done", true))

	begins := Begins{Field: "branch", Value: "feature/"}
	assert.True(t, begins.Match("feature/login", true))
	assert.False(t, begins.Match("hotfix/feature/login", true))

	ends := Ends{Field: "branch", Value: "-rc1"}
	assert.True(t, ends.Match("v2.3-rc1", true))
	assert.False(t, ends.Match("v2.3-rc12", true))

	// No implicit trimming.
	padded := Begins{Field: "branch", Value: "main"}
	assert.False(t, padded.Match(" main", true))
}

func TestMissing(t *testing.T) {
	wantMissing := Missing{Field: "sprint", Expected: true}
	assert.True(t, wantMissing.Match(nil, false))
	assert.False(t, wantMissing.Match("Sprint 4", true))

	wantPresent := Missing{Field: "sprint", Expected: false}
	assert.True(t, wantPresent.Match("Sprint 4", true))
	assert.False(t, wantPresent.Match(nil, false))
}

func TestSetAndSemantics(t *testing.T) {
	item := mapCandidate{
		"status":   "In Progress",
		"assignee": "alice",
		"labels":   []string{"bug"},
		"nilfield": nil,
	}

	empty := Set{}
	assert.True(t, empty.Match(item), "empty set is the identity predicate")

	all := Set{
		Eq{Field: "status", Value: "In Progress"},
		In{Field: "labels", Values: []string{"bug", "task"}},
	}
	assert.True(t, all.Match(item))

	oneFails := Set{
		Eq{Field: "status", Value: "In Progress"},
		Eq{Field: "assignee", Value: "bob"},
	}
	assert.False(t, oneFails.Match(item))

	// A present key with a nil value counts as absent.
	nilIsMissing := Set{Missing{Field: "nilfield", Expected: true}}
	assert.True(t, nilIsMissing.Match(item))
}
