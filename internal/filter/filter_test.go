package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "velo/pkg/errors"
)

type item map[string]interface{}

func (i item) Field(name string) (interface{}, bool) {
	v, ok := i[name]
	return v, ok
}

func TestIssueFilterCompose(t *testing.T) {
	f := &IssueFilter{
		Statuses:      []string{"Done"},
		Assignees:     []string{"alice", "bob"},
		ExcludeLabels: []string{"label1"},
	}
	require.NoError(t, f.Validate())
	set := f.Compose()

	eligible := item{"status": "Done", "assignee": "alice", "labels": []string{"bug"}}
	assert.True(t, set.Match(eligible))

	excluded := item{"status": "Done", "assignee": "alice", "labels": []string{"bug", "label1"}}
	assert.False(t, set.Match(excluded), "exclude list wins regardless of other matches")

	wrongAssignee := item{"status": "Done", "assignee": "carol", "labels": []string{"bug"}}
	assert.False(t, set.Match(wrongAssignee))
}

func TestIncludeAndExcludeAreIndependent(t *testing.T) {
	f := &PRFilter{
		Authors:        []string{"alice"},
		ExcludeAuthors: []string{"alice"},
	}
	set := f.Compose()

	// An author both included and excluded is ineligible.
	assert.False(t, set.Match(item{"author": "alice"}))
	assert.False(t, set.Match(item{"author": "bob"}))
}

func TestNilFilterIsIdentity(t *testing.T) {
	var f *IssueFilter
	require.NoError(t, f.Validate())
	assert.True(t, f.Compose().Match(item{"anything": "at all"}))
}

func TestPartialMatchComposition(t *testing.T) {
	f := &CommitFilter{
		Common: Common{
			Partial: map[string]Partial{
				"message": {Op: OpContains, Value: "Ev';--"},
			},
		},
	}
	require.NoError(t, f.Validate())
	set := f.Compose()

	assert.False(t, set.Match(item{"message": "Every commit"}))
	assert.True(t, set.Match(item{"message": "literal Ev';-- marker"}))
}

func TestCustomFieldConstraints(t *testing.T) {
	f := &IssueFilter{
		Common: Common{
			Custom: []CustomConstraint{
				{Key: "severity", Op: CustomEq, Value: "critical"},
				{Key: "story_points", Op: CustomGT, Value: "3"},
			},
		},
	}
	require.NoError(t, f.Validate())
	set := f.Compose()

	match := item{
		"custom.severity":     "critical",
		"custom.story_points": 5.0,
	}
	assert.True(t, set.Match(match))

	tooFew := item{
		"custom.severity":     "critical",
		"custom.story_points": 2.0,
	}
	assert.False(t, set.Match(tooFew))

	// Unknown keys fail to match, they never error.
	unknownKey := item{"custom.story_points": 5.0}
	assert.False(t, set.Match(unknownKey))
}

func TestMissingFieldComposition(t *testing.T) {
	f := &IssueFilter{
		Common: Common{Missing: map[string]bool{"milestone": true}},
	}
	set := f.Compose()

	assert.True(t, set.Match(item{"status": "Done"}))
	assert.False(t, set.Match(item{"milestone": "v2"}))
}

func TestValidateRejectsInvertedRange(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	f := &JobRunFilter{Common: Common{Created: TimeRange{From: &from, To: &to}}}
	err := f.Validate()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestValidateRejectsUnknownOperators(t *testing.T) {
	partial := &IssueFilter{
		Common: Common{Partial: map[string]Partial{"summary": {Op: "$regex", Value: ".*"}}},
	}
	assert.True(t, pkgerrors.IsValidation(partial.Validate()))

	custom := &PRFilter{
		Common: Common{Custom: []CustomConstraint{{Key: "k", Op: "$like", Value: "v"}}},
	}
	assert.True(t, pkgerrors.IsValidation(custom.Validate()))
}
