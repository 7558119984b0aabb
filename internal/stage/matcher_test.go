package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func statusEvent(itemID, status string, at time.Time) Event {
	return Event{
		WorkItemID: itemID,
		Type:       EventIssueStatusReached,
		Timestamp:  at,
		Fields:     map[string]interface{}{"status": status},
	}
}

func TestMatchEarliestQualifyingEvent(t *testing.T) {
	def := Definition{
		Name:  "in-progress",
		Event: EventSpec{Type: EventIssueStatusReached, Values: []string{"In Progress"}},
	}
	events := []Event{
		statusEvent("W-1", "To Do", base),
		statusEvent("W-1", "In Progress", base.Add(3*time.Hour)),
		statusEvent("W-1", "In Progress", base.Add(time.Hour)), // re-entered earlier
		statusEvent("W-2", "In Progress", base.Add(30*time.Minute)),
	}

	boundary, ok := Match("W-1", def, events)
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Hour), boundary.Timestamp, "first occurrence defines the boundary")
}

func TestMatchNotFound(t *testing.T) {
	def := Definition{
		Name:  "deployed",
		Event: EventSpec{Type: EventCICDJobRun, Values: []string{"deploy-prod"}},
	}
	events := []Event{
		statusEvent("W-1", "Done", base),
	}

	_, ok := Match("W-1", def, events)
	assert.False(t, ok)
}

func TestMatchApprovalTakesLatest(t *testing.T) {
	def := Definition{
		Name:  "approved",
		Event: EventSpec{Type: EventPRApproved},
	}
	events := []Event{
		{WorkItemID: "PR-9", Type: EventPRApproved, Timestamp: base.Add(time.Hour), Fields: map[string]interface{}{"approver": "alice"}},
		{WorkItemID: "PR-9", Type: EventPRApproved, Timestamp: base.Add(4 * time.Hour), Fields: map[string]interface{}{"approver": "bob"}},
		{WorkItemID: "PR-9", Type: EventPRApproved, Timestamp: base.Add(2 * time.Hour), Fields: map[string]interface{}{"approver": "carol"}},
	}

	boundary, ok := Match("PR-9", def, events)
	require.True(t, ok)
	assert.Equal(t, base.Add(4*time.Hour), boundary.Timestamp, "the decisive approval is the last one")
}

func TestMatchParamPredicates(t *testing.T) {
	def := Definition{
		Name: "staging-run",
		Event: EventSpec{
			Type:   EventCICDJobRun,
			Values: []string{"build"},
			Params: map[string][]string{"branch": {"dev", "staging"}},
		},
	}
	events := []Event{
		{WorkItemID: "W-1", Type: EventCICDJobRun, Timestamp: base,
			Fields: map[string]interface{}{"job_id": "build", "branch": "main"}},
		{WorkItemID: "W-1", Type: EventCICDJobRun, Timestamp: base.Add(time.Hour),
			Fields: map[string]interface{}{"job_id": "build", "branch": "staging"}},
	}

	boundary, ok := Match("W-1", def, events)
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Hour), boundary.Timestamp)
}

func TestMatchSkipsMalformedEvents(t *testing.T) {
	def := Definition{Event: EventSpec{Type: EventCommitCreated}}
	events := []Event{
		{WorkItemID: "W-1", Type: EventCommitCreated}, // missing timestamp
		{WorkItemID: "W-1", Type: EventCommitCreated, Timestamp: base, Fields: map[string]interface{}{"branch": "main"}},
	}

	boundary, ok := Match("W-1", def, events)
	require.True(t, ok)
	assert.Equal(t, base, boundary.Timestamp)
}

func TestGroupsValidate(t *testing.T) {
	valid := Groups{
		Pre: []Definition{
			{Name: "triaged", Order: 0, Event: EventSpec{Type: EventIssueStatusReached}},
			{Name: "refined", Order: 1, Event: EventSpec{Type: EventIssueStatusReached}},
		},
		Fixed: []Definition{
			{Name: "first-commit", Order: 0, Event: EventSpec{Type: EventCommitCreated}},
		},
	}
	require.NoError(t, valid.Validate())

	gap := Groups{
		Pre: []Definition{
			{Name: "a", Order: 0, Event: EventSpec{Type: EventIssueStatusReached}},
			{Name: "b", Order: 2, Event: EventSpec{Type: EventIssueStatusReached}},
		},
	}
	assert.Error(t, gap.Validate(), "orders must be contiguous from 0")

	dup := Groups{
		Post: []Definition{
			{Name: "a", Order: 0, Event: EventSpec{Type: EventPRMerged}},
			{Name: "b", Order: 0, Event: EventSpec{Type: EventPRMerged}},
		},
	}
	assert.Error(t, dup.Validate())

	badType := Groups{
		Fixed: []Definition{{Name: "a", Order: 0, Event: EventSpec{Type: "deployment_frozen"}}},
	}
	assert.Error(t, badType.Validate())
}

func TestPipelineConcatenation(t *testing.T) {
	g := Groups{
		Pre:   []Definition{{Name: "pre-0", Order: 0, Event: EventSpec{Type: EventIssueStatusReached}}},
		Fixed: []Definition{{Name: "fixed-0", Order: 0, Event: EventSpec{Type: EventCommitCreated}}},
		Post:  []Definition{{Name: "post-0", Order: 0, Event: EventSpec{Type: EventPRMerged}}},
	}
	pipeline := g.Pipeline()
	require.Len(t, pipeline, 3)
	assert.Equal(t, []string{"pre-0", "fixed-0", "post-0"},
		[]string{pipeline[0].Name, pipeline[1].Name, pipeline[2].Name})
}

func TestPipelineSortsPermutedGroups(t *testing.T) {
	g := Groups{
		Pre: []Definition{
			{Name: "refined", Order: 1, Event: EventSpec{Type: EventIssueStatusReached}},
			{Name: "triaged", Order: 0, Event: EventSpec{Type: EventIssueStatusReached}},
		},
		Fixed: []Definition{
			{Name: "merged", Order: 1, Event: EventSpec{Type: EventPRMerged}},
			{Name: "first-commit", Order: 0, Event: EventSpec{Type: EventCommitCreated}},
		},
	}
	require.NoError(t, g.Validate())

	pipeline := g.Pipeline()
	require.Len(t, pipeline, 4)
	names := make([]string, len(pipeline))
	for i, d := range pipeline {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"triaged", "refined", "first-commit", "merged"}, names,
		"slice permutation must not change the walk order")
}

func TestLimitDuration(t *testing.T) {
	d, err := Limit{Value: 2, Unit: UnitDays}.Duration()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	d, err = Limit{Value: 90, Unit: UnitMinutes}.Duration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = Limit{Value: 1, Unit: "fortnights"}.Duration()
	assert.Error(t, err)

	d, err = Limit{}.Duration()
	require.NoError(t, err)
	assert.Zero(t, d)
}
