package velocity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velo/internal/stage"
	pkgerrors "velo/pkg/errors"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func issuePipeline() stage.Groups {
	return stage.Groups{
		Fixed: []stage.Definition{
			{
				Name:       "In Progress",
				Order:      0,
				UpperLimit: stage.Limit{Value: 1, Unit: stage.UnitDays},
				Event:      stage.EventSpec{Type: stage.EventIssueStatusReached, Values: []string{"In Progress"}},
			},
			{
				Name:       "In Review",
				Order:      1,
				LowerLimit: stage.Limit{Value: 1, Unit: stage.UnitHours},
				UpperLimit: stage.Limit{Value: 2, Unit: stage.UnitDays},
				Event:      stage.EventSpec{Type: stage.EventIssueStatusReached, Values: []string{"In Review"}},
			},
			{
				Name:       "Done",
				Order:      2,
				UpperLimit: stage.Limit{Value: 3, Unit: stage.UnitDays},
				Event:      stage.EventSpec{Type: stage.EventIssueStatusReached, Values: []string{"Done"}},
			},
		},
	}
}

func statusEvent(itemID string, status string, at time.Time) stage.Event {
	return stage.Event{
		WorkItemID: itemID,
		Tenant:     "acme",
		Type:       stage.EventIssueStatusReached,
		Timestamp:  at,
		Fields:     map[string]interface{}{"status": status},
	}
}

func TestComputeFullPipeline(t *testing.T) {
	computer, err := NewComputer(issuePipeline())
	require.NoError(t, err)

	item := &WorkItem{ID: "ISS-1", Tenant: "acme", Kind: KindIssue, CreatedAt: t0}
	events := []stage.Event{
		statusEvent("ISS-1", "In Progress", t0.Add(4*time.Hour)),
		statusEvent("ISS-1", "In Review", t0.Add(30*time.Hour)),
		statusEvent("ISS-1", "Done", t0.Add(50*time.Hour)),
	}

	result := computer.Compute(item, events)
	require.Len(t, result.Stages, 3)
	assert.Equal(t, 0, result.MissingStages)
	assert.True(t, result.Computed())

	assert.Equal(t, 4*time.Hour, result.Stages[0].Duration)
	assert.Equal(t, ClassWithinRange, result.Stages[0].Classification)

	assert.Equal(t, 26*time.Hour, result.Stages[1].Duration)
	assert.Equal(t, ClassWithinRange, result.Stages[1].Classification)

	assert.Equal(t, 20*time.Hour, result.Stages[2].Duration)
	assert.Equal(t, ClassWithinRange, result.Stages[2].Classification)
}

func TestComputeSkipsForwardPastMissingStage(t *testing.T) {
	computer, err := NewComputer(issuePipeline())
	require.NoError(t, err)

	// Stage 2's triggering event never happened; stage 3 is measured
	// from stage 1's boundary, not from the hole.
	item := &WorkItem{ID: "ISS-2", Tenant: "acme", Kind: KindIssue, CreatedAt: t0}
	events := []stage.Event{
		statusEvent("ISS-2", "In Progress", t0.Add(2*time.Hour)),
		statusEvent("ISS-2", "Done", t0.Add(12*time.Hour)),
	}

	result := computer.Compute(item, events)
	require.Len(t, result.Stages, 3)
	assert.Equal(t, 1, result.MissingStages)

	assert.Equal(t, ClassNotComputed, result.Stages[1].Classification)
	assert.Equal(t, 10*time.Hour, result.Stages[2].Duration,
		"third stage measured relative to the first stage's boundary")
	assert.Equal(t, ClassWithinRange, result.Stages[2].Classification)
}

func TestComputeClassification(t *testing.T) {
	computer, err := NewComputer(issuePipeline())
	require.NoError(t, err)

	item := &WorkItem{ID: "ISS-3", Tenant: "acme", Kind: KindIssue, CreatedAt: t0}
	events := []stage.Event{
		statusEvent("ISS-3", "In Progress", t0.Add(3*24*time.Hour)), // above 1d
		statusEvent("ISS-3", "In Review", t0.Add(3*24*time.Hour+30*time.Minute)), // below 1h
	}

	result := computer.Compute(item, events)
	assert.Equal(t, ClassAbove, result.Stages[0].Classification)
	assert.Equal(t, ClassBelow, result.Stages[1].Classification)
	assert.Equal(t, ClassNotComputed, result.Stages[2].Classification)
	assert.Equal(t, 1, result.MissingStages)

	// Any stage above target rates the whole item above.
	assert.Equal(t, ClassAbove, result.Overall())
}

func TestComputeNoEvents(t *testing.T) {
	computer, err := NewComputer(issuePipeline())
	require.NoError(t, err)

	item := &WorkItem{ID: "ISS-4", Tenant: "acme", Kind: KindIssue, CreatedAt: t0}
	result := computer.Compute(item, nil)

	assert.Equal(t, 3, result.MissingStages)
	assert.False(t, result.Computed())
	assert.Equal(t, ClassNotComputed, result.Overall())
}

func TestComputeContainsOutOfOrderBoundary(t *testing.T) {
	computer, err := NewComputer(issuePipeline())
	require.NoError(t, err)

	// Review event stamped before the progress event it should follow:
	// contained as not computed, the pipeline keeps going.
	item := &WorkItem{ID: "ISS-5", Tenant: "acme", Kind: KindIssue, CreatedAt: t0}
	events := []stage.Event{
		statusEvent("ISS-5", "In Progress", t0.Add(6*time.Hour)),
		statusEvent("ISS-5", "In Review", t0.Add(2*time.Hour)),
		statusEvent("ISS-5", "Done", t0.Add(10*time.Hour)),
	}

	result := computer.Compute(item, events)
	assert.Equal(t, ClassNotComputed, result.Stages[1].Classification)
	assert.Equal(t, 1, result.MissingStages)
	assert.Equal(t, 4*time.Hour, result.Stages[2].Duration)
}

func TestNewComputerRejectsInvalidGroups(t *testing.T) {
	_, err := NewComputer(stage.Groups{
		Fixed: []stage.Definition{
			{Name: "a", Order: 0, Event: stage.EventSpec{Type: stage.EventPRCreated}},
			{Name: "b", Order: 2, Event: stage.EventSpec{Type: stage.EventPRMerged}},
		},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestOverallCollapse(t *testing.T) {
	within := StageDuration{Stage: "a", Classification: ClassWithinRange}
	below := StageDuration{Stage: "b", Classification: ClassBelow}
	missing := StageDuration{Stage: "c", Classification: ClassNotComputed}

	r := ItemResult{Stages: []StageDuration{within, below, missing}, MissingStages: 1}
	assert.Equal(t, ClassBelow, r.Overall())

	r = ItemResult{Stages: []StageDuration{within, within}}
	assert.Equal(t, ClassWithinRange, r.Overall())
}
