// Package stage models the tenant-defined stage pipeline and locates the
// event that bounds each stage on a work item's timeline.
package stage

import (
	"fmt"
	"sort"
	"time"

	pkgerrors "velo/pkg/errors"
)

// EventType is the closed set of occurrences usable as a stage boundary.
// Every dispatch over it switches exhaustively; adding a type must fail
// compilation or review at each switch.
type EventType string

const (
	EventIssueStatusReached EventType = "issue_status_reached"
	EventCommitCreated      EventType = "commit_created"
	EventPRCreated          EventType = "pr_created"
	EventPRReviewStarted    EventType = "pr_review_started"
	EventPRApproved         EventType = "pr_approved"
	EventPRMerged           EventType = "pr_merged"
	EventCICDJobRun         EventType = "cicd_job_run"
)

func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	switch t {
	case EventIssueStatusReached, EventCommitCreated, EventPRCreated,
		EventPRReviewStarted, EventPRApproved, EventPRMerged, EventCICDJobRun:
		return t, nil
	}
	return "", pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown event type %q", s))
}

// DiscriminatorField names the event field that a stage's value list
// matches against: the reached status for issue transitions, the job id
// for CI/CD runs, the branch for commits and PR lifecycle events.
func (t EventType) DiscriminatorField() string {
	switch t {
	case EventIssueStatusReached:
		return "status"
	case EventCICDJobRun:
		return "job_id"
	case EventCommitCreated:
		return "branch"
	case EventPRCreated, EventPRReviewStarted, EventPRApproved, EventPRMerged:
		return "target_branch"
	}
	return ""
}

// LimitUnit is the unit of a stage's target duration bound.
type LimitUnit string

const (
	UnitMinutes LimitUnit = "minutes"
	UnitHours   LimitUnit = "hours"
	UnitDays    LimitUnit = "days"
)

// Limit is a target duration bound. A zero Limit (no unit) is unbounded.
type Limit struct {
	Value float64   `json:"value"`
	Unit  LimitUnit `json:"unit"`
}

func (l Limit) IsZero() bool {
	return l.Unit == "" && l.Value == 0
}

// Duration converts the limit to the engine's common time unit.
func (l Limit) Duration() (time.Duration, error) {
	switch l.Unit {
	case UnitMinutes:
		return time.Duration(l.Value * float64(time.Minute)), nil
	case UnitHours:
		return time.Duration(l.Value * float64(time.Hour)), nil
	case UnitDays:
		return time.Duration(l.Value * 24 * float64(time.Hour)), nil
	case "":
		return 0, nil
	}
	return 0, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown limit unit %q", l.Unit))
}

// EventSpec binds a stage to its triggering event. Values narrows by the
// event type's discriminator field; Params add further predicates over
// the event's source fields.
type EventSpec struct {
	Type   EventType           `json:"type"`
	Values []string            `json:"values,omitempty"`
	Params map[string][]string `json:"params,omitempty"`
}

// Definition is one named stage of a pipeline.
type Definition struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Order       int       `json:"order"`
	LowerLimit  Limit     `json:"lower_limit"`
	UpperLimit  Limit     `json:"upper_limit"`
	Event       EventSpec `json:"event"`
}

// Groups holds the three stage groups. The full pipeline for a work item
// is their concatenation: pre, then fixed, then post.
type Groups struct {
	Pre   []Definition `json:"pre,omitempty"`
	Fixed []Definition `json:"fixed,omitempty"`
	Post  []Definition `json:"post,omitempty"`
}

// Pipeline walks each group by its Order values, so a group whose slice
// arrived permuted (in-process construction, unordered storage reads)
// still concatenates in stage order.
func (g Groups) Pipeline() []Definition {
	pipeline := make([]Definition, 0, len(g.Pre)+len(g.Fixed)+len(g.Post))
	pipeline = append(pipeline, g.Pre...)
	sortByOrder(pipeline[:len(g.Pre)])
	pipeline = append(pipeline, g.Fixed...)
	sortByOrder(pipeline[len(g.Pre):])
	pipeline = append(pipeline, g.Post...)
	sortByOrder(pipeline[len(g.Pre)+len(g.Fixed):])
	return pipeline
}

func sortByOrder(defs []Definition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Order < defs[j].Order })
}

// Validate checks each group's order values are unique and contiguous
// from 0, every event type is known, and limits convert.
func (g Groups) Validate() error {
	for groupName, defs := range map[string][]Definition{
		"pre":   g.Pre,
		"fixed": g.Fixed,
		"post":  g.Post,
	} {
		if err := validateGroup(groupName, defs); err != nil {
			return err
		}
	}
	return nil
}

func validateGroup(groupName string, defs []Definition) error {
	seen := make(map[int]string, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("stage group %q: stage without a name", groupName))
		}
		if d.Order < 0 || d.Order >= len(defs) {
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("stage group %q: order %d of stage %q out of range", groupName, d.Order, d.Name))
		}
		if other, dup := seen[d.Order]; dup {
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("stage group %q: stages %q and %q share order %d", groupName, other, d.Name, d.Order))
		}
		seen[d.Order] = d.Name

		if _, err := ParseEventType(string(d.Event.Type)); err != nil {
			return err
		}
		if _, err := d.LowerLimit.Duration(); err != nil {
			return err
		}
		if _, err := d.UpperLimit.Duration(); err != nil {
			return err
		}
	}
	return nil
}

// Event is one normalized occurrence on a work item's timeline, as
// produced by the ingestion collaborator. Fields carries the
// provider-specific source fields (status, branch, job id, approver).
type Event struct {
	WorkItemID string                 `bson:"work_item_id" json:"work_item_id"`
	Tenant     string                 `bson:"tenant" json:"tenant"`
	Type       EventType              `bson:"type" json:"type"`
	Timestamp  time.Time              `bson:"timestamp" json:"timestamp"`
	Fields     map[string]interface{} `bson:"fields" json:"fields,omitempty"`
}
