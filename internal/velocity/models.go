// Package velocity selects the eligible work-item population, computes
// per-item stage durations and aggregates them into the requested
// buckets.
package velocity

import (
	"strings"
	"time"

	"velo/internal/filter"
	"velo/internal/stage"
	pkgerrors "velo/pkg/errors"
)

// ItemKind is the source family a work item came from.
type ItemKind string

const (
	KindIssue ItemKind = "issue"
	// KindWorkItem is the secondary work-item source some tenants ingest
	// alongside their issue tracker (boards, planning tools).
	KindWorkItem ItemKind = "work_item"
	KindPR       ItemKind = "pr"
	KindCommit   ItemKind = "commit"
	KindJobRun   ItemKind = "job_run"
)

// WorkItem is one ingested work item. Fields holds the normalized
// built-in fields of its kind (status, assignee, repo, branch, job_id);
// CustomFields holds tenant-defined issue custom fields.
type WorkItem struct {
	ID           string                 `bson:"_id" json:"id"`
	Tenant       string                 `bson:"tenant" json:"tenant"`
	Kind         ItemKind               `bson:"kind" json:"kind"`
	CreatedAt    time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time              `bson:"updated_at" json:"updated_at"`
	Labels       []string               `bson:"labels,omitempty" json:"labels,omitempty"`
	Fields       map[string]interface{} `bson:"fields,omitempty" json:"fields,omitempty"`
	CustomFields map[string]interface{} `bson:"custom_fields,omitempty" json:"custom_fields,omitempty"`
}

// Field resolves a predicate field name against the item. Names under
// the custom prefix look up the custom-field mapping; unknown keys are
// simply absent.
func (w *WorkItem) Field(name string) (interface{}, bool) {
	switch name {
	case "id":
		return w.ID, true
	case "created_at":
		return w.CreatedAt, true
	case "updated_at":
		return w.UpdatedAt, true
	case "labels":
		if len(w.Labels) == 0 {
			return nil, false
		}
		return w.Labels, true
	}
	if key, ok := strings.CutPrefix(name, filter.CustomFieldPrefix); ok {
		v, present := w.CustomFields[key]
		return v, present
	}
	v, present := w.Fields[name]
	return v, present
}

// Mode selects the population a calculation starts from.
type Mode string

const (
	ModeTicketVelocity Mode = "ticket_velocity"
	ModePRVelocity     Mode = "pr_velocity"
)

// Dimension selects how computed items are bucketed.
type Dimension string

const (
	// DimensionVelocity buckets by duration classification, per stage
	// or across the whole pipeline.
	DimensionVelocity Dimension = "velocity"
	// DimensionTrend buckets by the ISO week of item creation.
	DimensionTrend Dimension = "trend"
)

// CalculateRequest is the caller-facing calculate contract.
type CalculateRequest struct {
	ConfigID  string    `json:"config_id,omitempty"`
	Mode      Mode      `json:"mode"`
	Dimension Dimension `json:"dimension"`

	IssueFilter *filter.IssueFilter `json:"issue_filter,omitempty"`
	// WorkItemFilter pulls the secondary work-item source into a
	// ticket_velocity population; the two sources are unioned by id.
	WorkItemFilter *filter.IssueFilter  `json:"work_item_filter,omitempty"`
	PRFilter       *filter.PRFilter     `json:"pr_filter,omitempty"`
	CommitFilter   *filter.CommitFilter `json:"commit_filter,omitempty"`
	JobRunFilter   *filter.JobRunFilter `json:"job_run_filter,omitempty"`

	// PerStage splits velocity buckets per named stage instead of one
	// overall classification per item.
	PerStage bool `json:"per_stage,omitempty"`

	// ApplyOrgUnitScoping restricts eligible users to the requesting
	// org units' members.
	ApplyOrgUnitScoping bool  `json:"apply_org_unit_scoping,omitempty"`
	OuRefIDs            []int `json:"ou_ref_ids,omitempty"`

	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

func (r *CalculateRequest) Validate() error {
	switch r.Mode {
	case ModeTicketVelocity, ModePRVelocity:
	default:
		return pkgerrors.ErrValidation.WithDetail("message", "unknown calculation mode")
	}
	switch r.Dimension {
	case DimensionVelocity, DimensionTrend:
	default:
		return pkgerrors.ErrValidation.WithDetail("message", "unknown across dimension")
	}
	if r.Page < 0 || r.PageSize < 0 {
		return pkgerrors.ErrValidation.WithDetail("message", "page and page_size must not be negative")
	}
	if r.ApplyOrgUnitScoping && len(r.OuRefIDs) == 0 {
		return pkgerrors.ErrValidation.WithDetail("message", "org unit scoping requires ou_ref_ids")
	}
	for _, v := range []interface{ Validate() error }{
		r.IssueFilter, r.WorkItemFilter, r.PRFilter, r.CommitFilter, r.JobRunFilter,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Classification of one resolved stage duration against its limits.
type Classification string

const (
	ClassBelow       Classification = "below"
	ClassWithinRange Classification = "within_range"
	ClassAbove       Classification = "above"
	ClassNotComputed Classification = "not_computed"
)

// StageDuration is one stage's computed outcome for one item.
type StageDuration struct {
	Stage          string         `json:"stage"`
	Duration       time.Duration  `json:"duration"`
	Classification Classification `json:"classification"`
}

// ItemResult is the per-item stage-duration vector.
type ItemResult struct {
	ItemID        string          `json:"item_id"`
	CreatedAt     time.Time       `json:"created_at"`
	SCMClass      string          `json:"scm_class,omitempty"`
	Stages        []StageDuration `json:"stages"`
	MissingStages int             `json:"missing_stages"`
}

// Computed reports whether at least one stage duration resolved.
func (r ItemResult) Computed() bool {
	return len(r.Stages) > r.MissingStages
}

// Bucket is one aggregation bucket. Stage is empty for overall-velocity
// and trend buckets.
type Bucket struct {
	Key   string `json:"key"`
	Stage string `json:"stage,omitempty"`
	Count int    `json:"count"`
	// SCMClasses breaks the bucket down by classification rule class
	// when the profile defines scm rules (pr_velocity only).
	SCMClasses map[string]int `json:"scm_classes,omitempty"`
}

// CalculateResult is the paginated aggregation output.
type CalculateResult struct {
	Mode        Mode      `json:"mode"`
	Dimension   Dimension `json:"dimension"`
	Buckets     []Bucket  `json:"buckets"`
	BucketCount int       `json:"bucket_count"`
	// Population is the number of eligible items, including those with
	// zero resolvable stages.
	Population    int `json:"population"`
	MissingStages int `json:"missing_stages"`
	Page          int `json:"page"`
	PageSize      int `json:"page_size"`
}

type pipelineStage struct {
	def   stage.Definition
	lower time.Duration
	upper time.Duration
}
