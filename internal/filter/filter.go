// Package filter holds the per-source filter specifications and composes
// them into combined eligibility predicates. Specs are plain request-scoped
// data: constructed per query, validated before use, never persisted.
package filter

import (
	"fmt"
	"time"

	pkgerrors "velo/pkg/errors"
)

// CustomFieldPrefix namespaces custom-field lookups so they resolve
// against an item's custom-field mapping instead of its built-in fields.
const CustomFieldPrefix = "custom."

type PartialOperator string

const (
	OpContains PartialOperator = "$contains"
	OpBegins   PartialOperator = "$begins"
	OpEnds     PartialOperator = "$ends"
)

// Partial is a substring/prefix/suffix constraint over one named field.
type Partial struct {
	Op    PartialOperator `json:"op"`
	Value string          `json:"value"`
}

type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

func (r TimeRange) empty() bool {
	return r.From == nil && r.To == nil
}

type CustomOperator string

const (
	CustomEq       CustomOperator = "$eq"
	CustomContains CustomOperator = "$contains"
	CustomBegins   CustomOperator = "$begins"
	CustomEnds     CustomOperator = "$ends"
	CustomGT       CustomOperator = "$gt"
	CustomLT       CustomOperator = "$lt"
)

// CustomConstraint matches one key of an item's custom-field mapping.
// Unknown keys fail to match; they never error.
type CustomConstraint struct {
	Key   string         `json:"key"`
	Op    CustomOperator `json:"op"`
	Value string         `json:"value"`
}

// Common carries the constraints every filter family shares.
type Common struct {
	IDs        []string           `json:"ids,omitempty"`
	ExcludeIDs []string           `json:"exclude_ids,omitempty"`
	Created    TimeRange          `json:"created,omitempty"`
	Updated    TimeRange          `json:"updated,omitempty"`
	Partial    map[string]Partial `json:"partial,omitempty"`
	Missing    map[string]bool    `json:"missing,omitempty"`
	Custom     []CustomConstraint `json:"custom,omitempty"`
}

// IssueFilter selects issue-tracker work items.
type IssueFilter struct {
	Common
	Integrations     []string `json:"integrations,omitempty"`
	Projects         []string `json:"projects,omitempty"`
	Statuses         []string `json:"statuses,omitempty"`
	Assignees        []string `json:"assignees,omitempty"`
	ExcludeAssignees []string `json:"exclude_assignees,omitempty"`
	Reporters        []string `json:"reporters,omitempty"`
	Labels           []string `json:"labels,omitempty"`
	ExcludeLabels    []string `json:"exclude_labels,omitempty"`
	Milestones       []string `json:"milestones,omitempty"`
}

// PRFilter selects pull requests.
type PRFilter struct {
	Common
	Repos            []string `json:"repos,omitempty"`
	Authors          []string `json:"authors,omitempty"`
	ExcludeAuthors   []string `json:"exclude_authors,omitempty"`
	Reviewers        []string `json:"reviewers,omitempty"`
	ExcludeReviewers []string `json:"exclude_reviewers,omitempty"`
	Approvers        []string `json:"approvers,omitempty"`
	ExcludeApprovers []string `json:"exclude_approvers,omitempty"`
	SourceBranches   []string `json:"source_branches,omitempty"`
	TargetBranches   []string `json:"target_branches,omitempty"`
	Labels           []string `json:"labels,omitempty"`
	ExcludeLabels    []string `json:"exclude_labels,omitempty"`
}

// CommitFilter selects commits.
type CommitFilter struct {
	Common
	Repos             []string `json:"repos,omitempty"`
	Branches          []string `json:"branches,omitempty"`
	Committers        []string `json:"committers,omitempty"`
	ExcludeCommitters []string `json:"exclude_committers,omitempty"`
}

// JobRunFilter selects CI/CD job runs.
type JobRunFilter struct {
	Common
	JobIDs   []string `json:"job_ids,omitempty"`
	JobNames []string `json:"job_names,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
	Branches []string `json:"branches,omitempty"`
}

func (c Common) validate(family string) error {
	if err := validateRange(family, "created", c.Created); err != nil {
		return err
	}
	if err := validateRange(family, "updated", c.Updated); err != nil {
		return err
	}
	for field, p := range c.Partial {
		switch p.Op {
		case OpContains, OpBegins, OpEnds:
		default:
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("%s filter: unknown partial operator %q for field %q", family, p.Op, field))
		}
	}
	for _, cc := range c.Custom {
		if cc.Key == "" {
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("%s filter: custom constraint without a key", family))
		}
		switch cc.Op {
		case CustomEq, CustomContains, CustomBegins, CustomEnds, CustomGT, CustomLT:
		default:
			return pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("%s filter: unknown custom operator %q for key %q", family, cc.Op, cc.Key))
		}
	}
	return nil
}

func validateRange(family, field string, r TimeRange) error {
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return pkgerrors.ErrValidation.WithDetail("message",
			fmt.Sprintf("%s filter: %s range lower bound is after upper bound", family, field))
	}
	return nil
}

func (f *IssueFilter) Validate() error {
	if f == nil {
		return nil
	}
	return f.Common.validate("issue")
}

func (f *PRFilter) Validate() error {
	if f == nil {
		return nil
	}
	return f.Common.validate("pr")
}

func (f *CommitFilter) Validate() error {
	if f == nil {
		return nil
	}
	return f.Common.validate("commit")
}

func (f *JobRunFilter) Validate() error {
	if f == nil {
		return nil
	}
	return f.Common.validate("job_run")
}
