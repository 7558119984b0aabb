package filter

import (
	"velo/internal/predicate"
)

// Compose builds the combined eligibility predicate for issue items.
// Include and exclude lists on the same logical field stay independent
// predicates: an item excluded by one list is ineligible regardless of
// what any include list says. A nil filter composes to the identity set.
func (f *IssueFilter) Compose() predicate.Set {
	if f == nil {
		return nil
	}
	set := f.Common.compose()
	set = appendIn(set, "integration", f.Integrations)
	set = appendIn(set, "project", f.Projects)
	set = appendIn(set, "status", f.Statuses)
	set = appendIn(set, "assignee", f.Assignees)
	set = appendNotIn(set, "assignee", f.ExcludeAssignees)
	set = appendIn(set, "reporter", f.Reporters)
	set = appendIn(set, "labels", f.Labels)
	set = appendNotIn(set, "labels", f.ExcludeLabels)
	set = appendIn(set, "milestone", f.Milestones)
	return set
}

func (f *PRFilter) Compose() predicate.Set {
	if f == nil {
		return nil
	}
	set := f.Common.compose()
	set = appendIn(set, "repo", f.Repos)
	set = appendIn(set, "author", f.Authors)
	set = appendNotIn(set, "author", f.ExcludeAuthors)
	set = appendIn(set, "reviewers", f.Reviewers)
	set = appendNotIn(set, "reviewers", f.ExcludeReviewers)
	set = appendIn(set, "approvers", f.Approvers)
	set = appendNotIn(set, "approvers", f.ExcludeApprovers)
	set = appendIn(set, "source_branch", f.SourceBranches)
	set = appendIn(set, "target_branch", f.TargetBranches)
	set = appendIn(set, "labels", f.Labels)
	set = appendNotIn(set, "labels", f.ExcludeLabels)
	return set
}

func (f *CommitFilter) Compose() predicate.Set {
	if f == nil {
		return nil
	}
	set := f.Common.compose()
	set = appendIn(set, "repo", f.Repos)
	set = appendIn(set, "branch", f.Branches)
	set = appendIn(set, "committer", f.Committers)
	set = appendNotIn(set, "committer", f.ExcludeCommitters)
	return set
}

func (f *JobRunFilter) Compose() predicate.Set {
	if f == nil {
		return nil
	}
	set := f.Common.compose()
	set = appendIn(set, "job_id", f.JobIDs)
	set = appendIn(set, "job_name", f.JobNames)
	set = appendIn(set, "status", f.Statuses)
	set = appendIn(set, "branch", f.Branches)
	return set
}

func (c Common) compose() predicate.Set {
	var set predicate.Set
	set = appendIn(set, "id", c.IDs)
	set = appendNotIn(set, "id", c.ExcludeIDs)
	if !c.Created.empty() {
		set = append(set, predicate.TimeRange{Field: "created_at", From: c.Created.From, To: c.Created.To})
	}
	if !c.Updated.empty() {
		set = append(set, predicate.TimeRange{Field: "updated_at", From: c.Updated.From, To: c.Updated.To})
	}
	for field, p := range c.Partial {
		switch p.Op {
		case OpContains:
			set = append(set, predicate.Contains{Field: field, Value: p.Value})
		case OpBegins:
			set = append(set, predicate.Begins{Field: field, Value: p.Value})
		case OpEnds:
			set = append(set, predicate.Ends{Field: field, Value: p.Value})
		}
	}
	for field, expected := range c.Missing {
		set = append(set, predicate.Missing{Field: field, Expected: expected})
	}
	for _, cc := range c.Custom {
		set = append(set, cc.predicate())
	}
	return set
}

func (cc CustomConstraint) predicate() predicate.Predicate {
	field := CustomFieldPrefix + cc.Key
	switch cc.Op {
	case CustomContains:
		return predicate.Contains{Field: field, Value: cc.Value}
	case CustomBegins:
		return predicate.Begins{Field: field, Value: cc.Value}
	case CustomEnds:
		return predicate.Ends{Field: field, Value: cc.Value}
	case CustomGT:
		return ordered{field: field, value: cc.Value, greater: true}
	case CustomLT:
		return ordered{field: field, value: cc.Value, greater: false}
	default:
		return predicate.Eq{Field: field, Value: cc.Value}
	}
}

// ordered implements $gt/$lt over numeric or timestamp custom fields.
type ordered struct {
	field   string
	value   string
	greater bool
}

func (p ordered) FieldName() string { return p.field }

func (p ordered) Match(value interface{}, present bool) bool {
	if !present {
		return false
	}
	if n, ok := predicate.AsNumber(value); ok {
		if bound, bok := predicate.AsNumber(p.value); bok {
			if p.greater {
				return n > bound
			}
			return n < bound
		}
	}
	if t, ok := predicate.AsTime(value); ok {
		if bound, bok := predicate.AsTime(p.value); bok {
			if p.greater {
				return t.After(bound)
			}
			return t.Before(bound)
		}
	}
	return false
}

func appendIn(set predicate.Set, field string, values []string) predicate.Set {
	if len(values) == 0 {
		return set
	}
	return append(set, predicate.In{Field: field, Values: values})
}

func appendNotIn(set predicate.Set, field string, values []string) predicate.Set {
	if len(values) == 0 {
		return set
	}
	return append(set, predicate.NotIn{Field: field, Values: values})
}
