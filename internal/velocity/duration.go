package velocity

import (
	"time"

	"velo/internal/stage"
)

// Computer walks one stage pipeline over work items. Limits are
// converted once up front so per-item computation is allocation-light.
type Computer struct {
	pipeline []pipelineStage
}

// NewComputer validates the groups and prepares the concatenated
// pre → fixed → post pipeline.
func NewComputer(groups stage.Groups) (*Computer, error) {
	if err := groups.Validate(); err != nil {
		return nil, err
	}

	defs := groups.Pipeline()
	pipeline := make([]pipelineStage, 0, len(defs))
	for _, def := range defs {
		lower, err := def.LowerLimit.Duration()
		if err != nil {
			return nil, err
		}
		upper, err := def.UpperLimit.Duration()
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, pipelineStage{def: def, lower: lower, upper: upper})
	}
	return &Computer{pipeline: pipeline}, nil
}

func (c *Computer) StageNames() []string {
	names := make([]string, len(c.pipeline))
	for i, ps := range c.pipeline {
		names[i] = ps.def.Name
	}
	return names
}

// Compute derives the item's stage-duration vector. The first stage is
// measured from the item's creation timestamp. A stage whose boundary
// event is absent yields not_computed and the walk continues from the
// last resolved boundary, so one missing event never breaks the
// pipeline.
func (c *Computer) Compute(item *WorkItem, events []stage.Event) ItemResult {
	result := ItemResult{
		ItemID:    item.ID,
		CreatedAt: item.CreatedAt,
		Stages:    make([]StageDuration, 0, len(c.pipeline)),
	}

	previous := item.CreatedAt
	for _, ps := range c.pipeline {
		boundary, ok := stage.Match(item.ID, ps.def, events)
		if !ok {
			result.Stages = append(result.Stages, StageDuration{
				Stage:          ps.def.Name,
				Classification: ClassNotComputed,
			})
			result.MissingStages++
			continue
		}

		duration := boundary.Timestamp.Sub(previous)
		if duration < 0 {
			// Boundary before the last resolved one: malformed event
			// data is contained, not propagated.
			result.Stages = append(result.Stages, StageDuration{
				Stage:          ps.def.Name,
				Classification: ClassNotComputed,
			})
			result.MissingStages++
			continue
		}

		result.Stages = append(result.Stages, StageDuration{
			Stage:          ps.def.Name,
			Duration:       duration,
			Classification: classify(duration, ps.lower, ps.upper),
		})
		previous = boundary.Timestamp
	}
	return result
}

// classify rates one resolved duration against the stage's limits. A
// zero limit is unbounded on that side.
func classify(d, lower, upper time.Duration) Classification {
	if lower > 0 && d < lower {
		return ClassBelow
	}
	if upper > 0 && d > upper {
		return ClassAbove
	}
	return ClassWithinRange
}

// Overall collapses an item's per-stage classifications into one rating
// for whole-pipeline velocity buckets: any stage above target rates the
// item above, else any below rates it below, else within_range. Items
// with no resolved stage rate not_computed.
func (r ItemResult) Overall() Classification {
	if !r.Computed() {
		return ClassNotComputed
	}
	overall := ClassWithinRange
	for _, sd := range r.Stages {
		switch sd.Classification {
		case ClassAbove:
			return ClassAbove
		case ClassBelow:
			overall = ClassBelow
		}
	}
	return overall
}
