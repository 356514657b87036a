// Package cadence implements the cadence automation engine: scheduling, completion evaluation,
// instance generation and the stage-walking orchestrator.
package cadence

import (
	"fmt"
	"time"

	"example.com/cadence/internal/domain"
)

const day = 24 * time.Hour

// ComputeScheduledAt returns the due time of a template for a lead with the given recorded anchors.
// The stage-entry anchor is the lead's entry into the template's own stage, never the evaluation time.
func ComputeScheduledAt(tpl domain.CadenceTemplate, anchors domain.LeadAnchors) (time.Time, error) {
	if tpl.DayOffset < 0 {
		return time.Time{}, fmt.Errorf("%w: task_order %d has negative day_offset %d", domain.ErrInvalidTemplateConfig, tpl.TaskOrder, tpl.DayOffset)
	}

	var anchor time.Time
	switch tpl.AnchorPolicy {
	case domain.AnchorStageEntry:
		anchor, _ = anchors.StageEntry(tpl.StageName)
	case domain.AnchorPipelineEntry:
		anchor = anchors.PipelineEnteredAt
	default:
		return time.Time{}, fmt.Errorf("%w: task_order %d has unknown anchor_policy %q", domain.ErrInvalidTemplateConfig, tpl.TaskOrder, tpl.AnchorPolicy)
	}
	if anchor.IsZero() {
		return time.Time{}, fmt.Errorf("%w: task_order %d has no %s anchor for stage %q", domain.ErrInvalidTemplateConfig, tpl.TaskOrder, tpl.AnchorPolicy, tpl.StageName)
	}

	return anchor.UTC().Add(time.Duration(tpl.DayOffset) * day), nil
}
