// Package domain defines the cadence engine's entities, store contracts and error taxonomy.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel categorises how a touch point is carried out.
type Channel string

const (
	ChannelMessage Channel = "message"
	ChannelCall    Channel = "call"
	ChannelAction  Channel = "action"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelMessage, ChannelCall, ChannelAction:
		return true
	}
	return false
}

// AnchorPolicy selects the timestamp a task's day offset is measured from.
type AnchorPolicy string

const (
	AnchorStageEntry    AnchorPolicy = "stage-entry"
	AnchorPipelineEntry AnchorPolicy = "pipeline-entry"
)

// Valid reports whether p is a known anchor policy.
func (p AnchorPolicy) Valid() bool {
	return p == AnchorStageEntry || p == AnchorPipelineEntry
}

// TaskStatus is the execution state of a task instance. The engine only ever writes TaskStatusPending.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// Stage is a read-only step of a pipeline owned by the pipeline subsystem.
type Stage struct {
	PipelineID string
	Name       string
	OrderIndex int
}

// CadenceTemplate is an administrator-configured task definition attached to one pipeline stage.
type CadenceTemplate struct {
	ID              string
	TenantID        string
	PipelineID      string
	StageName       string
	TaskOrder       int
	Channel         Channel
	DayOffset       int
	Title           string
	Description     string
	ContentTemplate string
	AnchorPolicy    AnchorPolicy
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the fields an administrator supplies when authoring a template.
func (t CadenceTemplate) Validate() error {
	var errs []error
	if strings.TrimSpace(t.TenantID) == "" {
		errs = append(errs, errors.New("tenant_id is required"))
	}
	if strings.TrimSpace(t.PipelineID) == "" {
		errs = append(errs, errors.New("pipeline_id is required"))
	}
	if strings.TrimSpace(t.StageName) == "" {
		errs = append(errs, errors.New("stage_name is required"))
	}
	if t.TaskOrder < 0 {
		errs = append(errs, errors.New("task_order must be >= 0"))
	}
	if !t.Channel.Valid() {
		errs = append(errs, fmt.Errorf("unknown channel %q", t.Channel))
	}
	if t.DayOffset < 0 {
		errs = append(errs, errors.New("day_offset must be >= 0"))
	}
	if !t.AnchorPolicy.Valid() {
		errs = append(errs, fmt.Errorf("unknown anchor_policy %q", t.AnchorPolicy))
	}
	if strings.TrimSpace(t.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidTemplateConfig, errors.Join(errs...))
}

// TaskInstance is the lead-specific, scheduled realisation of a CadenceTemplate.
type TaskInstance struct {
	ID              string
	TenantID        string
	LeadID          string
	PipelineID      string
	StageName       string
	TaskOrder       int
	TemplateID      string
	Channel         Channel
	Title           string
	Description     string
	RenderedContent string
	AssigneeID      string
	ScheduledAt     time.Time
	Status          TaskStatus
	CreatedAt       time.Time
}

// InstanceKey is the idempotency key of a task instance within a tenant.
type InstanceKey struct {
	LeadID    string
	StageName string
	TaskOrder int
}

// Key returns the instance's idempotency key.
func (t TaskInstance) Key() InstanceKey {
	return InstanceKey{LeadID: t.LeadID, StageName: t.StageName, TaskOrder: t.TaskOrder}
}

// LeadAnchors holds the recorded entry timestamps of a lead within one pipeline.
type LeadAnchors struct {
	PipelineEnteredAt time.Time
	StageEnteredAt    map[string]time.Time
}

// StageEntry returns the recorded entry time for a stage.
func (a LeadAnchors) StageEntry(stage string) (time.Time, bool) {
	ts, ok := a.StageEnteredAt[stage]
	if !ok || ts.IsZero() {
		return time.Time{}, false
	}
	return ts, true
}

// Trigger is the inbound "lead entered or advanced to a stage" event.
type Trigger struct {
	TenantID          string
	LeadID            string
	PipelineID        string
	TargetStage       string
	StageEnteredAt    time.Time
	PipelineEnteredAt time.Time
	OwnerID           string
	Attributes        map[string]string
}

// Validate ensures the identifiers needed to resolve the walk are present.
func (t Trigger) Validate() error {
	switch {
	case strings.TrimSpace(t.TenantID) == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidTrigger)
	case strings.TrimSpace(t.LeadID) == "":
		return fmt.Errorf("%w: lead_id is required", ErrInvalidTrigger)
	case strings.TrimSpace(t.PipelineID) == "":
		return fmt.Errorf("%w: pipeline_id is required", ErrInvalidTrigger)
	case strings.TrimSpace(t.TargetStage) == "":
		return fmt.Errorf("%w: target_stage is required", ErrInvalidTrigger)
	}
	return nil
}

// Cursor models the task listing pagination token.
type Cursor struct {
	ScheduledAt time.Time
	ID          string
}
