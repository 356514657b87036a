// Package events defines the event payloads exchanged with other services.
package events

import "time"

// Event type names carried in the event_type Kafka header.
const (
	LeadStageChangedType = "lead.stage_changed"
	LeadTasksChangedType = "lead.tasks_changed"
	TaskCreatedType      = "cadence.task_created"
)

// LeadStageChanged is emitted by the pipeline subsystem when a lead enters or moves to a stage.
type LeadStageChanged struct {
	TenantID          string            `json:"tenant_id"`
	LeadID            string            `json:"lead_id"`
	PipelineID        string            `json:"pipeline_id"`
	TargetStage       string            `json:"target_stage_name"`
	StageEnteredAt    time.Time         `json:"stage_entry_timestamp"`
	PipelineEnteredAt time.Time         `json:"pipeline_entry_timestamp"`
	OwnerID           string            `json:"owner_id,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
}

// LeadTasksChanged tells presentation consumers to refresh a lead's task list.
type LeadTasksChanged struct {
	TenantID   string    `json:"tenant_id"`
	LeadID     string    `json:"lead_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TaskCreated records a newly generated task instance for downstream reporting and reminders.
type TaskCreated struct {
	TaskID      string    `json:"task_id"`
	TenantID    string    `json:"tenant_id"`
	LeadID      string    `json:"lead_id"`
	PipelineID  string    `json:"pipeline_id"`
	StageName   string    `json:"stage_name"`
	TaskOrder   int       `json:"task_order"`
	Channel     string    `json:"channel"`
	AssigneeID  string    `json:"assignee_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}
