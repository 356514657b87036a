package api

import (
	"time"

	"example.com/cadence/internal/cadence"
	"example.com/cadence/internal/domain"
)

// AdvanceRequest is the payload for POST /v1/leads/{lead_id}/advance.
type AdvanceRequest struct {
	PipelineID        string            `json:"pipeline_id"`
	TargetStage       string            `json:"target_stage"`
	StageEnteredAt    time.Time         `json:"stage_entered_at"`
	PipelineEnteredAt time.Time         `json:"pipeline_entered_at"`
	OwnerID           string            `json:"owner_id,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
}

// StageOutcomeView reports one stage of an advance.
type StageOutcomeView struct {
	Stage      string `json:"stage"`
	OrderIndex int    `json:"order_index"`
	Missing    int    `json:"missing"`
	Created    int    `json:"created"`
	Conflicts  int    `json:"conflicts"`
	Skipped    int    `json:"skipped"`
}

// AdvanceResponse describes the result of an advance.
type AdvanceResponse struct {
	Created int                `json:"created"`
	Stages  []StageOutcomeView `json:"stages"`
}

// ErrorWithProgress is returned when an advance fails after committing earlier stages.
type ErrorWithProgress struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	AdvanceResponse
}

// TaskView exposes a task instance.
type TaskView struct {
	TaskID          string    `json:"task_id"`
	LeadID          string    `json:"lead_id"`
	PipelineID      string    `json:"pipeline_id"`
	StageName       string    `json:"stage_name"`
	TaskOrder       int       `json:"task_order"`
	TemplateID      string    `json:"template_id,omitempty"`
	Channel         string    `json:"channel"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	RenderedContent string    `json:"rendered_content,omitempty"`
	AssigneeID      string    `json:"assignee_id,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListTasksResponse packages list results.
type ListTasksResponse struct {
	Items      []TaskView `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// CompletionResponse reports the derived completion of one stage.
type CompletionResponse struct {
	Stage         string `json:"stage"`
	Complete      bool   `json:"complete"`
	ActiveCount   int    `json:"active_templates"`
	ExistingCount int    `json:"existing_instances"`
	MissingOrders []int  `json:"missing_task_orders"`
}

// CreateTemplateRequest is the payload for POST .../templates.
type CreateTemplateRequest struct {
	TaskOrder       int    `json:"task_order"`
	Channel         string `json:"channel"`
	DayOffset       int    `json:"day_offset"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	ContentTemplate string `json:"content_template,omitempty"`
	AnchorPolicy    string `json:"anchor_policy,omitempty"`
	Active          *bool  `json:"is_active,omitempty"`
}

// PatchTemplateRequest toggles a template.
type PatchTemplateRequest struct {
	Active *bool `json:"is_active"`
}

// TemplateView exposes a cadence template.
type TemplateView struct {
	TemplateID      string    `json:"template_id"`
	PipelineID      string    `json:"pipeline_id"`
	StageName       string    `json:"stage_name"`
	TaskOrder       int       `json:"task_order"`
	Channel         string    `json:"channel"`
	DayOffset       int       `json:"day_offset"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ContentTemplate string    `json:"content_template,omitempty"`
	AnchorPolicy    string    `json:"anchor_policy"`
	Active          bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListTemplatesResponse packages template list results.
type ListTemplatesResponse struct {
	Items []TemplateView `json:"items"`
}

// NewAdvanceResponse converts an advance result to its wire form.
func NewAdvanceResponse(result cadence.AdvanceResult) AdvanceResponse {
	resp := AdvanceResponse{Created: result.Created, Stages: make([]StageOutcomeView, 0, len(result.Stages))}
	for _, s := range result.Stages {
		resp.Stages = append(resp.Stages, StageOutcomeView{
			Stage:      s.Stage,
			OrderIndex: s.OrderIndex,
			Missing:    s.Missing,
			Created:    s.Created,
			Conflicts:  s.Conflicts,
			Skipped:    s.Skipped,
		})
	}
	return resp
}

// NewCompletionResponse converts an evaluation to its wire form.
func NewCompletionResponse(eval cadence.Evaluation) CompletionResponse {
	resp := CompletionResponse{
		Stage:         eval.Stage,
		Complete:      eval.Complete(),
		ActiveCount:   len(eval.Active),
		ExistingCount: len(eval.Existing),
		MissingOrders: make([]int, 0, len(eval.Missing)),
	}
	for _, tpl := range eval.Missing {
		resp.MissingOrders = append(resp.MissingOrders, tpl.TaskOrder)
	}
	return resp
}

func toTaskView(t domain.TaskInstance) TaskView {
	return TaskView{
		TaskID:          t.ID,
		LeadID:          t.LeadID,
		PipelineID:      t.PipelineID,
		StageName:       t.StageName,
		TaskOrder:       t.TaskOrder,
		TemplateID:      t.TemplateID,
		Channel:         string(t.Channel),
		Title:           t.Title,
		Description:     t.Description,
		RenderedContent: t.RenderedContent,
		AssigneeID:      t.AssigneeID,
		ScheduledAt:     t.ScheduledAt,
		Status:          string(t.Status),
		CreatedAt:       t.CreatedAt,
	}
}

func toTemplateView(t domain.CadenceTemplate) TemplateView {
	return TemplateView{
		TemplateID:      t.ID,
		PipelineID:      t.PipelineID,
		StageName:       t.StageName,
		TaskOrder:       t.TaskOrder,
		Channel:         string(t.Channel),
		DayOffset:       t.DayOffset,
		Title:           t.Title,
		Description:     t.Description,
		ContentTemplate: t.ContentTemplate,
		AnchorPolicy:    string(t.AnchorPolicy),
		Active:          t.Active,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
