package domain

import (
	"context"
	"time"
)

// TemplateStore is the read side of the template store used by the engine.
type TemplateStore interface {
	// ListActiveTemplates returns active templates ordered by task_order. An unconfigured stage yields an empty slice.
	ListActiveTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]CadenceTemplate, error)
}

// TemplateAdmin is the administrative write side of the template store.
type TemplateAdmin interface {
	CreateTemplate(ctx context.Context, tpl CadenceTemplate) error
	ListTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]CadenceTemplate, error)
	SetTemplateActive(ctx context.Context, tenantID, templateID string, active bool) (*CadenceTemplate, error)
}

// StageResolver reads the pipeline subsystem's stage definitions.
type StageResolver interface {
	// ListStages returns the pipeline's stages in ascending order_index. An unknown pipeline yields an empty slice.
	ListStages(ctx context.Context, tenantID, pipelineID string) ([]Stage, error)
}

// AnchorStore records the first observed entry timestamps of a lead.
type AnchorStore interface {
	// RecordAnchors inserts each non-zero timestamp only if none is recorded yet and returns the recorded set.
	RecordAnchors(ctx context.Context, tenantID, leadID, pipelineID string, pipelineEnteredAt time.Time, stageEntries map[string]time.Time) (LeadAnchors, error)
}

// InstanceStore persists generated task instances.
type InstanceStore interface {
	ListByLeadAndStage(ctx context.Context, tenantID, leadID, stageName string) ([]TaskInstance, error)
	// InsertInstances inserts the batch in one transaction, skipping rows whose idempotency key
	// already exists, and returns how many rows were actually inserted.
	InsertInstances(ctx context.Context, tenantID, leadID, stageName string, instances []TaskInstance) (int, error)
	ListByLead(ctx context.Context, tenantID, leadID string, cursor *Cursor, limit int) ([]TaskInstance, *Cursor, error)
}
