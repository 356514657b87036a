package cadence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/cadence/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store is the full persistence surface the service needs.
type Store interface {
	domain.TemplateStore
	domain.TemplateAdmin
	domain.StageResolver
	domain.AnchorStore
	domain.InstanceStore
}

// Service is the entry point used by the HTTP API, the trigger consumer and the CLI.
type Service struct {
	store        Store
	evaluator    *Evaluator
	orchestrator *Orchestrator
	now          func() time.Time
}

// NewService wires the engine on top of store.
func NewService(store Store, genOpts []GeneratorOption, opts ...Option) *Service {
	evaluator := NewEvaluator(store, store)
	generator := NewGenerator(store, genOpts...)
	return &Service{
		store:        store,
		evaluator:    evaluator,
		orchestrator: NewOrchestrator(store, store, evaluator, generator, opts...),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Advance runs the orchestrator for one trigger.
func (s *Service) Advance(ctx context.Context, trig domain.Trigger) (AdvanceResult, error) {
	return s.orchestrator.Advance(ctx, trig)
}

// Evaluate reports the derived completion of one stage for a lead.
func (s *Service) Evaluate(ctx context.Context, tenantID, leadID, pipelineID, stageName string) (Evaluation, error) {
	stages, err := s.store.ListStages(ctx, tenantID, pipelineID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("list stages: %w", err)
	}
	found := false
	for _, st := range stages {
		if st.Name == stageName {
			found = true
			break
		}
	}
	if !found {
		return Evaluation{}, fmt.Errorf("%w: stage %q in pipeline %q", domain.ErrNotFound, stageName, pipelineID)
	}
	return s.evaluator.Evaluate(ctx, tenantID, leadID, pipelineID, stageName)
}

// ListTasks pages through a lead's task instances ordered by scheduled_at.
func (s *Service) ListTasks(ctx context.Context, tenantID, leadID string, cursor *domain.Cursor, limit int) ([]domain.TaskInstance, *domain.Cursor, error) {
	if strings.TrimSpace(leadID) == "" {
		return nil, nil, fmt.Errorf("%w: lead_id is required", domain.ErrInvalidTrigger)
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.store.ListByLead(ctx, tenantID, leadID, cursor, limit)
}

// CreateTemplate validates and stores a new template. The template only takes effect for a lead on
// its next advance.
func (s *Service) CreateTemplate(ctx context.Context, tpl domain.CadenceTemplate) (domain.CadenceTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return domain.CadenceTemplate{}, err
	}
	now := s.now()
	tpl.ID = uuid.NewString()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return domain.CadenceTemplate{}, err
	}
	return tpl, nil
}

// ListTemplates returns every template of a stage, active or not.
func (s *Service) ListTemplates(ctx context.Context, tenantID, pipelineID, stageName string) ([]domain.CadenceTemplate, error) {
	return s.store.ListTemplates(ctx, tenantID, pipelineID, stageName)
}

// SetTemplateActive toggles a template. Deactivation never touches instances already generated.
func (s *Service) SetTemplateActive(ctx context.Context, tenantID, templateID string, active bool) (*domain.CadenceTemplate, error) {
	return s.store.SetTemplateActive(ctx, tenantID, templateID, active)
}
