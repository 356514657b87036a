package cadence

import (
	"context"
	"fmt"

	"example.com/cadence/internal/domain"
)

// Evaluation is the derived completion state of one (lead, stage) pair.
type Evaluation struct {
	Stage    string
	Active   []domain.CadenceTemplate
	Existing []domain.TaskInstance
	Missing  []domain.CadenceTemplate
}

// Complete reports whether every active template already has an instance.
func (e Evaluation) Complete() bool {
	return len(e.Missing) == 0
}

// Evaluator recomputes stage completion from the current templates and instances on every call.
type Evaluator struct {
	templates domain.TemplateStore
	instances domain.InstanceStore
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(templates domain.TemplateStore, instances domain.InstanceStore) *Evaluator {
	return &Evaluator{templates: templates, instances: instances}
}

// Evaluate compares the stage's active templates against the lead's instances for that stage.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID, leadID, pipelineID, stageName string) (Evaluation, error) {
	active, err := e.templates.ListActiveTemplates(ctx, tenantID, pipelineID, stageName)
	if err != nil {
		return Evaluation{}, fmt.Errorf("list active templates: %w", err)
	}

	existing, err := e.instances.ListByLeadAndStage(ctx, tenantID, leadID, stageName)
	if err != nil {
		return Evaluation{}, fmt.Errorf("list instances: %w", err)
	}

	existingOrders := make(map[int]struct{}, len(existing))
	for _, inst := range existing {
		existingOrders[inst.TaskOrder] = struct{}{}
	}

	missing := make([]domain.CadenceTemplate, 0, len(active))
	for _, tpl := range active {
		if _, ok := existingOrders[tpl.TaskOrder]; !ok {
			missing = append(missing, tpl)
		}
	}

	return Evaluation{
		Stage:    stageName,
		Active:   active,
		Existing: existing,
		Missing:  missing,
	}, nil
}
