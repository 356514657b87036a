package cadence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/observability"
)

// GenerateRequest carries everything needed to materialise one stage's missing templates.
type GenerateRequest struct {
	TenantID   string
	LeadID     string
	PipelineID string
	StageName  string
	OwnerID    string
	Attributes map[string]string
	Anchors    domain.LeadAnchors
	Missing    []domain.CadenceTemplate
}

// GenerateResult reports what a Generate call did.
type GenerateResult struct {
	Created   int
	Conflicts int
	Skipped   int
}

// Generator turns missing templates into task instances with an insert-if-absent batch.
type Generator struct {
	instances domain.InstanceStore
	logger    logrus.FieldLogger
	now       func() time.Time
	newID     func() string
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorLogger overrides the generator's logger.
func WithGeneratorLogger(logger logrus.FieldLogger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithClock overrides the clock used for created_at stamps.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator constructs a Generator.
func NewGenerator(instances domain.InstanceStore, opts ...GeneratorOption) *Generator {
	g := &Generator{
		instances: instances,
		logger:    logrus.StandardLogger().WithField("component", "generator"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds one instance per schedulable missing template and inserts the batch atomically.
// A template that cannot be scheduled is skipped with a warning; the rest of the stage proceeds.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	log := g.logger.WithFields(logrus.Fields{
		"tenant_id": req.TenantID,
		"lead_id":   req.LeadID,
		"stage":     req.StageName,
	})

	var result GenerateResult
	now := g.now()
	values := placeholderValues(req)
	batch := make([]domain.TaskInstance, 0, len(req.Missing))

	for _, tpl := range req.Missing {
		if tpl.TenantID != req.TenantID {
			log.WithFields(logrus.Fields{
				"task_order":      tpl.TaskOrder,
				"template_tenant": tpl.TenantID,
			}).WithError(domain.ErrTenantMismatch).Error("refusing template from another tenant")
			result.Skipped++
			continue
		}

		scheduledAt, err := ComputeScheduledAt(tpl, req.Anchors)
		if err != nil {
			log.WithField("task_order", tpl.TaskOrder).WithError(err).Warn("skipping unschedulable template")
			observability.RecordInvalidTemplate()
			result.Skipped++
			continue
		}

		batch = append(batch, domain.TaskInstance{
			ID:              g.newID(),
			TenantID:        req.TenantID,
			LeadID:          req.LeadID,
			PipelineID:      req.PipelineID,
			StageName:       req.StageName,
			TaskOrder:       tpl.TaskOrder,
			TemplateID:      tpl.ID,
			Channel:         tpl.Channel,
			Title:           RenderContent(tpl.Title, values),
			Description:     RenderContent(tpl.Description, values),
			RenderedContent: RenderContent(tpl.ContentTemplate, values),
			AssigneeID:      req.OwnerID,
			ScheduledAt:     scheduledAt,
			Status:          domain.TaskStatusPending,
			CreatedAt:       now,
		})
	}

	if len(batch) == 0 {
		return result, nil
	}

	created, err := g.instances.InsertInstances(ctx, req.TenantID, req.LeadID, req.StageName, batch)
	if err != nil {
		if !errors.Is(err, domain.ErrTransientStore) {
			err = domain.Transient("insert instances", err)
		}
		return result, err
	}

	result.Created = created
	result.Conflicts = len(batch) - created
	observability.RecordInsertConflicts(result.Conflicts)
	if created > 0 {
		observability.RecordInstancesCreated(created, now)
		log.WithField("created", created).Debug("task instances generated")
	}
	return result, nil
}
