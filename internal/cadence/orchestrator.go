package cadence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/notify"
	"example.com/cadence/internal/observability"
)

const tracerName = "example.com/cadence/internal/cadence"

// notifyTimeout bounds the best-effort notification, which outlives the caller's context.
const notifyTimeout = 10 * time.Second

// StageOutcome reports what one stage of the walk did.
type StageOutcome struct {
	Stage      string
	OrderIndex int
	Missing    int
	Created    int
	Conflicts  int
	Skipped    int
}

// AdvanceResult is returned by Advance. On error it holds the progress committed before the failing stage.
type AdvanceResult struct {
	Created int
	Stages  []StageOutcome
}

// Orchestrator walks a pipeline's stage prefix and fills in every incomplete stage for a lead.
type Orchestrator struct {
	stages    domain.StageResolver
	anchors   domain.AnchorStore
	evaluator *Evaluator
	generator *Generator
	notifier  notify.Notifier
	locker    LeadLocker
	logger    logrus.FieldLogger
	tracer    trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the orchestrator's logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithNotifier sets the tasks-changed notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLocker sets the per-lead locker.
func WithLocker(l LeadLocker) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(stages domain.StageResolver, anchors domain.AnchorStore, evaluator *Evaluator, generator *Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stages:    stages,
		anchors:   anchors,
		evaluator: evaluator,
		generator: generator,
		notifier:  notify.NoopNotifier{},
		locker:    NoopLocker{},
		logger:    logrus.StandardLogger().WithField("component", "orchestrator"),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Advance brings the lead's instances up to date for every stage from the pipeline's first stage
// through trig.TargetStage. It is safe to call repeatedly and concurrently for the same lead.
func (o *Orchestrator) Advance(ctx context.Context, trig domain.Trigger) (result AdvanceResult, err error) {
	start := time.Now()
	if err := trig.Validate(); err != nil {
		observability.ObserveAdvance(outcomeLabel(err), time.Since(start))
		return AdvanceResult{}, err
	}

	ctx, span := o.tracer.Start(ctx, "cadence.Advance", trace.WithAttributes(
		attribute.String("tenant_id", trig.TenantID),
		attribute.String("lead_id", trig.LeadID),
		attribute.String("pipeline_id", trig.PipelineID),
		attribute.String("target_stage", trig.TargetStage),
	))
	defer func() {
		span.SetAttributes(attribute.Int("instances_created", result.Created))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		observability.ObserveAdvance(outcomeLabel(err), time.Since(start))
	}()

	log := o.logger.WithFields(logrus.Fields{
		"tenant_id":    trig.TenantID,
		"lead_id":      trig.LeadID,
		"pipeline_id":  trig.PipelineID,
		"target_stage": trig.TargetStage,
	})

	unlock, lockErr := o.locker.Lock(ctx, trig.TenantID, trig.LeadID)
	if lockErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return AdvanceResult{}, ctxErr
		}
		log.WithError(lockErr).Warn("lead lock unavailable, advancing without it")
	} else {
		defer unlock()
	}

	prefix, err := o.resolvePrefix(ctx, trig)
	if err != nil {
		return AdvanceResult{}, err
	}

	anchors, err := o.recordAnchors(ctx, trig, prefix)
	if err != nil {
		return AdvanceResult{}, err
	}

	defer func() {
		if len(result.Stages) > 0 {
			o.notify(ctx, log, trig)
		}
	}()

	for _, stage := range prefix {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, &domain.StageError{Stage: stage.Name, Err: ctxErr}
		}

		outcome, stageErr := o.advanceStage(ctx, trig, stage, anchors)
		result.Created += outcome.Created
		result.Stages = append(result.Stages, outcome)
		if stageErr != nil {
			log.WithField("stage", stage.Name).WithField("created_so_far", result.Created).WithError(stageErr).Error("stage failed, aborting walk")
			return result, &domain.StageError{Stage: stage.Name, Err: stageErr}
		}
	}

	log.WithFields(logrus.Fields{
		"stages":  len(result.Stages),
		"created": result.Created,
	}).Info("lead advanced")
	return result, nil
}

func (o *Orchestrator) advanceStage(ctx context.Context, trig domain.Trigger, stage domain.Stage, anchors domain.LeadAnchors) (StageOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "cadence.AdvanceStage", trace.WithAttributes(
		attribute.String("stage", stage.Name),
		attribute.Int("order_index", stage.OrderIndex),
	))
	defer span.End()

	outcome := StageOutcome{Stage: stage.Name, OrderIndex: stage.OrderIndex}

	eval, err := o.evaluator.Evaluate(ctx, trig.TenantID, trig.LeadID, trig.PipelineID, stage.Name)
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}
	outcome.Missing = len(eval.Missing)
	if eval.Complete() {
		return outcome, nil
	}

	gen, err := o.generator.Generate(ctx, GenerateRequest{
		TenantID:   trig.TenantID,
		LeadID:     trig.LeadID,
		PipelineID: trig.PipelineID,
		StageName:  stage.Name,
		OwnerID:    trig.OwnerID,
		Attributes: trig.Attributes,
		Anchors:    anchors,
		Missing:    eval.Missing,
	})
	outcome.Created = gen.Created
	outcome.Conflicts = gen.Conflicts
	outcome.Skipped = gen.Skipped
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}
	span.SetAttributes(attribute.Int("created", gen.Created))
	return outcome, nil
}

// resolvePrefix returns the pipeline's stages from the first through the target, ascending.
func (o *Orchestrator) resolvePrefix(ctx context.Context, trig domain.Trigger) ([]domain.Stage, error) {
	stages, err := o.stages.ListStages(ctx, trig.TenantID, trig.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q", domain.ErrNotFound, trig.PipelineID)
	}
	for i, stage := range stages {
		if stage.Name == trig.TargetStage {
			return stages[:i+1], nil
		}
	}
	return nil, fmt.Errorf("%w: stage %q in pipeline %q", domain.ErrNotFound, trig.TargetStage, trig.PipelineID)
}

// recordAnchors offers the trigger's timestamps for every stage in the prefix. Stages with an
// entry already on record keep it, so backfill is always anchored at the original entry.
func (o *Orchestrator) recordAnchors(ctx context.Context, trig domain.Trigger, prefix []domain.Stage) (domain.LeadAnchors, error) {
	entries := make(map[string]time.Time, len(prefix))
	if !trig.StageEnteredAt.IsZero() {
		for _, stage := range prefix {
			entries[stage.Name] = trig.StageEnteredAt.UTC()
		}
	}
	pipelineEntry := trig.PipelineEnteredAt
	if !pipelineEntry.IsZero() {
		pipelineEntry = pipelineEntry.UTC()
	}

	anchors, err := o.anchors.RecordAnchors(ctx, trig.TenantID, trig.LeadID, trig.PipelineID, pipelineEntry, entries)
	if err != nil {
		return domain.LeadAnchors{}, fmt.Errorf("record anchors: %w", err)
	}
	return anchors, nil
}

func (o *Orchestrator) notify(ctx context.Context, log logrus.FieldLogger, trig domain.Trigger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := o.notifier.Notify(ctx, trig.TenantID, trig.LeadID); err != nil {
		observability.RecordNotifyFailure()
		log.WithError(err).Warn("tasks-changed notification failed")
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidTrigger):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, domain.ErrTransientStore):
		return "transient"
	default:
		return "error"
	}
}
