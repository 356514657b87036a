package cadence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/persistence/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	seedPipeline(t, store, tenantA)
	svc := NewService(store, []GeneratorOption{WithGeneratorLogger(quietLogger())}, WithLogger(quietLogger()))
	return svc, store
}

func TestServiceEvaluateRequiresKnownStage(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Evaluate(context.Background(), tenantA, leadID, pipeline, "Won")
	require.ErrorIs(t, err, domain.ErrNotFound)

	eval, err := svc.Evaluate(context.Background(), tenantA, leadID, pipeline, "Qualified")
	require.NoError(t, err)
	require.Len(t, eval.Missing, 1)
}

func TestServiceListTasksPaginates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.Advance(ctx, trigger(tenantA, "Qualified", t0))
	require.NoError(t, err)

	page, next, err := svc.ListTasks(ctx, tenantA, leadID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)
	require.False(t, page[1].ScheduledAt.Before(page[0].ScheduledAt))

	rest, next, err := svc.ListTasks(ctx, tenantA, leadID, next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Nil(t, next)

	_, _, err = svc.ListTasks(ctx, tenantA, "", nil, 0)
	require.ErrorIs(t, err, domain.ErrInvalidTrigger)
}

func TestServiceTemplateLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	created, err := svc.CreateTemplate(ctx, domain.CadenceTemplate{
		TenantID:     tenantA,
		PipelineID:   pipeline,
		StageName:    "Qualified",
		TaskOrder:    2,
		Channel:      domain.ChannelMessage,
		DayOffset:    3,
		Title:        "Send case study",
		AnchorPolicy: domain.AnchorStageEntry,
		Active:       true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	_, err = svc.CreateTemplate(ctx, domain.CadenceTemplate{
		TenantID: tenantA, PipelineID: pipeline, StageName: "Qualified", TaskOrder: 2,
		Channel: domain.ChannelCall, Title: "Dup", AnchorPolicy: domain.AnchorStageEntry,
	})
	require.ErrorIs(t, err, domain.ErrTemplateConflict)

	_, err = svc.CreateTemplate(ctx, domain.CadenceTemplate{TenantID: tenantA, PipelineID: pipeline, StageName: "Qualified", DayOffset: -2})
	require.ErrorIs(t, err, domain.ErrInvalidTemplateConfig)

	templates, err := svc.ListTemplates(ctx, tenantA, pipeline, "Qualified")
	require.NoError(t, err)
	require.Len(t, templates, 2)

	updated, err := svc.SetTemplateActive(ctx, tenantA, created.ID, false)
	require.NoError(t, err)
	require.False(t, updated.Active)

	_, err = svc.SetTemplateActive(ctx, tenantB, created.ID, true)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
