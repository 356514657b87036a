package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/cadence/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func instance(tenant, lead, stage string, order int, at time.Time) domain.TaskInstance {
	return domain.TaskInstance{
		ID:          tenant + lead + stage + string(rune('0'+order)),
		TenantID:    tenant,
		LeadID:      lead,
		StageName:   stage,
		TaskOrder:   order,
		ScheduledAt: at,
		Status:      domain.TaskStatusPending,
	}
}

func TestInsertInstancesSkipsExistingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	n, err := store.InsertInstances(ctx, "t1", "L", "Lead", []domain.TaskInstance{
		instance("t1", "L", "Lead", 1, t0),
		instance("t1", "L", "Lead", 2, t0),
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	dup := instance("t1", "L", "Lead", 2, t0.Add(time.Hour))
	dup.ID = "different-id"
	n, err = store.InsertInstances(ctx, "t1", "L", "Lead", []domain.TaskInstance{dup, instance("t1", "L", "Lead", 3, t0)})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	listed, err := store.ListByLeadAndStage(ctx, "t1", "L", "Lead")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, t0, listed[1].ScheduledAt)
}

func TestInsertInstancesRejectsMismatchedBatch(t *testing.T) {
	store := NewStore()
	_, err := store.InsertInstances(context.Background(), "t1", "L", "Lead", []domain.TaskInstance{
		instance("t1", "L", "Lead", 1, t0),
		instance("t2", "L", "Lead", 2, t0),
	})
	require.ErrorIs(t, err, domain.ErrTenantMismatch)
	require.Empty(t, store.Instances("t1", "L"))
}

func TestRecordAnchorsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	anchors, err := store.RecordAnchors(ctx, "t1", "L", "P", t0, map[string]time.Time{"Lead": t0})
	require.NoError(t, err)
	require.Equal(t, t0, anchors.PipelineEnteredAt)

	later := t0.Add(48 * time.Hour)
	anchors, err = store.RecordAnchors(ctx, "t1", "L", "P", later, map[string]time.Time{"Lead": later, "Qualified": later, "Won": {}})
	require.NoError(t, err)
	require.Equal(t, t0, anchors.PipelineEnteredAt)
	require.Equal(t, map[string]time.Time{"Lead": t0, "Qualified": later}, anchors.StageEnteredAt)

	other, err := store.RecordAnchors(ctx, "t2", "L", "P", time.Time{}, nil)
	require.NoError(t, err)
	require.True(t, other.PipelineEnteredAt.IsZero())
	require.Empty(t, other.StageEnteredAt)
}

func TestListStagesOrdered(t *testing.T) {
	store := NewStore()
	store.AddStage("t1", domain.Stage{PipelineID: "P", Name: "Won", OrderIndex: 2})
	store.AddStage("t1", domain.Stage{PipelineID: "P", Name: "Lead", OrderIndex: 0})
	store.AddStage("t1", domain.Stage{PipelineID: "P", Name: "Qualified", OrderIndex: 1})

	stages, err := store.ListStages(context.Background(), "t1", "P")
	require.NoError(t, err)
	require.Equal(t, []string{"Lead", "Qualified", "Won"}, []string{stages[0].Name, stages[1].Name, stages[2].Name})

	none, err := store.ListStages(context.Background(), "t2", "P")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestListByLeadPages(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.InsertInstances(ctx, "t1", "L", "Lead", []domain.TaskInstance{
		instance("t1", "L", "Lead", 1, t0.Add(2*time.Hour)),
		instance("t1", "L", "Lead", 2, t0),
		instance("t1", "L", "Lead", 3, t0.Add(time.Hour)),
	})
	require.NoError(t, err)

	page, next, err := store.ListByLead(ctx, "t1", "L", nil, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, []int{page[0].TaskOrder, page[1].TaskOrder})
	require.NotNil(t, next)

	page, next, err = store.ListByLead(ctx, "t1", "L", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, 1, page[0].TaskOrder)
	require.Nil(t, next)
}

func TestStoreReturnsTransientOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStore().ListActiveTemplates(ctx, "t1", "P", "Lead")
	require.ErrorIs(t, err, domain.ErrTransientStore)
	require.ErrorIs(t, err, context.Canceled)
}
