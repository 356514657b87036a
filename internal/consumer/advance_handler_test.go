package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/cadence/internal/cadence"
	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/events"
	"example.com/cadence/internal/persistence/memory"
)

type stubAdvancer struct {
	calls []domain.Trigger
	err   error
}

func (a *stubAdvancer) Advance(_ context.Context, trig domain.Trigger) (cadence.AdvanceResult, error) {
	a.calls = append(a.calls, trig)
	if a.err != nil {
		return cadence.AdvanceResult{}, a.err
	}
	return cadence.AdvanceResult{Created: 1}, nil
}

func stageChangedMessage(t *testing.T, evt events.LeadStageChanged) Message {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return Message{EventType: events.LeadStageChangedType, TenantID: evt.TenantID, Payload: payload}
}

func TestAdvanceHandlerMapsEventToTrigger(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	advancer := &stubAdvancer{}
	h := NewAdvanceHandler(advancer, logger)

	entered := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	evt := events.LeadStageChanged{
		TenantID:          "tenant-1",
		LeadID:            "lead-1",
		PipelineID:        "sales",
		TargetStage:       "Qualified",
		StageEnteredAt:    entered,
		PipelineEnteredAt: entered.Add(-72 * time.Hour),
		OwnerID:           "rep-3",
		Attributes:        map[string]string{"company": "Acme"},
	}
	require.NoError(t, h.Handle(context.Background(), stageChangedMessage(t, evt)))

	require.Len(t, advancer.calls, 1)
	require.Equal(t, domain.Trigger{
		TenantID:          "tenant-1",
		LeadID:            "lead-1",
		PipelineID:        "sales",
		TargetStage:       "Qualified",
		StageEnteredAt:    entered,
		PipelineEnteredAt: entered.Add(-72 * time.Hour),
		OwnerID:           "rep-3",
		Attributes:        map[string]string{"company": "Acme"},
	}, advancer.calls[0])
}

func TestAdvanceHandlerDropsUnusableMessages(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	advancer := &stubAdvancer{}
	h := NewAdvanceHandler(advancer, logger)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, Message{EventType: "lead.created", Payload: []byte(`{}`)}))
	require.NoError(t, h.Handle(ctx, Message{EventType: events.LeadStageChangedType, Payload: []byte(`[1,2]`)}))

	mismatch := stageChangedMessage(t, events.LeadStageChanged{TenantID: "tenant-1", LeadID: "l", PipelineID: "p", TargetStage: "s"})
	mismatch.TenantID = "tenant-2"
	require.NoError(t, h.Handle(ctx, mismatch))

	require.Empty(t, advancer.calls)
}

func TestAdvanceHandlerErrorPolicy(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	msg := stageChangedMessage(t, events.LeadStageChanged{TenantID: "tenant-1", LeadID: "l", PipelineID: "p", TargetStage: "s"})

	invalid := NewAdvanceHandler(&stubAdvancer{err: domain.ErrInvalidTrigger}, logger)
	require.NoError(t, invalid.Handle(context.Background(), msg))

	transient := domain.Transient("insert instances", errors.New("timeout"))
	failing := NewAdvanceHandler(&stubAdvancer{err: transient}, logger)
	require.ErrorIs(t, failing.Handle(context.Background(), msg), domain.ErrTransientStore)

	notFound := NewAdvanceHandler(&stubAdvancer{err: domain.ErrNotFound}, logger)
	require.ErrorIs(t, notFound.Handle(context.Background(), msg), domain.ErrNotFound)
}

func TestAdvanceHandlerRunsEngine(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	store := memory.NewStore()
	store.AddStage("tenant-1", domain.Stage{PipelineID: "sales", Name: "Lead", OrderIndex: 0})
	require.NoError(t, store.CreateTemplate(context.Background(), domain.CadenceTemplate{
		ID: "tpl-1", TenantID: "tenant-1", PipelineID: "sales", StageName: "Lead", TaskOrder: 1,
		Channel: domain.ChannelCall, DayOffset: 1, Title: "Intro call", AnchorPolicy: domain.AnchorStageEntry, Active: true,
	}))
	svc := cadence.NewService(store, []cadence.GeneratorOption{cadence.WithGeneratorLogger(logger)}, cadence.WithLogger(logger))
	h := NewAdvanceHandler(svc, logger)

	msg := stageChangedMessage(t, events.LeadStageChanged{
		TenantID: "tenant-1", LeadID: "lead-9", PipelineID: "sales", TargetStage: "Lead",
		StageEnteredAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))

	instances := store.Instances("tenant-1", "lead-9")
	require.Len(t, instances, 1)
	require.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), instances[0].ScheduledAt)
}

func TestAdvanceHandlerReplayRunsParkedTrigger(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	advancer := &stubAdvancer{}
	h := NewAdvanceHandler(advancer, logger)

	payload, err := json.Marshal(events.LeadStageChanged{TenantID: "tenant-1", LeadID: "lead-1", PipelineID: "sales", TargetStage: "Demo"})
	require.NoError(t, err)

	require.NoError(t, h.Replay(context.Background(), "tenant-1", payload))
	require.Len(t, advancer.calls, 1)
	require.Equal(t, "lead-1", advancer.calls[0].LeadID)

	advancer.err = domain.Transient("insert instances", errors.New("connection reset"))
	require.ErrorIs(t, h.Replay(context.Background(), "tenant-1", payload), domain.ErrTransientStore)

	// A parked entry whose tenant no longer matches its payload is dropped, not retried.
	require.NoError(t, h.Replay(context.Background(), "tenant-2", payload))
	require.Len(t, advancer.calls, 2)
}
