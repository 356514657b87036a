package cadence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/persistence/memory"
)

const (
	tenantA  = "tenant-a"
	tenantB  = "tenant-b"
	pipeline = "P"
	leadID   = "L"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() logrus.FieldLogger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

// seedPipeline installs stages Lead(0), Qualified(1) and Demo(2) with templates Lead#1 d0, Lead#2 d2,
// Qualified#1 d1 and Demo#1 d3.
func seedPipeline(t *testing.T, store *memory.Store, tenantID string) {
	t.Helper()
	store.AddStage(tenantID, domain.Stage{PipelineID: pipeline, Name: "Lead", OrderIndex: 0})
	store.AddStage(tenantID, domain.Stage{PipelineID: pipeline, Name: "Qualified", OrderIndex: 1})
	store.AddStage(tenantID, domain.Stage{PipelineID: pipeline, Name: "Demo", OrderIndex: 2})

	addTemplate(t, store, tenantID, "Lead", 1, 0)
	addTemplate(t, store, tenantID, "Lead", 2, 2)
	addTemplate(t, store, tenantID, "Qualified", 1, 1)
	addTemplate(t, store, tenantID, "Demo", 1, 3)
}

func addTemplate(t *testing.T, store *memory.Store, tenantID, stage string, order, offset int) domain.CadenceTemplate {
	t.Helper()
	tpl := domain.CadenceTemplate{
		ID:              tenantID + "-" + stage + "-" + string(rune('0'+order)),
		TenantID:        tenantID,
		PipelineID:      pipeline,
		StageName:       stage,
		TaskOrder:       order,
		Channel:         domain.ChannelCall,
		DayOffset:       offset,
		Title:           "Touch {{lead_id}}",
		ContentTemplate: "Hello {{first_name}}, this is {{owner_id}}",
		AnchorPolicy:    domain.AnchorStageEntry,
		Active:          true,
	}
	require.NoError(t, store.CreateTemplate(context.Background(), tpl))
	return tpl
}

func trigger(tenantID, stage string, at time.Time) domain.Trigger {
	return domain.Trigger{
		TenantID:          tenantID,
		LeadID:            leadID,
		PipelineID:        pipeline,
		TargetStage:       stage,
		StageEnteredAt:    at,
		PipelineEnteredAt: at,
		OwnerID:           "owner-1",
		Attributes:        map[string]string{"first_name": "Ada"},
	}
}

func newOrchestrator(store interface {
	domain.TemplateStore
	domain.StageResolver
	domain.AnchorStore
	domain.InstanceStore
}, opts ...Option) *Orchestrator {
	evaluator := NewEvaluator(store, store)
	generator := NewGenerator(store, WithGeneratorLogger(quietLogger()))
	return NewOrchestrator(store, store, evaluator, generator, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, tenantID, leadID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n.calls = append(n.calls, tenantID+"/"+leadID)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// failingStore fails InsertInstances for one stage.
type failingStore struct {
	*memory.Store
	failStage string
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) InsertInstances(ctx context.Context, tenantID, leadID, stageName string, instances []domain.TaskInstance) (int, error) {
	if stageName == s.failStage {
		return 0, errDiskFull
	}
	return s.Store.InsertInstances(ctx, tenantID, leadID, stageName, instances)
}

func scheduleByKey(instances []domain.TaskInstance) map[string]time.Time {
	out := make(map[string]time.Time, len(instances))
	for _, inst := range instances {
		out[inst.StageName+"#"+string(rune('0'+inst.TaskOrder))] = inst.ScheduledAt
	}
	return out
}

type instanceKey struct {
	Stage       string
	TaskOrder   int
	ScheduledAt time.Time
}

func instanceSet(instances []domain.TaskInstance) map[instanceKey]struct{} {
	out := make(map[instanceKey]struct{}, len(instances))
	for _, inst := range instances {
		out[instanceKey{Stage: inst.StageName, TaskOrder: inst.TaskOrder, ScheduledAt: inst.ScheduledAt.UTC()}] = struct{}{}
	}
	return out
}
