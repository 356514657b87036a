//go:build integration

package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"example.com/cadence/internal/config"
	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/persistence/postgres"
	"example.com/cadence/internal/testsupport/pgtest"
)

func TestLockedAdvancesOutnumberingPoolConnections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := config.Config{
		PostgresURL:      pgtest.StartURL(t) + "&pool_max_conns=2",
		AdvisoryLock:     true,
		LockPoolMaxConns: 2,
		Notifier:         config.NotifierConfig{Outbox: true},
	}

	pool, err := OpenPool(ctx, cfg)
	require.NoError(t, err)
	defer pool.Close()
	require.EqualValues(t, 2, pool.Config().MaxConns)

	lockPool, err := OpenLockPool(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, lockPool)
	defer lockPool.Close()

	store := postgres.NewStore(pool)
	require.NoError(t, store.UpsertStage(ctx, "tenant-a", domain.Stage{PipelineID: "P", Name: "Lead", OrderIndex: 0}))
	require.NoError(t, store.UpsertStage(ctx, "tenant-a", domain.Stage{PipelineID: "P", Name: "Qualified", OrderIndex: 1}))
	for _, tpl := range []struct {
		stage  string
		order  int
		offset int
	}{{"Lead", 1, 0}, {"Lead", 2, 2}, {"Qualified", 1, 1}} {
		require.NoError(t, store.CreateTemplate(ctx, domain.CadenceTemplate{
			ID: uuid.NewString(), TenantID: "tenant-a", PipelineID: "P", StageName: tpl.stage, TaskOrder: tpl.order,
			Channel: domain.ChannelCall, DayOffset: tpl.offset, Title: "Call", AnchorPolicy: domain.AnchorStageEntry,
			Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	}

	logger, _ := logtest.NewNullLogger()
	// Two services stand in for two replicas: only the advisory lock is shared between them.
	serviceA := NewService(cfg, pool, lockPool, logger)
	serviceB := NewService(cfg, pool, lockPool, logger)

	entered := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	trig := func(leadID string) domain.Trigger {
		return domain.Trigger{
			TenantID: "tenant-a", LeadID: leadID, PipelineID: "P", TargetStage: "Qualified",
			StageEnteredAt: entered, PipelineEnteredAt: entered,
		}
	}

	var group errgroup.Group
	for i := 0; i < 8; i++ {
		svc := serviceA
		if i%2 == 1 {
			svc = serviceB
		}
		group.Go(func() error {
			_, err := svc.Advance(ctx, trig("L"))
			return err
		})
	}
	for i := 0; i < 4; i++ {
		group.Go(func() error {
			_, err := serviceA.Advance(ctx, trig(fmt.Sprintf("other-%d", i)))
			return err
		})
	}
	require.NoError(t, group.Wait())

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM task_instances WHERE lead_id = 'L'`).Scan(&count))
	require.Equal(t, 3, count)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM task_instances`).Scan(&count))
	require.Equal(t, 15, count)
}
