//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/cadence/internal/events"
	"example.com/cadence/internal/testsupport/pgtest"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	tenantID := uuid.NewString()
	recordEvent(t, ctx, pool, tenantID, uuid.NewString(), events.TaskCreatedType, "")

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter.WithLabelValues(events.TaskCreatedType))
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "cadence_task_created", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)
	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter.WithLabelValues(events.TaskCreatedType)), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)

	// A second pass finds nothing left to claim.
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestRecordSuppressesDuplicateDedupeKey(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	tenantID := uuid.NewString()
	recordEvent(t, ctx, pool, tenantID, "task-1", events.TaskCreatedType, "task-1:cadence.task_created")
	recordEvent(t, ctx, pool, tenantID, "task-1", events.TaskCreatedType, "task-1:cadence.task_created")
	recordEvent(t, ctx, pool, tenantID, "lead-1", events.LeadTasksChangedType, "")
	recordEvent(t, ctx, pool, tenantID, "lead-1", events.LeadTasksChangedType, "")

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE tenant_id = $1`, tenantID).Scan(&count))
	require.Equal(t, 3, count)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	tenantID := uuid.NewString()
	recordEvent(t, ctx, pool, tenantID, uuid.NewString(), events.LeadTasksChangedType, "")

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 7}, 10*time.Millisecond, 5)

	beforeFailed := testutil.ToFloat64(failedCounter.WithLabelValues(events.LeadTasksChangedType))
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(events.LeadTasksChangedType, "lead_tasks_changed"))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter.WithLabelValues(events.LeadTasksChangedType)), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues(events.LeadTasksChangedType, "lead_tasks_changed")), 0.0001)

	var dlqCount int
	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*), MAX(reason) FROM outbox_dlq WHERE tenant_id = $1`, tenantID).Scan(&dlqCount, &reason))
	require.Equal(t, 1, dlqCount)
	require.Contains(t, reason, "kafka write failed")
}

func TestDLQManagerReplaysAndQuarantines(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	tenantID := uuid.NewString()
	recordEvent(t, ctx, pool, tenantID, "lead-1", events.LeadTasksChangedType, "")
	recordEvent(t, ctx, pool, tenantID, "lead-2", events.LeadTasksChangedType, "")

	dispatcher := NewDispatcher(pool, &stubProducer{err: errors.New("broker down")}, &stubRegistry{id: 1}, time.Second, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	// Push one entry past the retry limit.
	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET retry_count = 3 WHERE aggregate_id = 'lead-2'`)
	require.NoError(t, err)

	manager := NewDLQManager(pool, 3, time.Minute, nil)
	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL AND aggregate_id = 'lead-1'`).Scan(&pending))
	require.Equal(t, 1, pending)

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL AND aggregate_id = 'lead-2'`).Scan(&quarantined))
	require.Equal(t, 1, quarantined)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE aggregate_id = 'lead-1'`).Scan(&remaining))
	require.Zero(t, remaining)
}

func TestDLQManagerSchedulesRetryForUnknownEvent(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
         VALUES ('t1', 1, 'lead.retired', 'lead_retired', '{}'::jsonb, 'no schema', 'lead', 'lead-9', 'lead_retired-value', 't1:lead-9', NOW())`)
	require.NoError(t, err)

	processed, err := NewDLQManager(pool, 5, time.Minute, nil).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var retries int
	var nextRetry time.Time
	require.NoError(t, pool.QueryRow(ctx, `SELECT retry_count, next_retry_at FROM outbox_dlq WHERE aggregate_id = 'lead-9'`).Scan(&retries, &nextRetry))
	require.Equal(t, 1, retries)
	require.True(t, nextRetry.After(time.Now().Add(30*time.Second)))
}

func TestDLQManagerReplaysParkedTrigger(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	tenantID := uuid.NewString()
	payload := []byte(`{"tenant_id":"` + tenantID + `","lead_id":"lead-7","target_stage_name":"Demo"}`)
	require.NoError(t, NewDLQWriter(pool).Park(ctx, ParkedEvent{
		TenantID:      tenantID,
		EventType:     events.LeadStageChangedType,
		Topic:         "lead_stage_changed",
		SchemaSubject: "lead_stage_changed-value",
		LeadID:        "lead-7",
		PartitionKey:  tenantID + ":lead-7",
		Offset:        11,
		Payload:       payload,
	}, "store unavailable"))

	var replayed []string
	failing := true
	replay := func(_ context.Context, tenant string, body []byte) error {
		replayed = append(replayed, tenant)
		require.JSONEq(t, string(payload), string(body))
		if failing {
			return errors.New("store still unavailable")
		}
		return nil
	}
	manager := NewDLQManager(pool, 3, time.Millisecond, nil, WithReplayer(events.LeadStageChangedType, replay))

	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Equal(t, []string{tenantID}, replayed)

	var retries int
	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT retry_count, reason FROM outbox_dlq WHERE aggregate_id = 'lead-7'`).Scan(&retries, &reason))
	require.Equal(t, 1, retries)
	require.Equal(t, "store still unavailable", reason)
	require.Equal(t, float64(1), testutil.ToFloat64(dlqBacklogGauge.WithLabelValues(events.LeadStageChangedType)))

	// Parked triggers never reach the outbox.
	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&outboxRows))
	require.Zero(t, outboxRows)

	failing = false
	require.Eventually(t, func() bool {
		n, runErr := manager.RunOnce(ctx, 10)
		return runErr == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&remaining))
	require.Zero(t, remaining)
	require.Len(t, replayed, 2)
}

func TestDLQManagerQuarantinesExhaustedTrigger(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	require.NoError(t, NewDLQWriter(pool).Park(ctx, ParkedEvent{
		TenantID:  "t1",
		EventType: events.LeadStageChangedType,
		Topic:     "lead_stage_changed",
		LeadID:    "lead-3",
		Payload:   []byte(`{"tenant_id":"t1","lead_id":"lead-3"}`),
	}, "store unavailable"))
	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET retry_count = 2`)
	require.NoError(t, err)

	calls := 0
	replay := func(context.Context, string, []byte) error {
		calls++
		return nil
	}
	processed, err := NewDLQManager(pool, 2, time.Minute, nil, WithReplayer(events.LeadStageChangedType, replay)).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Zero(t, calls)

	var quarantined bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT quarantined_at IS NOT NULL FROM outbox_dlq WHERE aggregate_id = 'lead-3'`).Scan(&quarantined))
	require.True(t, quarantined)
}

func TestDLQWriterTruncatesLongReasons(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)

	require.NoError(t, NewDLQWriter(pool).Park(ctx, ParkedEvent{
		TenantID:  "t1",
		EventType: events.LeadStageChangedType,
		Topic:     "lead_stage_changed",
		LeadID:    "lead-4",
		Payload:   []byte(`{}`),
	}, strings.Repeat("x", 4*maxReasonLen)))

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE aggregate_id = 'lead-4'`).Scan(&reason))
	require.Len(t, reason, maxReasonLen)
}

func TestDispatcherDeliversToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()
	pool := pgtest.Start(t)

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: "lead_tasks_changed", NumPartitions: 1, ReplicationFactor: 1}))
	_ = conn.Close()

	tenantID := uuid.NewString()
	recordEvent(t, ctx, pool, tenantID, "lead-1", events.LeadTasksChangedType, "")

	producer := NewKafkaProducer(brokers, 10*time.Millisecond)
	defer producer.Close()
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 5}, 50*time.Millisecond, 10)

	dispatchCtx, stop := context.WithCancel(ctx)
	go dispatcher.Start(dispatchCtx)
	defer func() {
		stop()
		dispatcher.Wait()
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "lead_tasks_changed",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, tenantID+":lead-1", string(msg.Key))

	schemaID, body := DecodeWireFormat(msg.Value)
	require.Equal(t, 5, schemaID)
	var payload events.LeadTasksChanged
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "lead-1", payload.LeadID)
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func recordEvent(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, aggregateID, eventType, dedupeKey string) {
	t.Helper()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return Record(ctx, tx, Event{
			TenantID:      tenantID,
			AggregateType: "lead",
			AggregateID:   aggregateID,
			EventType:     eventType,
			PartitionKey:  tenantID + ":" + aggregateID,
			DedupeKey:     dedupeKey,
			Payload: events.LeadTasksChanged{
				TenantID:   tenantID,
				LeadID:     aggregateID,
				OccurredAt: time.Now().UTC(),
			},
		})
	})
	require.NoError(t, err)
}
