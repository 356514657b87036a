//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/cadence/internal/cadence"
	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/events"
	"example.com/cadence/internal/outbox"
	"example.com/cadence/internal/persistence/memory"
)

func TestProcessorAdvancesLeadsFromKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)

	const topic = "lead_stage_changed"
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
	_ = conn.Close()

	logger, _ := logtest.NewNullLogger()
	store := memory.NewStore()
	store.AddStage("tenant-1", domain.Stage{PipelineID: "sales", Name: "Lead", OrderIndex: 0})
	store.AddStage("tenant-1", domain.Stage{PipelineID: "sales", Name: "Demo", OrderIndex: 1})
	for i, stage := range []string{"Lead", "Demo"} {
		require.NoError(t, store.CreateTemplate(ctx, domain.CadenceTemplate{
			ID: "tpl-" + stage, TenantID: "tenant-1", PipelineID: "sales", StageName: stage, TaskOrder: 1,
			Channel: domain.ChannelMessage, DayOffset: i, Title: "Touch", AnchorPolicy: domain.AnchorStageEntry, Active: true,
		}))
	}
	svc := cadence.NewService(store, []cadence.GeneratorOption{cadence.WithGeneratorLogger(logger)}, cadence.WithLogger(logger))

	writer := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	defer writer.Close()

	payload, err := json.Marshal(events.LeadStageChanged{
		TenantID:       "tenant-1",
		LeadID:         "lead-1",
		PipelineID:     "sales",
		TargetStage:    "Demo",
		StageEnteredAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, writer.WriteMessages(ctx,
		kafka.Message{Key: []byte("tenant-1:lead-1"), Value: []byte("not json")},
		kafka.Message{
			Key:   []byte("tenant-1:lead-1"),
			Value: payload,
			Headers: []kafka.Header{
				{Key: outbox.HeaderEventType, Value: []byte(events.LeadStageChangedType)},
				{Key: outbox.HeaderTenantID, Value: []byte("tenant-1")},
			},
		},
	))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "cadence-engine-test",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	proc := NewProcessor(reader, NewAdvanceHandler(svc, logger), WithLogger(logger), WithRetry(2, 10*time.Millisecond))
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- proc.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return len(store.Instances("tenant-1", "lead-1")) == 2
	}, time.Minute, 200*time.Millisecond)

	stop()
	require.ErrorIs(t, <-done, context.Canceled)
}
