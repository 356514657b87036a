package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxReasonLen caps stored failure reasons; broker errors can embed whole batches.
const maxReasonLen = 1024

// DLQWriter persists events that could not be handled so the DLQ manager can replay them.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records an outbox message that failed to publish. It is eligible for replay immediately.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	return w.insert(ctx, msg, reason)
}

// ParkedEvent is an inbound event whose handler kept failing, such as a lead.stage_changed
// trigger that hit a store outage. Offset is the Kafka offset it was read from.
type ParkedEvent struct {
	TenantID      string
	EventType     string
	Topic         string
	SchemaSubject string
	LeadID        string
	PartitionKey  string
	Offset        int64
	Payload       []byte
}

// Park records a failed inbound event. The DLQ manager hands it to the Replayer registered for
// its event type.
func (w *DLQWriter) Park(ctx context.Context, evt ParkedEvent, reason string) error {
	return w.insert(ctx, Message{
		EventID:       evt.Offset,
		TenantID:      evt.TenantID,
		AggregateType: "lead",
		AggregateID:   evt.LeadID,
		EventType:     evt.EventType,
		Topic:         evt.Topic,
		SchemaSubject: evt.SchemaSubject,
		PartitionKey:  evt.PartitionKey,
		Payload:       evt.Payload,
	}, reason)
}

func (w *DLQWriter) insert(ctx context.Context, msg Message, reason string) error {
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	_, err := w.pool.Exec(ctx,
		`INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`,
		msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	)
	return err
}
