package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/cadence/internal/events"
)

// EventMetadata describes how an event type is routed and framed.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var eventCatalog = map[string]EventMetadata{
	events.LeadTasksChangedType: {
		Topic:         "lead_tasks_changed",
		SchemaSubject: "lead_tasks_changed-value",
		Schema:        leadTasksChangedSchema,
	},
	events.TaskCreatedType: {
		Topic:         "cadence_task_created",
		SchemaSubject: "cadence_task_created-value",
		Schema:        taskCreatedSchema,
	},
}

// Lookup returns the routing metadata of an event type.
func Lookup(eventType string) (EventMetadata, bool) {
	meta, ok := eventCatalog[eventType]
	return meta, ok
}

// Event is a domain event to be written to the outbox inside a caller-owned transaction.
type Event struct {
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	// DedupeKey suppresses a second row for the same logical event. Empty means no dedupe.
	DedupeKey string
	Payload   any
}

// Record inserts evt into the outbox using tx. The row becomes visible to the dispatcher only when tx commits.
func Record(ctx context.Context, tx pgx.Tx, evt Event) error {
	meta, ok := eventCatalog[evt.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", evt.EventType)
	}

	body, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", evt.EventType, err)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		evt.TenantID,
		evt.AggregateType,
		evt.AggregateID,
		evt.EventType,
		meta.Topic,
		meta.SchemaSubject,
		evt.PartitionKey,
		body,
		nullIfEmpty(evt.DedupeKey),
	)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
