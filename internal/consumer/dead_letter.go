package consumer

import (
	"context"
	"encoding/json"

	"example.com/cadence/internal/events"
	"example.com/cadence/internal/outbox"
)

// DeadLetterer takes a message whose handler kept failing. Once it returns nil the processor
// commits the message.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, msg Message, cause error) error
}

type parker interface {
	Park(ctx context.Context, evt outbox.ParkedEvent, reason string) error
}

// DLQDeadLetter parks failed triggers in outbox_dlq, where the DLQ manager replays them.
type DLQDeadLetter struct {
	writer parker
}

// NewDLQDeadLetter constructs a DLQDeadLetter, normally over an *outbox.DLQWriter.
func NewDLQDeadLetter(writer parker) *DLQDeadLetter {
	return &DLQDeadLetter{writer: writer}
}

// DeadLetter implements DeadLetterer.
func (d *DLQDeadLetter) DeadLetter(ctx context.Context, msg Message, cause error) error {
	var ids struct {
		TenantID string `json:"tenant_id"`
		LeadID   string `json:"lead_id"`
	}
	// The payload already decoded once, so an error here only leaves the ids blank.
	_ = json.Unmarshal(msg.Payload, &ids)

	tenantID := msg.TenantID
	if tenantID == "" {
		tenantID = ids.TenantID
	}
	eventType := msg.EventType
	if eventType == "" {
		eventType = events.LeadStageChangedType
	}

	return d.writer.Park(ctx, outbox.ParkedEvent{
		TenantID:      tenantID,
		EventType:     eventType,
		Topic:         msg.Topic,
		SchemaSubject: msg.SchemaSubject,
		LeadID:        ids.LeadID,
		PartitionKey:  msg.Key,
		Offset:        msg.Offset,
		Payload:       msg.Payload,
	}, cause.Error())
}
