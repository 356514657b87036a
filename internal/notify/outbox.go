package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/cadence/internal/events"
	"example.com/cadence/internal/outbox"
)

// OutboxNotifier writes a lead.tasks_changed event to the outbox; the dispatcher relays it to Kafka.
type OutboxNotifier struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOutboxNotifier constructs an OutboxNotifier.
func NewOutboxNotifier(pool *pgxpool.Pool) *OutboxNotifier {
	return &OutboxNotifier{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Notify records the signal. Each call produces its own event so consumers always see the latest change.
func (n *OutboxNotifier) Notify(ctx context.Context, tenantID, leadID string) error {
	return pgx.BeginFunc(ctx, n.pool, func(tx pgx.Tx) error {
		return outbox.Record(ctx, tx, outbox.Event{
			TenantID:      tenantID,
			AggregateType: "lead",
			AggregateID:   leadID,
			EventType:     events.LeadTasksChangedType,
			PartitionKey:  tenantID + ":" + leadID,
			Payload: events.LeadTasksChanged{
				TenantID:   tenantID,
				LeadID:     leadID,
				OccurredAt: n.now(),
			},
		})
	})
}
