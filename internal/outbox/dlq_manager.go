package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const maxBackoff = time.Hour

// Replayer re-runs a parked event in process. A returned error schedules another attempt.
type Replayer func(ctx context.Context, tenantID string, payload []byte) error

// DLQManager replays failed outbox messages and parked inbound events, and quarantines entries
// that exhaust their retries.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     logrus.FieldLogger
	replayers  map[string]Replayer
}

// DLQOption configures a DLQManager.
type DLQOption func(*DLQManager)

// WithReplayer routes entries of eventType to replay instead of requeueing them into the outbox.
func WithReplayer(eventType string, replay Replayer) DLQOption {
	return func(m *DLQManager) {
		m.replayers[eventType] = replay
	}
}

// NewDLQManager constructs a DLQManager with the provided pool and retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, logger logrus.FieldLogger, opts ...DLQOption) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "dlq_manager")
	}
	m := &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger, replayers: make(map[string]Replayer)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce processes one batch of due DLQ entries and returns how many were handled: replayed,
// requeued, rescheduled or quarantined.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const query = `SELECT dlq_id, tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := m.pool.Query(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}
	entries, err := pgx.CollectRows(rows, scanDLQEntry)
	if err != nil {
		return 0, err
	}

	processed := 0
	var joined error
	for _, entry := range entries {
		if procErr := m.handleEntry(ctx, entry); procErr != nil {
			joined = errors.Join(joined, fmt.Errorf("dlq entry %d: %w", entry.ID, procErr))
			continue
		}
		processed++
	}
	updateBacklogGauge(ctx, m.pool)
	return processed, joined
}

// handleEntry applies the replay or quarantine decision for one entry.
func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) error {
	log := m.logger.WithFields(logrus.Fields{
		"dlq_id":     entry.ID,
		"tenant_id":  entry.TenantID,
		"event_type": entry.EventType,
		"topic":      entry.Topic,
	})

	if entry.RetryCount >= m.maxRetries {
		if _, err := m.pool.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, "retry limit reached", entry.ID); err != nil {
			return err
		}
		recordDLQQuarantined(entry)
		log.WithField("retry_count", entry.RetryCount).Warn("dlq entry quarantined")
		return nil
	}

	if replay, ok := m.replayers[entry.EventType]; ok {
		// Runs outside any DLQ transaction: the replay needs connections of its own.
		if err := replay(ctx, entry.TenantID, entry.Payload); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return m.scheduleRetry(ctx, log, entry, err)
		}
		if _, err := m.pool.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
			return err
		}
		recordDLQReplayed(entry)
		recordDLQProcessed(entry)
		log.Info("dlq entry replayed")
		return nil
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if insertErr := requeueOutbox(ctx, tx, entry); insertErr != nil {
		// The failed insert aborted tx; schedule the retry outside it.
		_ = tx.Rollback(ctx)
		return m.scheduleRetry(ctx, log, entry, insertErr)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	recordDLQRequeued(entry)
	recordDLQProcessed(entry)
	return nil
}

func (m *DLQManager) scheduleRetry(ctx context.Context, log logrus.FieldLogger, entry dlqEntry, cause error) error {
	delay := m.backoffDelay(entry.RetryCount + 1)
	reason := cause.Error()
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	if _, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq
           SET retry_count = retry_count + 1,
               last_attempt_at = NOW(),
               next_retry_at = NOW() + $1::interval,
               reason = $2
         WHERE dlq_id = $3`,
		delay, reason, entry.ID,
	); err != nil {
		return err
	}
	recordDLQRetry(entry)
	log.WithError(cause).WithField("next_retry_in", delay).Warn("dlq replay failed, retry scheduled")
	return nil
}

// backoffDelay calculates exponential backoff capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		return maxBackoff
	}
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// requeueOutbox reinserts the payload into the primary outbox table for replay.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}
	if _, ok := eventCatalog[entry.EventType]; !ok {
		return fmt.Errorf("unknown event type %s for dlq entry %d", entry.EventType, entry.ID)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := tx.Exec(ctx, stmt,
		entry.TenantID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
	)
	return err
}

// dlqEntry represents an outbox_dlq row selected for processing.
type dlqEntry struct {
	ID            int64
	TenantID      string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

func scanDLQEntry(row pgx.CollectableRow) (dlqEntry, error) {
	var entry dlqEntry
	err := row.Scan(&entry.ID, &entry.TenantID, &entry.EventID, &entry.EventType, &entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType, &entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount)
	return entry, err
}
