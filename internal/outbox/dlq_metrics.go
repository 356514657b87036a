package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DLQ entries are either undeliverable outbox events (lead.tasks_changed, cadence.task_created)
// or parked lead.stage_changed triggers; every series is split by event type.
var (
	dlqProcessedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "dlq",
		Name:      "entries_handled_total",
		Help:      "DLQ entries successfully requeued to the outbox or replayed in process.",
	}, []string{"topic", "event_type"})

	dlqRequeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "dlq",
		Name:      "entries_requeued_total",
		Help:      "Undeliverable cadence events put back into the outbox for another publish.",
	}, []string{"topic", "event_type"})

	dlqReplayedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "dlq",
		Name:      "entries_replayed_total",
		Help:      "Parked triggers whose lead advance succeeded on replay.",
	}, []string{"topic", "event_type"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "dlq",
		Name:      "entries_quarantined_total",
		Help:      "DLQ entries set aside for an operator after dlq.max_retries attempts.",
	}, []string{"topic", "event_type"})

	dlqRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "dlq",
		Name:      "retries_scheduled_total",
		Help:      "Failed replays or requeues rescheduled with exponential backoff.",
	}, []string{"topic", "event_type"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cadence_engine",
		Subsystem: "dlq",
		Name:      "pending_entries",
		Help:      "DLQ entries awaiting replay, excluding quarantined ones.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(dlqProcessedCounter, dlqRequeuedCounter, dlqReplayedCounter, dlqQuarantinedCounter, dlqRetryCounter, dlqBacklogGauge)
}

func recordDLQProcessed(entry dlqEntry) {
	dlqProcessedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQRequeued(entry dlqEntry) {
	dlqRequeuedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQReplayed(entry dlqEntry) {
	dlqReplayedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqQuarantinedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqRetryCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

// updateBacklogGauge refreshes the per-event-type backlog. A failed query leaves the previous values.
func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `SELECT event_type, COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL GROUP BY event_type`)
	if err != nil {
		return
	}
	type backlog struct {
		eventType string
		count     int
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (backlog, error) {
		var b backlog
		err := row.Scan(&b.eventType, &b.count)
		return b, err
	})
	if err != nil {
		return
	}
	dlqBacklogGauge.Reset()
	for _, b := range counts {
		dlqBacklogGauge.WithLabelValues(b.eventType).Set(float64(b.count))
	}
}
