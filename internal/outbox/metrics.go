package outbox

import "github.com/prometheus/client_golang/prometheus"

// Dispatcher metrics, labelled by cadence event type (lead.tasks_changed, cadence.task_created).
// Trigger failures are counted by the consumer and the DLQ manager.
var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Cadence events published to Kafka.",
	}, []string{"event_type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Cadence events whose publish failed; each one is written to outbox_dlq.",
	}, []string{"event_type"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Cadence events dead-lettered by the dispatcher.",
	}, []string{"event_type", "topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cadence_engine",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time to claim, publish and mark one batch of cadence events.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, batchDuration)
}

func countByEventType(counter *prometheus.CounterVec, messages []Message) {
	for _, msg := range messages {
		counter.WithLabelValues(msg.EventType).Inc()
	}
}
