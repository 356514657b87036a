package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	advanceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cadence_engine",
		Subsystem: "orchestrator",
		Name:      "advance_duration_seconds",
		Help:      "Time spent walking the stage prefix for one advance call.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"outcome"})

	instancesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "generator",
		Name:      "instances_created_total",
		Help:      "Task instances inserted by the generator.",
	})

	insertConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "generator",
		Name:      "insert_conflicts_total",
		Help:      "Insert attempts absorbed by the idempotency key.",
	})

	invalidTemplates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "generator",
		Name:      "invalid_templates_total",
		Help:      "Templates skipped because they could not be scheduled.",
	})

	notifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "notifier",
		Name:      "failures_total",
		Help:      "Invalidation signals that could not be delivered.",
	})

	lastInstanceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cadence_engine",
		Subsystem: "generator",
		Name:      "last_instance_created_timestamp_seconds",
		Help:      "Unix timestamp of the most recent task instance insert.",
	})
)

func init() {
	prometheus.MustRegister(advanceDuration, instancesCreated, insertConflicts, invalidTemplates, notifyFailures, lastInstanceGauge)
}

// ObserveAdvance records the duration of an advance call under the given outcome label.
func ObserveAdvance(outcome string, d time.Duration) {
	advanceDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordInstancesCreated counts inserted instances and moves the insert watermark.
func RecordInstancesCreated(n int, ts time.Time) {
	if n <= 0 {
		return
	}
	instancesCreated.Add(float64(n))
	if !ts.IsZero() {
		lastInstanceGauge.Set(float64(ts.Unix()))
	}
}

// RecordInsertConflicts counts inserts that hit an existing idempotency key.
func RecordInsertConflicts(n int) {
	if n > 0 {
		insertConflicts.Add(float64(n))
	}
}

// RecordInvalidTemplate counts a template skipped during generation.
func RecordInvalidTemplate() {
	invalidTemplates.Inc()
}

// RecordNotifyFailure counts an undelivered invalidation signal.
func RecordNotifyFailure() {
	notifyFailures.Inc()
}
