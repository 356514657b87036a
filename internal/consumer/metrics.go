package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Messages whose handler still failed after every retry.",
	}, []string{"topic", "event_type"})

	deadLetterCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "consumer",
		Name:      "messages_dead_lettered_total",
		Help:      "Failed triggers parked in the DLQ and committed.",
	}, []string{"topic", "event_type"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "consumer",
		Name:      "handler_retries_total",
		Help:      "Handler attempts repeated after a failure.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	ignoredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence_engine",
		Subsystem: "consumer",
		Name:      "messages_ignored_total",
		Help:      "Messages acknowledged without action, by reason.",
	}, []string{"reason"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cadence_engine",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, deadLetterCounter, retryCounter, decodeErrorCounter, ignoredCounter, lastMessageGauge)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDeadLettered(msg Message) {
	deadLetterCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordRetry(msg Message) {
	retryCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordIgnored(reason string) {
	ignoredCounter.WithLabelValues(reason).Inc()
}
