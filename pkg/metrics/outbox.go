package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Publish outcomes reported on outbox_publish_total.
const (
	PublishPublished    = "published"
	PublishRetry        = "retry"
	PublishDeadLettered = "dead_lettered"
)

// OutboxMetrics records the outbox publisher's relay to Pub/Sub.
type OutboxMetrics struct {
	publish       *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

// NewOutboxMetrics registers the publisher metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	publish := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox rows handled by event type and outcome.",
	}, []string{"event_type", "outcome"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox rows moved to the DLQ by reason.",
	}, []string{"reason"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_duration_seconds",
		Help:    "Duration of one fetch-and-publish batch in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(publish, deadLettered, batchDuration)
	return &OutboxMetrics{
		publish:       publish,
		deadLettered:  deadLettered,
		batchDuration: batchDuration,
	}
}

// IncPublish counts one row outcome.
func (o *OutboxMetrics) IncPublish(eventType, outcome string) {
	if o == nil || o.publish == nil {
		return
	}
	o.publish.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncDeadLettered counts one DLQ write and its publish outcome.
func (o *OutboxMetrics) IncDeadLettered(eventType, reason string) {
	if o == nil || o.deadLettered == nil {
		return
	}
	o.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
	o.publish.WithLabelValues(normalizeLabel(eventType), PublishDeadLettered).Inc()
}

func (o *OutboxMetrics) ObserveBatch(duration time.Duration) {
	if o == nil || o.batchDuration == nil {
		return
	}
	o.batchDuration.Observe(duration.Seconds())
}
