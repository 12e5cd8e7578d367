// Package metrics provides the Prometheus instrumentation for sends,
// deliveries, dead-letter routing and quota decisions. Collectors are owned
// by the instance that creates them and registered on a caller-supplied
// Registerer; there is no package-level mutable state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements messaging.MetricsCollector and quota.Recorder over
// Prometheus counters and histograms labelled by destination.
type Collector struct {
	sent            *prometheus.CounterVec
	sendFailures    *prometheus.CounterVec
	sendDuration    *prometheus.HistogramVec
	consumed        *prometheus.CounterVec
	consumeDuration *prometheus.HistogramVec
	returned        *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec
	quotaDecisions  *prometheus.CounterVec
}

// NewCollector creates and registers the collectors under namespace.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	c := &Collector{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "messages_sent_total",
			Help:      "Messages acknowledged by the broker",
		}, []string{"broker", "destination"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "messages_failed_total",
			Help:      "Messages whose send failed",
		}, []string{"broker", "destination"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "send_duration_seconds",
			Help:      "Send latency from dispatch to broker acknowledgment",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"broker", "destination", "status"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_processed_total",
			Help:      "Deliveries handed to a consumer handler",
		}, []string{"destination", "status"}),
		consumeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "processing_duration_seconds",
			Help:      "Handler processing duration",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"destination", "status"}),
		returned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "messages_returned_total",
			Help:      "Messages returned as unroutable by the queue broker",
		}, []string{"exchange"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "messages_total",
			Help:      "Dead-letter routing actions",
		}, []string{"exchange", "action"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Quota admission decisions",
		}, []string{"tier", "decision"}),
	}

	reg.MustRegister(
		c.sent,
		c.sendFailures,
		c.sendDuration,
		c.consumed,
		c.consumeDuration,
		c.returned,
		c.deadLettered,
		c.quotaDecisions,
	)

	return c
}

// RecordSend implements messaging.MetricsCollector.
func (c *Collector) RecordSend(broker, destination string, duration time.Duration, success bool) {
	if success {
		c.sent.WithLabelValues(broker, destination).Inc()
	} else {
		c.sendFailures.WithLabelValues(broker, destination).Inc()
	}
	c.sendDuration.WithLabelValues(broker, destination, status(success)).Observe(duration.Seconds())
}

// RecordConsume implements messaging.MetricsCollector.
func (c *Collector) RecordConsume(destination string, duration time.Duration, success bool) {
	c.consumed.WithLabelValues(destination, status(success)).Inc()
	c.consumeDuration.WithLabelValues(destination, status(success)).Observe(duration.Seconds())
}

// RecordReturned implements messaging.MetricsCollector. The routing key is
// logged but deliberately not a label to keep cardinality bounded.
func (c *Collector) RecordReturned(exchange, routingKey string) {
	c.returned.WithLabelValues(exchange).Inc()
}

// RecordDeadLetter implements messaging.MetricsCollector.
func (c *Collector) RecordDeadLetter(exchange, action string) {
	c.deadLettered.WithLabelValues(exchange, action).Inc()
}

// RecordQuotaDecision implements quota.Recorder.
func (c *Collector) RecordQuotaDecision(tier string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "exceeded"
	}
	c.quotaDecisions.WithLabelValues(tier, decision).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
