// Package metrics provides the Prometheus collectors for the relay, the
// detection pipeline and the alert publishers.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Relay     *RelayMetrics
	Pipeline  *PipelineMetrics
	Publisher *PublisherMetrics
}

// New creates every collector and registers it with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	relay := newRelayMetrics()
	pipeline := newPipelineMetrics()
	publisher := newPublisherMetrics()

	collectors := []prometheus.Collector{
		relay.ConnectedVehicles,
		relay.MessagesRelayed,
		relay.Deliveries,
		relay.DeliveryFailures,
		relay.RejectedMessages,
		relay.BroadcastDuration,
		pipeline.Requests,
		pipeline.Detections,
		pipeline.UpstreamLatency,
		pipeline.CacheHits,
		publisher.Published,
		publisher.Errors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return &Metrics{Relay: relay, Pipeline: pipeline, Publisher: publisher}, nil
}

// NewUnregistered returns collectors that are not attached to any registry.
// Useful in tests and when metrics are disabled.
func NewUnregistered() *Metrics {
	return &Metrics{
		Relay:     newRelayMetrics(),
		Pipeline:  newPipelineMetrics(),
		Publisher: newPublisherMetrics(),
	}
}

type RelayMetrics struct {
	ConnectedVehicles prometheus.Gauge
	MessagesRelayed   *prometheus.CounterVec
	Deliveries        prometheus.Counter
	DeliveryFailures  *prometheus.CounterVec
	RejectedMessages  *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
}

func newRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		ConnectedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "v2v_relay_connected_vehicles",
			Help: "Number of vehicles currently registered with the relay",
		}),
		MessagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2v_relay_messages_total",
			Help: "Messages accepted for relaying, by type",
		}, []string{"type"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "v2v_relay_deliveries_total",
			Help: "Successful per-recipient deliveries",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2v_relay_delivery_failures_total",
			Help: "Failed per-recipient deliveries, by reason",
		}, []string{"reason"}),
		RejectedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2v_relay_rejected_messages_total",
			Help: "Inbound messages dropped by the relay, by reason",
		}, []string{"reason"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "v2v_relay_broadcast_duration_seconds",
			Help:    "Time taken to fan a message out to all recipients",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
}

func (m *RelayMetrics) SetConnected(n int) {
	m.ConnectedVehicles.Set(float64(n))
}

func (m *RelayMetrics) ObserveRelayed(msgType string) {
	m.MessagesRelayed.WithLabelValues(msgType).Inc()
}

func (m *RelayMetrics) ObserveDelivery(err error, timedOut bool) {
	switch {
	case err == nil:
		m.Deliveries.Inc()
	case timedOut:
		m.DeliveryFailures.WithLabelValues("timeout").Inc()
	default:
		m.DeliveryFailures.WithLabelValues("transport").Inc()
	}
}

func (m *RelayMetrics) ObserveRejected(reason string) {
	m.RejectedMessages.WithLabelValues(reason).Inc()
}

type PipelineMetrics struct {
	Requests        *prometheus.CounterVec
	Detections      *prometheus.CounterVec
	UpstreamLatency prometheus.Histogram
	CacheHits       prometheus.Counter
}

func newPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2v_pipeline_requests_total",
			Help: "Image processing requests, by outcome",
		}, []string{"outcome"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2v_pipeline_alerts_total",
			Help: "Alert decisions produced, by alert type",
		}, []string{"alert_type"}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "v2v_pipeline_upstream_latency_seconds",
			Help:    "Latency of calls to the detection service",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "v2v_pipeline_cache_hits_total",
			Help: "Detection requests answered from the result cache",
		}),
	}
}

func (m *PipelineMetrics) ObserveOutcome(outcome string) {
	m.Requests.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveAlert(alertType string) {
	m.Detections.WithLabelValues(alertType).Inc()
}

type PublisherMetrics struct {
	Published *prometheus.CounterVec
	Errors    *prometheus.CounterVec
}

func newPublisherMetrics() *PublisherMetrics {
	return &PublisherMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2v_publisher_messages_total",
			Help: "Alerts handed to an external publisher",
		}, []string{"publisher"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2v_publisher_errors_total",
			Help: "Alert publish failures",
		}, []string{"publisher"}),
	}
}

func (m *PublisherMetrics) Observe(publisher string, err error) {
	if err != nil {
		m.Errors.WithLabelValues(publisher).Inc()
		return
	}
	m.Published.WithLabelValues(publisher).Inc()
}
