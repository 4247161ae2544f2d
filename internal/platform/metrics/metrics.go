package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesRejected *prometheus.CounterVec
	SeqConflicts     prometheus.Counter

	SealsWritten   prometheus.Counter
	SealsConfirmed prometheus.Counter
	SealErrors     prometheus.Counter

	Deliveries        *prometheus.CounterVec
	DeliveryBatchMs   prometheus.Histogram
	HandshakeFailures prometheus.Counter
	AuditDropped      prometheus.Counter

	HTTPDuration *prometheus.HistogramVec
}

// New creates all Prometheus metrics and registers them with the default
// registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all Prometheus metrics against the given registerer. Tests
// pass a fresh registry so repeated construction does not collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_messages_sent_total",
			Help: "Total outbound messages persisted",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_messages_received_total",
			Help: "Total inbound messages accepted",
		}),
		MessagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sealwire_messages_rejected_total",
			Help: "Inbound messages rejected, by failure kind",
		}, []string{"reason"}),
		SeqConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_sequence_conflicts_total",
			Help: "Conditional-write conflicts observed while sequencing",
		}),
		SealsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_seals_written_total",
			Help: "Seal transactions broadcast to the chain",
		}),
		SealsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_seals_confirmed_total",
			Help: "Seals that reached the confirmation threshold",
		}),
		SealErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_seal_errors_total",
			Help: "Seal write/read failures recorded",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sealwire_deliveries_total",
			Help: "Messages delivered, by transport",
		}, []string{"transport"}),
		DeliveryBatchMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sealwire_delivery_batch_duration_ms",
			Help:    "Latency of one delivery batch in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_handshake_failures_total",
			Help: "Challenge/response handshakes rejected",
		}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sealwire_audit_events_dropped_total",
			Help: "Audit events dropped because the trail buffer was full",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sealwire_http_request_duration_seconds",
			Help:    "HTTP request latency by route, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// ObserveDeliveryBatch records one delivery batch duration.
func (m *Metrics) ObserveDeliveryBatch(d time.Duration) {
	m.DeliveryBatchMs.Observe(float64(d.Milliseconds()))
}
