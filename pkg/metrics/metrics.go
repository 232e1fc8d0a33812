// Package metrics holds the Prometheus instrumentation for the messaging
// framework.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry creates a registry wrapped with the service label.
func NewRegistry(service string) (*prometheus.Registry, prometheus.Registerer) {
	reg := prometheus.NewRegistry()
	return reg, prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, reg)
}

// Metrics holds the framework metric set. A nil *Metrics is valid and
// records nothing, so hot paths can call through unconditionally.
type Metrics struct {
	MessagesPosted    *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	ActiveTimers      *prometheus.GaugeVec
	HandlerDuration   *prometheus.HistogramVec
	DiscoveryUpdates  *prometheus.CounterVec
	ProxyReconnects   *prometheus.CounterVec
	FramingErrors     *prometheus.CounterVec
	RegisteredBoxes   prometheus.Gauge
}

// New creates the framework metric set on the given registerer.
func New(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesPosted: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgmgr_messages_posted_total",
				Help: "Messages accepted onto a mailbox queue",
			},
			[]string{"mailbox"},
		),
		MessagesReceived: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgmgr_messages_received_total",
				Help: "Messages reconstructed from a remote transport",
			},
			[]string{"mailbox"},
		),
		MessagesDropped: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgmgr_messages_dropped_total",
				Help: "Messages rejected or discarded, by reason",
			},
			[]string{"mailbox", "reason"},
		),
		QueueDepth: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "msgmgr_queue_depth",
				Help: "Current mailbox queue depth",
			},
			[]string{"mailbox"},
		),
		ActiveTimers: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "msgmgr_active_timers",
				Help: "Timers currently armed on a mailbox",
			},
			[]string{"mailbox"},
		),
		HandlerDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msgmgr_handler_duration_seconds",
				Help:    "Message handler execution time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mailbox"},
		),
		DiscoveryUpdates: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgmgr_discovery_updates_total",
				Help: "Discovery registry mutations, by operation",
			},
			[]string{"operation"},
		),
		ProxyReconnects: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgmgr_proxy_reconnects_total",
				Help: "Proxy connection rebuilds after a write failure",
			},
			[]string{"peer"},
		),
		FramingErrors: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgmgr_framing_errors_total",
				Help: "Malformed or unknown-id frames discarded",
			},
			[]string{"mailbox"},
		),
		RegisteredBoxes: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "msgmgr_registered_mailboxes",
				Help: "Mailboxes currently registered with the lookup service",
			},
		),
	}
}

// Nil-safe recording helpers.

func (m *Metrics) RecordPosted(mailbox string) {
	if m != nil {
		m.MessagesPosted.WithLabelValues(mailbox).Inc()
	}
}

func (m *Metrics) RecordReceived(mailbox string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(mailbox).Inc()
	}
}

func (m *Metrics) RecordDropped(mailbox, reason string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(mailbox, reason).Inc()
	}
}

func (m *Metrics) SetQueueDepth(mailbox string, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(mailbox).Set(float64(depth))
	}
}

func (m *Metrics) SetActiveTimers(mailbox string, n int) {
	if m != nil {
		m.ActiveTimers.WithLabelValues(mailbox).Set(float64(n))
	}
}

func (m *Metrics) ObserveHandler(mailbox string, seconds float64) {
	if m != nil {
		m.HandlerDuration.WithLabelValues(mailbox).Observe(seconds)
	}
}

func (m *Metrics) RecordDiscovery(operation string) {
	if m != nil {
		m.DiscoveryUpdates.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordReconnect(peer string) {
	if m != nil {
		m.ProxyReconnects.WithLabelValues(peer).Inc()
	}
}

func (m *Metrics) RecordFramingError(mailbox string) {
	if m != nil {
		m.FramingErrors.WithLabelValues(mailbox).Inc()
	}
}

func (m *Metrics) SetRegisteredMailboxes(n int) {
	if m != nil {
		m.RegisteredBoxes.Set(float64(n))
	}
}
