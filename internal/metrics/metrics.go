// Package metrics exposes Prometheus collectors for the client core and the
// daemon. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	MessagesSent   *prometheus.CounterVec
	Subscriptions  *prometheus.GaugeVec
	SnapshotErrors *prometheus.CounterVec
	StoreOps       *prometheus.HistogramVec
	RPCs           *prometheus.CounterVec
	SweptUsers     prometheus.Counter
	Notifications  *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "messages_sent_total",
			Help:      "Outgoing messages by result.",
		}, []string{"result"}),
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "live_subscriptions",
			Help:      "Open live subscriptions by kind.",
		}, []string{"kind"}),
		SnapshotErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "snapshot_errors_total",
			Help:      "Live subscriptions that reported a failure, by kind.",
		}, []string{"kind"}),
		StoreOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatsync",
			Name:      "store_op_seconds",
			Help:      "Latency of document store calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		RPCs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "rpc_requests_total",
			Help:      "gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		SweptUsers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "presence_swept_total",
			Help:      "Users marked offline after their lease lapsed.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "notifications_total",
			Help:      "Events forwarded to the notification topic, by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.MessagesSent, m.Subscriptions, m.SnapshotErrors, m.StoreOps,
		m.RPCs, m.SweptUsers, m.Notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Sent(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.MessagesSent.WithLabelValues("ok").Inc()
	} else {
		m.MessagesSent.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) SubscriptionOpened(kind string) {
	if m != nil {
		m.Subscriptions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SubscriptionClosed(kind string) {
	if m != nil {
		m.Subscriptions.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) SnapshotFailed(kind string) {
	if m != nil {
		m.SnapshotErrors.WithLabelValues(kind).Inc()
	}
}

// ObserveStore records the duration of a store call started at start.
func (m *Metrics) ObserveStore(op string, start time.Time) {
	if m != nil {
		m.StoreOps.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RPC(method, code string) {
	if m != nil {
		m.RPCs.WithLabelValues(method, code).Inc()
	}
}

func (m *Metrics) Swept(n int) {
	if m != nil {
		m.SweptUsers.Add(float64(n))
	}
}

func (m *Metrics) Notified(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Notifications.WithLabelValues("ok").Inc()
	} else {
		m.Notifications.WithLabelValues("failed").Inc()
	}
}
