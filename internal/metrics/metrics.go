// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the server updates. A single instance is
// created at startup and shared through fx.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsOpen   prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	FramesDecoded     prometheus.Counter
	FramesSent        prometheus.Counter
	FramesDropped     prometheus.Counter
	PacketsHandled    *prometheus.CounterVec
	RoutedMessages    *prometheus.CounterVec
	PoolQueueDepth    prometheus.GaugeFunc
	StoreFailures     prometheus.Counter
	BreakerState      prometheus.Gauge
	HandlerDuration   *prometheus.HistogramVec
}

// New builds the collector set. queueDepth feeds the pool gauge; pass nil to
// report zero.
func New(queueDepth func() int) *Metrics {
	if queueDepth == nil {
		queueDepth = func() int { return 0 }
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "im_connections_open",
			Help: "Number of live TCP connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "im_connections_total",
			Help: "Total accepted TCP connections.",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "im_frames_decoded_total",
			Help: "Total wire frames decoded from client streams.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "im_frames_sent_total",
			Help: "Total wire frames written to clients.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "im_frames_dropped_total",
			Help: "Frames that failed to write and were dropped.",
		}),
		PacketsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "im_packets_handled_total",
			Help: "Packets dispatched to handlers, by message type.",
		}, []string{"type"}),
		RoutedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "im_routed_messages_total",
			Help: "Messages routed to recipients, by route kind.",
		}, []string{"route"}),
		PoolQueueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "im_pool_queue_depth",
			Help: "Tasks currently waiting in the worker pool queue.",
		}, func() float64 { return float64(queueDepth()) }),
		StoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "im_store_failures_total",
			Help: "Database operations that returned an error.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "im_store_breaker_open",
			Help: "1 while the database circuit breaker is open.",
		}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "im_handler_duration_seconds",
			Help:    "Business handler latency, by message type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.ConnectionsOpen,
		m.ConnectionsTotal,
		m.FramesDecoded,
		m.FramesSent,
		m.FramesDropped,
		m.PacketsHandled,
		m.RoutedMessages,
		m.PoolQueueDepth,
		m.StoreFailures,
		m.BreakerState,
		m.HandlerDuration,
	)
	return m
}
