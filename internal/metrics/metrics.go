// Package metrics exposes Prometheus collectors for both services and a
// gopsutil-based process sampler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream worker counters, labeled by worker name.
var (
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_messages_consumed_total",
		Help: "Messages fetched from the bus",
	}, []string{"worker"})

	MessagesAcked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_messages_acked_total",
		Help: "Messages acknowledged after successful processing",
	}, []string{"worker"})

	MessagesNacked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_messages_nacked_total",
		Help: "Messages negatively acknowledged and scheduled for redelivery",
	}, []string{"worker"})
)

// Aggregator counters.
var (
	CandlesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_candles_emitted_total",
		Help: "Finalized candles emitted by the aggregator",
	}, []string{"unit"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_publish_failures_total",
		Help: "Failed publisher dispatches (message is nacked)",
	}, []string{"publisher"})

	WindowsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_windows_evicted_total",
		Help: "Stale aggregation windows reclaimed by cleanup",
	})
)

// Fan-out collectors.
var (
	CurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_ws_connections",
		Help: "Currently connected WebSocket clients",
	})

	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_ws_connections_total",
		Help: "WebSocket connections accepted since start",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_ws_subscriptions",
		Help: "Distinct (symbol, timeframe) keys with at least one subscriber",
	})

	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_ws_broadcasts_sent_total",
		Help: "Candle messages queued to subscribed clients",
	})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_ws_broadcasts_dropped_total",
		Help: "Candle messages dropped because a client buffer was full",
	})

	SlowClientsDisconnected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_ws_slow_clients_disconnected_total",
		Help: "Clients disconnected after repeated full-buffer sends",
	})
)

// Process gauges, fed by the sampler.
var (
	ProcessCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_process_cpu_percent",
		Help: "Process CPU usage percent",
	})

	ProcessMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_process_memory_bytes",
		Help: "Process resident set size",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
