// ============================================================================
// cardbus Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose fleet metrics for Prometheus monitoring.
//
// Metric Categories:
//
//   1. Event Counters - cumulative, monotonically increasing:
//      - events_dispatched_total: events the loop routed to at least one subscriber
//      - events_discarded_total: events with no registered subscriber
//      - events_handled_total: HandleEvent calls completed per worker
//      - events_handler_panics_total: HandleEvent calls recovered from panic
//
//   2. Queue depth (Gauge) - instantaneous per-worker backlog:
//      - worker_inbound_depth: current inbound queue length
//      - worker_outbound_depth: current outbound queue length
//
//   3. Worker lifecycle (Gauge):
//      - workers_running: count of workers currently in the Running state
//
//   The gauges in 2 and 3 change only through SetQueueDepths and
//   SetWorkersRunning; nothing in the fleet calls these, so workers_running
//   stays at 0 and the per-worker depth gauges export no series.
//
// HTTP endpoint: exposed via /metrics, scraped by Prometheus.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for the worker fleet.
type Collector struct {
	eventsDispatched     prometheus.Counter
	eventsDiscarded      prometheus.Counter
	eventsHandled        *prometheus.CounterVec
	eventsHandlerPanics  *prometheus.CounterVec
	workerInboundDepth   *prometheus.GaugeVec
	workerOutboundDepth  *prometheus.GaugeVec
	workersRunning       prometheus.Gauge
}

// NewCollector creates a new metrics collector and registers it with the
// default Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		eventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardbus_events_dispatched_total",
			Help: "Total number of events routed to at least one subscriber",
		}),
		eventsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardbus_events_discarded_total",
			Help: "Total number of events with no registered subscriber",
		}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardbus_events_handled_total",
			Help: "Total number of HandleEvent calls completed, by worker",
		}, []string{"worker"}),
		eventsHandlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardbus_events_handler_panics_total",
			Help: "Total number of HandleEvent calls recovered from panic, by worker",
		}, []string{"worker"}),
		workerInboundDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cardbus_worker_inbound_depth",
			Help: "Current inbound queue length, by worker",
		}, []string{"worker"}),
		workerOutboundDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cardbus_worker_outbound_depth",
			Help: "Current outbound queue length, by worker",
		}, []string{"worker"}),
		workersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cardbus_workers_running",
			Help: "Current number of workers in the Running state",
		}),
	}

	prometheus.MustRegister(
		c.eventsDispatched,
		c.eventsDiscarded,
		c.eventsHandled,
		c.eventsHandlerPanics,
		c.workerInboundDepth,
		c.workerOutboundDepth,
		c.workersRunning,
	)

	return c
}

// RecordDispatched records an event that reached at least one subscriber.
func (c *Collector) RecordDispatched() { c.eventsDispatched.Inc() }

// RecordDiscarded records an event with no registered subscriber.
func (c *Collector) RecordDiscarded() { c.eventsDiscarded.Inc() }

// RecordHandled records a completed HandleEvent call for worker.
func (c *Collector) RecordHandled(worker string) { c.eventsHandled.WithLabelValues(worker).Inc() }

// RecordHandlerPanic records a HandleEvent call recovered from panic.
func (c *Collector) RecordHandlerPanic(worker string) {
	c.eventsHandlerPanics.WithLabelValues(worker).Inc()
}

// SetQueueDepths updates the inbound/outbound gauges for worker.
func (c *Collector) SetQueueDepths(worker string, inbound, outbound int) {
	c.workerInboundDepth.WithLabelValues(worker).Set(float64(inbound))
	c.workerOutboundDepth.WithLabelValues(worker).Set(float64(outbound))
}

// SetWorkersRunning sets the current Running-state worker count.
func (c *Collector) SetWorkersRunning(n int) { c.workersRunning.Set(float64(n)) }

// StartServer starts the Prometheus metrics HTTP server on port.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
