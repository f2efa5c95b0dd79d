// Package metrics provides Prometheus metrics collection, grounded on the
// teacher's infrastructure/metrics/metrics.go CounterVec/HistogramVec/Gauge
// collector set, retargeted from HTTP/blockchain/database metrics to
// pipeline-engine and collaborator-call metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the merge queue registers.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	EventHandleSeconds *prometheus.HistogramVec
	CommandsTotal      *prometheus.CounterVec

	CollaboratorCallsTotal    *prometheus.CounterVec
	CollaboratorCallSeconds   *prometheus.HistogramVec
	CollaboratorCallsFailed   *prometheus.CounterVec

	QueueDepth     *prometheus.GaugeVec
	RunningOccupied *prometheus.GaugeVec

	ServiceInfo *prometheus.GaugeVec
}

// New registers and returns a Metrics instance against the default
// registerer.
func New(serviceName, version string) *Metrics {
	return NewWithRegistry(serviceName, version, prometheus.DefaultRegisterer)
}

// NewWithRegistry registers against a caller-supplied registerer, used by
// tests to avoid colliding with the global default registry.
func NewWithRegistry(serviceName, version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergequeue_events_total",
				Help: "Total number of pipeline events handled, by event type and outcome.",
			},
			[]string{"event", "outcome"},
		),
		EventHandleSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergequeue_event_handle_seconds",
				Help:    "Time to run pipeline.Handle for one event.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"event"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergequeue_commands_total",
				Help: "Total number of commands emitted by the pipeline engine, by kind.",
			},
			[]string{"command"},
		),
		CollaboratorCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergequeue_collaborator_calls_total",
				Help: "Total calls made to a collaborator (ci, vcs, ui), by outcome.",
			},
			[]string{"collaborator", "outcome"},
		),
		CollaboratorCallSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergequeue_collaborator_call_seconds",
				Help:    "Collaborator call duration in seconds.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"collaborator"},
		),
		CollaboratorCallsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergequeue_collaborator_calls_failed_total",
				Help: "Total failed collaborator calls, by collaborator.",
			},
			[]string{"collaborator"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mergequeue_queue_depth",
				Help: "Current number of queued entries, by pipeline ID.",
			},
			[]string{"pipeline"},
		),
		RunningOccupied: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mergequeue_running_occupied",
				Help: "1 if a pipeline's running slot is occupied, else 0.",
			},
			[]string{"pipeline"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mergequeue_service_info",
				Help: "Service build information.",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.EventsTotal,
			m.EventHandleSeconds,
			m.CommandsTotal,
			m.CollaboratorCallsTotal,
			m.CollaboratorCallSeconds,
			m.CollaboratorCallsFailed,
			m.QueueDepth,
			m.RunningOccupied,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, version).Set(1)
	return m
}

// RecordEvent records one pipeline.Handle call.
func (m *Metrics) RecordEvent(event, outcome string, duration time.Duration) {
	m.EventsTotal.WithLabelValues(event, outcome).Inc()
	m.EventHandleSeconds.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordCommand records one command emitted by the pipeline engine.
func (m *Metrics) RecordCommand(command string) {
	m.CommandsTotal.WithLabelValues(command).Inc()
}

// RecordCollaboratorCall records one outbound collaborator call.
func (m *Metrics) RecordCollaboratorCall(collaborator, outcome string, duration time.Duration) {
	m.CollaboratorCallsTotal.WithLabelValues(collaborator, outcome).Inc()
	m.CollaboratorCallSeconds.WithLabelValues(collaborator).Observe(duration.Seconds())
	if outcome != "success" {
		m.CollaboratorCallsFailed.WithLabelValues(collaborator).Inc()
	}
}

// SetQueueDepth reports the current queue length for a pipeline.
func (m *Metrics) SetQueueDepth(pipeline string, depth int) {
	m.QueueDepth.WithLabelValues(pipeline).Set(float64(depth))
}

// SetRunningOccupied reports whether a pipeline's running slot is occupied.
func (m *Metrics) SetRunningOccupied(pipeline string, occupied bool) {
	v := 0.0
	if occupied {
		v = 1.0
	}
	m.RunningOccupied.WithLabelValues(pipeline).Set(v)
}
