// Package metrics exposes fleetd's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every fleetd collector behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           prometheus.Counter
	TasksPromoted   prometheus.Counter
	Assignments     *prometheus.CounterVec
	RunOutcomes     *prometheus.CounterVec
	VendorCalls     *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	EventsPublished prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetd", Name: "ticks_total",
			Help: "Orchestration ticks executed.",
		}),
		TasksPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetd", Name: "tasks_promoted_total",
			Help: "Tasks promoted from PENDING to READY.",
		}),
		Assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetd", Name: "assignments_total",
			Help: "Assignment attempts by result.",
		}, []string{"result"}),
		RunOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetd", Name: "run_outcomes_total",
			Help: "Workflow run advance outcomes per tick.",
		}, []string{"outcome"}),
		VendorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetd", Name: "vendor_calls_total",
			Help: "Vendor API attempts by operation and result.",
		}, []string{"op", "result"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetd", Name: "events_dropped_total",
			Help: "Events dropped by the fire-and-forget publish path.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetd", Name: "events_published_total",
			Help: "Events accepted by the bus.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Ticks, m.TasksPromoted, m.Assignments, m.RunOutcomes,
		m.VendorCalls, m.EventsDropped, m.EventsPublished,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordVendorCall is the hook wired into the vendor client.
func (m *Metrics) RecordVendorCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.VendorCalls.WithLabelValues(op, result).Inc()
}
