package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/agentrouter/internal/executor"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
)

// Metrics holds the application collectors.
type Metrics struct {
	Runs           *prometheus.CounterVec
	RouteDecisions *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	StepFailures   *prometheus.CounterVec
	StepRetries    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrouter_runs_total",
			Help: "Finished runs by route target and status.",
		}, []string{"route", "status"}),
		RouteDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrouter_route_decisions_total",
			Help: "Routing decisions by target.",
		}, []string{"target"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentrouter_step_duration_seconds",
			Help:    "Worker dispatch latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"worker"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrouter_step_failures_total",
			Help: "Failed plan steps by worker.",
		}, []string{"worker"}),
		StepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrouter_step_retries_total",
			Help: "Step retries by worker and attempt.",
		}, []string{"worker", "attempt"}),
	}
	reg.MustRegister(m.Runs, m.RouteDecisions, m.StepDuration, m.StepFailures, m.StepRetries)
	return m
}

// Executor adapts the collectors to executor callbacks.
func (m *Metrics) Executor() executor.Metrics {
	return executor.Metrics{
		StepDuration: func(_ context.Context, agent string, d time.Duration) {
			m.StepDuration.WithLabelValues(agent).Observe(d.Seconds())
		},
		StepFailed: func(_ context.Context, agent string) {
			m.StepFailures.WithLabelValues(agent).Inc()
		},
		RetryCounter: func(_ context.Context, agent string, attempt int) {
			m.StepRetries.WithLabelValues(agent, strconv.Itoa(attempt)).Inc()
		},
	}
}

// Orchestrator adapts the collectors to orchestrator callbacks.
func (m *Metrics) Orchestrator() orchestrator.Metrics {
	return orchestrator.Metrics{
		RouteDecided: func(_ context.Context, target string) {
			m.RouteDecisions.WithLabelValues(target).Inc()
		},
		RunFinished: func(_ context.Context, route, status string) {
			m.Runs.WithLabelValues(route, status).Inc()
		},
	}
}
