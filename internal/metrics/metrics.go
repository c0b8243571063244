// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the orchestrator's collectors. A nil *Registry is a
// no-op, so instrumentation points need no guards.
type Registry struct {
	registry *prometheus.Registry

	workflowsStarted  *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	activityRetries   *prometheus.CounterVec
}

// New builds a Registry with every collector registered, including the
// standard Go and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		registry: reg,
		workflowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_workflows_started_total",
			Help: "Lifecycle workflows started, by workflow.",
		}, []string{"workflow"}),
		workflowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_workflows_finished_total",
			Help: "Lifecycle workflows finished, by workflow and final status.",
		}, []string{"workflow", "status"}),
		workflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_workflow_duration_seconds",
			Help:    "Wall time from workflow start to completion.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"workflow"}),
		activityRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_activity_retries_total",
			Help: "Transient backend failures that were retried, by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.workflowsStarted,
		m.workflowsFinished,
		m.workflowDuration,
		m.activityRetries,
	)
	return m
}

// WorkflowStarted counts one workflow start.
func (m *Registry) WorkflowStarted(workflow string) {
	if m == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(workflow).Inc()
}

// WorkflowFinished counts one workflow completion and records its
// duration. Status is the final deployment status, or "error" when the
// workflow itself failed.
func (m *Registry) WorkflowFinished(workflow, status string, seconds float64) {
	if m == nil {
		return
	}
	m.workflowsFinished.WithLabelValues(workflow, status).Inc()
	m.workflowDuration.WithLabelValues(workflow).Observe(seconds)
}

// ActivityRetry counts one retried backend call. Wire it into
// RetryPolicy.OnRetry.
func (m *Registry) ActivityRetry(op string) {
	if m == nil {
		return
	}
	m.activityRetries.WithLabelValues(op).Inc()
}

// Handler serves the collectors in Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
