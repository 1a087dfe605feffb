// Package metrics exposes engine telemetry as Prometheus metrics.
//
// Recorder owns a private registry so tests and multiple instances do
// not collide on the global default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

const namespace = "triggerflow"

// Recorder implements automation.Observer and the ingest observer.
type Recorder struct {
	registry *prometheus.Registry

	triggers      *prometheus.CounterVec
	executions    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	sideEffects   *prometheus.CounterVec
	ingest        *prometheus.CounterVec
	ingestBacklog prometheus.Gauge
}

var _ automation.Observer = (*Recorder)(nil)

// NewRecorder registers all collectors, plus Go runtime and process
// collectors, on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_evaluations_total",
			Help:      "Trigger events evaluated against rules, by slug and match outcome.",
		}, []string{"trigger_slug", "matched"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_executions_total",
			Help:      "Rule executions by invocation path and status.",
		}, []string{"path", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_execution_duration_seconds",
			Help:      "Wall time of rule executions.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"path"}),
		sideEffects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Best-effort post-execution steps that failed.",
		}, []string{"effect"}),
		ingest: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Trigger messages received over MQTT, by outcome.",
		}, []string{"outcome"}),
		ingestBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_in_flight",
			Help:      "Trigger messages accepted but not yet processed.",
		}),
	}
}

func (r *Recorder) TriggerEvaluated(triggerSlug string, matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	r.triggers.WithLabelValues(triggerSlug, label).Inc()
}

func (r *Recorder) ExecutionFinished(path automation.InvocationPath, status automation.ExecutionStatus, d time.Duration) {
	r.executions.WithLabelValues(string(path), string(status)).Inc()
	r.duration.WithLabelValues(string(path)).Observe(d.Seconds())
}

func (r *Recorder) SideEffectFailed(effect string) {
	r.sideEffects.WithLabelValues(effect).Inc()
}

// MessageReceived counts an ingest outcome such as "accepted", "invalid" or "processed".
func (r *Recorder) MessageReceived(outcome string) {
	r.ingest.WithLabelValues(outcome).Inc()
}

// InFlight adjusts the ingest backlog gauge by delta.
func (r *Recorder) InFlight(delta int) {
	r.ingestBacklog.Add(float64(delta))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
