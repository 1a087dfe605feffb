package influxdb

import (
	"strconv"
	"time"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

// Measurement names written by ExecutionRecorder.
const (
	MeasurementTriggerEvaluations = "trigger_evaluations"
	MeasurementRuleExecutions     = "rule_executions"
	MeasurementSideEffectFailures = "side_effect_failures"
)

// PointWriter is the write side of Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// ExecutionRecorder turns engine telemetry into InfluxDB points.
// It implements automation.Observer and never blocks the engine.
type ExecutionRecorder struct {
	w   PointWriter
	now func() time.Time
}

// NewExecutionRecorder returns a recorder writing through w.
func NewExecutionRecorder(w PointWriter) *ExecutionRecorder {
	return &ExecutionRecorder{w: w, now: time.Now}
}

var _ automation.Observer = (*ExecutionRecorder)(nil)

func (r *ExecutionRecorder) TriggerEvaluated(triggerSlug string, matched bool) {
	r.w.WritePoint(MeasurementTriggerEvaluations,
		map[string]string{"trigger_slug": triggerSlug, "matched": strconv.FormatBool(matched)},
		map[string]any{"count": 1},
		r.now())
}

func (r *ExecutionRecorder) ExecutionFinished(path automation.InvocationPath, status automation.ExecutionStatus, d time.Duration) {
	r.w.WritePoint(MeasurementRuleExecutions,
		map[string]string{"path": string(path), "status": string(status)},
		map[string]any{"duration_ms": d.Milliseconds()},
		r.now())
}

func (r *ExecutionRecorder) SideEffectFailed(effect string) {
	r.w.WritePoint(MeasurementSideEffectFailures,
		map[string]string{"effect": effect},
		map[string]any{"count": 1},
		r.now())
}
