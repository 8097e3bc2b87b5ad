// Package metrics names and tags the counters and timers the pipeline emits.
package metrics

import (
	"time"

	obserrors "github.com/target/smart-resizer/internal/observability/errors"
	"github.com/target/smart-resizer/internal/observability/statsd"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// TaskMetric describes one queue task transition.
type TaskMetric struct {
	TaskType   string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitTaskLifecycle records a task transition counter and, when timed, its duration.
func EmitTaskLifecycle(sink statsd.Sink, in TaskMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"task_type":  in.TaskType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("task.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("task.duration", in.Duration, CloneTags(tags))
	}
}

// FormatMetric describes the outcome of one format within a job.
type FormatMetric struct {
	FormatKey string
	Result    string
	TimedOut  bool
	Duration  time.Duration
}

// EmitFormatResult records the per-format outcome and transform latency.
func EmitFormatResult(sink statsd.Sink, in FormatMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"format": in.FormatKey,
		"result": in.Result,
	}
	if in.TimedOut {
		tags["timeout"] = "true"
	}
	sink.Count("resize.format", 1, tags)
	if in.Duration > 0 {
		sink.Timing("resize.format.duration", in.Duration, CloneTags(tags))
	}
}

// JobMetric describes a job-level state change.
type JobMetric struct {
	Status    string
	Workflow  string
	Completed int
	Failed    int
}

// EmitJobSettled records a terminal job and its per-format split.
func EmitJobSettled(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"status": in.Status, "workflow": in.Workflow}
	sink.Count("job.settled", 1, tags)
	sink.Gauge("job.formats_completed", float64(in.Completed), CloneTags(tags))
	sink.Gauge("job.formats_failed", float64(in.Failed), CloneTags(tags))
}

// EmitAdmission records an admission attempt tagged by outcome code.
func EmitAdmission(sink statsd.Sink, outcome string) {
	if sink == nil {
		return
	}
	sink.Count("job.admission", 1, map[string]string{"outcome": outcome})
}

// CloneTags copies a tag map so callers can extend it without aliasing.
func CloneTags(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
