package ports

import "time"

// MetricsCollector records load and run metrics
type MetricsCollector interface {
	RecordPass(status string, duration time.Duration)
	RecordControlLoad(group, status string, duration time.Duration)
	RecordGroupCompleted(group, status string)
	RecordRunSubmitted(wrap, status string)
	RecordRunCompleted(wrap, status string, duration time.Duration)
	SetActiveRuns(count int)
	SetQueueDepth(depth int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) RecordPass(string, time.Duration)                {}
func (NopMetrics) RecordControlLoad(string, string, time.Duration) {}
func (NopMetrics) RecordGroupCompleted(string, string)             {}
func (NopMetrics) RecordRunSubmitted(string, string)               {}
func (NopMetrics) RecordRunCompleted(string, string, time.Duration) {}
func (NopMetrics) SetActiveRuns(int)                               {}
func (NopMetrics) SetQueueDepth(int)                               {}
func (NopMetrics) RecordWorkerPoolStatus(int, int, int)            {}
