package engine

import (
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time view of a run's counters
type Metrics struct {
	NodesSucceeded  int64         `json:"nodes_succeeded"`
	NodesFailed     int64         `json:"nodes_failed"`
	NodesSkipped    int64         `json:"nodes_skipped"`
	OutputLines     int64         `json:"output_lines"`
	TotalNodeTime   time.Duration `json:"total_node_time_ns"`
	AverageNodeTime time.Duration `json:"average_node_time_ns"`
	FailureRate     float64       `json:"failure_rate"`
}

// metricsCollector is a thread-safe counter set
type metricsCollector struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	lines     atomic.Int64
	nodeTime  atomic.Int64
}

func (m *metricsCollector) recordSucceeded(d time.Duration) {
	m.succeeded.Add(1)
	m.nodeTime.Add(int64(d))
}

func (m *metricsCollector) recordFailed(d time.Duration) {
	m.failed.Add(1)
	m.nodeTime.Add(int64(d))
}

func (m *metricsCollector) recordSkipped() {
	m.skipped.Add(1)
}

func (m *metricsCollector) recordLine() {
	m.lines.Add(1)
}

func (m *metricsCollector) snapshot() Metrics {
	succeeded := m.succeeded.Load()
	failed := m.failed.Load()
	total := time.Duration(m.nodeTime.Load())

	out := Metrics{
		NodesSucceeded: succeeded,
		NodesFailed:    failed,
		NodesSkipped:   m.skipped.Load(),
		OutputLines:    m.lines.Load(),
		TotalNodeTime:  total,
	}
	if executed := succeeded + failed; executed > 0 {
		out.AverageNodeTime = total / time.Duration(executed)
		out.FailureRate = float64(failed) / float64(executed) * 100
	}
	return out
}
