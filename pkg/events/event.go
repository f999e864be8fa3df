// Package events defines the one-way event stream a run emits and the sinks
// that deliver it: an in-process bus, a log mirror, and NATS JetStream.
package events

import (
	"fmt"
	"time"
)

// Type names an event kind
type Type string

const (
	StatusChanged     Type = "status_changed"
	NodeStatusChanged Type = "node_status_changed"
	OutputLine        Type = "output_line"
	BreakpointHit     Type = "breakpoint_hit"
	RunFinished       Type = "run_finished"
)

// Summary is the final tally of a run
type Summary struct {
	RunID      string        `json:"run_id"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	NotStarted int           `json:"not_started"`
	Outcome    string        `json:"outcome"`
	Duration   time.Duration `json:"duration_ns"`
}

// HasFailures reports whether any node failed. Skipped nodes alone do not count.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped, %d not started",
		s.Outcome, s.Succeeded, s.Failed, s.Skipped, s.NotStarted)
}

// Event is one entry of the stream. Only the fields of its Type are set.
type Event struct {
	Type     Type      `json:"type"`
	RunID    string    `json:"run_id"`
	Sequence uint64    `json:"sequence"`
	Time     time.Time `json:"time"`

	// StatusChanged
	Phase string `json:"phase,omitempty"`

	// NodeStatusChanged, OutputLine, BreakpointHit
	NodeID string `json:"node_id,omitempty"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	// OutputLine
	Line string `json:"line,omitempty"`

	// RunFinished
	Summary *Summary `json:"summary,omitempty"`
}

func (e Event) String() string {
	switch e.Type {
	case StatusChanged:
		return fmt.Sprintf("run %s", e.Phase)
	case NodeStatusChanged:
		if e.Reason != "" {
			return fmt.Sprintf("node %s %s: %s", e.NodeID, e.Status, e.Reason)
		}
		return fmt.Sprintf("node %s %s", e.NodeID, e.Status)
	case OutputLine:
		return fmt.Sprintf("[%s] %s", e.NodeID, e.Line)
	case BreakpointHit:
		return fmt.Sprintf("breakpoint hit before %s", e.NodeID)
	case RunFinished:
		if e.Summary != nil {
			return "finished " + e.Summary.String()
		}
		return "finished"
	default:
		return string(e.Type)
	}
}

// Sink receives events. Emit must not block the caller for long; the engine
// calls it from its control loop.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Emit implements Sink
func (f SinkFunc) Emit(e Event) { f(e) }

// Multi fans an event out to several sinks in order
type Multi []Sink

// Emit implements Sink
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})
