package engine

import "github.com/wehubfusion/Daedalus/pkg/events"

// Status is the per-node state. Transitions only move forward:
// NotStarted -> Running -> {Succeeded, Failed}, or NotStarted -> Skipped.
type Status string

const (
	NotStarted Status = "not_started"
	Running    Status = "running"
	Succeeded  Status = "succeeded"
	Failed     Status = "failed"
	Skipped    Status = "skipped"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// Blocks reports whether a data dependent of a node in this status must be skipped
func (s Status) Blocks() bool {
	return s == Failed || s == Skipped
}

func (s Status) canBecome(next Status) bool {
	switch s {
	case NotStarted:
		return next == Running || next == Skipped
	case Running:
		return next == Succeeded || next == Failed
	default:
		return false
	}
}

// Phase is the run-level state
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseAborted   Phase = "aborted"
)

// Terminal reports whether the run has ended
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

// Summary is the final tally of a run. Outcome is "completed" or "aborted";
// HasFailures tells a completed run with failed nodes apart from a clean one.
type Summary = events.Summary
