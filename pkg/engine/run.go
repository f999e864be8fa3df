package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/debug"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/isolation"
	"github.com/wehubfusion/Daedalus/pkg/task"
)

// Run is one execution of a plan. The control loop owns the shared state and
// runs on its own goroutine; every exported method is safe to call from any
// goroutine while the loop is running.
type Run struct {
	id     string
	engine *Engine
	def    *graph.Definition
	plan   *graph.Plan
	tasks  map[graph.NodeID]task.Definition
	logger *zap.Logger

	ctrl    *debug.Controller
	frames  *debug.FrameLog
	metrics metricsCollector

	// state is touched only by the loop goroutine
	state map[string]interface{}

	mu       sync.RWMutex
	phase    Phase
	statuses map[graph.NodeID]Status
	reasons  map[graph.NodeID]string
	outputs  map[graph.NodeID]map[string]interface{}
	summary  *Summary

	// emitMu keeps sequence numbers in delivery order
	emitMu sync.Mutex
	seq    uint64

	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

func newRun(e *Engine, id string, def *graph.Definition, plan *graph.Plan, tasks map[graph.NodeID]task.Definition) *Run {
	r := &Run{
		id:       id,
		engine:   e,
		def:      def,
		plan:     plan,
		tasks:    tasks,
		logger:   e.logger.With(zap.String("run_id", id)),
		frames:   debug.NewFrameLog(),
		state:    make(map[string]interface{}),
		phase:    PhaseIdle,
		statuses: make(map[graph.NodeID]Status, len(plan.Order)),
		reasons:  make(map[graph.NodeID]string),
		outputs:  make(map[graph.NodeID]map[string]interface{}),
		done:     make(chan struct{}),
	}
	for _, id := range plan.Order {
		r.statuses[id] = NotStarted
	}
	r.ctrl = debug.NewController(e.controllerOptions(r)...)
	return r
}

// ID returns the run id
func (r *Run) ID() string { return r.id }

// Order returns the execution order
func (r *Run) Order() graph.ExecutionOrder {
	return append(graph.ExecutionOrder(nil), r.plan.Order...)
}

// Phase returns the run-level state
func (r *Run) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Pause suspends the run before the next node
func (r *Run) Pause() error {
	if err := r.active(); err != nil {
		return err
	}
	r.ctrl.Pause()
	return nil
}

// Resume continues a paused run
func (r *Run) Resume() error {
	if err := r.active(); err != nil {
		return err
	}
	r.ctrl.Resume()
	return nil
}

// Step lets one node run and pauses again. When a node is already running,
// the run pauses once that node finishes.
func (r *Run) Step() error {
	if err := r.active(); err != nil {
		return err
	}
	r.ctrl.Step()
	return nil
}

// Abort stops scheduling. A node in flight gets the configured grace period
// before its isolated context is killed.
func (r *Run) Abort() error {
	if err := r.active(); err != nil {
		return err
	}
	r.logger.Info("Aborting run")
	r.ctrl.Abort()
	r.cancel()
	return nil
}

// ToggleBreakpoint flips the breakpoint on id and reports whether it is set
func (r *Run) ToggleBreakpoint(id graph.NodeID) bool {
	return r.ctrl.ToggleBreakpoint(id)
}

// Breakpoints returns the enabled breakpoints, sorted
func (r *Run) Breakpoints() []graph.NodeID {
	return r.ctrl.Breakpoints()
}

// NodeStatus returns the status of id
func (r *Run) NodeStatus(id graph.NodeID) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[id]
	return s, ok
}

// NodeReason returns the failure or skip reason recorded for id
func (r *Run) NodeReason(id graph.NodeID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reasons[id]
}

// NodeStatuses returns a copy of every node status
func (r *Run) NodeStatuses() map[graph.NodeID]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[graph.NodeID]Status, len(r.statuses))
	for id, s := range r.statuses {
		out[id] = s
	}
	return out
}

// Output returns a copy of the output recorded for id. Only succeeded nodes have one.
func (r *Run) Output(id graph.NodeID) (map[string]interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[id]
	if !ok {
		return nil, false
	}
	return debug.CopyMap(out), true
}

// DebugFrames returns the frame history in capture order
func (r *Run) DebugFrames() []debug.Frame {
	return r.frames.All()
}

// Metrics returns the run counters
func (r *Run) Metrics() Metrics {
	return r.metrics.snapshot()
}

// Done is closed once the run has finished
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends
func (r *Run) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-r.done:
		s, _ := r.Result()
		return s, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// Result returns the summary once the run has finished
func (r *Run) Result() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.summary == nil {
		return Summary{}, false
	}
	return *r.summary, true
}

// StateChanged implements debug.Observer
func (r *Run) StateChanged(s debug.State) {
	next := PhaseRunning
	if s == debug.Paused {
		next = PhasePaused
	}
	r.setPhase(next)
}

// BreakpointHit implements debug.Observer
func (r *Run) BreakpointHit(id graph.NodeID) {
	r.logger.Info("Breakpoint hit", zap.String("node_id", string(id)))
	r.emit(events.Event{Type: events.BreakpointHit, NodeID: string(id)})
}

func (r *Run) active() error {
	select {
	case <-r.done:
		return sdkerrors.ErrRunNotActive
	default:
	}
	if r.Phase().Terminal() {
		return sdkerrors.ErrRunNotActive
	}
	return nil
}

func (r *Run) loop(runCtx context.Context) {
	defer close(r.done)
	defer r.cancel()

	ctx, span := r.engine.tracer.Start(runCtx, "workflow.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("workflow.name", nameOf(r.def)),
		attribute.Int("workflow.nodes", len(r.plan.Order)),
	))
	defer span.End()

	r.startedAt = time.Now()
	initial := PhaseRunning
	if r.ctrl.State() == debug.Paused {
		initial = PhasePaused
	}
	r.setPhase(initial)

	aborted := false
	for _, id := range r.plan.Order {
		if err := r.ctrl.Await(ctx, id); err != nil {
			aborted = true
			break
		}

		if blocker, status, ok := r.blockedBy(id); ok {
			r.transition(id, Skipped, fmt.Sprintf("upstream %s %s", blocker, status))
			r.metrics.recordSkipped()
			r.ctrl.NodeFinished()
			continue
		}

		r.execute(ctx, id)
		r.ctrl.NodeFinished()

		if r.ctrl.Aborted() || ctx.Err() != nil {
			aborted = true
			break
		}
	}

	summary := r.summarize(aborted)
	span.SetAttributes(
		attribute.String("run.outcome", summary.Outcome),
		attribute.Int("run.failed", summary.Failed),
	)
	if summary.HasFailures() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d node(s) failed", summary.Failed))
	}

	r.finish(summary)
}

// execute runs one node. Timeouts and cancellation grace are enforced by the invoker.
func (r *Run) execute(ctx context.Context, id graph.NodeID) {
	td := r.tasks[id]
	inputs := r.inputsFor(id)

	nodeCtx, span := r.engine.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("node.id", string(id)),
		attribute.String("node.task", td.Ref),
	))
	defer span.End()

	r.transition(id, Running, "")
	r.logger.Debug("Dispatching node",
		zap.String("node_id", string(id)),
		zap.String("task", td.Ref),
		zap.Int("inputs", len(inputs)))

	start := time.Now()
	res, err := r.engine.invoker.Invoke(nodeCtx, &isolation.Invocation{
		NodeID:  string(id),
		Task:    td,
		Inputs:  inputs,
		State:   debug.CopyMap(r.state),
		Timeout: r.engine.nodeTimeout,
		OnLine: func(line string) {
			r.metrics.recordLine()
			r.emit(events.Event{Type: events.OutputLine, NodeID: string(id), Line: line})
		},
	})
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.recordFailed(elapsed)
		r.frames.Append(debug.Frame{
			NodeID:      id,
			Status:      string(Failed),
			Inputs:      inputs,
			SharedState: r.state,
			Error:       err.Error(),
			Timestamp:   time.Now(),
		})
		r.logger.Warn("Node failed",
			zap.String("node_id", string(id)),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		r.transition(id, Failed, err.Error())
		return
	}

	if res.State != nil {
		r.state = res.State
	}
	output := res.Output
	if output == nil {
		output = map[string]interface{}{}
	}

	r.mu.Lock()
	r.outputs[id] = debug.CopyMap(output)
	r.mu.Unlock()

	r.metrics.recordSucceeded(elapsed)
	r.frames.Append(debug.Frame{
		NodeID:      id,
		Status:      string(Succeeded),
		Inputs:      inputs,
		SharedState: r.state,
		Output:      output,
		Timestamp:   time.Now(),
	})
	r.logger.Debug("Node succeeded",
		zap.String("node_id", string(id)),
		zap.Duration("duration", elapsed))
	r.transition(id, Succeeded, "")
}

// blockedBy returns the first data source that failed or was skipped
func (r *Run) blockedBy(id graph.NodeID) (graph.NodeID, Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, src := range r.plan.Data.Sources(id) {
		if s := r.statuses[src.Node]; s.Blocks() {
			return src.Node, s, true
		}
	}
	return "", "", false
}

// inputsFor reads the recorded output of every data source of id. A source
// without output contributes an empty map.
func (r *Run) inputsFor(id graph.NodeID) map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inputs := make(map[string]interface{})
	for _, src := range r.plan.Data.Sources(id) {
		out := r.outputs[src.Node]
		if src.Port == "" || src.Port == graph.DefaultPort {
			inputs[string(src.Node)] = debug.CopyMap(out)
			continue
		}
		key := string(src.Node) + "." + src.Port
		if v, ok := out[src.Port]; ok {
			inputs[key] = copyValue(v)
		} else {
			inputs[key] = map[string]interface{}{}
		}
	}
	return inputs
}

func (r *Run) transition(id graph.NodeID, next Status, reason string) {
	r.mu.Lock()
	current := r.statuses[id]
	if !current.canBecome(next) {
		r.mu.Unlock()
		r.logger.Error("Rejected node status transition",
			zap.String("node_id", string(id)),
			zap.String("from", string(current)),
			zap.String("to", string(next)))
		return
	}
	r.statuses[id] = next
	if reason != "" {
		r.reasons[id] = reason
	}
	r.mu.Unlock()

	r.emit(events.Event{
		Type:   events.NodeStatusChanged,
		NodeID: string(id),
		Status: string(next),
		Reason: reason,
	})
}

func (r *Run) setPhase(next Phase) {
	r.mu.Lock()
	if r.phase.Terminal() || r.phase == next {
		r.mu.Unlock()
		return
	}
	r.phase = next
	r.mu.Unlock()

	r.emit(events.Event{Type: events.StatusChanged, Phase: string(next)})
}

func (r *Run) summarize(aborted bool) Summary {
	s := Summary{RunID: r.id, Outcome: string(PhaseCompleted), Duration: time.Since(r.startedAt)}
	if aborted {
		s.Outcome = string(PhaseAborted)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.plan.Order {
		switch r.statuses[id] {
		case Succeeded:
			s.Succeeded++
		case Failed:
			s.Failed++
		case Skipped:
			s.Skipped++
		default:
			s.NotStarted++
		}
	}
	return s
}

func (r *Run) finish(summary Summary) {
	r.mu.Lock()
	r.summary = &summary
	r.mu.Unlock()

	r.setPhase(Phase(summary.Outcome))
	r.logger.Info("Run finished",
		zap.String("outcome", summary.Outcome),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("not_started", summary.NotStarted),
		zap.Duration("duration", summary.Duration))
	r.emit(events.Event{Type: events.RunFinished, Summary: &summary})
}

func (r *Run) emit(e events.Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.seq++
	e.RunID = r.id
	e.Sequence = r.seq
	e.Time = time.Now()
	r.engine.sink.Emit(e)
}

func copyValue(v interface{}) interface{} {
	return debug.CopyMap(map[string]interface{}{"v": v})["v"]
}
