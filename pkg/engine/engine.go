// Package engine drives workflow runs: it validates a graph definition, orders
// it, and executes its nodes one at a time through an isolated invoker while
// applying failure isolation, the debug gate, and the event stream.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/debug"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/isolation"
	"github.com/wehubfusion/Daedalus/pkg/task"
)

// Engine starts runs. One engine may start any number of independent runs.
type Engine struct {
	invoker     isolation.Invoker
	logger      *zap.Logger
	sink        events.Sink
	tracer      trace.Tracer
	nodeTimeout time.Duration
	breakpoints []graph.NodeID
	startPaused bool
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSink sets the event sink of every run
func WithSink(sink events.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithNodeTimeout fails any node running longer than d. Zero disables it.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithBreakpoints sets the initial breakpoints of every run
func WithBreakpoints(ids ...graph.NodeID) Option {
	return func(e *Engine) { e.breakpoints = append(e.breakpoints, ids...) }
}

// WithStartPaused makes runs wait for Resume or Step before the first node
func WithStartPaused() Option {
	return func(e *Engine) { e.startPaused = true }
}

// New creates an engine dispatching nodes through invoker
func New(invoker isolation.Invoker, opts ...Option) *Engine {
	e := &Engine{
		invoker: invoker,
		logger:  zap.NewNop(),
		sink:    events.Discard,
		tracer:  otel.Tracer("daedalus/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start validates def and starts a run on its own goroutine. Unknown node
// references, control cycles, and unresolvable nodes are returned here, before
// any node is invoked; in that case no run exists. Cancelling ctx aborts the run.
func (e *Engine) Start(ctx context.Context, def *graph.Definition, resolver task.Resolver) (*Run, error) {
	if e.invoker == nil {
		return nil, fmt.Errorf("engine has no invoker")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}

	e.logger.Info("Building execution graph", zap.String("graph", nameOf(def)))
	plan, err := graph.NewPlan(def)
	if err != nil {
		e.logger.Warn("Graph validation failed", zap.Error(err))
		return nil, err
	}

	tasks := make(map[graph.NodeID]task.Definition, len(plan.Order))
	for _, id := range plan.Order {
		td, err := resolver.Resolve(id)
		if err != nil {
			e.logger.Warn("Node resolution failed", zap.String("node_id", string(id)), zap.Error(err))
			return nil, err
		}
		tasks[id] = td
	}

	r := newRun(e, uuid.NewString(), def, plan, tasks)
	e.logger.Info("Executing nodes",
		zap.String("run_id", r.id),
		zap.Int("nodes", len(plan.Order)))

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.loop(runCtx)
	return r, nil
}

func (e *Engine) controllerOptions(observer debug.Observer) []debug.Option {
	opts := []debug.Option{debug.WithObserver(observer), debug.WithBreakpoints(e.breakpoints...)}
	if e.startPaused {
		opts = append(opts, debug.StartPaused())
	}
	return opts
}

func nameOf(def *graph.Definition) string {
	if def == nil {
		return ""
	}
	return def.Name
}
