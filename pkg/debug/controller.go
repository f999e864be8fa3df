// Package debug implements the pause/resume/step/breakpoint gate the engine
// consults before each node, and the append-only log of node snapshots.
package debug

import (
	"context"
	"sort"
	"sync"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// State of the gate
type State int

const (
	Running State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "running"
}

// Observer receives controller notifications. Calls happen outside the
// controller lock, on the goroutine that caused the change. State notifications
// are serialized and always carry the state current at delivery time, so the
// last one received matches State().
type Observer interface {
	StateChanged(State)
	BreakpointHit(graph.NodeID)
}

// Controller is the debug gate of one run. All methods are safe for concurrent use.
type Controller struct {
	mu          sync.Mutex
	state       State
	stepping    bool
	aborted     bool
	breakpoints map[graph.NodeID]struct{}
	// wake is closed and replaced whenever waiters must re-evaluate
	wake     chan struct{}
	observer Observer

	notifyMu sync.Mutex
	notified State
}

// Option configures a Controller
type Option func(*Controller)

// WithObserver registers the notification receiver
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithBreakpoints enables breakpoints on the given nodes
func WithBreakpoints(ids ...graph.NodeID) Option {
	return func(c *Controller) {
		for _, id := range ids {
			c.breakpoints[id] = struct{}{}
		}
	}
}

// StartPaused makes the first gate block until Resume or Step
func StartPaused() Option {
	return func(c *Controller) { c.state = Paused }
}

// NewController creates a gate in the Running state
func NewController(opts ...Option) *Controller {
	c := &Controller{
		breakpoints: make(map[graph.NodeID]struct{}),
		wake:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.notified = c.state
	return c
}

// State returns the current gate state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pause makes the next gate block
func (c *Controller) Pause() {
	c.mu.Lock()
	c.state = Paused
	c.stepping = false
	c.mu.Unlock()
	c.notifyState()
}

// Resume releases the gate until the next Pause or breakpoint
func (c *Controller) Resume() {
	c.mu.Lock()
	c.stepping = false
	c.state = Running
	c.broadcastLocked()
	c.mu.Unlock()
	c.notifyState()
}

// Step lets exactly one node through, after which the gate is Paused again
func (c *Controller) Step() {
	c.mu.Lock()
	c.stepping = true
	c.state = Running
	c.broadcastLocked()
	c.mu.Unlock()
	c.notifyState()
}

// Abort releases every waiter with ErrAborted and makes later gates fail
func (c *Controller) Abort() {
	c.mu.Lock()
	if !c.aborted {
		c.aborted = true
		c.broadcastLocked()
	}
	c.mu.Unlock()
}

// Aborted reports whether Abort was called
func (c *Controller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// ToggleBreakpoint flips the breakpoint on id and reports whether it is now set
func (c *Controller) ToggleBreakpoint(id graph.NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.breakpoints[id]; ok {
		delete(c.breakpoints, id)
		return false
	}
	c.breakpoints[id] = struct{}{}
	return true
}

// Breakpoints returns the enabled breakpoints, sorted
func (c *Controller) Breakpoints() []graph.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]graph.NodeID, 0, len(c.breakpoints))
	for id := range c.breakpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Await blocks until node id may run. A breakpoint on id forces the Paused
// state before anything else. The wait ends on Resume, Step, Abort, or ctx.
func (c *Controller) Await(ctx context.Context, id graph.NodeID) error {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return sdkerrors.ErrAborted
	}

	_, isBreakpoint := c.breakpoints[id]
	if isBreakpoint {
		c.stepping = false
		c.state = Paused
	}
	c.mu.Unlock()

	if isBreakpoint {
		c.notifyState()
		if c.observer != nil {
			c.observer.BreakpointHit(id)
		}
	}

	for {
		c.mu.Lock()
		if c.aborted {
			c.mu.Unlock()
			return sdkerrors.ErrAborted
		}
		if c.state == Running {
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NodeFinished must be called after each node that passed the gate. It ends a
// step by returning the gate to Paused.
func (c *Controller) NodeFinished() {
	c.mu.Lock()
	if !c.stepping {
		c.mu.Unlock()
		return
	}
	c.stepping = false
	c.state = Paused
	c.mu.Unlock()
	c.notifyState()
}

func (c *Controller) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// notifyState reports the current state if it differs from the last one
// delivered. Concurrent callers are serialized so a stale state never arrives
// after a newer one.
func (c *Controller) notifyState() {
	if c.observer == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	s := c.State()
	if s == c.notified {
		return
	}
	c.notified = s
	c.observer.StateChanged(s)
}
