package debug

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

type recorder struct {
	mu     sync.Mutex
	states []State
	hits   []graph.NodeID
}

func (r *recorder) StateChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) BreakpointHit(id graph.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, id)
}

func (r *recorder) snapshot() ([]State, []graph.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...), append([]graph.NodeID(nil), r.hits...)
}

// awaitAsync runs Await on its own goroutine and returns its result channel.
func awaitAsync(c *Controller, ctx context.Context, id graph.NodeID) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.Await(ctx, id) }()
	return ch
}

func requireBlocked(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("gate released unexpectedly: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireReleased(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not release")
		return nil
	}
}

func TestRunningGatePassesThrough(t *testing.T) {
	c := NewController()
	assert.NoError(t, c.Await(context.Background(), "A"))
	assert.Equal(t, Running, c.State())
}

func TestPauseResume(t *testing.T) {
	rec := &recorder{}
	c := NewController(WithObserver(rec))
	c.Pause()

	ch := awaitAsync(c, context.Background(), "A")
	requireBlocked(t, ch)

	c.Resume()
	require.NoError(t, requireReleased(t, ch))

	states, _ := rec.snapshot()
	assert.Equal(t, []State{Paused, Running}, states)
}

func TestBreakpointForcesPause(t *testing.T) {
	rec := &recorder{}
	c := NewController(WithObserver(rec), WithBreakpoints("X"))

	require.NoError(t, c.Await(context.Background(), "W"))

	ch := awaitAsync(c, context.Background(), "X")
	requireBlocked(t, ch)
	assert.Equal(t, Paused, c.State())

	c.Resume()
	require.NoError(t, requireReleased(t, ch))

	states, hits := rec.snapshot()
	assert.Equal(t, []graph.NodeID{"X"}, hits)
	assert.Equal(t, []State{Paused, Running}, states)
}

func TestBreakpointWhileAlreadyPaused(t *testing.T) {
	rec := &recorder{}
	c := NewController(WithObserver(rec), WithBreakpoints("X"), StartPaused())

	ch := awaitAsync(c, context.Background(), "X")
	requireBlocked(t, ch)

	_, hits := rec.snapshot()
	assert.Equal(t, []graph.NodeID{"X"}, hits)

	c.Step()
	require.NoError(t, requireReleased(t, ch))
}

func TestStepRunsExactlyOneNode(t *testing.T) {
	c := NewController(StartPaused())

	first := awaitAsync(c, context.Background(), "A")
	requireBlocked(t, first)

	c.Step()
	require.NoError(t, requireReleased(t, first))
	c.NodeFinished()
	assert.Equal(t, Paused, c.State())

	second := awaitAsync(c, context.Background(), "B")
	requireBlocked(t, second)

	c.Step()
	require.NoError(t, requireReleased(t, second))
	c.NodeFinished()
	assert.Equal(t, Paused, c.State())
}

func TestStepWhileNodeRunningPausesAfterThatNode(t *testing.T) {
	c := NewController()
	require.NoError(t, c.Await(context.Background(), "A"))

	// A is in flight when the step arrives
	c.Step()
	assert.Equal(t, Running, c.State())
	c.NodeFinished()
	assert.Equal(t, Paused, c.State())

	next := awaitAsync(c, context.Background(), "B")
	requireBlocked(t, next)
	c.Resume()
	require.NoError(t, requireReleased(t, next))
}

func TestStepBeforeGatePausesAfterNextNode(t *testing.T) {
	c := NewController()
	c.Step()
	require.NoError(t, c.Await(context.Background(), "A"))
	c.NodeFinished()
	assert.Equal(t, Paused, c.State())
}

func TestStateNotificationsEndOnCurrentState(t *testing.T) {
	for i := 0; i < 200; i++ {
		rec := &recorder{}
		c := NewController(WithObserver(rec))
		c.Step()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.NodeFinished()
		}()
		go func() {
			defer wg.Done()
			c.Resume()
		}()
		wg.Wait()

		states, _ := rec.snapshot()
		if c.State() == Running && len(states) == 0 {
			continue
		}
		require.NotEmpty(t, states)
		require.Equal(t, c.State(), states[len(states)-1], "iteration %d: %v", i, states)
		for j := 1; j < len(states); j++ {
			assert.NotEqual(t, states[j-1], states[j])
		}
	}
}

func TestToggleBreakpoint(t *testing.T) {
	c := NewController()
	assert.True(t, c.ToggleBreakpoint("B"))
	assert.True(t, c.ToggleBreakpoint("A"))
	assert.Equal(t, []graph.NodeID{"A", "B"}, c.Breakpoints())
	assert.False(t, c.ToggleBreakpoint("A"))
	assert.Equal(t, []graph.NodeID{"B"}, c.Breakpoints())
}

func TestAbortReleasesWaiter(t *testing.T) {
	c := NewController(StartPaused())
	ch := awaitAsync(c, context.Background(), "A")
	requireBlocked(t, ch)

	c.Abort()
	err := requireReleased(t, ch)
	assert.True(t, errors.Is(err, sdkerrors.ErrAborted))
	assert.True(t, c.Aborted())

	assert.ErrorIs(t, c.Await(context.Background(), "B"), sdkerrors.ErrAborted)
}

func TestAwaitHonoursContext(t *testing.T) {
	c := NewController(StartPaused())
	ctx, cancel := context.WithCancel(context.Background())
	ch := awaitAsync(c, ctx, "A")
	requireBlocked(t, ch)

	cancel()
	assert.ErrorIs(t, requireReleased(t, ch), context.Canceled)
}

func TestFrameLogIsImmutable(t *testing.T) {
	log := NewFrameLog()
	state := map[string]interface{}{"nested": map[string]interface{}{"n": 1}}
	output := map[string]interface{}{"list": []interface{}{"a"}}

	log.Append(Frame{NodeID: "A", Status: "succeeded", SharedState: state, Output: output})

	// mutate the originals after capture
	state["nested"].(map[string]interface{})["n"] = 2
	output["list"].([]interface{})[0] = "b"

	frames := log.All()
	require.Len(t, frames, 1)
	assert.Equal(t, 1, frames[0].SharedState["nested"].(map[string]interface{})["n"])
	assert.Equal(t, "a", frames[0].Output["list"].([]interface{})[0])
	assert.NotNil(t, frames[0].Inputs)

	// mutate a returned copy
	frames[0].Output["list"] = nil
	again, ok := log.Latest("A")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a"}, again.Output["list"])

	_, ok = log.Latest("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, log.Len())
}
