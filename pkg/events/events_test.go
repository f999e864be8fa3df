package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func TestBusDelivers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(0)
	defer cancel()

	bus.Emit(Event{Type: StatusChanged, Phase: "running"})
	bus.Emit(Event{Type: OutputLine, NodeID: "A", Line: "hi"})

	first := <-ch
	second := <-ch
	assert.Equal(t, StatusChanged, first.Type)
	assert.Equal(t, "hi", second.Line)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	slow, cancelSlow := bus.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := bus.Subscribe(10)
	defer cancelFast()

	for i := 0; i < 3; i++ {
		bus.Emit(Event{Type: OutputLine, Sequence: uint64(i)})
	}

	assert.Len(t, slow, 1)
	assert.Len(t, fast, 3)
	assert.Equal(t, int64(2), bus.Dropped())
}

func TestBusDroppedSurvivesClose(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(1)
	for i := 0; i < 5; i++ {
		bus.Emit(Event{Type: OutputLine, Sequence: uint64(i)})
	}
	assert.Equal(t, int64(4), bus.Dropped())

	cancel()
	bus.Close()
	assert.Equal(t, int64(4), bus.Dropped())
}

func TestSubscribeAllDeliversEveryEvent(t *testing.T) {
	bus := NewBus()
	all, cancelAll := bus.SubscribeAll(1)
	defer cancelAll()
	lossy, cancelLossy := bus.Subscribe(1)
	defer cancelLossy()

	const total = 500
	go func() {
		for i := 0; i < total; i++ {
			bus.Emit(Event{Type: OutputLine, Sequence: uint64(i)})
		}
		bus.Close()
	}()

	var got []uint64
	for e := range all {
		got = append(got, e.Sequence)
	}
	require.Len(t, got, total)
	for i, seq := range got {
		assert.Equal(t, uint64(i), seq)
	}
	// only the lossy subscriber counts drops
	assert.Len(t, lossy, 1)
	assert.Equal(t, int64(total-1), bus.Dropped())
}

func TestSubscribeAllCancelReleasesEmit(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.SubscribeAll(1)

	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for i := 0; i < 3; i++ {
			bus.Emit(Event{Type: OutputLine})
		}
	}()

	select {
	case <-emitted:
		t.Fatal("emit returned while the subscriber buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("emit still blocked after cancel")
	}
	assert.Equal(t, int64(0), bus.Dropped())
}

func TestSubscribeAllCloseReleasesEmit(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.SubscribeAll(1)
	defer cancel()

	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		bus.Emit(Event{Type: OutputLine})
		bus.Emit(Event{Type: OutputLine})
	}()
	time.Sleep(20 * time.Millisecond)

	bus.Close()
	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("emit still blocked after close")
	}
}

func TestBusCancelAndClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(0)
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	ch2, _ := bus.Subscribe(0)
	bus.Close()
	_, open = <-ch2
	assert.False(t, open)

	// emitting after close is a no-op
	bus.Emit(Event{Type: RunFinished})
	ch3, _ := bus.Subscribe(0)
	_, open = <-ch3
	assert.False(t, open)
}

func TestMultiAndLogSink(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var got []Event
	sink := Multi{NewLogSink(zap.New(core)), SinkFunc(func(e Event) { got = append(got, e) }), nil}

	sink.Emit(Event{Type: NodeStatusChanged, NodeID: "A", Status: "failed", Reason: "boom"})
	sink.Emit(Event{Type: RunFinished, Summary: &Summary{Outcome: "completed", Failed: 1}})

	assert.Len(t, got, 2)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zap.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "Run finished", logs.All()[1].Message)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "node C skipped: upstream A failed", Event{Type: NodeStatusChanged, NodeID: "C", Status: "skipped", Reason: "upstream A failed"}.String())
	assert.Equal(t, "breakpoint hit before X", Event{Type: BreakpointHit, NodeID: "X"}.String())
	assert.Equal(t, "finished completed: 3 succeeded, 0 failed, 0 skipped, 0 not started",
		Event{Type: RunFinished, Summary: &Summary{Outcome: "completed", Succeeded: 3}}.String())
}

type fakeJS struct {
	mu        sync.Mutex
	streams   map[string]*nats.StreamConfig
	published map[string][][]byte
	failures  int
}

func newFakeJS() *fakeJS {
	return &fakeJS{streams: map[string]*nats.StreamConfig{}, published: map[string][][]byte{}}
}

func (f *fakeJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("nats: timeout")
	}
	f.published[subj] = append(f.published[subj], data)
	return &nats.PubAck{Stream: "WORKFLOW_EVENTS"}, nil
}

func (f *fakeJS) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJS) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJS) messages(subj string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[subj]
}

func TestNATSSinkPublishes(t *testing.T) {
	js := newFakeJS()
	js.failures = 1
	cfg := DefaultNATSConfig()
	cfg.RetryDelay = time.Millisecond

	sink, err := NewNATSSink(js, cfg, zap.NewNop())
	require.NoError(t, err)
	require.Contains(t, js.streams, "WORKFLOW_EVENTS")
	assert.Equal(t, []string{"workflow.events.>"}, js.streams["WORKFLOW_EVENTS"].Subjects)

	sink.Emit(Event{Type: StatusChanged, RunID: "r1", Sequence: 1, Phase: "running"})
	sink.Emit(Event{Type: RunFinished, RunID: "r1", Sequence: 2, Summary: &Summary{Outcome: "completed"}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	msgs := js.messages(sink.Subject("r1"))
	require.Len(t, msgs, 2)
	var last Event
	require.NoError(t, json.Unmarshal(msgs[1], &last))
	assert.Equal(t, RunFinished, last.Type)
	assert.Equal(t, "completed", last.Summary.Outcome)

	// closed sinks ignore events
	sink.Emit(Event{Type: OutputLine, RunID: "r1"})
}

func TestNATSSinkGivesUp(t *testing.T) {
	js := newFakeJS()
	js.failures = 100
	sink, err := NewNATSSink(js, NATSConfig{PublishMaxRetries: 1, RetryDelay: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	err = sink.publish(Event{Type: OutputLine, RunID: "r"})
	assert.True(t, errors.Is(err, sdkerrors.ErrPublishFailed))
	require.NoError(t, sink.Close(context.Background()))
}

func TestNATSSinkRequiresJetStream(t *testing.T) {
	_, err := NewNATSSink(nil, DefaultNATSConfig(), nil)
	assert.True(t, sdkerrors.IsNotConnected(err))
}
