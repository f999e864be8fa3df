package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus distributes events to subscribers through buffered channels. A
// subscription from Subscribe is lossy: when its buffer is full the event is
// dropped for that subscriber only and counted. A subscription from
// SubscribeAll receives every event; Emit waits for buffer room until the
// subscription is cancelled or the bus is closed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	bufferSize  int
	logger      *zap.Logger
	closed      bool
	shutdown    chan struct{}
	closeOnce   sync.Once
	dropped     atomic.Int64
}

type subscription struct {
	ch       chan Event
	done     chan struct{}
	blocking bool
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithBufferSize sets the default per-subscriber buffer (default 256)
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithBusLogger logs dropped events
func WithBusLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an empty bus
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[string]*subscription),
		bufferSize:  256,
		logger:      zap.NewNop(),
		shutdown:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a lossy channel receiving later events and a cancel
// function that must be called to release it. bufferSize 0 uses the bus default.
func (b *Bus) Subscribe(bufferSize int) (<-chan Event, func()) {
	return b.subscribe(bufferSize, false)
}

// SubscribeAll is Subscribe without drops. A slow reader slows the emitter
// down, so the reader must keep draining the channel until it is closed.
func (b *Bus) SubscribeAll(bufferSize int) (<-chan Event, func()) {
	return b.subscribe(bufferSize, true)
}

func (b *Bus) subscribe(bufferSize int, blocking bool) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = b.bufferSize
	}
	id := uuid.NewString()
	sub := &subscription{
		ch:       make(chan Event, bufferSize),
		done:     make(chan struct{}),
		blocking: blocking,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			// release an Emit waiting on this subscription before taking the lock
			close(sub.done)
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.ch)
			}
		})
	}
}

// Emit implements Sink
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, sub := range b.subscribers {
		if sub.blocking {
			select {
			case sub.ch <- e:
			case <-sub.done:
			case <-b.shutdown:
			}
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Dropped event for slow subscriber",
				zap.String("subscriber", id),
				zap.String("type", string(e.Type)),
				zap.String("run_id", e.RunID))
		}
	}
}

// Dropped returns the number of events lossy subscribers missed over the
// lifetime of the bus, including subscriptions that were cancelled or closed.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscription channel. Later events are ignored.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.shutdown) })
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
