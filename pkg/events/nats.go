package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// JSContext is the subset of JetStream the NATS sink depends on. It lets tests
// supply a fake without a running NATS server; nats.JetStreamContext satisfies it.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// NATSConfig configures the JetStream sink
type NATSConfig struct {
	// Stream is the JetStream stream holding run events
	Stream string
	// Subject is the subject prefix; events go to <Subject>.<run_id>
	Subject string
	// QueueSize bounds the events waiting to be published
	QueueSize int
	// PublishMaxRetries is the number of extra attempts after a failed publish
	PublishMaxRetries int
	// RetryDelay separates publish attempts
	RetryDelay time.Duration
}

// DefaultNATSConfig returns the default sink configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Stream:            "WORKFLOW_EVENTS",
		Subject:           "workflow.events",
		QueueSize:         1024,
		PublishMaxRetries: 3,
		RetryDelay:        500 * time.Millisecond,
	}
}

// NATSSink publishes events to JetStream from a background goroutine. Publish
// failures are logged and never reach the run.
type NATSSink struct {
	js     JSContext
	config NATSConfig
	logger *zap.Logger
	queue  chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewNATSSink ensures the stream exists and starts the publisher
func NewNATSSink(js JSContext, config NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context cannot be nil: %w", sdkerrors.ErrNotConnected)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultNATSConfig()
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.Subject == "" {
		config.Subject = defaults.Subject
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	s := &NATSSink{
		js:     js,
		config: config,
		logger: logger,
		queue:  make(chan Event, config.QueueSize),
		done:   make(chan struct{}),
	}
	if err := s.ensureStream(); err != nil {
		return nil, err
	}
	go s.loop()
	return s, nil
}

func (s *NATSSink) ensureStream() error {
	info, err := s.js.StreamInfo(s.config.Stream)
	if err == nil {
		s.logger.Info("JetStream stream already exists",
			zap.String("stream", s.config.Stream),
			zap.Uint64("messages", info.State.Msgs))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", s.config.Stream, err)
	}

	streamConfig := &nats.StreamConfig{
		Name:     s.config.Stream,
		Subjects: []string{s.config.Subject + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	}
	if _, err := s.js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", s.config.Stream, err)
	}
	s.logger.Info("Created JetStream stream",
		zap.String("stream", s.config.Stream),
		zap.Strings("subjects", streamConfig.Subjects))
	return nil
}

// Subject returns the subject events of runID are published to
func (s *NATSSink) Subject(runID string) string {
	return s.config.Subject + "." + runID
}

// Emit implements Sink. Events are dropped when the queue is full.
func (s *NATSSink) Emit(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.logger.Warn("Event queue full, dropping event",
			zap.String("run_id", e.RunID),
			zap.String("type", string(e.Type)))
	}
}

func (s *NATSSink) loop() {
	defer close(s.done)
	for e := range s.queue {
		if err := s.publish(e); err != nil {
			s.logger.Error("Failed to publish event",
				zap.String("run_id", e.RunID),
				zap.String("type", string(e.Type)),
				zap.Error(err))
		}
	}
}

func (s *NATSSink) publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := s.Subject(e.RunID)
	msgID := fmt.Sprintf("%s-%d", e.RunID, e.Sequence)

	var lastErr error
	for attempt := 0; attempt <= s.config.PublishMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.config.RetryDelay)
		}
		if _, lastErr = s.js.Publish(subject, data, nats.MsgId(msgID)); lastErr == nil {
			return nil
		}
		s.logger.Warn("Publish attempt failed",
			zap.String("subject", subject),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return sdkerrors.NewError(sdkerrors.CodeMessaging, "failed to publish event to JetStream", errors.Join(sdkerrors.ErrPublishFailed, lastErr))
}

// Close stops accepting events and waits until the queue is drained or ctx ends
func (s *NATSSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event queue not drained: %w", ctx.Err())
	}
}
