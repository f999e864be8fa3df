package events

import "go.uber.org/zap"

// LogSink mirrors events into a logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink
func (s *LogSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("run_id", e.RunID),
		zap.Uint64("sequence", e.Sequence),
	}

	switch e.Type {
	case StatusChanged:
		s.logger.Info("Run phase changed", append(fields, zap.String("phase", e.Phase))...)
	case NodeStatusChanged:
		fields = append(fields, zap.String("node_id", e.NodeID), zap.String("status", e.Status))
		if e.Reason != "" {
			fields = append(fields, zap.String("reason", e.Reason))
		}
		if e.Status == "failed" {
			s.logger.Warn("Node status changed", fields...)
			return
		}
		s.logger.Info("Node status changed", fields...)
	case OutputLine:
		s.logger.Debug("Node output", append(fields, zap.String("node_id", e.NodeID), zap.String("line", e.Line))...)
	case BreakpointHit:
		s.logger.Info("Breakpoint hit", append(fields, zap.String("node_id", e.NodeID))...)
	case RunFinished:
		if e.Summary != nil {
			fields = append(fields,
				zap.String("outcome", e.Summary.Outcome),
				zap.Int("succeeded", e.Summary.Succeeded),
				zap.Int("failed", e.Summary.Failed),
				zap.Int("skipped", e.Summary.Skipped),
				zap.Duration("duration", e.Summary.Duration))
		}
		s.logger.Info("Run finished", fields...)
	}
}
