package config

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeRuntime sets GOMAXPROCS to the container CPU quota. It should run
// at the very start of main. The returned function restores the old value.
func InitializeRuntime(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf))
	if err != nil {
		logger.Warn("Failed to set maxprocs", zap.Error(err))
		return func() {}
	}
	logger.Debug("Runtime initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}
