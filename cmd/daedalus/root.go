package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/Daedalus/pkg/config"
)

// app holds what every subcommand shares
type app struct {
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
	stdin   io.Reader
}

// Execute runs the CLI and returns the process exit code
func Execute(ctx context.Context, args []string) int {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{stdin: os.Stdin}
	root := newRootCommand(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil && !errors.Is(err, errRunUnsuccessful) {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return exitCodeOf(err)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "daedalus",
		Short: "Daedalus - workflow graph execution engine",
		Long: `Daedalus executes workflow graphs one node at a time. Every node runs in
its own worker process, so a crashing task only fails its node. Nodes that
read the output of a failed node are skipped; independent branches continue.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable development logging")

	root.AddCommand(newRunCommand(a))
	root.AddCommand(newValidateCommand(a))
	root.AddCommand(newTasksCommand(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return withCode(ExitError, fmt.Errorf("failed to load configuration: %w", err))
	}
	a.cfg = cfg

	var zcfg zap.Config
	if a.verbose {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		// events already reach the console, so logs default to warnings
		level := zapcore.WarnLevel
		if os.Getenv("DAEDALUS_LOG_LEVEL") != "" {
			level = cfg.LogLevel
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zcfg.Build(zap.Fields(zap.String("environment", cfg.Environment)))
	if err != nil {
		return withCode(ExitError, fmt.Errorf("failed to build logger: %w", err))
	}
	a.logger = logger
	a.logger.Debug("Configuration loaded", zap.Stringer("config", cfg))
	return nil
}
