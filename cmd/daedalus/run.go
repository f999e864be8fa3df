package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/definition"
	"github.com/wehubfusion/Daedalus/pkg/engine"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/isolation"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/task"
	"github.com/wehubfusion/Daedalus/pkg/tasks/all"
)

type runFlags struct {
	breakpoints []string
	paused      bool
	timeout     time.Duration
	abortGrace  time.Duration
	interactive bool
	natsURL     string
	archive     bool
}

func newRunCommand(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <graph.yaml>",
		Short: "Execute a workflow graph",
		Long: `Load a graph definition, validate it, and execute its nodes in order.

Events are printed as they happen. With --interactive, commands typed on
stdin control the run: pause, resume, step, break <id>, abort, status, frames.
The exit status is 1 when any node failed or the run was aborted.`,
		Example: `  # Run a graph
  daedalus run examples/graphs/increment.yaml

  # Stop before node "transform" and drive the run from the keyboard
  daedalus run graph.yaml --break transform --interactive

  # Fail nodes running longer than 30 seconds and publish events to NATS
  daedalus run graph.yaml --timeout 30s --nats-url nats://localhost:4222`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGraph(cmd, args[0], f)
		},
	}

	cmd.Flags().StringArrayVar(&f.breakpoints, "break", nil, "Pause before this node (repeatable)")
	cmd.Flags().BoolVar(&f.paused, "paused", false, "Start paused; use step or resume")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Per-node timeout (overrides DAEDALUS_NODE_TIMEOUT)")
	cmd.Flags().DurationVar(&f.abortGrace, "abort-grace", 0, "Grace period for a running node on abort (overrides DAEDALUS_ABORT_GRACE)")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Read debug commands from stdin")
	cmd.Flags().StringVar(&f.natsURL, "nats-url", "", "Publish events to this NATS server (overrides DAEDALUS_NATS_URL)")
	cmd.Flags().BoolVar(&f.archive, "archive", false, "Upload the run report to Azure Blob Storage")
	return cmd
}

func (a *app) runGraph(cmd *cobra.Command, path string, f *runFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg
	if cmd.Flags().Changed("timeout") {
		cfg.NodeTimeout = f.timeout
	}
	if cmd.Flags().Changed("abort-grace") {
		cfg.AbortGrace = f.abortGrace
	}
	if f.natsURL != "" {
		cfg.NATSURL = f.natsURL
	}
	if err := cfg.Validate(); err != nil {
		return withCode(ExitError, err)
	}
	if f.archive && !cfg.ArchiveEnabled() {
		return withCode(ExitError, fmt.Errorf("--archive needs DAEDALUS_BLOB_CONNECTION_STRING"))
	}

	def, err := definition.LoadFile(path)
	if err != nil {
		return withCode(ExitInvalid, err)
	}
	if def.Name == "" {
		def.Name = path
	}

	if cfg.OTLPEndpoint != "" {
		tcfg := tracing.DefaultConfig("daedalus")
		tcfg.OTLPEndpoint = cfg.OTLPEndpoint
		tcfg.Environment = cfg.Environment
		shutdown, err := tracing.SetupTracing(ctx, tcfg, a.logger)
		if err != nil {
			a.logger.Warn("Tracing disabled", zap.Error(err))
		} else {
			defer tracing.Shutdown(shutdown, a.logger)
		}
	}

	pcfg := isolation.DefaultProcessConfig()
	pcfg.AbortGrace = cfg.AbortGrace
	invoker, err := isolation.NewProcessInvoker(pcfg, a.logger)
	if err != nil {
		return withCode(ExitError, err)
	}

	bus := events.NewBus(events.WithBufferSize(cfg.EventBuffer), events.WithBusLogger(a.logger))
	sinks := events.Multi{bus, events.NewLogSink(a.logger)}

	if cfg.NATSEnabled() {
		sink, closeNATS, err := a.connectNATS(ctx, cfg.NATSURL, cfg.NATSStream, cfg.NATSSubject)
		if err != nil {
			return withCode(ExitError, err)
		}
		defer closeNATS()
		sinks = append(sinks, sink)
	}

	breakpoints := make([]graph.NodeID, len(f.breakpoints))
	for i, id := range f.breakpoints {
		breakpoints[i] = graph.NodeID(id)
	}
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithSink(sinks),
		engine.WithNodeTimeout(cfg.NodeTimeout),
		engine.WithBreakpoints(breakpoints...),
	}
	if f.paused {
		opts = append(opts, engine.WithStartPaused())
	}

	con := newConsole(cmd.OutOrStdout())
	// the console must see every output line, so its subscription never drops
	feed, cancelFeed := bus.SubscribeAll(0)
	defer cancelFeed()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		con.follow(feed)
	}()

	catalog := all.NewCatalog()
	run, err := engine.New(invoker, opts...).Start(ctx, def, task.NewResolver(catalog, def))
	if err != nil {
		bus.Close()
		<-printed
		return withCode(ExitInvalid, err)
	}

	if f.interactive || f.paused {
		go con.interact(ctx, run, a.stdin, run.Done())
	}

	summary, err := run.Wait(context.Background())
	bus.Close()
	<-printed
	if err != nil {
		return withCode(ExitError, err)
	}
	con.printSummary(summary)

	if f.archive {
		if err := a.archiveRun(ctx, run, def.Name); err != nil {
			con.printf("archive failed: %v\n", err)
		}
	}

	if summary.HasFailures() || summary.Outcome == string(engine.PhaseAborted) {
		return withCode(ExitRunFailed, errRunUnsuccessful)
	}
	return nil
}

func (a *app) connectNATS(ctx context.Context, url, stream, subject string) (events.Sink, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := nats.Connect(connectCtx, nats.DefaultConnectionConfig(url), a.logger)
	if err != nil {
		return nil, nil, err
	}
	js, err := conn.JetStream(natsgo.MaxWait(5 * time.Second))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	ncfg := events.DefaultNATSConfig()
	ncfg.Stream = stream
	ncfg.Subject = subject
	sink, err := events.NewNATSSink(js, ncfg, a.logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	closeFn := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sink.Close(flushCtx); err != nil {
			a.logger.Warn("Event publisher did not drain", zap.Error(err))
		}
		if err := nats.Close(conn); err != nil {
			a.logger.Warn("Failed to close NATS connection", zap.Error(err))
		}
	}
	return sink, closeFn, nil
}

func (a *app) archiveRun(ctx context.Context, run *engine.Run, workflow string) error {
	client, err := storage.NewAzureBlobClient(a.cfg.BlobConnectionString, a.cfg.BlobContainer, a.logger)
	if err != nil {
		return err
	}
	report, err := storage.NewReport(run, workflow)
	if err != nil {
		return err
	}

	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	url, err := storage.NewReportArchive(client, a.logger).Archive(uploadCtx, report)
	if err != nil {
		return errors.Join(fmt.Errorf("run %s", run.ID()), err)
	}
	a.logger.Info("Run report archived", zap.String("url", url))
	return nil
}
