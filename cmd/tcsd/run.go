package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/tcsd/internal/actuator"
	"github.com/fyrsmithlabs/tcsd/internal/checker"
	"github.com/fyrsmithlabs/tcsd/internal/config"
	"github.com/fyrsmithlabs/tcsd/internal/constants"
	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	tcshttp "github.com/fyrsmithlabs/tcsd/internal/http"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/loop"
	"github.com/fyrsmithlabs/tcsd/internal/metrics"
	"github.com/fyrsmithlabs/tcsd/internal/phases"
	"github.com/fyrsmithlabs/tcsd/internal/plant"
	"github.com/fyrsmithlabs/tcsd/internal/statechart"
	"github.com/fyrsmithlabs/tcsd/internal/telemetry"
)

type runOptions struct {
	configPath   string
	deadline     time.Duration
	constants    string
	dryRun       bool
	replay       string
	writeGateway bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sequencing session",
		Long: `Start the phase machine in its initial state and sequence the plant until
the deadline passes or SIGINT/SIGTERM arrives. All checkers are stopped
before exit.

Examples:
  # Run with a config file for the default 100s
  tcsd run --config tcsd.yaml

  # Run until interrupted, without touching the plant
  tcsd run --deadline 0 --dry-run

  # Rehearse the phases against saved gateway data
  tcsd run --dry-run --replay data.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFile(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("deadline") {
				cfg.Run.Deadline = config.Duration(opts.deadline)
			}
			if opts.constants != "" {
				cfg.Constants.Path = opts.constants
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "tcsd.yaml", "config file")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 100*time.Second, "run duration; 0 runs until a signal")
	cmd.Flags().StringVar(&opts.constants, "constants", "", "constants document, overrides constants.path")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "read no gateway data and only log commands")
	cmd.Flags().StringVar(&opts.replay, "replay", "", "with --dry-run, serve this saved /api/v1/data response as the plant data")
	cmd.Flags().BoolVar(&opts.writeGateway, "write-gateway", false, "also write commands to settable gateway attributes")
	return cmd
}

// run wires every component and blocks until ctx is done or the deadline
// passes.
func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	tel, err := telemetry.New(ctx, cfg.Telemetry, telemetry.WithServiceVersion(version))
	if err != nil {
		return err
	}

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger.Info(ctx, "starting tcsd",
		zap.String("version", version),
		zap.Int("http_port", cfg.Server.Port),
		zap.Duration("deadline", cfg.Run.Deadline.Duration()),
		zap.Bool("dry_run", opts.dryRun),
	)

	m := metrics.New()
	lp := loop.New(logger.Underlying())
	if err := tel.ObserveQueue("tcs.loop.pending", lp.Pending); err != nil {
		logger.Warn(ctx, "loop gauge unavailable", zap.Error(err))
	}

	source, act, closeActuators, err := newPlantIO(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer closeActuators()

	sup, err := constants.New(cfg.Constants.Path,
		constants.WithLogger(logger),
		constants.WithMetrics(m),
		constants.WithInterval(cfg.Constants.ReloadInterval.Duration()),
		constants.WithWatch(cfg.Constants.Watch),
	)
	if err != nil {
		return fmt.Errorf("failed to load constants: %w", err)
	}

	// The loop and the checkers outlive runCtx so the shutdown sequence can
	// still run on the loop.
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()

	p := plant.New(source, act,
		plant.WithContext(loopCtx),
		plant.WithPoster(lp),
		plant.WithLogger(logger),
		plant.WithMetrics(m),
		plant.WithCheckerOptions(checker.WithMaxAge(cfg.Gateway.MaxAge.Duration())),
	)
	machine, err := phases.Build(phases.Config{
		Plant:     p,
		Constants: sup,
		Logger:    logger,
		Metrics:   m,
		Observers: []statechart.Observer{logTransition(logger)},
	})
	if err != nil {
		return fmt.Errorf("failed to build phase machine: %w", err)
	}
	p.SetEmitter(func(ctx context.Context, event string, payload any) {
		if err := machine.Send(ctx, event, payload); err != nil {
			logger.Warn(ctx, "event dropped", logging.Event(event), zap.Error(err))
		}
	})

	server, err := tcshttp.NewServer(tcshttp.Deps{
		Machine:   machine,
		Checkers:  p.Checkers(),
		Constants: sup,
		Telemetry: tel,
		RunID:     runID,
		Version:   version,
	}, logger, &tcshttp.Config{Port: cfg.Server.Port})
	if err != nil {
		return err
	}

	runCtx := ctx
	if d := cfg.Run.Deadline.Duration(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		if err := lp.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := sup.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "constants supervisor stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	lp.Post(func() {
		if err := machine.Start(ctx); err != nil {
			logger.Error(ctx, "failed to start phase machine", zap.Error(err))
		}
	})
	ready := p.ScheduleReady(ctx, cfg.Run.StartupDelay.Duration())

	select {
	case <-runCtx.Done():
	case <-gctx.Done():
	}
	ready.Stop()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Info(ctx, "deadline reached")
	} else {
		logger.Info(ctx, "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := lp.Do(shutdownCtx, func() {
		if err := p.StopAll(); err != nil {
			logger.Warn(ctx, "stopping checkers", zap.Error(err))
		}
		machine.Stop()
	}); err != nil {
		logger.Warn(ctx, "event loop unavailable during shutdown", zap.Error(err))
		_ = p.StopAll()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown", zap.Error(err))
	}
	stopLoop()
	runErr := g.Wait()

	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	logger.Info(ctx, "tcsd stopped", zap.Strings("final_configuration", machine.Configuration()))
	return runErr
}

// newPlantIO returns the data source and the actuator chain. The returned
// func releases connections.
func newPlantIO(ctx context.Context, cfg *config.Config, opts runOptions, logger *logging.Logger) (gateway.Source, actuator.Actuator, func(), error) {
	fanout := actuator.Fanout{actuator.NewLogActuator(logger)}
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if opts.dryRun {
		frame := gateway.Frame{}
		if opts.replay != "" {
			var err error
			if frame, err = gateway.ReadFrame(opts.replay); err != nil {
				return nil, nil, nil, err
			}
			logger.Info(ctx, "replaying saved data", zap.String("path", opts.replay), zap.Int("rows", frame.Len()))
		}
		return gateway.NewStatic(frame), fanout, closeAll, nil
	}

	client := gateway.NewClient(gateway.ClientConfig{
		BaseURL:           cfg.Gateway.URL,
		Timeout:           cfg.Gateway.Timeout.Duration(),
		RequestsPerSecond: cfg.Gateway.RateLimit,
		Burst:             cfg.Gateway.Burst,
	})

	if cfg.NATS.Enabled {
		natsOpts := []nats.Option{nats.Name("tcsd")}
		if cfg.NATS.Token.IsSet() {
			natsOpts = append(natsOpts, nats.Token(cfg.NATS.Token.Value()))
		}
		nc, err := nats.Connect(cfg.NATS.URL, natsOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		closers = append(closers, nc.Close)
		fanout = append(fanout, actuator.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
		logger.Info(ctx, "publishing commands to NATS", zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	if opts.writeGateway {
		info, err := client.System(ctx)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to read gateway schema: %w", err)
		}
		table := gateway.NewTagTable(info, client, client)
		fanout = append(fanout, actuator.NewGatewayActuator(table))
		logger.Info(ctx, "writing commands to gateway", zap.Int("tags", table.Len()))
	}

	return client, fanout, closeAll, nil
}

func logTransition(logger *logging.Logger) statechart.Observer {
	return func(ctx context.Context, t statechart.TransitionInfo) {
		target := t.Target
		if target == "" {
			target = t.Source
		}
		logger.Info(ctx, "transition",
			zap.String("from", t.Source),
			zap.String("to", target),
			logging.Event(t.Event),
		)
	}
}
