package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/config"
	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/exec"
	"github.com/felixgeelhaar/loom/internal/hooks"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/metrics"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/policy"
	"github.com/felixgeelhaar/loom/internal/progress"
	"github.com/felixgeelhaar/loom/internal/refine"
	"github.com/felixgeelhaar/loom/internal/telemetry"
	"github.com/felixgeelhaar/loom/internal/trace"
	"github.com/felixgeelhaar/loom/internal/ux"
	"github.com/felixgeelhaar/loom/internal/version"
)

// eventBuffer bounds the dispatcher queue between the scheduler and sinks.
const eventBuffer = 256

// app carries the configuration and observability of one command.
type app struct {
	cmdCtx   *CommandContext
	cfg      *config.Config
	paths    *ux.PathDefaults
	logger   *log.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cleanups []func()
}

// newApp loads the configuration and sets up logging, metrics and optional
// telemetry. Callers must defer close.
func newApp(ctx context.Context, cmdCtx *CommandContext) (*app, error) {
	cfg, err := config.Load(configPath(cmdCtx))
	if err != nil {
		return nil, err
	}
	if cmdCtx.LogLevel != "" {
		cfg.Log.Level = cmdCtx.LogLevel
	}

	paths := ux.NewPathDefaultsWithDiscovery()
	cfg.Resolve(paths.LoomDir)

	a := &app{cmdCtx: cmdCtx, cfg: cfg, paths: paths}
	a.setupLogging()
	a.setupMetrics()
	a.setupTelemetry(ctx)
	return a, nil
}

// configPath returns --config, or the discovered loom.yaml when one exists.
func configPath(cmdCtx *CommandContext) string {
	if cmdCtx.ConfigFile != "" {
		return cmdCtx.ConfigFile
	}
	path, err := ux.DiscoverConfigFile(config.FileName)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (a *app) setupLogging() {
	lc := a.cfg.Logger(os.Stderr)
	lc.ServiceVersion = version.GetInfo().Version
	a.logger = log.New(lc)

	// The global logger only serves the CLI layer; engine components get
	// a.logger explicitly.
	log.SetDefaultLogger(a.logger)
}

func (a *app) setupMetrics() {
	a.registry, a.metrics = metrics.NewRegistry()
	if !a.cfg.Metrics.Enabled {
		return
	}

	srv, err := metrics.Listen(a.cfg.Metrics.Addr, a.registry)
	if err != nil {
		a.logger.Warn("Failed to start metrics endpoint", "addr", a.cfg.Metrics.Addr, "error", err)
		return
	}
	a.logger.Info("Metrics endpoint listening", "addr", srv.Addr())
	a.cleanups = append(a.cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

func (a *app) setupTelemetry(ctx context.Context) {
	if !a.cfg.Telemetry.Enabled {
		return
	}

	tc := a.cfg.Telemetry
	tc.ServiceVersion = version.GetInfo().Version
	shutdown, err := telemetry.InitProvider(ctx, tc)
	if err != nil {
		a.logger.Warn("Failed to initialize telemetry", "error", err)
		return
	}

	a.logger.Info("Telemetry enabled",
		"endpoint", tc.Endpoint,
		"sample_rate", tc.SampleRate,
	)

	a.cleanups = append(a.cleanups, func() {
		if shutdown == nil {
			return
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Failed to flush telemetry", "error", err)
		}
	})
}

// close runs cleanups in reverse order.
func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

// openStore opens the configured execution history backend.
func (a *app) openStore() (checkpoint.Store, error) {
	switch a.cfg.Store.Backend {
	case config.StoreBadger:
		return checkpoint.OpenBadgerStore(checkpoint.BadgerConfig{
			Path:       a.cfg.Store.Path,
			SyncWrites: a.cfg.Store.SyncWrites,
			Logger:     a.logger.WithGroup("badger").Slog(),
		})
	default:
		return checkpoint.OpenFileStore(a.cfg.Store.Path)
	}
}

// loadPolicy returns the configured risk policy or the built-in one.
func (a *app) loadPolicy() (*policy.Policy, error) {
	if a.cfg.Risk.PolicyFile == "" {
		return policy.DefaultPolicy(), nil
	}
	return policy.LoadPolicy(a.cfg.Risk.PolicyFile)
}

// runs returns the run checkpoint manager.
func (a *app) runs() *checkpoint.Manager {
	return checkpoint.NewManager(a.paths.RunsDir())
}

// engineOptions selects the collaborators of an engine built by the CLI.
type engineOptions struct {
	Provider plan.Provider
	Yes      bool
	DryRun   bool
	Refine   bool
	// Candidates overrides planning.candidates when positive.
	Candidates int
	Strategy   string
}

// session is an engine with its store, event sinks and cleanup.
type session struct {
	Engine    *engine.Engine
	Indicator *progress.Indicator

	store      checkpoint.Store
	dispatcher *event.Dispatcher
	hooks      *event.Dispatcher
	journal    *trace.Journal
}

// newSession wires the engine: command executor, store, risk gate,
// progress indicator and event journal behind one dispatcher. Configured
// hooks get a dispatcher of their own so a slow hook never stalls progress
// output.
func (a *app) newSession(opts engineOptions) (*session, error) {
	ecfg, err := a.cfg.Engine()
	if err != nil {
		return nil, err
	}
	if opts.Candidates > 0 {
		ecfg.Planning.Candidates = opts.Candidates
	}
	if opts.Strategy != "" {
		if ecfg.Planning.Strategy, err = plan.ParseStrategy(opts.Strategy); err != nil {
			return nil, err
		}
	}

	if err := ux.EnsureLoomDir(a.paths.LoomDir); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", a.paths.LoomDir, err)
	}

	pol, err := a.loadPolicy()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	s := &session{store: store}
	var sinks []event.Sink
	if a.cmdCtx.Text() {
		s.Indicator = progress.NewIndicator(progress.Config{
			Writer:  a.cmdCtx.out,
			Verbose: a.cmdCtx.Verbose,
		})
		sinks = append(sinks, s.Indicator)
	}
	if a.cfg.Journal.Enabled {
		s.journal, err = trace.NewJournal(a.cfg.Journal, a.logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		sinks = append(sinks, s.journal)
	}
	s.dispatcher = event.NewDispatcher(eventBuffer, sinks...)

	sink := event.Sink(s.dispatcher)
	if len(a.cfg.Hooks) > 0 {
		registry, err := hooks.Load(a.cfg.Hooks)
		if err != nil {
			s.close()
			return nil, err
		}
		// Hooks outlive a cancelled run so on_run_failed still fires.
		s.hooks = event.NewDispatcher(eventBuffer, hooks.NewSink(context.Background(), registry, a.logger))
		sink = event.Multi(s.dispatcher, s.hooks)
	}

	engineOpts := []engine.Option{
		engine.WithStore(store),
		engine.WithRunManager(a.runs()),
		engine.WithAuthorizer(policy.NewAuthorizer(pol, policy.SelectReviewer(opts.Yes, a.cmdCtx.Text()))),
		engine.WithSink(sink),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
	}
	if opts.Provider != nil {
		engineOpts = append(engineOpts, engine.WithProvider(opts.Provider))
	}
	if opts.Refine {
		engineOpts = append(engineOpts, engine.WithJudge(refine.ReportJudge{}))
	}

	s.Engine, err = engine.New(a.newExecutor(opts.DryRun), ecfg, engineOpts...)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (a *app) newExecutor(dryRun bool) *exec.Executor {
	runner := exec.RunnerLocal
	if a.cfg.Exec.Policy.Docker.Required {
		runner = exec.RunnerDocker
	}
	workdir, err := os.Getwd()
	if err != nil {
		workdir = "."
	}

	ex := exec.NewExecutor(runner, workdir)
	ex.Policy = a.cfg.Exec.Policy
	ex.DryRun = dryRun || a.cfg.Exec.DryRun
	ex.Logger = a.logger
	if a.cfg.Exec.Manifests {
		ex.ManifestDir = a.paths.ManifestDir()
	}
	return ex
}

// close drains pending events before closing the sinks and the store.
func (s *session) close() {
	if s.dispatcher != nil {
		if dropped := s.dispatcher.Dropped(); dropped > 0 {
			log.DefaultLogger().Warn("Progress events dropped", "count", dropped)
		}
		_ = s.dispatcher.Close()
	}
	if s.hooks != nil {
		_ = s.hooks.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.Indicator != nil {
		s.Indicator.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.DefaultLogger().Warn("Failed to close execution history", "error", err)
		}
	}
}
