// Package app assembles the orchestrator and its optional infrastructure
// from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/internal/classifier"
	"github.com/mohammad-safakhou/agentrouter/internal/executor"
	"github.com/mohammad-safakhou/agentrouter/internal/history"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
	"github.com/mohammad-safakhou/agentrouter/internal/planner"
	"github.com/mohammad-safakhou/agentrouter/internal/router"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/runtime"
	"github.com/mohammad-safakhou/agentrouter/internal/store"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/provider"
	"github.com/mohammad-safakhou/agentrouter/repository"
	"github.com/mohammad-safakhou/agentrouter/repository/redis_repository"
)

// Options select the infrastructure a command needs.
type Options struct {
	// Persistence opens Postgres and the history index when configured.
	Persistence bool
	// ServeMetrics starts the standalone metrics listener.
	ServeMetrics bool
	// LogSink mirrors run log entries, e.g. to a terminal.
	LogSink runlog.Sink
	Version string
}

// App owns every long-lived component.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Orchestrator *orchestrator.Orchestrator
	Telemetry    *runtime.Telemetry
	Store        *store.Store
	History      *history.Index
	Redis        *redis.Client
	Locker       repository.Locker

	closers []func(context.Context) error
}

// Build wires the application. Components whose configuration is empty are
// left nil.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	built := false
	defer func() {
		if !built {
			_ = a.Close(context.Background())
		}
	}()

	var err error
	a.Telemetry, err = runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceVersion: opts.Version,
		Logger:         logger,
		ServeMetrics:   opts.ServeMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, a.Telemetry.Shutdown)

	gen, embedder, err := NewProviders(cfg.LLM)
	if err != nil {
		return nil, err
	}

	a.Redis, err = repository.NewRedisClient(ctx, cfg.Storage.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if a.Redis != nil {
		a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
		a.Locker = redis_repository.NewLocker(a.Redis)
		if cfg.LLM.CacheEmbeddings {
			embedder = redis_repository.NewEmbeddingCache(a.Redis, embedder, cfg.LLM.Provider+":"+cfg.LLM.EmbeddingModel, cfg.LLM.CacheTTL, logger)
		}
	}

	var (
		recorder    orchestrator.Recorder
		indexer     orchestrator.Indexer
		checkpoints executor.CheckpointManager
	)
	if opts.Persistence {
		if cfg.Storage.Postgres.Enabled() {
			a.Store, err = runtime.OpenStore(ctx, cfg.Storage.Postgres)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func(context.Context) error { return a.Store.Close() })
			recorder = NewStoreRecorder(a.Store)
			checkpoints = executor.NewStoreCheckpointManager(a.Store)
		}
		a.History, err = history.Open(cfg.Storage.HistoryPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.History.Close() })
		indexer = NewHistoryIndexer(a.History)
	}

	reg, err := BuildRegistry(cfg.Workers, gen, logger)
	if err != nil {
		return nil, err
	}

	rt, err := buildRouter(ctx, cfg, embedder, reg.Available, logger)
	if err != nil {
		return nil, err
	}

	plannerOpts := []planner.Option{planner.WithStrictWorkers(cfg.Planner.StrictWorkers)}
	if len(reg.Kinds()) < len(taskgraph.AllKinds()) {
		plannerOpts = append(plannerOpts, planner.WithCapabilities(reg.Describe()))
	}
	pl := planner.New(gen, nil, logger, plannerOpts...)

	metrics := a.Telemetry.Metrics()
	ex := executor.New(
		executor.WithLogger(logger),
		executor.WithMetrics(metrics.Executor()),
		executor.WithCheckpointManager(checkpoints),
		executor.WithParallel(cfg.Executor.Concurrency()),
		executor.WithStepTimeout(cfg.Executor.StepTimeout),
		executor.WithRetries(cfg.Executor.MaxRetries, cfg.Executor.RetryDelay),
	)

	var orchOpts []orchestrator.Option
	if opts.LogSink != nil {
		orchOpts = append(orchOpts, orchestrator.WithLogSink(opts.LogSink))
	}
	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Router:   rt,
		Planner:  pl,
		Executor: ex,
		Registry: reg,
		Logger:   logger,
		Recorder: recorder,
		Indexer:  indexer,
		Metrics:  metrics.Orchestrator(),
	}, orchOpts...)
	built = true
	return a, nil
}

func buildRouter(ctx context.Context, cfg *config.Config, embedder provider.Embedder, available router.Availability, logger *zap.Logger) (*router.Router, error) {
	seeds, err := classifier.LoadSeedsFile(cfg.Router.SeedsFile)
	if err != nil {
		return nil, fmt.Errorf("load seeds: %w", err)
	}
	ccfg := classifier.Config{
		SimilarityThreshold: cfg.Router.SimilarityThreshold,
		MinConfidence:       cfg.Router.MinConfidence,
		TopK:                cfg.Router.TopK,
	}
	if n, ok := embedder.(provider.Named); ok {
		ccfg.Model = n.Name()
	}
	cls, err := router.SeedClassifiers(ctx, embedder, ccfg, seeds)
	if err != nil {
		// routing still works off keywords and classifier fallbacks
		logger.Warn("seeding classifiers failed", zap.Error(err))
		cls = router.Classifiers{
			Complexity: classifier.New(embedder, withDefault(ccfg, router.ComplexityLow)),
			Tasks:      classifier.New(embedder, withDefault(ccfg, "casual")),
		}
	}
	return router.New(cls.Complexity, cls.Tasks, available, nil, logger,
		router.WithLowConfidenceOverride(cfg.Router.LowConfidenceOverride),
		router.WithTopK(cfg.Router.TopK),
	), nil
}

func withDefault(c classifier.Config, label string) classifier.Config {
	c.DefaultLabel = label
	return c
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
