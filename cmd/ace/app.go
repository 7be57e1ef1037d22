package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/config"
	"github.com/ce-dot-net/ace/internal/curator"
	"github.com/ce-dot-net/ace/internal/cycle"
	"github.com/ce-dot-net/ace/internal/detect"
	"github.com/ce-dot-net/ace/internal/embeddings"
	"github.com/ce-dot-net/ace/internal/ignore"
	"github.com/ce-dot-net/ace/internal/logging"
	"github.com/ce-dot-net/ace/internal/playbook"
	"github.com/ce-dot-net/ace/internal/reflection"
	"github.com/ce-dot-net/ace/internal/secrets"
	"github.com/ce-dot-net/ace/internal/similarity"
	"github.com/ce-dot-net/ace/internal/store"
	"github.com/ce-dot-net/ace/internal/telemetry"
)

// app holds every component a command may need.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	telemetry *telemetry.Telemetry

	store     store.Store
	curator   *curator.Curator
	publisher *playbook.Publisher
	catalog   *detect.Catalog
	ignore    *ignore.Matcher
	oracle    reflection.Oracle
	metrics   *cycle.Metrics

	closers []func() error
}

// loadApp reads the configuration and builds the application from it.
func loadApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return newApp(ctx, cfg, logger)
}

// newApp wires the components described by cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.closers = append(a.closers, func() error { return logging.Sync(logger) })

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	tel, err := telemetry.New(ctx, cfg.Telemetry,
		telemetry.WithLogger(a.logger),
		telemetry.WithVersion(version))
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	a.telemetry = tel
	a.closers = append(a.closers, func() error { return tel.Shutdown(context.Background()) })

	switch cfg.Store.Backend {
	case "memory":
		a.store = store.NewMemoryStore()
	case "sqlite":
		st, err := store.OpenSQLite(cfg.Store.Path, a.logger)
		if err != nil {
			return fmt.Errorf("opening pattern store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	default:
		return fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.Store.Backend)
	}

	var embedder embeddings.Embedder
	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: cfg.Embeddings.CacheDir,
		Logger:   a.logger,
	})
	switch {
	case errors.Is(err, embeddings.ErrDisabled):
		a.logger.Debug("embeddings disabled")
	case err != nil:
		return fmt.Errorf("creating embedding provider: %w", err)
	default:
		embedder = provider
		a.closers = append(a.closers, provider.Close)
	}

	curatorMetrics := curator.NewMetrics(a.registry)
	scorer, err := similarity.New(cfg.Similarity, embedder, a.logger,
		similarity.WithFallbackHook(curatorMetrics.FallbackHook()))
	if err != nil {
		return fmt.Errorf("creating similarity scorer: %w", err)
	}
	a.curator, err = curator.New(scorer, cfg.Curation,
		curator.WithLogger(a.logger),
		curator.WithMetrics(curatorMetrics))
	if err != nil {
		return fmt.Errorf("creating curator: %w", err)
	}

	if !cfg.Playbook.Disabled {
		a.publisher = playbook.NewPublisher(cfg.Playbook.Path, cfg.Playbook.HistoryPath, cfg.Curation, a.logger)
	}

	a.catalog = detect.Builtin()
	if cfg.Detect.CatalogPath != "" {
		a.catalog, err = detect.LoadCatalogFile(cfg.Detect.CatalogPath)
		if err != nil {
			return fmt.Errorf("loading detection catalog: %w", err)
		}
	}

	a.ignore, err = ignore.Load(".", cfg.Detect.IgnoreFiles, cfg.Detect.Ignore)
	if err != nil {
		return fmt.Errorf("loading ignore patterns: %w", err)
	}

	a.metrics = cycle.NewMetrics(a.registry)
	a.oracle, err = newOracle(cfg, a.logger, a.metrics)
	if err != nil {
		return err
	}

	a.logger.Debug("ace initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("similarity", string(cfg.Similarity.Mode)),
		zap.String("oracle", cfg.Oracle.Provider),
		zap.Int("rules", a.catalog.Len()))
	return nil
}

// newOracle builds the configured verdict source. The Anthropic oracle
// refines its answers and falls back to the heuristic when the API fails.
func newOracle(root *config.Config, logger *zap.Logger, m *cycle.Metrics) (reflection.Oracle, error) {
	cfg := root.Oracle
	switch cfg.Provider {
	case "", "heuristic":
		return reflection.HeuristicOracle{}, nil
	case "anthropic":
	default:
		return nil, fmt.Errorf("%w: unknown oracle provider %q", config.ErrInvalidConfig, cfg.Provider)
	}

	key := cfg.APIKey
	if !key.IsSet() {
		return nil, fmt.Errorf("%w: oracle.api_key required for anthropic", config.ErrInvalidConfig)
	}
	client, err := reflection.NewAnthropicClient(reflection.AnthropicConfig{
		APIKey:    key.Value(),
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout.Duration(),
		RateLimit: cfg.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	logger.Info("using anthropic oracle",
		zap.String("model", cfg.Model),
		logging.Secret("api_key", key),
		zap.Int("max_rounds", cfg.MaxRounds))

	scrubber, err := secrets.New(root.Secrets)
	if err != nil {
		return nil, fmt.Errorf("%w: secrets: %v", config.ErrInvalidConfig, err)
	}
	llm := reflection.NewLLMOracle(client, logger)
	if scrubber.Enabled() {
		llm.Redactor = scrubber
	}

	refining := reflection.NewRefiningOracle(llm, logger)
	if cfg.MaxRounds > 0 {
		refining.MaxRounds = cfg.MaxRounds
	}
	refining.MinImprovement = cfg.MinImprovement

	fallback := reflection.NewFallbackOracle(refining, logger)
	fallback.OnFallback = m.FallbackHook()
	return fallback, nil
}

// runner creates a cycle runner over the app's components.
func (a *app) runner(maintain bool) (*cycle.Runner, error) {
	opts := []cycle.Option{
		cycle.WithLogger(a.logger),
		cycle.WithMetrics(a.metrics),
		cycle.WithMaintenance(maintain),
		cycle.WithTracer(a.telemetry.Tracer(cycle.TracerName)),
		cycle.WithEvidence(func(ctx context.Context) reflection.Evidence {
			return reflection.GatherEvidence(ctx, a.cfg.Evidence.Command, a.cfg.Evidence.Timeout.Duration())
		}),
	}
	if a.publisher != nil {
		opts = append(opts, cycle.WithPublisher(a.publisher))
	}
	return cycle.New(a.catalog, a.oracle, a.curator, a.store, opts...)
}

func (a *app) writeMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
