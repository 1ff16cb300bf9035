package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"roundup/pkg/config"
	"roundup/pkg/idempotency"
	"roundup/pkg/logging"
	promcollector "roundup/pkg/metrics/prometheus"
	"roundup/pkg/orchestrator"
	"roundup/pkg/resilience"
	"roundup/pkg/retry"
	"roundup/pkg/starling"
)

// app holds the wired components of one process.
type app struct {
	config       config.Config
	logger       *logging.Logger
	registry     *prometheus.Registry
	client       *starling.Client
	orchestrator *orchestrator.Orchestrator
	store        idempotency.Store
}

func loadConfig(envFile string) (config.Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newApp sets the global logger and builds every component from cfg.
// withStore controls whether the idempotency store is opened.
func newApp(cfg config.Config, withStore bool) (*app, error) {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logging.SetGlobal(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := promcollector.NewPrometheusCollector(cfg.Metrics.Namespace)
	if err := collector.Register(registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	clientConfig := starling.DefaultConfig()
	clientConfig.BaseURL = cfg.Starling.BaseURL
	clientConfig.Token = cfg.Starling.Token
	clientConfig.Resilience = resilience.DefaultResilientConfig().
		WithName("starling").
		WithTimeout(cfg.Starling.RequestTimeout).
		WithCircuitBreakerTimeout(cfg.Starling.BreakerTimeout)

	client, err := starling.NewClient(clientConfig, collector)
	if err != nil {
		return nil, err
	}

	policy := retry.NewPolicyWithMetrics(retryConfig(cfg.Retry), collector)

	options := orchestrator.DefaultOptions()
	options.RunTimeout = cfg.Retry.RunTimeout

	a := &app{
		config:       cfg,
		logger:       logger,
		registry:     registry,
		client:       client,
		orchestrator: orchestrator.NewWithMetrics(client, client, client, policy, options, collector),
	}

	if withStore {
		store, err := openStore(cfg.Idempotency)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	logger.Info("components initialized",
		zap.String("starling_url", cfg.Starling.BaseURL),
		zap.Int("retry_max", cfg.Retry.MaxRetries),
		zap.Duration("request_timeout", cfg.Starling.RequestTimeout),
		zap.Duration("run_timeout", cfg.Retry.RunTimeout),
		zap.String("idempotency_backend", cfg.Idempotency.Backend),
	)
	return a, nil
}

// retryConfig maps the retry settings onto a policy configuration. Without an
// explicit cap every retry doubles the previous delay.
func retryConfig(cfg config.RetryConfig) retry.Config {
	return retry.DefaultConfig().
		WithMaxRetries(cfg.MaxRetries).
		WithInitialBackoff(cfg.InitialBackoff).
		WithMaxBackoff(cfg.MaxBackoff).
		WithJitter(cfg.Jitter)
}

func openStore(cfg config.IdempotencyConfig) (idempotency.Store, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendRedis:
		redisConfig := idempotency.DefaultRedisStoreConfig()
		redisConfig.Addr = cfg.RedisAddr
		redisConfig.Password = cfg.RedisPassword
		redisConfig.DefaultTTL = cfg.TTL
		store, err := idempotency.NewRedisStore(redisConfig)
		if err != nil {
			return nil, fmt.Errorf("open idempotency store: %w", err)
		}
		return store, nil
	default:
		memConfig := idempotency.DefaultMemoryStoreConfig()
		memConfig.DefaultTTL = cfg.TTL
		return idempotency.NewMemoryStore(memConfig), nil
	}
}

func (a *app) guard() *idempotency.Guard {
	if a.store == nil {
		return nil
	}
	return idempotency.NewGuard(a.store, a.config.Idempotency.TTL).WithTimeout(a.config.Retry.RunTimeout)
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close idempotency store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
