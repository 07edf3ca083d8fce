// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/customer-engine/internal/aggregate"
	"github.com/pdiddy/customer-engine/internal/analysis"
	"github.com/pdiddy/customer-engine/internal/job"
	"github.com/pdiddy/customer-engine/internal/logging"
	"github.com/pdiddy/customer-engine/internal/secrets"
	"github.com/pdiddy/customer-engine/internal/sources"
	"github.com/pdiddy/customer-engine/internal/validate"
	"github.com/pdiddy/customer-engine/pkg/types"
)

const defaultUserAgent = "customer-engine/0.1"

// envKeyReplacer maps nested keys such as worker.workers to
// CUSTOMER_ENGINE_WORKER_WORKERS.
var envKeyReplacer = strings.NewReplacer(".", "_")

// setDefaults registers every configuration default with v so that
// environment variables can override keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.user_agent", defaultUserAgent)

	v.SetDefault("validator.tiers", "structure,dns")
	v.SetDefault("validator.dns_timeout", 2*time.Second)
	v.SetDefault("validator.http_timeout", 2*time.Second)
	v.SetDefault("validator.max_redirects", 5)
	v.SetDefault("validator.cache_ttl", time.Hour)
	v.SetDefault("validator.cache_size", 10000)
	v.SetDefault("validator.probes_per_second", 20.0)
	v.SetDefault("validator.batch_size", 8)

	v.SetDefault("aggregate.confidence_delta", 0.15)

	v.SetDefault("analysis.provider", string(types.ProviderNone))
	v.SetDefault("analysis.endpoint", "")
	v.SetDefault("analysis.model", "")
	v.SetDefault("analysis.api_key", "")
	v.SetDefault("analysis.max_attempts", 3)
	v.SetDefault("analysis.base_timeout", 20*time.Second)
	v.SetDefault("analysis.retry_delay", 500*time.Millisecond)
	v.SetDefault("analysis.payload_budget", 12000)
	v.SetDefault("analysis.batch_size", 40)
	v.SetDefault("analysis.min_candidates", 1)

	v.SetDefault("store.driver", string(types.StoreMemory))
	v.SetDefault("store.path", "customer-engine.db")

	v.SetDefault("worker.workers", 2)
	v.SetDefault("worker.default_max_results", 20)
	v.SetDefault("worker.log_window", 50)
	v.SetDefault("worker.retention", time.Hour)
	v.SetDefault("worker.janitor_interval", 15*time.Minute)
	v.SetDefault("worker.parallel_sources", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// loadConfig unmarshals v into a Config and fills the analysis key from
// loaded secrets.
func loadConfig(v *viper.Viper, keys map[string]string) (types.Config, error) {
	setDefaults(v)
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing configuration: %w", err)
	}
	if _, err := types.ParseTiers(cfg.Validator.Tiers); err != nil {
		return cfg, fmt.Errorf("validator.tiers: %w", err)
	}
	if cfg.Validator.UserAgent == "" {
		cfg.Validator.UserAgent = cfg.HTTP.UserAgent
	}
	secrets.Apply(&cfg.Analysis, keys)
	return cfg, nil
}

// engine bundles the wired orchestrator with the resources it owns.
type engine struct {
	orch    *job.Orchestrator
	store   job.Store
	logger  *slog.Logger
	cleanup func() error
}

// Close releases the store and the log file.
func (e *engine) Close() error {
	return errors.Join(e.store.Close(), e.cleanup())
}

// buildEngine wires validator, sources, aggregator, gateway, store and
// orchestrator from cfg.
func buildEngine(cfg types.Config) (*engine, error) {
	logger, cleanup, err := logging.Setup(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*engine, error) {
		cleanup()
		return nil, err
	}

	tiers, err := types.ParseTiers(cfg.Validator.Tiers)
	if err != nil {
		return fail(err)
	}
	validator := validate.New(cfg.Validator, validate.WithLogger(logger))

	client := &http.Client{Timeout: cfg.HTTP.Timeout}
	fetchers, err := sources.Build(cfg.Sources, client, cfg.HTTP.UserAgent)
	if err != nil {
		return fail(fmt.Errorf("configuring sources: %w", err))
	}
	if len(fetchers) == 0 {
		logger.Warn("no sources configured; jobs will complete with no results")
	}

	svc, err := analysis.NewService(cfg.Analysis)
	if err != nil {
		return fail(fmt.Errorf("configuring analysis service: %w", err))
	}
	if svc == nil {
		logger.Info("no analysis service configured; results come from aggregation only")
	}
	gateway := analysis.NewGateway(svc, validator, tiers, cfg.Analysis, logger)
	agg := aggregate.New(validator, tiers, cfg.Aggregate, logger)

	store, err := job.NewStore(cfg.Store)
	if err != nil {
		return fail(fmt.Errorf("opening job store: %w", err))
	}

	orch := job.New(store, fetchers, agg, gateway, cfg.Worker, logger)
	return &engine{orch: orch, store: store, logger: logger, cleanup: cleanup}, nil
}
