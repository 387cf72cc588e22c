// Package app is the composition root: it builds every component —
// config, logging, telemetry, metrics, the cache tiers, the provider
// set, the router, and the parallel executor — and exposes them behind
// a single App facade whose methods are the six external operations
// (generate, stream, parallel, invalidate, status, reset_provider).
// Dependencies are constructed in a fixed order, failing fast on the
// first error, with the assembled result handed to the transport layer
// rather than letting the transport layer build its own dependencies.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	gsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/arborcore/assistant-core/config"
	"github.com/arborcore/assistant-core/core"
	"github.com/arborcore/assistant-core/core/cache"
	"github.com/arborcore/assistant-core/core/cache/semantic"
	"github.com/arborcore/assistant-core/core/cache/store"
	"github.com/arborcore/assistant-core/core/executor"
	"github.com/arborcore/assistant-core/core/fingerprint"
	"github.com/arborcore/assistant-core/core/health"
	"github.com/arborcore/assistant-core/core/providers/anthropiccompat"
	"github.com/arborcore/assistant-core/core/providers/openaicompat"
	"github.com/arborcore/assistant-core/core/ratelimit"
	"github.com/arborcore/assistant-core/core/router"
	"github.com/arborcore/assistant-core/internal/metrics"
	"github.com/arborcore/assistant-core/internal/telemetry"
)

// App holds every wired component and is the transport layer's only
// dependency.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Telemetry *telemetry.Providers
	Metrics   *metrics.Collector

	cache     *cache.Cache
	health    *health.Tracker
	ledger    *ratelimit.Ledger
	router    *router.Router
	executor  *executor.Executor
	monitor   *executor.Monitor
	hotReload *config.HotReloadManager

	sqlDB *sql.DB

	stopResourceSampling chan struct{}
	wg                    sync.WaitGroup
}

// New constructs every component in dependency order and returns an App
// ready to serve. configPath, if non-empty, is watched for changes and
// drives the hot-reload manager; an empty configPath disables hot
// reload (the App still serves, it just never picks up file edits). The
// returned App owns the L2 SQLite connection, the resource monitor, and
// the hot-reload watcher; call Close to release them.
func New(cfg *config.Config, configPath string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tel, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	collector := metrics.NewCollector("assistant", logger)

	normalizer := fingerprint.New()

	ledger := ratelimit.New()
	configureLedgerQuotas(ledger, cfg.Providers)

	tracker := health.New()

	cacheOrch, sqlDB, err := buildCache(cfg.Cache, normalizer, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("cache init: %w", err)
	}

	providerSet, err := buildProviders(cfg.Providers, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("providers init: %w", err)
	}

	routerOpts := []router.Option{}
	if cfg.Router.MaxRetries > 0 {
		routerOpts = append(routerOpts, router.WithMaxRetries(cfg.Router.MaxRetries))
	}
	if cfg.Router.DefaultProvider != "" {
		routerOpts = append(routerOpts, router.WithDefaultProvider(cfg.Router.DefaultProvider))
	}
	r := router.New(providerSet, cacheOrch, tracker, ledger, logger, routerOpts...)

	maxParallel := cfg.Executor.MaxParallel
	if maxParallel <= 0 {
		maxParallel = executor.DefaultMaxParallel
	}
	exec := executor.New(maxParallel, logger)

	monOpts := []executor.Option{}
	if cfg.Executor.MonitorInterval > 0 {
		monOpts = append(monOpts, executor.WithInterval(cfg.Executor.MonitorInterval))
	}
	if cfg.Executor.MonitorSoftThresholdMB > 0 {
		monOpts = append(monOpts, executor.WithSoftThreshold(uint64(cfg.Executor.MonitorSoftThresholdMB)<<20))
	}
	if cfg.Executor.MonitorHardThresholdMB > 0 {
		monOpts = append(monOpts, executor.WithHardThreshold(uint64(cfg.Executor.MonitorHardThresholdMB)<<20))
	}
	monitor := executor.NewMonitor(logger, monOpts...)

	a := &App{
		cfg:                  cfg,
		logger:               logger,
		Telemetry:            tel,
		Metrics:              collector,
		cache:                cacheOrch,
		health:               tracker,
		ledger:               ledger,
		router:               r,
		executor:             exec,
		monitor:              monitor,
		sqlDB:                sqlDB,
		stopResourceSampling: make(chan struct{}),
	}

	monitor.Start()
	a.wg.Add(1)
	go a.sampleResources()

	if configPath != "" {
		hotReload := config.NewHotReloadManager(cfg,
			config.WithConfigPath(configPath),
			config.WithHotReloadLogger(logger))
		hotReload.OnReload(a.applyConfigReload)
		if err := hotReload.Start(context.Background()); err != nil {
			_ = a.Close(context.Background())
			return nil, fmt.Errorf("hot reload start: %w", err)
		}
		a.hotReload = hotReload
	}

	return a, nil
}

// applyConfigReload is the HotReloadManager's ReloadCallback: it pushes
// the reloaded configuration's provider quotas, router retry bound, and
// router default provider onto the already-running Router and Ledger so
// that a config file edit changes in-flight admission and selection
// behavior without restarting the process.
func (a *App) applyConfigReload(oldConfig, newConfig *config.Config) {
	a.cfg = newConfig
	configureLedgerQuotas(a.ledger, newConfig.Providers)
	a.router.SetMaxRetries(newConfig.Router.MaxRetries)
	a.router.SetDefaultProvider(newConfig.Router.DefaultProvider)
	a.logger.Info("applied configuration reload",
		zap.Int("providers", len(newConfig.Providers)),
		zap.Int("router_max_retries", newConfig.Router.MaxRetries))
}

// HotReload returns the App's configuration hot-reload manager, or nil
// if hot reload was never enabled (no config path was given to New).
// The transport layer mounts the configuration HTTP API on top of this.
func (a *App) HotReload() *config.HotReloadManager {
	return a.hotReload
}

// configureLedgerQuotas (re-)registers each provider's admission quota.
// Called once at startup and again on every config hot reload, since a
// changed RateLimitRPM/RateLimitTPM must reach the ledger without a
// restart.
func configureLedgerQuotas(ledger *ratelimit.Ledger, providers []config.ProviderConfig) {
	for _, p := range providers {
		if p.RateLimitRPM == 0 && p.RateLimitTPM == 0 {
			continue
		}
		maxRequests := p.RateLimitRPM
		if maxRequests == 0 {
			maxRequests = -1
		}
		ledger.Configure(p.Name, ratelimit.Quota{
			MaxRequests: maxRequests,
			MaxTokens:   p.RateLimitTPM,
			Window:      time.Minute,
		})
	}
}

// buildCache wires the four cache tiers (C5) — templates, the in-process
// LRU, the SQLite-backed L2 store, and the optional semantic L3 index —
// behind the single Cache orchestrator. The L2 wiring replicates the
// store package's own test harness: a *sql.DB opened against the
// pure-Go modernc.org/sqlite driver, handed to gorm as an already-open
// connection, so no cgo sqlite3 driver is required in production either.
func buildCache(cfg config.CacheConfig, normalizer *fingerprint.Normalizer, logger *zap.Logger) (*cache.Cache, *sql.DB, error) {
	templates := cache.NewTemplates()

	l1Capacity := cfg.L1Capacity
	l1 := cache.NewLRU(l1Capacity)

	path := cfg.L2Path
	if path == "" {
		path = "assistant-cache.db"
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open l2 database: %w", err)
	}

	gormDB, err := gorm.Open(gsqlite.Dialector{Conn: sqlDB}, &gorm.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("open l2 gorm connection: %w", err)
	}

	l2, err := store.Open(gormDB, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("open l2 store: %w", err)
	}

	var l3 cache.L3Index
	if cfg.L3Enabled {
		embedder := semantic.NewHashEmbedder(64)
		opts := []semantic.Option{}
		if cfg.L3Threshold > 0 {
			opts = append(opts, semantic.WithThreshold(cfg.L3Threshold))
		}
		l3 = semantic.New(embedder, opts...)
	}

	return cache.New(templates, l1, l2, l3, normalizer, logger), sqlDB, nil
}

// buildProviders constructs one core.Provider per configured backend,
// keyed by its logical name so the router's static preference table
// (C7) can select among them.
func buildProviders(cfgs []config.ProviderConfig, logger *zap.Logger) (map[string]core.Provider, error) {
	providers := make(map[string]core.Provider, len(cfgs))
	for _, pc := range cfgs {
		switch pc.Kind {
		case "openai-compat":
			providers[pc.Name] = openaicompat.New(openaicompat.Config{
				Name:    pc.Name,
				BaseURL: pc.BaseURL,
				APIKey:  pc.APIKey,
				Model:   pc.Model,
				Timeout: pc.Timeout,
			}, logger)
		case "anthropic-compat":
			providers[pc.Name] = anthropiccompat.New(anthropiccompat.Config{
				Name:    pc.Name,
				BaseURL: pc.BaseURL,
				APIKey:  pc.APIKey,
				Model:   pc.Model,
				Timeout: pc.Timeout,
			}, logger)
		default:
			return nil, core.NewConfigError(fmt.Sprintf("provider %q: unknown kind %q", pc.Name, pc.Kind), nil)
		}
	}
	return providers, nil
}

// sampleResources periodically copies the executor's resource samples
// onto the Prometheus gauges. The Monitor itself only calls back on
// overload; every-sample visibility needs polling Current() instead.
func (a *App) sampleResources() {
	defer a.wg.Done()
	interval := a.cfg.Executor.MonitorInterval
	if interval <= 0 {
		interval = executor.DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s, ok := a.monitor.Current(); ok {
				a.Metrics.RecordResourceSample(s)
			}
		case <-a.stopResourceSampling:
			return
		}
	}
}

// Close releases the resource monitor, the L2 database connection, and
// the telemetry providers, in reverse dependency order.
func (a *App) Close(ctx context.Context) error {
	close(a.stopResourceSampling)
	a.wg.Wait()
	a.monitor.Stop()
	a.executor.CancelAll()
	if a.hotReload != nil {
		_ = a.hotReload.Stop()
	}

	var dbErr error
	if a.sqlDB != nil {
		dbErr = a.sqlDB.Close()
	}
	telErr := a.Telemetry.Shutdown(ctx)

	if dbErr != nil {
		return dbErr
	}
	return telErr
}

// =============================================================================
// External operations
// =============================================================================

// Generate performs the generate() operation: cache-aware completion.
func (a *App) Generate(ctx context.Context, req core.Request) (core.Response, error) {
	start := time.Now()
	resp, err := a.router.Generate(ctx, req)
	a.recordOutcome(resp, err, start)
	return resp, err
}

// Stream performs the stream() operation, returning a channel of
// incremental tokens plus the provider name ultimately selected.
func (a *App) Stream(ctx context.Context, req core.Request) (<-chan core.StreamToken, string, error) {
	return a.router.Stream(ctx, req)
}

// Parallel performs the parallel() operation over an already-built task
// list (callers translate each inbound task description into a
// core/executor.Task closure that calls Generate).
func (a *App) Parallel(ctx context.Context, tasks []executor.Task, timeout time.Duration) []executor.Result {
	return a.executor.Parallel(ctx, tasks, timeout)
}

// Invalidate performs the invalidate() operation. Exactly one of
// fingerprintKey or category should be non-empty; fingerprint-keyed
// invalidation always reports a count of 1 since the cache orchestrator
// does not track per-tier existence on delete.
func (a *App) Invalidate(ctx context.Context, fingerprintKey string, category core.CacheCategory) (int64, error) {
	if fingerprintKey != "" {
		a.cache.InvalidateByKey(ctx, fingerprintKey)
		return 1, nil
	}
	return a.cache.InvalidateByCategory(ctx, category)
}

// ResetProvider performs the reset_provider() operation: the only way a
// provider marked unavailable becomes eligible again, since the health
// tracker does not auto-recover.
func (a *App) ResetProvider(name string) bool {
	return a.health.Reset(name)
}

// StatusReport is the status() operation's response shape.
type StatusReport struct {
	Providers map[string]ProviderStatus `json:"providers"`
	Cache     CacheStatus               `json:"cache"`
	Resources ResourceStatus            `json:"resources"`
}

// ProviderStatus mirrors one provider's ratelimit.Snapshot and
// health.Snapshot, merged.
type ProviderStatus struct {
	Available           bool   `json:"available"`
	InWindowRequests     int    `json:"in_window_requests"`
	InWindowTokens       int    `json:"in_window_tokens"`
	ConsecutiveFailures  int    `json:"consecutive_failures"`
	LastError            string `json:"last_error"`
}

// CacheStatus mirrors the cache orchestrator's hit counters plus the L1
// tier's current size.
type CacheStatus struct {
	L0Hits int64 `json:"l0_hits"`
	L1Hits int64 `json:"l1_hits"`
	L2Hits int64 `json:"l2_hits"`
	L3Hits int64 `json:"l3_hits"`
	Misses int64 `json:"misses"`
	L1Size int   `json:"l1_size"`
}

// ResourceStatus mirrors the executor's most recent resource sample and
// the cumulative count of tasks submitted to it.
type ResourceStatus struct {
	RSSMB      float64 `json:"rss_mb"`
	Tasks      int64   `json:"tasks"`
	Goroutines int     `json:"goroutines"`
}

// Status performs the status() operation.
func (a *App) Status() StatusReport {
	providers := make(map[string]ProviderStatus, len(a.cfg.Providers))
	for _, pc := range a.cfg.Providers {
		hs := a.health.Snapshot(pc.Name)
		rs := a.ledger.Snapshot(pc.Name)
		providers[pc.Name] = ProviderStatus{
			Available:           hs.Available,
			InWindowRequests:    rs.InWindowRequests,
			InWindowTokens:      rs.InWindowTokens,
			ConsecutiveFailures: hs.ConsecutiveFailures,
			LastError:           hs.LastError,
		}
	}

	hits := a.cache.Hits()
	cacheStatus := CacheStatus{
		L0Hits: hits.L0,
		L1Hits: hits.L1,
		L2Hits: hits.L2,
		L3Hits: hits.L3,
		Misses: hits.Miss,
	}

	var resources ResourceStatus
	if s, ok := a.monitor.Current(); ok {
		resources.RSSMB = float64(s.Sys) / (1 << 20)
		resources.Goroutines = s.Goroutines
	}
	total, _ := a.executor.Stats()
	resources.Tasks = total

	return StatusReport{Providers: providers, Cache: cacheStatus, Resources: resources}
}

// recordOutcome mirrors a completed Generate call onto the metrics
// collector. The router does not expose retry/failover counts directly,
// so only the per-candidate outcome actually returned is recorded here;
// router-internal retries and failovers are not recorded anywhere.
func (a *App) recordOutcome(resp core.Response, err error, start time.Time) {
	duration := time.Since(start)
	if err != nil {
		a.Metrics.RecordProviderRequest("unknown", "unknown", "failure", duration, 0)
		return
	}
	status := "success"
	a.Metrics.RecordProviderRequest(resp.Provider, string(resp.TaskType), status, duration, resp.Tokens)
	if resp.Cached {
		a.Metrics.RecordCacheHit(resp.CacheTier)
	} else {
		a.Metrics.RecordCacheMiss()
	}
}
