// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/analyze"
	"github.com/busanfuneral/notice-pipeline/internal/clock/system"
	"github.com/busanfuneral/notice-pipeline/internal/config"
	"github.com/busanfuneral/notice-pipeline/internal/fetch"
	iduuid "github.com/busanfuneral/notice-pipeline/internal/id/uuid"
	"github.com/busanfuneral/notice-pipeline/internal/logging"
	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
	"github.com/busanfuneral/notice-pipeline/internal/notify"
	"github.com/busanfuneral/notice-pipeline/internal/pipeline"
	"github.com/busanfuneral/notice-pipeline/internal/scrape"
	"github.com/busanfuneral/notice-pipeline/internal/store/memory"
	"github.com/busanfuneral/notice-pipeline/internal/store/postgres"
)

// App holds the shared, long-lived services built once at startup.
type App struct {
	Cfg         config.Config
	Logger      *zap.Logger
	Store       notice.Store
	Coordinator *pipeline.Coordinator

	pgStore *postgres.Store
}

// New builds every service from configuration, failing fast on anything
// that cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	districts := cfg.Districts
	if len(districts) == 0 {
		districts = scrape.DefaultRegistry()
	}

	var store notice.Store
	var pgStore *postgres.Store
	if cfg.DB.DSN != "" {
		pgStore, err = postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		store = pgStore
		logger.Info("using postgres store")
	} else {
		store = memory.New()
		logger.Warn("db.dsn empty, using in-memory store; state will not survive restarts")
	}

	retry := notice.NewExponentialRetryPolicy(
		cfg.HTTP.MaxRetries,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)

	fetcher, err := fetch.New(fetch.Config{
		ProxyURL:  cfg.HTTP.ProxyURL,
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
		HostRPS:   cfg.HTTP.HostRPS,
		HostBurst: cfg.HTTP.HostBurst,
	}, retry, districts, logger)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	scrapers, err := scrape.All(districts, fetcher, cfg.Pipeline.MaxPages, logger)
	if err != nil {
		return nil, fmt.Errorf("init scrapers: %w", err)
	}

	analyzer, err := analyze.New(analyze.Config{
		Endpoint: cfg.Analysis.Endpoint,
		Model:    cfg.Analysis.Model,
		APIKey:   cfg.Analysis.APIKey,
		Timeout:  time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init analyzer: %w", err)
	}

	notifier, err := notify.New(notify.Config{BotToken: cfg.Telegram.BotToken})
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	router := notify.Router{
		ConsolidatedID: cfg.Telegram.ConsolidatedID,
		OpsID:          cfg.Telegram.OpsID,
		TestMode:       cfg.Telegram.TestMode,
	}

	clock := system.New()
	ids := iduuid.NewUUIDGenerator()

	collector := pipeline.NewCollector(scrapers, store, clock, ids, fetcher, logger)
	analyzeStage := pipeline.NewAnalyzeStage(analyzer, store, clock, ids, retry, logger)
	distributor := pipeline.NewDistributor(notifier, router, districts, store, clock, ids, logger)
	coordinator := pipeline.NewCoordinator(collector, analyzeStage, distributor, store, notifier, router, clock, logger)

	logger.Info("application services initialized",
		zap.Int("districts", len(districts)),
		zap.Bool("telegram_test_mode", cfg.Telegram.TestMode))

	return &App{
		Cfg:         cfg,
		Logger:      logger,
		Store:       store,
		Coordinator: coordinator,
		pgStore:     pgStore,
	}, nil
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	// Best-effort flush; stderr sync failures are expected on some platforms.
	_ = a.Logger.Sync()
}
