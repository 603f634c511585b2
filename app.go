package main

import (
	"context"
	"fmt"

	"github.com/yeremiapane/inventory-sync/config"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/hub"
	"github.com/yeremiapane/inventory-sync/services"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	catalog  *database.Catalog
	store    *database.ChangeStore
	registry *services.SyncConfigRegistry
	activity *hub.Hub
	configs  *services.SyncConfigService
	recorder *services.SyncRecorder
}

// openApp connects, migrates, installs capture and loads the sync configs.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	mode, err := database.ParseCaptureMode(cfg.Database.CaptureMode)
	if err != nil {
		return nil, err
	}

	db, err := config.InitDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	catalog, err := database.Migrate(db, mode)
	if err != nil {
		return nil, err
	}
	dialect, err := database.DialectOf(db)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		catalog:  catalog,
		store:    database.NewChangeStore(db, dialect),
		registry: services.NewSyncConfigRegistry(catalog),
		activity: hub.New(cfg.Server.CORSOrigin),
	}
	a.configs = services.NewSyncConfigService(db, a.registry, a.store, a.activity)
	a.recorder = services.NewSyncRecorder(db, a.registry, cfg.Sync.ErrorThreshold, a.activity)

	if err := a.configs.LoadRegistry(ctx); err != nil {
		return nil, err
	}
	if len(cfg.SyncConfigs) > 0 {
		n, err := a.configs.Seed(ctx, cfg.SyncConfigs)
		if err != nil {
			return nil, fmt.Errorf("seed sync configs: %w", err)
		}
		utils.InfoLogger.Infof("Seeded %d of %d configured sync configs", n, len(cfg.SyncConfigs))
	}
	utils.InfoLogger.WithField("configs", len(a.registry.List())).
		WithField("capture", mode).Info("Sync engine ready")
	return a, nil
}

func (a *app) deliveryClient() (*services.DeliveryClient, error) {
	d := a.cfg.Delivery
	return services.NewDeliveryClient(services.DeliveryOptions{
		BaseURL:     d.BaseURL,
		Token:       d.Token,
		MaxAttempts: d.MaxAttempts,
		Timeout:     d.Timeout.Duration,
		BackoffBase: d.BackoffBase.Duration,
		BackoffMax:  d.BackoffMax.Duration,
		RateLimit:   d.RateLimit,
	})
}

func (a *app) manualSyncer(deliverer services.Deliverer) *services.ManualSyncer {
	return services.NewManualSyncer(a.db, a.registry, deliverer, a.recorder, a.cfg.Sync.ManualSyncLimit, a.activity)
}

func (a *app) poller(deliverer services.Deliverer) *services.ChangePoller {
	p := a.cfg.Poller
	return services.NewChangePoller(a.store, a.registry, deliverer, a.recorder,
		services.WithInterval(p.Interval.Duration),
		services.WithBatchSize(p.BatchSize),
		services.WithMaxConcurrency(p.MaxConcurrency),
		services.WithClaimLease(p.ClaimLease.Duration),
		services.WithPublisher(a.activity),
	)
}

func (a *app) retentionCleaner() *services.RetentionCleaner {
	return services.NewRetentionCleaner(a.store, a.cfg.Retention.Window.Duration, a.cfg.Retention.Interval.Duration)
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
