// Package app wires configuration, storage, browser and services into a
// runnable process shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/timmy/listingsync/internal/api"
	"github.com/timmy/listingsync/internal/api/handler"
	"github.com/timmy/listingsync/internal/api/middleware"
	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/events"
	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/portal"
	"github.com/timmy/listingsync/internal/repository"
	"github.com/timmy/listingsync/internal/service"
	"github.com/timmy/listingsync/internal/storage"
)

// orphanMessage is stored on automations found processing at startup.
const orphanMessage = "Interrupted by a service restart"

// App holds every long-lived component.
type App struct {
	Config *config.Config
	DB     *gorm.DB

	Automations *repository.AutomationRepository
	Codes       *repository.CodeRepository
	Brokers     *repository.BrokerRepository
	Logs        *repository.LogRepository
	Settings    *repository.SettingsRepository

	Hub          *events.Hub
	Browser      *browser.Manager
	Runtime      *service.RuntimeSettings
	Activity     *service.ActivityLog
	Connectivity *service.ConnectivityService
	Media        *service.MediaService
	Orchestrator *service.AutomationService
	Retention    *service.RetentionService
}

// InitLogger builds the process logger from environment defaults overlaid
// with the log section of the config, and makes it the default.
func InitLogger(cfg config.LogConfig, serviceName string) *logger.Logger {
	lc := logger.LoadFromEnv()
	lc.ServiceName = serviceName
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	if cfg.Environment != "" {
		lc.Environment = cfg.Environment
	}
	if cfg.File != "" {
		lc.File = cfg.File
	}
	l := logger.New(lc)
	logger.SetDefaultLogger(l)
	return l
}

// New opens the database and builds every service.
// Parameters:
//   - ctx: context for startup checks (database, storage bucket).
//   - cfg: loaded configuration.
// Returns:
//   - *App: wired application.
//   - error: non-nil if a required dependency cannot be initialized.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	for _, p := range []config.SystemProfileConfig{cfg.Probe.Source, cfg.Probe.Target} {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid probe profile: %w", err)
		}
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	photoStore, err := storage.NewPhotoStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize photo storage: %w", err)
	}

	a := &App{
		Config:      cfg,
		DB:          db,
		Automations: repository.NewAutomationRepository(db),
		Codes:       repository.NewCodeRepository(db),
		Brokers:     repository.NewBrokerRepository(db),
		Logs:        repository.NewLogRepository(db),
		Settings:    repository.NewSettingsRepository(db),
		Hub:         events.NewHub(),
	}

	a.Runtime = service.NewRuntimeSettings(a.Settings, cfg.Automation)
	a.Browser = browser.NewManager(cfg.Browser)
	a.Browser.SetHeadless(a.Runtime.Headless(ctx, cfg.Browser.Headless))

	a.Activity = service.NewActivityLog(a.Logs, a.Hub)
	a.Connectivity = service.NewConnectivityService(cfg.Probe, a.Browser, a.Activity)
	a.Media = service.NewMediaService(cfg.Media, photoStore)
	a.Orchestrator = service.NewAutomationService(service.AutomationDeps{
		Automations: a.Automations,
		Codes:       a.Codes,
		Settings:    a.Runtime,
		Prober:      a.Connectivity,
		Pages:       a.Browser,
		Source:      portal.NewSourcePortal(cfg.Probe.Source, cfg.Portals.Source),
		Target:      portal.NewTargetPortal(cfg.Probe.Target, cfg.Portals.Target),
		Media:       a.Media,
		Events:      a.Hub,
		Activity:    a.Activity,
	})
	a.Retention = service.NewRetentionService(a.Logs, cfg.Logs.RetentionDays, cfg.Logs.SweepInterval)

	return a, nil
}

// RecoverOrphans fails automations left processing by a previous process.
func (a *App) RecoverOrphans(ctx context.Context) error {
	n, err := a.Automations.FailOrphaned(ctx, orphanMessage)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned automations: %w", err)
	}
	if n > 0 {
		logger.With(logger.Fields{}).WithCount(int(n)).Warn(ctx, "Failed automations interrupted by a restart")
	}
	return nil
}

// Router builds the HTTP router. done is closed on shutdown to end live
// event streams.
func (a *App) Router(done <-chan struct{}) *gin.Engine {
	cors := a.Config.Server.CORS
	return api.SetupRouter(a.Config.Server, api.Handlers{
		Health:       handler.NewHealthHandler(),
		Automations:  handler.NewAutomationHandler(a.Automations, a.Brokers, a.Orchestrator),
		Brokers:      handler.NewBrokerHandler(a.Brokers, a.Codes),
		Logs:         handler.NewLogHandler(a.Logs),
		Settings:     handler.NewSettingsHandler(a.Settings, a.Browser.SetHeadless),
		Connectivity: handler.NewConnectivityHandler(a.Connectivity, a.Runtime),
		Events: handler.NewEventsHandler(a.Hub, func(origin string) bool {
			return middleware.IsOriginAllowed(origin, cors)
		}, done),
		Stats: handler.NewStatsHandler(handler.StatsSources{
			Automations: a.Automations,
			Codes:       a.Codes,
			Runner:      a.Orchestrator,
			Hub:         a.Hub,
			Browser:     a.Browser,
		}),
	})
}

// Close stops running automations, the browser and the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("automations: %w", err))
	}
	if err := a.Browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("browser: %w", err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
