package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/listingsync/internal/app"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/logger"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := app.InitLogger(cfg.Log, "listingsync-api")
	defer logger.Sync()

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}

	if err := application.RecoverOrphans(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to recover automations")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go application.Retention.Run(sweepCtx)

	done := make(chan struct{})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: application.Router(done),
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	close(done)
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	if err := application.Close(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Failed to release resources")
	}

	appLogger.Info("Server exited")
}
