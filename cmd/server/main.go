// Package main is the entry point of the portfolio optimization service.
//
// Startup order:
// 1. Load configuration from the environment (.env supported)
// 2. Initialize logging
// 3. Wire databases, repositories, engine and handlers via the DI container
// 4. Sync the working store once, then start the maintenance scheduler
// 5. Serve HTTP until SIGINT/SIGTERM, then shut down gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/optimizer/internal/config"
	"github.com/aristath/optimizer/internal/di"
	"github.com/aristath/optimizer/internal/server"
	"github.com/aristath/optimizer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting optimizer")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// An empty working store falls back to the master, so a failed initial
	// sync only costs speed.
	if err := container.Scheduler.RunNow(container.Jobs.SyncWorkingStore); err != nil {
		log.Warn().Err(err).Msg("Initial working store sync failed")
	}
	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:          log,
		MasterDB:     container.MasterDB,
		WorkingDB:    container.WorkingDB,
		Config:       cfg,
		Optimization: container.OptimizationHandler,
		Portfolios:   container.PortfolioHandler,
		Metrics:      container.Metrics,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Scheduler.Stop()

	log.Info().Msg("Server stopped")
}
