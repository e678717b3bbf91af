package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	"github.com/yungbote/labintel-backend/internal/clients/rediscache"
	"github.com/yungbote/labintel-backend/internal/data/db"
	"github.com/yungbote/labintel-backend/internal/data/repos"
	httpH "github.com/yungbote/labintel-backend/internal/http/handlers"
	"github.com/yungbote/labintel-backend/internal/observability"
	"github.com/yungbote/labintel-backend/internal/platform/envutil"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
	"github.com/yungbote/labintel-backend/internal/server"
	"github.com/yungbote/labintel-backend/internal/services"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "labintel",
		Environment: envutil.Str("APP_ENV", "development"),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn("OTel shutdown failed", "error", err)
		}
	}()

	log.Info("Loading biomarker registry...")
	registry, err := biomarkers.Load()
	if err != nil {
		log.Error("Could not load biomarker registry", "error", err)
		os.Exit(1)
	}

	log.Info("Connecting to database...")
	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Error("Auto migration failed", "error", err)
		os.Exit(1)
	}

	log.Info("Setting up repos...")
	allRepos := repos.New(pg.DB(), log)

	log.Info("Setting up cache...")
	cache, err := rediscache.New(log)
	if err != nil {
		log.Warn("Redis unavailable, using in-process cache", "error", err)
		cache = rediscache.NewLocal()
	}
	defer cache.Close()

	log.Info("Setting up services...")
	pipeline := services.NewComputePipeline(log, allRepos, registry, cache)
	ingest := services.NewLabIngest(log, allRepos, registry, pipeline)
	insights := services.NewInsights(log, allRepos, registry, cache)
	protocols := services.NewProtocols(log, allRepos, registry, pipeline)

	srv := server.New(server.RouterConfig{
		Log:              log,
		LabsHandler:      httpH.NewLabsHandler(log, ingest, insights),
		ProtocolsHandler: httpH.NewProtocolsHandler(log, protocols, insights),
		ComputeHandler:   httpH.NewComputeHandler(log, pipeline),
		HealthHandler:    httpH.NewHealthHandler(),
	}, ":"+envutil.Str("PORT", "8080"))

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "port", envutil.Str("PORT", "8080"))
		errCh <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("Shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Graceful shutdown failed", "error", err)
		}
	}
}
