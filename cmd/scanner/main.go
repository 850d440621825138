package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailsignal/internal/api"
	"mailsignal/internal/provider"
	"mailsignal/internal/repository"
	"mailsignal/internal/scan"
	"mailsignal/pkg/config"
	"mailsignal/pkg/db"
	"mailsignal/pkg/logger"
	"mailsignal/pkg/mq"
	"mailsignal/pkg/outbox"
	"mailsignal/pkg/redis"
	"mailsignal/pkg/util"
)

func main() {
	configPath := flag.String("config", "config/base.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting mailsignal scanner...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("provider_url", cfg.Provider.BaseURL),
	)

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// Redis
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	eventRepo := repository.NewClassificationRepository(dbConn)
	stateRepo := repository.NewAccountStateRepository(dbConn)
	insightRepo := repository.NewInsightRepository(dbConn)
	riskRepo := repository.NewRiskRepository(dbConn)
	statusRepo := repository.NewScanStatusRepository(dbConn)

	// Outbox Dispatcher
	outboxRepo := outbox.NewRepository(dbConn)
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	go dispatcher.Start(dispatcherCtx)

	// Provider client
	providerClient := provider.NewClient(cfg.Provider)

	// Scan coordinator. The run lock serializes runs across replicas; the
	// announce guard deduplicates fan-out events across repeated passes.
	runLock := util.NewDeduper(rdb, 90*time.Second, log)
	announce := util.NewDeduper(rdb, 72*time.Hour, log)

	coordinator := scan.NewCoordinator(
		providerClient,
		scan.Stores{
			Events:   eventRepo,
			States:   stateRepo,
			Insights: insightRepo,
			Risk:     riskRepo,
			Status:   statusRepo,
		},
		outboxRepo,
		runLock,
		announce,
		log,
		scan.Options{
			BatchSize: cfg.Scan.BatchSize,
			Budget:    cfg.Scan.Budget(),
			Folders:   cfg.Scan.Folders,
		},
	)

	// Scheduled scans
	log.Info("Starting scan scheduler...",
		zap.Duration("interval", cfg.Scan.Interval()),
		zap.Duration("budget", cfg.Scan.Budget()),
	)
	scanCtx, scanCancel := context.WithCancel(context.Background())
	defer scanCancel()

	go func() {
		ticker := time.NewTicker(cfg.Scan.Interval())
		defer ticker.Stop()

		// Run immediately on startup
		runScan(scanCtx, coordinator, log)

		for {
			select {
			case <-scanCtx.Done():
				log.Info("Scan scheduler stopped")
				return
			case <-ticker.C:
				runScan(scanCtx, coordinator, log)
			}
		}
	}()

	// HTTP Server
	log.Info("Initializing HTTP server...", zap.String("port", cfg.Server.Port))
	scanHandler := api.NewScanHandler(coordinator, log)
	queryHandler := api.NewQueryHandler(stateRepo, insightRepo, riskRepo)
	router := api.NewRouter(scanHandler, queryHandler)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("mailsignal scanner is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down mailsignal scanner gracefully...")

	scanCancel()
	dispatcherCancel()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	publisher.Close()
	dbConn.Close()

	log.Info("mailsignal scanner shutdown complete")
}

func runScan(ctx context.Context, coordinator *scan.Coordinator, log *zap.Logger) {
	log.Info("Running scheduled scan...")
	result, err := coordinator.Run(ctx)
	if err != nil {
		if errors.Is(err, scan.ErrRunInProgress) {
			log.Info("Scan skipped, another run holds the lock")
			return
		}
		log.Error("Scheduled scan failed", zap.Error(err))
		return
	}
	if result.BudgetExceeded {
		log.Warn("Scheduled scan hit its budget, remaining accounts deferred",
			zap.Int("remaining", result.AccountsRemaining),
		)
	}
}
