// Package main is the entry point for the Foresight stock forecast service.
// It wires the trading calendar, prediction ledger, accuracy aggregator and
// update coordinator on top of a single sqlite database, schedules the
// nightly update run, and serves the read API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkalathas/foresight/internal/accuracy"
	"github.com/dkalathas/foresight/internal/calendar"
	"github.com/dkalathas/foresight/internal/clients/marketdata"
	"github.com/dkalathas/foresight/internal/config"
	"github.com/dkalathas/foresight/internal/database"
	"github.com/dkalathas/foresight/internal/events"
	"github.com/dkalathas/foresight/internal/ledger"
	"github.com/dkalathas/foresight/internal/models"
	"github.com/dkalathas/foresight/internal/reliability"
	"github.com/dkalathas/foresight/internal/scheduler"
	"github.com/dkalathas/foresight/internal/server"
	"github.com/dkalathas/foresight/internal/updater"
	"github.com/dkalathas/foresight/pkg/logger"
)

func main() {
	// Load configuration first to get the log level.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Foresight")

	// Single database holds the calendar, models, ledger and accuracy
	// series; the ledger profile trades write throughput for durability.
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "foresight",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Repositories.
	calendarRepo := calendar.NewRepository(db.Conn(), log)
	modelRepo := models.NewRepository(db.Conn(), log)
	ledgerRepo := ledger.NewRepository(db.Conn(), log)
	accuracyRepo := accuracy.NewRepository(db.Conn(), log)

	// The first configured ticker doubles as the calendar reference: its
	// trading sessions define the exchange calendar.
	marketClient := marketdata.NewClient(cfg.MarketDataBaseURL, cfg.Tickers[0], log)
	calendarSvc := calendar.NewService(calendarRepo, marketClient, cfg.HistoryStartDate, log)

	eventBus := events.NewBus()
	eventManager := events.NewManager(eventBus, log)

	modelCache := models.NewCache(len(cfg.Tickers), log)
	closeLookup := updater.NewCloseLookup(calendarSvc, marketClient)
	aggregator := accuracy.NewAggregator(accuracyRepo, ledgerRepo, modelRepo, closeLookup, log)

	coordinator := updater.New(
		calendarSvc,
		modelRepo,
		ledgerRepo,
		accuracyRepo,
		aggregator,
		marketClient,
		modelCache,
		eventManager,
		cfg.HorizonDays,
		cfg.HistoryStartDate,
		log,
	)

	// First boot: register the configured instruments as untrained models.
	for _, ticker := range cfg.Tickers {
		if err := modelRepo.EnsureExists(ticker); err != nil {
			log.Fatal().Err(err).Str("ticker", ticker).Msg("Failed to register instrument")
		}
	}
	log.Info().Strs("tickers", cfg.Tickers).Msg("Instruments registered")

	// Resolve lifecycle markers left behind by a crashed run before the
	// scheduler can trigger a new one.
	if err := coordinator.RecoverFromCrash(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover lifecycle state")
	}

	// Background jobs.
	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.UpdateSchedule, updater.NewJob(coordinator, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule update run")
	}

	walJob := reliability.NewWALCheckpointJob(db, log)
	if err := sched.AddJob("0 0 */6 * * *", walJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule WAL checkpoint")
	}

	if cfg.Backup != nil {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		backupSvc := reliability.NewBackupService(db, s3Client, cfg.DataDir, log)
		if err := sched.AddJob("0 0 1 * * *", reliability.NewBackupJob(backupSvc, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backup")
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Nightly backups enabled")
	} else {
		log.Info().Msg("Backups disabled (no bucket configured)")
	}

	sched.Start()
	defer sched.Stop()

	// HTTP read API.
	srv := server.New(server.Config{
		Log:      log,
		DB:       db,
		Config:   cfg,
		Models:   modelRepo,
		Ledger:   ledgerRepo,
		Accuracy: accuracyRepo,
		Calendar: calendarSvc,
		EventBus: eventBus,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
