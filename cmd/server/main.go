// Package main is the entry point for the quantfolio research service.
// It wires the portfolio optimization and backtesting pipeline behind an
// HTTP API and a nightly scheduler.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/quantfolio/internal/config"
	"github.com/aristath/quantfolio/internal/database"
	"github.com/aristath/quantfolio/internal/modules/backtest"
	"github.com/aristath/quantfolio/internal/modules/benchmark"
	"github.com/aristath/quantfolio/internal/modules/marketdata"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/modules/performance"
	"github.com/aristath/quantfolio/internal/modules/pipeline"
	"github.com/aristath/quantfolio/internal/modules/risk"
	"github.com/aristath/quantfolio/internal/reliability"
	"github.com/aristath/quantfolio/internal/scheduler"
	"github.com/aristath/quantfolio/internal/server"
	"github.com/aristath/quantfolio/pkg/logger"
)

// nightlySchedule runs the pipeline after US market close, weekdays.
const nightlySchedule = "30 22 * * 1-5"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting quantfolio")

	pipelineCfg, err := config.LoadPipeline(cfg.PipelinePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PipelinePath).Msg("Failed to load pipeline configuration")
	}

	// Durable data (prices, run records) and the ephemeral risk cache live
	// in separate databases with different pragma profiles.
	mainDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "quantfolio.db"),
		Profile: database.ProfileStandard,
		Name:    "quantfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open main database")
	}
	defer mainDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	priceStore, err := marketdata.NewStore(mainDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price store")
	}
	runStore, err := pipeline.NewRunStore(mainDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run store")
	}
	riskCache, err := risk.NewCache(cacheDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize risk cache")
	}

	svc := pipeline.NewService(
		pipelineCfg,
		priceStore,
		runStore,
		riskCache,
		risk.NewEstimator(log),
		optimization.New(optimization.NewGonumSolver(), log),
		benchmark.NewAllocator(log),
		backtest.NewSimulator(log),
		performance.NewEvaluator(log),
		log,
	)

	var archiveSvc *reliability.ArchiveService
	if cfg.Archive.Enabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Archive, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive storage client")
		}
		archiveSvc = reliability.NewArchiveService(s3Client, cfg.DataDir, log)
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Run-report archiving enabled")
	}

	sched := scheduler.New(log)
	var archiver scheduler.RunArchiver
	if archiveSvc != nil {
		archiver = archiveSvc
	}
	if err := sched.AddJob(nightlySchedule, scheduler.NewPipelineJob(svc, archiver, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register pipeline job")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:              log,
		Port:             cfg.Port,
		DevMode:          cfg.DevMode,
		PipelineHandlers: pipeline.NewHandlers(svc, runStore, log),
		SystemHandlers:   server.NewSystemHandlers(log, mainDB.Conn()),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
