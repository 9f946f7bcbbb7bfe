// Package main is the entry point for the hazard curve aggregation service.
// It computes weighted mean and percentile hazard curves from logic-tree
// realization ensembles, one independent unit of work per (location, IMT).
//
// The service runs in one of two modes:
//   - HTTP mode (default): exposes POST /api/aggregation/run for the
//     dispatch collaborator, one aggregation run per task message.
//   - Run-on-start mode (THP_RUN_ON_START=true): executes a single run from
//     the configured locations and IMTs, then exits non-zero on failure.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/GNS-Science/toshi-hazard-post/internal/aggregation"
	"github.com/GNS-Science/toshi-hazard-post/internal/config"
	"github.com/GNS-Science/toshi-hazard-post/internal/logictree"
	"github.com/GNS-Science/toshi-hazard-post/internal/server"
	"github.com/GNS-Science/toshi-hazard-post/internal/store"
	"github.com/GNS-Science/toshi-hazard-post/internal/work"
	"github.com/GNS-Science/toshi-hazard-post/pkg/logger"
)

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

	runFn := makeRunFunc(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunOnStart {
		// Dispatch-message mode: one run, exit status reports the outcome.
		result, err := runFn(ctx, server.RunSpec{})
		if err != nil {
			log.Fatal().Err(err).Msg("aggregation run aborted")
		}
		if !result.OK() {
			log.Error().Int("failed", len(result.Failed)).Msg("aggregation run had failed tasks")
			os.Exit(1)
		}
		log.Info().Int("curves_written", result.Written).Msg("aggregation run succeeded")
		return
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Run:     runFn,
		Log:     logger.ForComponent(log, "server"),
	})

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

// makeRunFunc builds the closure executing one aggregation run. Each run
// resolves its own dataset (supporting per-task overrides), opens its own
// store handles, and builds a fresh coordinator; nothing is shared between
// runs except configuration.
func makeRunFunc(cfg *config.Config, log zerolog.Logger) server.RunFunc {
	return func(ctx context.Context, spec server.RunSpec) (*work.Result, error) {
		locations := spec.Locations
		if len(locations) == 0 {
			locations = cfg.Locations
		}
		imts := spec.IMTs
		if len(imts) == 0 {
			imts = cfg.IMTs
		}
		statNames := spec.Statistics
		if len(statNames) == 0 {
			statNames = cfg.Statistics
		}

		stats, err := aggregation.ParseStatistics(statNames)
		if err != nil {
			return nil, err
		}
		rule, err := aggregation.ParseQuantileRule(cfg.QuantileRule)
		if err != nil {
			return nil, err
		}
		engine, err := aggregation.NewEngine(rule, logger.ForComponent(log, "aggregation"))
		if err != nil {
			return nil, err
		}

		treePath := spec.LogicTree
		if treePath == "" {
			treePath = cfg.LogicTreePath
		}
		tree, err := logictree.Load(treePath)
		if err != nil {
			return nil, err
		}

		storeLog := logger.ForComponent(log, "store")
		dataset := spec.Dataset
		if dataset == "" {
			dataset = cfg.DatasetPath
		}
		datasetPath, err := store.ResolveDataset(ctx, dataset, cfg.DataDir, storeLog)
		if err != nil {
			return nil, err
		}

		source, err := store.Open(store.Config{Path: datasetPath, Log: storeLog})
		if err != nil {
			return nil, err
		}
		defer source.Close()

		// Aggregates normally land in the dataset file itself; a distinct
		// output store is opened only when configured.
		sink := source
		if spec.Dataset == "" && cfg.AggregatePath != cfg.DatasetPath {
			sink, err = store.Open(store.Config{Path: cfg.AggregatePath, Log: storeLog})
			if err != nil {
				return nil, err
			}
			defer sink.Close()
		}

		coordinator, err := work.NewCoordinator(work.Options{
			Tree:          tree,
			Source:        source,
			Sink:          sink,
			Engine:        engine,
			Statistics:    stats,
			NumWorkers:    cfg.NumWorkers,
			RetryAttempts: cfg.RetryAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			ScratchDir:    cfg.ScratchDir,
			Log:           logger.ForComponent(log, "coordinator"),
		})
		if err != nil {
			return nil, err
		}

		return coordinator.Run(ctx, locations, imts)
	}
}
