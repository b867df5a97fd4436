package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"plato-learn/appconfig"
	"plato-learn/experience"
	"plato-learn/ingest"
	"plato-learn/learner"
	"plato-learn/metrics"
	"plato-learn/weights"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := appconfig.LoadAppConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	runID := uuid.New()
	logger = logger.With().Str("run_id", runID.String()).Logger()

	codec, err := experience.NewCodec(cfg.StateDims, cfg.ActionDims)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	memory, err := experience.NewMemory(cfg.ReplayCapacity)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	sink, err := metrics.NewSink(cfg.MetricsDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot open metrics sink")
	}
	defer sink.Close()

	slot := &learner.Slot{}
	lrn, err := learner.New(learner.Config{
		StateDims:     cfg.StateDims,
		ActionDims:    cfg.ActionDims,
		HiddenDims:    cfg.HiddenDims,
		BatchSize:     cfg.BatchSize,
		Gamma:         cfg.Gamma,
		LearningRate:  cfg.LearningRate,
		SaveFrequency: cfg.SaveFrequency,
		WeightsFile:   cfg.WeightsFile,
		UpdateLogFile: cfg.UpdateLogFile,
		RunID:         runID.String(),
	}, memory, slot, sink, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot build learner")
	}
	if err := lrn.Restore(); err != nil {
		logger.Fatal().Err(err).Str("file", cfg.WeightsFile).Msg("cannot restore snapshot")
	}

	ingestSrv, err := ingest.New(cfg.IngestAddr, codec, memory, sink, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot start ingestion")
	}
	weightsSrv := weights.New(cfg.WeightsAddr, slot, memory, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ingestSrv.Run(ctx) })
	g.Go(func() error { return lrn.Run(ctx) })
	g.Go(func() error { return weightsSrv.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second * 30):
				logger.Info().
					Int("buffer_size", memory.Size()).
					Int64("updates", lrn.Updates()).
					Int64("received", ingestSrv.Received()).
					Int64("dropped", ingestSrv.Dropped()).
					Msg("status")
			}
		}
	})

	logger.Info().
		Int("state_dims", cfg.StateDims).
		Int("action_dims", cfg.ActionDims).
		Int("batch_size", cfg.BatchSize).
		Int("replay_capacity", cfg.ReplayCapacity).
		Msg("learning service started")

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("service failed")
	}
	logger.Info().Msg("shutdown complete")
}
