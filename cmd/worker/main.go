package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/covasa/backoffice/internal/app"
	"github.com/covasa/backoffice/internal/board"
	"github.com/covasa/backoffice/internal/config"
	"github.com/covasa/backoffice/internal/obs"
	"github.com/covasa/backoffice/internal/queue"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	zerolog.DefaultContextLogger = &logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.OTelServiceName + "-worker",
		Endpoint:      cfg.OTelEndpoint,
		Exporter:      cfg.OTelExporter,
		SamplingRatio: cfg.OTelSampleRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	worker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              board.TaskTrackQuote,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		Handler:           board.TrackQuoteHandler(deps.Boards),
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.RetryJitterPercent,
		Logger:            logger,
	}

	logger.Info().
		Str("kind", worker.Kind).
		Int("concurrency", cfg.QueueConcurrency).
		Msg("worker starting")
	if err := worker.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker stopped")
}
