// Package app wires the gateway's subsystems together: it connects to
// infrastructure, bootstraps the account mirror, starts the background
// loops, and serves the request pipeline until shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chandanmad/gatekeep/internal/gateway/account"
	"github.com/chandanmad/gatekeep/internal/gateway/config"
	"github.com/chandanmad/gatekeep/internal/gateway/limiter"
	"github.com/chandanmad/gatekeep/internal/gateway/metrics"
	"github.com/chandanmad/gatekeep/internal/gateway/pipeline"
	"github.com/chandanmad/gatekeep/internal/gateway/routing"
	"github.com/chandanmad/gatekeep/internal/gateway/shutdown"
	"github.com/chandanmad/gatekeep/internal/gateway/telemetry"
	"github.com/chandanmad/gatekeep/internal/gateway/usage"
)

// Run is the main application entry point. Given a loaded config, it connects
// to infrastructure, and runs the data plane until a shutdown signal arrives.
// Startup-validation failures return an error before anything is served.
func Run(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)

	logger.Info().
		Str("listen", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Str("routing_config", cfg.RoutingPath).
		Str("usage_dir", cfg.UsageDir).
		Msg("starting gatekeep")

	// Database.
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Account mirror: full snapshot first, then the delta loop.
	store := account.NewStore()
	replicator := account.NewReplicator(store, account.NewPgSource(pool), cfg.ReplicateInterval, logger)
	replicator.OnBatchApplied(telemetry.ObserveReplicationCursor)
	replicator.OnBatchFailed(func(error) { telemetry.ObserveReplicationError() })
	if err := replicator.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping account mirror: %w", err)
	}
	telemetry.ObserveReplicationCursor(store.Cursor())
	replicator.Start(ctx)
	defer replicator.Stop()

	// Routing table: an invalid document at startup is fatal; after that the
	// reload loop retains the last good config on failure.
	routeCfg, err := routing.LoadConfig(cfg.RoutingPath)
	if err != nil {
		return fmt.Errorf("loading routing config: %w", err)
	}
	if err := routeCfg.Validate(); err != nil {
		return fmt.Errorf("validating routing config: %w", err)
	}
	table := routing.NewTable(routeCfg, cfg.RoutingPath, cfg.ReloadInterval, logger)
	table.Start()
	defer table.Stop()

	// Usage aggregation and persistence.
	if err := os.MkdirAll(cfg.UsageDir, 0o755); err != nil {
		return fmt.Errorf("creating usage dir: %w", err)
	}
	aggregator := usage.NewAggregator()
	flusher := usage.NewFlusher(aggregator, cfg.UsageDir, cfg.FlushInterval, nil, logger)
	flusher.OnWriteError(func(error) { telemetry.ObserveUsageFlushError() })
	flusher.OnRowsWritten(telemetry.ObserveUsageRowsWritten)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		flusher.SetMirror(usage.NewRedisMirror(rdb))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("usage mirror enabled")
	}
	flusher.Start()
	// Stopped explicitly below, after the HTTP server has drained, so the
	// shutdown write captures every completed request.

	// Request pipeline.
	handler := pipeline.NewHandler(pipeline.Deps{
		Store:           store,
		Limiters:        limiter.NewRegistry(nil),
		Routes:          table,
		Usage:           aggregator,
		Metrics:         metrics.NewSink(nil),
		DefaultRPSLimit: cfg.DefaultRPSLimit,
		Log:             logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shutdown broadcast: both servers observe it. The background loops are
	// stopped through their Stop methods once the gateway server has drained.
	sig := shutdown.NewSignal()
	go shutdown.WaitForInterrupt(sig, logger)

	metricsCtx, cancelMetrics := context.WithCancel(ctx)
	defer cancelMetrics()
	go func() {
		<-sig.Done()
		cancelMetrics()
	}()
	go func() {
		if err := telemetry.ServeMetrics(metricsCtx, cfg.MetricsAddr, logger); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()

	serveErr := shutdown.GracefulServe(srv, sig, cfg.ShutdownDrainTimeout, logger)

	// In-flight requests have completed (or the drain timed out); drain the
	// remaining usage buckets and write them out best-effort.
	flusher.Stop()

	logger.Info().Msg("gatekeep stopped")
	return serveErr
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
