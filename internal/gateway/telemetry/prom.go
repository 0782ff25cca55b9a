// Package telemetry exposes process-level Prometheus counters and gauges
// for the gateway's admission, replication, and flush health. This is the
// operator-facing cousin of the functional metrics.Sink: it answers "is the
// process healthy", not "what did this key do".
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	requestsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_admitted_total",
		Help: "Requests that passed auth and rate-limit admission.",
	})
	requestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_rejected_total",
		Help: "Requests rejected for exceeding their rate-limit quota.",
	})
	requestsMissingKey = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_missing_key_total",
		Help: "Requests rejected for missing the x-api-key header.",
	})
	replicationCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_replication_cursor",
		Help: "The account store's current max_change_id watermark.",
	})
	replicationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_replication_errors_total",
		Help: "Delta batches that failed to apply and were retried.",
	})
	usageFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_usage_flush_errors_total",
		Help: "Usage snapshot writes that failed.",
	})
	usageRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_usage_rows_written_total",
		Help: "Usage rows successfully written to snapshot files.",
	})
)

// ObserveAdmitted increments the admitted-request counter.
func ObserveAdmitted() { requestsAdmitted.Inc() }

// ObserveRejected increments the rate-limit-rejected counter.
func ObserveRejected() { requestsRejected.Inc() }

// ObserveMissingKey increments the missing-key counter.
func ObserveMissingKey() { requestsMissingKey.Inc() }

// ObserveReplicationCursor sets the replication cursor gauge.
func ObserveReplicationCursor(cursor int64) { replicationCursor.Set(float64(cursor)) }

// ObserveReplicationError increments the replication-error counter.
func ObserveReplicationError() { replicationErrors.Inc() }

// ObserveUsageFlushError increments the usage-flush-error counter.
func ObserveUsageFlushError() { usageFlushErrors.Inc() }

// ObserveUsageRowsWritten adds n to the usage-rows-written counter.
func ObserveUsageRowsWritten(n int) { usageRowsWritten.Add(float64(n)) }

// ServeMetrics starts a dedicated /metrics endpoint on addr and blocks until
// ctx is cancelled or the listener errors. Call it from its own goroutine.
func ServeMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info().Str("addr", addr).Msg("shutting down metrics endpoint")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
