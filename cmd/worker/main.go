package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/policy-copilot/internal/bootstrap"
	"github.com/kirillkom/policy-copilot/internal/config"
	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/observability/logging"
	"github.com/kirillkom/policy-copilot/internal/observability/metrics"
)

const serviceName = "policy-worker"

// The worker consumes search audit events and records them for offline evaluation.
func main() {
	cfg, err := config.LoadWithDotEnv()
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewSearchAuditWorker(cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err.Error())
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Events.SubscribeSearchEvents(ctx, func(_ context.Context, event domain.SearchEvent) error {
		start := time.Now()
		workerMetrics.StartEvent()
		if !event.CreatedAt.IsZero() {
			workerMetrics.ObserveEventLag(start.Sub(event.CreatedAt))
		}

		slog.Info("search_audit_event",
			"request_id", event.RequestID,
			"strategy", string(event.Strategy),
			"org", event.Filters.Org,
			"orgs", event.Filters.Orgs,
			"policy_type", event.Filters.PolicyType,
			"result_count", event.ResultCount,
			"rerank_applied", event.RerankApplied,
			"warning", event.Warning,
			"duration_ms", event.DurationMS,
		)

		workerMetrics.FinishEvent(event, time.Since(start), nil)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker_subscribe_failed", "error", err.Error())
		os.Exit(1)
	}
}
