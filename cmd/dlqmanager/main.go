package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"example.com/cadence/internal/app"
	"example.com/cadence/internal/config"
	"example.com/cadence/internal/consumer"
	"example.com/cadence/internal/events"
	"example.com/cadence/internal/logging"
	"example.com/cadence/internal/outbox"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger, err := logging.New(cfg.Log, "dlqmanager")
	if err != nil {
		logrus.WithError(err).Fatal("invalid log configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := app.OpenPool(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("postgres unavailable")
	}
	defer pool.Close()

	lockPool, err := app.OpenLockPool(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("postgres lock pool unavailable")
	}
	if lockPool != nil {
		defer lockPool.Close()
	}

	// Parked triggers are replayed through the engine itself.
	service := app.NewService(cfg, pool, lockPool, logger)
	replayer := consumer.NewAdvanceHandler(service, logger.WithField("component", "advance_handler"))

	manager := outbox.NewDLQManager(pool, cfg.DLQ.MaxRetries, cfg.DLQ.BaseDelay, logger.WithField("component", "dlq_manager"),
		outbox.WithReplayer(events.LeadStageChangedType, replayer.Replay))

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("address", cfg.MetricsAddress).Info("dlq manager metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	ticker := time.NewTicker(cfg.DLQ.PollInterval)
	defer ticker.Stop()

	logger.WithFields(logrus.Fields{
		"interval":    cfg.DLQ.PollInterval.String(),
		"max_retries": cfg.DLQ.MaxRetries,
	}).Info("dlq manager started")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			processed, err := manager.RunOnce(ctx, cfg.DLQ.BatchSize)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("dlq run failed")
			}
			if processed > 0 {
				logger.WithField("processed", processed).Info("dlq entries handled")
			}
		}
	}

	logger.Info("dlq manager shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics server shutdown error")
	}
}
