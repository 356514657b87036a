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

	"example.com/cadence/internal/api"
	"example.com/cadence/internal/app"
	"example.com/cadence/internal/auth"
	"example.com/cadence/internal/config"
	"example.com/cadence/internal/logging"
	"example.com/cadence/internal/outbox"
	httptransport "example.com/cadence/internal/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger, err := logging.New(cfg.Log, "api")
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

	producer := outbox.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.BatchTimeout)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize,
		outbox.WithDispatcherLogger(logger.WithField("component", "outbox_dispatcher")))

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	go dispatcher.Start(dispatchCtx)

	service := app.NewService(cfg, pool, lockPool, logger)

	handler := api.NewHandler(service, logger.WithField("component", "api"))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	requestLog := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Debug("request")
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), requestLog(authMiddleware.Wrap(mux)))

	go func() {
		logger.WithField("address", cfg.HTTPAddress).Info("cadence api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}

	// In-flight requests may still be writing outbox rows until Shutdown returns.
	cancelDispatch()
	dispatcher.Wait()
}
