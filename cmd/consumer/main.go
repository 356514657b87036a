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
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"example.com/cadence/internal/app"
	"example.com/cadence/internal/config"
	"example.com/cadence/internal/consumer"
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
	logger, err := logging.New(cfg.Log, "consumer")
	if err != nil {
		logrus.WithError(err).Fatal("invalid log configuration")
	}
	if len(cfg.Kafka.TriggerTopics) == 0 {
		logger.Fatal("kafka.trigger_topics is empty")
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

	service := app.NewService(cfg, pool, lockPool, logger)
	handler := consumer.NewAdvanceHandler(service, logger.WithField("component", "advance_handler"))
	deadLetter := consumer.NewDLQDeadLetter(outbox.NewDLQWriter(pool))

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("address", cfg.MetricsAddress).Info("consumer metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, topic := range cfg.Kafka.TriggerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         cfg.Kafka.GroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler,
			consumer.WithLogger(logger.WithFields(logrus.Fields{"component": "consumer", "topic": topic})),
			consumer.WithRetry(cfg.Kafka.RetryAttempts, cfg.Kafka.RetryDelay),
			consumer.WithDeadLetter(deadLetter),
		)

		group.Go(func() error {
			defer reader.Close()
			logger.WithFields(logrus.Fields{"topic": topic, "group": cfg.Kafka.GroupID}).Info("consumer started")
			if err := proc.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	runErr := group.Wait()
	logger.Info("consumer shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics server shutdown error")
	}

	// A processor stops on a message it could neither handle nor dead-letter. Exiting non-zero
	// gets the process restarted, and the group resumes from that message's offset.
	if runErr != nil {
		logger.WithError(runErr).Fatal("consumer stopped with error")
	}
}
