// Package app wires the cadence engine from configuration for the service binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"example.com/cadence/internal/cadence"
	"example.com/cadence/internal/config"
	"example.com/cadence/internal/notify"
	"example.com/cadence/internal/persistence/postgres"
)

// OpenPool connects to Postgres and verifies the connection.
func OpenPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// OpenLockPool opens the pool reserved for advisory locks, or returns nil when they are disabled.
// Lock holders keep a connection for a whole advance, so they must not share the store's pool.
func OpenLockPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if !cfg.AdvisoryLock {
		return nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.LockPoolMaxConns)
	poolCfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect lock pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping lock pool: %w", err)
	}
	return pool, nil
}

// Notifier builds the configured tasks-changed notifiers.
func Notifier(cfg config.NotifierConfig, pool *pgxpool.Pool) notify.Notifier {
	var fanout notify.Fanout
	if cfg.Outbox {
		fanout = append(fanout, notify.NewOutboxNotifier(pool))
	}
	if cfg.WebhookURL != "" {
		fanout = append(fanout, notify.NewHTTPNotifier(cfg.WebhookURL, cfg.WebhookToken, cfg.WebhookTimeout))
	}
	switch len(fanout) {
	case 0:
		return notify.NoopNotifier{}
	case 1:
		return fanout[0]
	default:
		return fanout
	}
}

// NewService builds the cadence service on Postgres. Advances of one lead are serialised in
// process, and across replicas too when lockPool is non-nil.
func NewService(cfg config.Config, pool, lockPool *pgxpool.Pool, logger logrus.FieldLogger) *cadence.Service {
	locker := cadence.LayeredLocker{cadence.NewKeyedLocker()}
	if lockPool != nil {
		locker = append(locker, postgres.NewAdvisoryLocker(lockPool))
	}

	return cadence.NewService(
		postgres.NewStore(pool),
		[]cadence.GeneratorOption{cadence.WithGeneratorLogger(logger.WithField("component", "generator"))},
		cadence.WithLogger(logger.WithField("component", "orchestrator")),
		cadence.WithNotifier(Notifier(cfg.Notifier, pool)),
		cadence.WithLocker(locker),
	)
}
