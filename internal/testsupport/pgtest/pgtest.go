// Package pgtest starts a throwaway Postgres with the cadence schema for integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/cadence/db/postgres/migrations"
)

const image = "postgres:16-alpine"

// Start runs a Postgres container, applies every migration and returns a pool. The container is
// terminated when the test ends.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), StartURL(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// StartURL is Start for callers that build their own pools. It returns the connection string of
// a migrated database.
func StartURL(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, image,
		postgrescontainer.WithDatabase("crm"),
		postgrescontainer.WithUsername("cadence"),
		postgrescontainer.WithPassword("cadence"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	applied, err := migrations.Apply(ctx, pool)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	return connStr
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
