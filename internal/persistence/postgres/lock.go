package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	minLockPoll = 10 * time.Millisecond
	maxLockPoll = 500 * time.Millisecond
)

// AdvisoryLocker serialises advances of one lead across replicas with a session-level advisory lock.
// A held lock pins one connection for the whole walk, so pool must not be the store's pool: the
// walk's own transactions would then compete with lock holders for the same connections.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker constructs an AdvisoryLocker on a pool reserved for locking.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// Lock polls pg_try_advisory_lock until the lead's lock is held or ctx is done. Waiters hold no
// connection between attempts. The returned func releases the lock and returns the connection.
func (l *AdvisoryLocker) Lock(ctx context.Context, tenantID, leadID string) (func(), error) {
	key := "cadence:" + tenantID + ":" + leadID
	delay := minLockPoll
	for {
		unlock, err := l.tryLock(ctx, key)
		if err != nil || unlock != nil {
			return unlock, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxLockPoll {
			delay = maxLockPoll
		}
	}
}

// tryLock returns a nil unlock func and nil error when another session holds key.
func (l *AdvisoryLocker) tryLock(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, err
	}
	if !locked {
		conn.Release()
		return nil, nil
	}

	return func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			// A session we cannot unlock must not go back to the pool holding the lock.
			_ = conn.Conn().Close(context.WithoutCancel(ctx))
		}
		conn.Release()
	}, nil
}
