package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncLockKey is the advisory lock id shared by every process running the IB poller.
const SyncLockKey int64 = 0x1b5c_0001

// AdvisoryLock is a session level pg advisory lock held on one dedicated
// pooled connection for as long as the caller keeps it.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64
}

func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

// TryLock returns ok=false without waiting when another session holds the lock.
func (l *AdvisoryLock) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", l.key)
		conn.Release()
	}
	return release, true, nil
}
