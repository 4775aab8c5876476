package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WessleyAI/vanfleet/pkg/keylock"
)

const (
	lockSQL   = `SELECT pg_advisory_lock(hashtextextended($1, 0))`
	unlockSQL = `SELECT pg_advisory_unlock(hashtextextended($1, 0))`
)

// lockConn is a pooled connection that holds session-level advisory locks.
type lockConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
	Close(ctx context.Context) error
}

type poolConn struct{ c *pgxpool.Conn }

func (p poolConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.c.Exec(ctx, sql, args...)
}

func (p poolConn) Release() { p.c.Release() }

func (p poolConn) Close(ctx context.Context) error { return p.c.Conn().Close(ctx) }

// AdvisoryLocker is a keylock.Locker shared by every process on the same
// database. Each hold pins one pool connection for its duration; holders in
// the same process queue on a local map first.
type AdvisoryLocker struct {
	acquire func(context.Context) (lockConn, error)
	local   *keylock.Map
}

// NewAdvisoryLocker takes advisory locks on connections from pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return newAdvisoryLocker(func(ctx context.Context) (lockConn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return poolConn{c}, nil
	})
}

func newAdvisoryLocker(acquire func(context.Context) (lockConn, error)) *AdvisoryLocker {
	return &AdvisoryLocker{acquire: acquire, local: keylock.New()}
}

// Acquire blocks until the advisory lock for key is held or ctx is done.
func (l *AdvisoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	conn, err := l.acquire(ctx)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("pgstore: lock %s: acquire conn: %w", key, err)
	}
	if _, err := conn.Exec(ctx, lockSQL, key); err != nil {
		conn.Release()
		unlockLocal()
		return nil, fmt.Errorf("pgstore: lock %s: %w", key, err)
	}

	return func() {
		rctx := context.WithoutCancel(ctx)
		if _, err := conn.Exec(rctx, unlockSQL, key); err != nil {
			// closing the session drops every lock it holds
			_ = conn.Close(rctx)
		}
		conn.Release()
		unlockLocal()
	}, nil
}
