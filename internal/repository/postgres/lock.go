package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"hash/fnv"

	"github.com/rs/zerolog/log"
)

// AdvisoryLock is a session level pg_try_advisory_lock held on a pinned
// connection. Every process sharing the database sees it, so it keeps a
// one-off pass from overlapping a running scheduler.
type AdvisoryLock struct {
	db  *DB
	key int64
}

func NewAdvisoryLock(db *DB, name string) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: advisoryKey(name)}
}

// advisoryKey maps a lock name onto the bigint key space of advisory locks
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (l *AdvisoryLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	// session locks belong to the connection, so it stays out of the pool
	// until release
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to pin connection for advisory lock: %w", err)
	}

	var ok bool
	if err := conn.GetContext(ctx, &ok, `SELECT pg_try_advisory_lock($1)`, l.key); err != nil {
		conn.Close()
		return nil, false, classify("take advisory lock", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
			log.Warn().Err(err).Int64("key", l.key).Msg("failed to release advisory lock")
			// a connection still holding the lock must not go back to the pool
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return release, true, nil
}
