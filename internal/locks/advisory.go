package locks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Lock is a database-native named mutex. The lock key is the FNV-1a 64-bit
// hash of the textual name; the session scope is a dedicated pooled
// connection held for the lock's lifetime, so a crashed holder releases
// implicitly when its session dies.
//
// Names in use:
//
//	wp4odoo_sync_{blogID}              global scheduler lock
//	wp4odoo_sync_{blogID}_{module}     per-module scheduler lock
//	wp4odoo_push_{sha256(m|e|id)}      per-entity create serialization
//	wp4odoo_batch_{module}_{model}     batch-create lock
//	wp4odoo_partner_{sha256(email)}    ancillary partner creation
//	wp4odoo_cb_probe, wp4odoo_cb_failure  breaker internals
type Lock struct {
	pool    *pgxpool.Pool
	name    string
	key     int64
	timeout time.Duration

	conn *pgxpool.Conn
}

// New builds a lock handle. timeout = 0 means a single non-blocking try.
func New(pool *pgxpool.Pool, name string, timeout time.Duration) *Lock {
	return &Lock{
		pool:    pool,
		name:    name,
		key:     Key(name),
		timeout: timeout,
	}
}

// Key hashes a lock name into the 64-bit advisory keyspace.
func Key(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// EntityKey builds the per-entity push lock name from the identity tuple.
func EntityKey(module, entityType string, localID uint64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", module, entityType, localID))
	return "wp4odoo_push_" + hex.EncodeToString(sum[:])
}

// Acquire takes the lock, polling pg_try_advisory_lock until the timeout.
// Returns false without error when somebody else holds it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn for lock %q: %w", l.name, err)
	}

	deadline := time.Now().Add(l.timeout)

	for {
		var got bool
		err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&got)
		if err != nil {
			conn.Release()
			return false, fmt.Errorf("try lock %q: %w", l.name, err)
		}
		if got {
			l.conn = conn
			return true, nil
		}

		if l.timeout <= 0 || time.Now().After(deadline) {
			conn.Release()
			return false, nil
		}

		select {
		case <-ctx.Done():
			conn.Release()
			return false, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (l *Lock) IsHeld() bool {
	return l.conn != nil
}

// Release unlocks and returns the session to the pool. Idempotent; reports
// whether the database actually held the lock for this session.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	if l.conn == nil {
		return false, nil
	}

	var released bool
	err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released)
	l.conn.Release()
	l.conn = nil

	if err != nil {
		return false, fmt.Errorf("unlock %q: %w", l.name, err)
	}
	return released, nil
}

// Factory hands out locks bound to one pool, and offers the scoped-block
// helper most call sites want.
type Factory struct {
	pool *pgxpool.Pool
}

func NewFactory(pool *pgxpool.Pool) *Factory {
	return &Factory{pool: pool}
}

func (f *Factory) New(name string, timeout time.Duration) *Lock {
	return New(f.pool, name, timeout)
}

// WithLock runs fn while holding the named lock, releasing on every exit
// path. Returns false when the lock was not available within the timeout.
func (f *Factory) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error) {
	l := f.New(name, timeout)
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer l.Release(context.WithoutCancel(ctx))

	return true, fn(ctx)
}
