package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLock is wrapped by every acquisition failure from WithLock.
	ErrLock = errors.New("lock unavailable")
	// ErrBusy is returned by WithLock when the lock could not be taken before
	// the wait deadline. Callers may retry the whole operation.
	ErrBusy = fmt.Errorf("%w: busy", ErrLock)
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Locker hands out a fresh lock instance per key.
type Locker interface {
	Lock(key string) DistLock
}

// NewLocker picks the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks, and to an in-process
// keyed mutex when neither is configured.
func NewLocker(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Locker {
	switch {
	case redisClient != nil:
		return &RedisLocker{client: redisClient, ttl: ttl}
	case db != nil:
		return &PGLocker{db: db}
	}
	return NewLocalLocker()
}

// WithLock acquires l, runs fn and releases l. Acquisition is retried with
// a short backoff until wait elapses, after which ErrBusy is returned.
func WithLock(ctx context.Context, l DistLock, wait time.Duration, fn func() error) error {
	deadline := time.Now().Add(wait)
	backoff := 10 * time.Millisecond
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLock, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return ErrBusy
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrLock, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
	defer func() {
		// Release on a fresh context so a cancelled caller still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Release(rctx)
	}()
	return fn()
}

// RedisLocker creates RedisLocks sharing one client.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// Lock returns a new Redis lock for key.
func (r *RedisLocker) Lock(key string) DistLock {
	return NewRedisLock(r.client, key, r.ttl)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped,
// so acquire and release must run on the same pinned connection.
// The lock is automatically released if the DB connection drops, providing
// crash-safety similar to Redis TTL expiration.

// PGLocker creates advisory locks on one database.
type PGLocker struct {
	db *sql.DB
}

// Lock returns a new advisory lock for key.
func (p *PGLocker) Lock(key string) DistLock {
	return NewPGAdvisoryLock(p.db, key)
}

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns the connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}

// =============================================================================
// In-process keyed mutex (single instance, tests and local runs)
// =============================================================================

// LocalLocker serializes keys within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// Lock returns a lock for key backed by this locker.
func (ll *LocalLocker) Lock(key string) DistLock {
	return &localLock{parent: ll, key: key}
}

type localLock struct {
	parent *LocalLocker
	key    string
	owned  bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.parent.held[l.key] {
		return false, nil
	}
	l.parent.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.owned {
		delete(l.parent.held, l.key)
		l.owned = false
	}
	return nil
}
