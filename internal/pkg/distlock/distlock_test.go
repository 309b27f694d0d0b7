package distlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	locker := NewLocker(client, nil, 30*time.Second)

	first := locker.Lock("entity:keyword/k1")
	second := locker.Lock("entity:keyword/k1")

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:entity:keyword/k1"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	// A non-owner release leaves the lock in place
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists("lock:entity:keyword/k1"))

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("lock:entity:keyword/k1"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "cycle", time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	other := NewRedisLock(client, "cycle", time.Second)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Extend(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "outcome", time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, time.Minute))
	assert.Greater(t, mr.TTL("lock:outcome"), 30*time.Second)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	a := locker.Lock("k")
	b := locker.Lock("k")
	other := locker.Lock("other")

	ok, _ := a.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)
	ok, _ = other.Acquire(ctx)
	assert.True(t, ok, "different keys do not contend")

	require.NoError(t, b.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok, "release by a non-owner is a no-op")

	require.NoError(t, a.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)
}

func TestWithLock_SerializesCallers(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, locker.Lock("entity"), 5*time.Second, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestWithLock_Busy(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	holder := locker.Lock("entity")
	ok, _ := holder.Acquire(ctx)
	require.True(t, ok)

	called := false
	err := WithLock(ctx, locker.Lock("entity"), 30*time.Millisecond, func() error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, ErrBusy))
	assert.True(t, errors.Is(err, ErrLock))
	assert.False(t, called)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "entity:campaign/c1")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLock_NotAcquired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "entity:campaign/c1")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	// Nothing to release
	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
