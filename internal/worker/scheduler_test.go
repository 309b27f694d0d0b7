package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/engine"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/service/outcome"
)

type countingCycles struct {
	calls   int64
	block   chan struct{}
	started chan struct{}
	err     error
}

func (c *countingCycles) RunCycle(ctx context.Context) (*engine.Report, error) {
	atomic.AddInt64(&c.calls, 1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &engine.Report{Entities: 1}, nil
}

type countingOutcomes struct{ calls int64 }

func (c *countingOutcomes) RunPass(context.Context) (outcome.Report, error) {
	atomic.AddInt64(&c.calls, 1)
	return outcome.Report{Due: 2, Evaluated: 2, Success: 1, Neutral: 1}, nil
}

func TestRunCycle_LeaderLockSerializes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	locker := distlock.NewLocker(rdb, nil, LeaderTTL)

	cycles := &countingCycles{block: make(chan struct{}), started: make(chan struct{}, 1)}
	a := NewScheduler(cycles, nil, locker, time.Hour, time.Hour)
	b := NewScheduler(cycles, nil, locker, time.Hour, time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := a.RunCycle(context.Background())
		done <- err
	}()
	<-cycles.started

	_, err := b.RunCycle(context.Background())
	assert.ErrorIs(t, err, distlock.ErrBusy)

	close(cycles.block)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), atomic.LoadInt64(&cycles.calls))

	// The lock is free again.
	cycles.started = nil
	rep, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Entities)
}

func TestRunOutcomePass(t *testing.T) {
	outcomes := &countingOutcomes{}
	s := NewScheduler(&countingCycles{}, outcomes, distlock.NewLocalLocker(), time.Hour, time.Hour)

	rep, err := s.RunOutcomePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Evaluated)
	assert.Equal(t, int64(1), s.Stats()["outcome_passes"])

	s = NewScheduler(&countingCycles{}, nil, distlock.NewLocalLocker(), time.Hour, time.Hour)
	_, err = s.RunOutcomePass(context.Background())
	assert.Error(t, err)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	cycles := &countingCycles{}
	outcomes := &countingOutcomes{}
	s := NewScheduler(cycles, outcomes, distlock.NewLocalLocker(), time.Hour, 10*time.Millisecond)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start")

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&cycles.calls) == 1 && atomic.LoadInt64(&outcomes.calls) >= 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Equal(t, int64(1), s.Stats()["cycles"])
}

func TestScheduler_CountsErrors(t *testing.T) {
	cycles := &countingCycles{err: errors.New("provider down")}
	s := NewScheduler(cycles, nil, distlock.NewLocalLocker(), 10*time.Millisecond, time.Hour)
	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return s.Stats()["errors"] >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Zero(t, s.Stats()["cycles"])
}
