// Package worker runs the periodic evaluation cycle and outcome pass.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/bidguard/internal/engine"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/pkg/logger"
	"github.com/ignite/bidguard/internal/service/outcome"
)

const (
	cycleLockKey   = "bidguard:leader:cycle"
	outcomeLockKey = "bidguard:leader:outcome"

	// LeaderTTL is the expiry of a leader lock. Held locks are extended
	// every LeaderTTL/2 while a pass runs.
	LeaderTTL = 2 * time.Minute
)

// CycleRunner runs one evaluation cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*engine.Report, error)
}

// OutcomeRunner runs one outcome pass.
type OutcomeRunner interface {
	RunPass(ctx context.Context) (outcome.Report, error)
}

// extender is implemented by locks that expire unless refreshed.
type extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Scheduler triggers evaluation cycles and outcome passes on fixed
// intervals. Every run takes a leader lock, so with several workers at
// most one runs each pass at a time; a worker that finds the lock held
// skips that tick.
type Scheduler struct {
	cycles          CycleRunner
	outcomes        OutcomeRunner
	locker          distlock.Locker
	cycleInterval   time.Duration
	outcomeInterval time.Duration
	workerID        string

	cyclesRun  int64
	passesRun  int64
	skipped    int64
	errorCount int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewScheduler creates a scheduler. outcomes may be nil for a cycle-only
// deployment.
func NewScheduler(cycles CycleRunner, outcomes OutcomeRunner, locker distlock.Locker, cycleInterval, outcomeInterval time.Duration) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		cycles:          cycles,
		outcomes:        outcomes,
		locker:          locker,
		cycleInterval:   cycleInterval,
		outcomeInterval: outcomeInterval,
		workerID:        fmt.Sprintf("scheduler-%s-%d", host, time.Now().UnixNano()%10000),
	}
}

// Start begins both loops. The first cycle runs immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] %s starting: cycle every %v, outcomes every %v", s.workerID, s.cycleInterval, s.outcomeInterval)

	s.wg.Add(1)
	go s.loop(s.cycleInterval, true, func(ctx context.Context) error {
		_, err := s.RunCycle(ctx)
		return err
	})
	if s.outcomes != nil {
		s.wg.Add(1)
		go s.loop(s.outcomeInterval, false, func(ctx context.Context) error {
			_, err := s.RunOutcomePass(ctx)
			return err
		})
	}
	return nil
}

// Stop cancels the loops and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[Scheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped. Cycles: %d, outcome passes: %d, skipped: %d, errors: %d",
		atomic.LoadInt64(&s.cyclesRun), atomic.LoadInt64(&s.passesRun),
		atomic.LoadInt64(&s.skipped), atomic.LoadInt64(&s.errorCount))
}

func (s *Scheduler) loop(interval time.Duration, immediate bool, run func(context.Context) error) {
	defer s.wg.Done()

	tick := func() {
		err := run(s.ctx)
		switch {
		case err == nil:
		case errors.Is(err, distlock.ErrBusy):
			atomic.AddInt64(&s.skipped, 1)
		case s.ctx.Err() != nil:
		default:
			atomic.AddInt64(&s.errorCount, 1)
			logger.Error("scheduled run failed", "worker", s.workerID, "error", err)
		}
	}

	if immediate {
		tick()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// RunCycle runs one evaluation cycle under the cycle leader lock. It
// returns distlock.ErrBusy when another cycle is in progress.
func (s *Scheduler) RunCycle(ctx context.Context) (*engine.Report, error) {
	var rep *engine.Report
	err := s.leader(ctx, cycleLockKey, func(ctx context.Context) error {
		var err error
		rep, err = s.cycles.RunCycle(ctx)
		return err
	})
	if err == nil {
		atomic.AddInt64(&s.cyclesRun, 1)
	}
	return rep, err
}

// RunOutcomePass runs one outcome pass under the outcome leader lock.
func (s *Scheduler) RunOutcomePass(ctx context.Context) (outcome.Report, error) {
	var rep outcome.Report
	if s.outcomes == nil {
		return rep, fmt.Errorf("outcome pass not configured")
	}
	err := s.leader(ctx, outcomeLockKey, func(ctx context.Context) error {
		var err error
		rep, err = s.outcomes.RunPass(ctx)
		return err
	})
	if err == nil {
		atomic.AddInt64(&s.passesRun, 1)
		logger.Info("outcome pass complete", "due", rep.Due, "evaluated", rep.Evaluated,
			"success", rep.Success, "neutral", rep.Neutral, "failure", rep.Failure, "data_gaps", rep.DataGaps)
	}
	return rep, err
}

// leader runs fn while holding key. The lock is not waited for.
func (s *Scheduler) leader(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l := s.locker.Lock(key)
	return distlock.WithLock(ctx, l, 0, func() error {
		ext, ok := l.(extender)
		if !ok {
			return fn(ctx)
		}
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			t := time.NewTicker(LeaderTTL / 2)
			defer t.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-t.C:
					if err := ext.Extend(runCtx, LeaderTTL); err != nil {
						logger.Warn("leader lock extend failed", "key", key, "error", err)
					}
				}
			}
		}()
		return fn(runCtx)
	})
}

// Stats returns run counters.
func (s *Scheduler) Stats() map[string]int64 {
	return map[string]int64{
		"cycles":         atomic.LoadInt64(&s.cyclesRun),
		"outcome_passes": atomic.LoadInt64(&s.passesRun),
		"skipped":        atomic.LoadInt64(&s.skipped),
		"errors":         atomic.LoadInt64(&s.errorCount),
	}
}
