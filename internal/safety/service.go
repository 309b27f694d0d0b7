package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/pkg/logger"
	"github.com/ignite/bidguard/internal/repository"
)

// WithEntity runs fn while holding the entity's distributed lock. Failure
// to take the lock is reported as a retryable persistence error.
func WithEntity(ctx context.Context, locker distlock.Locker, wait time.Duration, ref domain.EntityRef, fn func() error) error {
	err := distlock.WithLock(ctx, locker.Lock("entity:"+ref.Key()), wait, fn)
	if errors.Is(err, distlock.ErrLock) {
		return domain.Persistence("lock "+ref.Key(), err)
	}
	return err
}

// Service exposes the operator lock actions. It is safe for concurrent use.
type Service struct {
	store  repository.Store
	locker distlock.Locker
	cfg    config.SafetyConfig
	now    func() time.Time
}

// NewService creates the operator-facing safety service.
func NewService(store repository.Store, locker distlock.Locker, cfg config.SafetyConfig) *Service {
	return &Service{store: store, locker: locker, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// State returns the current gate state of an entity.
func (s *Service) State(ctx context.Context, ref domain.EntityRef) (*domain.GateState, error) {
	st, err := s.store.GateState(ctx, ref)
	if err != nil {
		return nil, domain.Persistence("get gate state", err)
	}
	return st, nil
}

// Lock suppresses engine changes for ref for the given number of days.
// Locking an already locked entity replaces the expiry and reason.
func (s *Service) Lock(ctx context.Context, ref domain.EntityRef, days int, reason string) (*domain.GateState, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: lock days must be > 0, got %d", domain.ErrInvalidInput, days)
	}
	if !ref.Type.Valid() || ref.ID == "" {
		return nil, fmt.Errorf("%w: invalid entity %q/%q", domain.ErrInvalidInput, ref.Type, ref.ID)
	}

	var out *domain.GateState
	err := WithEntity(ctx, s.locker, s.cfg.LockWait(), ref, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			st, err := tx.GateStateForUpdate(ctx, ref)
			if err != nil {
				return err
			}
			now := s.now()
			exp := now.Add(time.Duration(days) * 24 * time.Hour)
			st.Entity = ref
			st.IsLocked = true
			st.LockExpiresAt = &exp
			st.LockReason = reason
			st.UpdatedAt = now
			if err := tx.SaveGateState(ctx, st); err != nil {
				return err
			}
			out = st
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("entity locked", "entity", ref.Key(), "days", days, "reason", reason)
	return out, nil
}

// Unlock lifts an operator lock immediately, whatever its remaining time.
// Unlocking an entity that is not locked is a state conflict.
func (s *Service) Unlock(ctx context.Context, ref domain.EntityRef) (*domain.GateState, error) {
	var out *domain.GateState
	err := WithEntity(ctx, s.locker, s.cfg.LockWait(), ref, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			st, err := tx.GateStateForUpdate(ctx, ref)
			if err != nil {
				return err
			}
			if !st.IsLocked {
				return domain.Conflict("unlock", ref.Key(), "unlocked", "entity is not locked")
			}
			st.Entity = ref
			st.IsLocked = false
			st.LockExpiresAt = nil
			st.LockReason = ""
			st.UpdatedAt = s.now()
			if err := tx.SaveGateState(ctx, st); err != nil {
				return err
			}
			out = st
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("entity unlocked", "entity", ref.Key())
	return out, nil
}
