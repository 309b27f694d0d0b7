package recommendation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/events"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/pkg/logger"
	"github.com/ignite/bidguard/internal/repository"
	"github.com/ignite/bidguard/internal/safety"
)

// ActorSystem marks transitions made by the service itself.
const ActorSystem = "system"

// valueTolerance is how far the live value may drift from the value a
// recommendation was computed against before approval is refused.
const valueTolerance = 0.005

// Service runs lifecycle transitions. Every transition holds the entity
// lock and runs in one store transaction. It is safe for concurrent use.
type Service struct {
	store     repository.Store
	locker    distlock.Locker
	gate      *safety.Gate
	publisher events.Publisher
	cfg       *config.Config
	now       func() time.Time
}

// NewService wires the lifecycle manager. A nil publisher logs events.
func NewService(store repository.Store, locker distlock.Locker, pub events.Publisher, cfg *config.Config) *Service {
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &Service{
		store:     store,
		locker:    locker,
		gate:      safety.NewGate(cfg.Safety),
		publisher: pub,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Get returns one recommendation.
func (s *Service) Get(ctx context.Context, id string) (*domain.Recommendation, error) {
	r, err := s.store.GetRecommendation(ctx, id)
	if err != nil {
		return nil, domain.Persistence("get recommendation", err)
	}
	return r, nil
}

// List returns recommendations matching f, newest first.
func (s *Service) List(ctx context.Context, f repository.RecommendationFilter) ([]domain.Recommendation, error) {
	out, err := s.store.ListRecommendations(ctx, f)
	if err != nil {
		return nil, domain.Persistence("list recommendations", err)
	}
	return out, nil
}

// GetChange returns one change-log entry.
func (s *Service) GetChange(ctx context.Context, id string) (*domain.ChangeLogEntry, error) {
	e, err := s.store.GetChange(ctx, id)
	if err != nil {
		return nil, domain.Persistence("get change", err)
	}
	return e, nil
}

// ListChanges returns change-log entries matching f, newest first.
func (s *Service) ListChanges(ctx context.Context, f repository.ChangeFilter) ([]domain.ChangeLogEntry, error) {
	out, err := s.store.ListChanges(ctx, f)
	if err != nil {
		return nil, domain.Persistence("list changes", err)
	}
	return out, nil
}

// Create persists r as PENDING. Older pending recommendations for the same
// entity and adjustment type are rejected as superseded by r.
func (s *Service) Create(ctx context.Context, r *domain.Recommendation) (*domain.Recommendation, error) {
	if !r.EntityType.Valid() || r.EntityID == "" {
		return nil, ErrInvalidEntity
	}
	if !r.AdjustmentType.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnknownAdjType, r.AdjustmentType)
	}

	rec := *r
	rec.ID = uuid.New().String()
	rec.Status = domain.StatusPending
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	ref := rec.Ref()

	var superseded int
	err := safety.WithEntity(ctx, s.locker, s.cfg.Safety.LockWait(), ref, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			older, err := tx.PendingFor(ctx, ref, rec.AdjustmentType)
			if err != nil {
				return err
			}
			at := s.now()
			for i := range older {
				o := older[i]
				o.Status = domain.StatusRejected
				o.SupersededBy = rec.ID
				o.DecidedBy = ActorSystem
				o.DecidedAt = &at
				if err := tx.UpdateRecommendation(ctx, &o); err != nil {
					return err
				}
			}
			superseded = len(older)
			return tx.InsertRecommendation(ctx, &rec)
		})
	})
	if err != nil {
		return nil, domain.Persistence("create recommendation", err)
	}

	countTransition(string(domain.StatusPending), ActorSystem)
	if superseded > 0 {
		countTransition("superseded", ActorSystem)
		logger.Info("superseded pending recommendations", "entity", ref.Key(), "count", superseded, "by", rec.ID)
	}
	return &rec, nil
}

// Approve moves a pending recommendation straight to APPLIED: the gate is
// re-checked, the live value is updated and the change is logged.
// Approving an already applied or evaluated recommendation succeeds without
// doing anything.
func (s *Service) Approve(ctx context.Context, id, actor string) Result {
	cur, err := s.store.GetRecommendation(ctx, id)
	if err != nil {
		return Failed(id, domain.Persistence("get recommendation", err))
	}
	ref := cur.Ref()

	var (
		rec     *domain.Recommendation
		change  *domain.ChangeLogEntry
		gate    *domain.GateState
		applied bool
	)
	err = safety.WithEntity(ctx, s.locker, s.cfg.Safety.LockWait(), ref, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			r, err := tx.RecommendationForUpdate(ctx, id)
			if err != nil {
				return err
			}
			switch r.Status {
			case domain.StatusApplied, domain.StatusEvaluated:
				existing, err := tx.AppliedChange(ctx, id)
				if err != nil {
					return err
				}
				rec, change = r, existing
				return nil
			case domain.StatusPending:
			default:
				return domain.Conflict("approve", "recommendation "+id, string(r.Status), "")
			}

			now := s.now()
			st, err := tx.GateStateForUpdate(ctx, ref)
			if err != nil {
				return err
			}
			next, err := s.gate.Admit(st, now)
			if err != nil {
				return err
			}
			next.Entity = ref
			next.UpdatedAt = now

			live, err := tx.EntityValuesForUpdate(ctx, ref)
			if err != nil {
				return err
			}
			// The first change to an entity adopts the value the provider
			// reported when the recommendation was built.
			old := r.CurrentValue
			if live.Owned(r.AdjustmentType) {
				old = live.Value(r.AdjustmentType)
				if math.Abs(old-r.CurrentValue) > valueTolerance {
					return domain.Conflict("approve", "recommendation "+id, string(r.Status),
						fmt.Sprintf("live value %.2f no longer matches %.2f", old, r.CurrentValue))
				}
			}

			evalAt := now.Add(s.cfg.Outcome.MaturationWindow())
			e := &domain.ChangeLogEntry{
				ID:               uuid.New().String(),
				RecommendationID: r.ID,
				Entity:           ref,
				AdjustmentType:   r.AdjustmentType,
				OldValue:         old,
				NewValue:         r.RecommendedValue,
				TriggeredBy:      string(r.PrimaryRule()),
				Actor:            actor,
				Timestamp:        now,
				EvaluateAfter:    &evalAt,
				BaselineMetric:   r.Metric,
				BaselineValue:    r.MetricValue,
				BaselineTarget:   r.MetricTarget,
				BaselineSales:    r.BaselineSales,
				OutcomeLabel:     domain.OutcomePending,
			}
			if err := tx.SetEntityValue(ctx, ref, r.AdjustmentType, r.RecommendedValue); err != nil {
				return err
			}
			if err := tx.InsertChange(ctx, e); err != nil {
				return err
			}
			if err := tx.SaveGateState(ctx, next); err != nil {
				return err
			}
			r.Status = domain.StatusApplied
			r.DecidedBy = actor
			r.DecidedAt = &now
			r.AppliedAt = &now
			r.EvaluateAfter = &evalAt
			if err := tx.UpdateRecommendation(ctx, r); err != nil {
				return err
			}
			rec, change, gate, applied = r, e, next, true
			return nil
		})
	})
	if err != nil {
		return Failed(id, domain.Persistence("approve recommendation", err))
	}

	if applied {
		countTransition(string(domain.StatusApplied), actor)
		logger.Info("recommendation applied", "id", id, "entity", ref.Key(),
			"adjustment_type", string(rec.AdjustmentType), "old_value", change.OldValue,
			"new_value", change.NewValue, "actor", actor)
		s.publish(ctx, events.ChangeApplied, change)
	}
	return Result{ID: id, OK: true, Recommendation: rec, Change: change, GateState: gate}
}

// Reject closes a pending recommendation. Rejecting twice is a no-op.
func (s *Service) Reject(ctx context.Context, id, actor string) Result {
	var (
		rec     *domain.Recommendation
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.RecommendationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch r.Status {
		case domain.StatusRejected:
			rec = r
			return nil
		case domain.StatusPending:
		default:
			return domain.Conflict("reject", "recommendation "+id, string(r.Status), "")
		}
		now := s.now()
		r.Status = domain.StatusRejected
		r.DecidedBy = actor
		r.DecidedAt = &now
		if err := tx.UpdateRecommendation(ctx, r); err != nil {
			return err
		}
		rec, changed = r, true
		return nil
	})
	if err != nil {
		return Failed(id, domain.Persistence("reject recommendation", err))
	}
	if changed {
		countTransition(string(domain.StatusRejected), actor)
		logger.Info("recommendation rejected", "id", id, "actor", actor)
	}
	return Result{ID: id, OK: true, Recommendation: rec}
}

// Revert undoes the change recorded by changeID with a new entry that
// restores the old value. The revert counts toward the entity's cooldown.
func (s *Service) Revert(ctx context.Context, changeID, actor string) Result {
	orig, err := s.store.GetChange(ctx, changeID)
	if err != nil {
		return Failed(changeID, domain.Persistence("get change", err))
	}
	ref := orig.Entity

	var (
		rec    *domain.Recommendation
		change *domain.ChangeLogEntry
		gate   *domain.GateState
	)
	err = safety.WithEntity(ctx, s.locker, s.cfg.Safety.LockWait(), ref, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			e, err := tx.ChangeForUpdate(ctx, changeID)
			if err != nil {
				return err
			}
			if e.IsRevert() {
				return domain.Conflict("revert", "change "+changeID, "revert", "a revert cannot be reverted")
			}
			r, err := tx.RecommendationForUpdate(ctx, e.RecommendationID)
			if err != nil {
				return err
			}
			if r.Status != domain.StatusApplied && r.Status != domain.StatusEvaluated {
				return domain.Conflict("revert", "change "+changeID, string(r.Status), "")
			}
			// Only the change that set the live value may be undone.
			live, err := tx.EntityValuesForUpdate(ctx, ref)
			if err != nil {
				return err
			}
			if cur := live.Value(e.AdjustmentType); math.Abs(cur-e.NewValue) > valueTolerance {
				return domain.Conflict("revert", "change "+changeID, string(r.Status),
					fmt.Sprintf("value changed by a later change: live %.2f, change set %.2f", cur, e.NewValue))
			}

			now := s.now()
			st, err := tx.GateStateForUpdate(ctx, ref)
			if err != nil {
				return err
			}
			st.Entity = ref
			st.LastAdjustmentAt = &now
			st.UpdatedAt = now

			undo := &domain.ChangeLogEntry{
				ID:               uuid.New().String(),
				RecommendationID: r.ID,
				Entity:           ref,
				AdjustmentType:   e.AdjustmentType,
				OldValue:         e.NewValue,
				NewValue:         e.OldValue,
				TriggeredBy:      domain.TriggeredByHuman,
				Actor:            actor,
				Timestamp:        now,
				RevertsEntryID:   e.ID,
				OutcomeLabel:     domain.OutcomePending,
			}
			if err := tx.SetEntityValue(ctx, ref, e.AdjustmentType, e.OldValue); err != nil {
				return err
			}
			if err := tx.InsertChange(ctx, undo); err != nil {
				return err
			}
			if err := tx.SaveGateState(ctx, st); err != nil {
				return err
			}
			r.Status = domain.StatusReverted
			if err := tx.UpdateRecommendation(ctx, r); err != nil {
				return err
			}
			rec, change, gate = r, undo, st
			return nil
		})
	})
	if err != nil {
		return Failed(changeID, domain.Persistence("revert change", err))
	}

	countTransition(string(domain.StatusReverted), actor)
	logger.Info("change reverted", "change_id", changeID, "entity", ref.Key(),
		"restored_value", change.NewValue, "actor", actor)
	s.publish(ctx, events.ChangeReverted, change)
	return Result{ID: changeID, OK: true, Recommendation: rec, Change: change, GateState: gate}
}

// BulkApprove approves each id independently. One failure never affects
// the others.
func (s *Service) BulkApprove(ctx context.Context, ids []string, actor string) ([]Result, error) {
	if len(ids) == 0 {
		return nil, ErrNoIDs
	}
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Approve(ctx, id, actor))
	}
	return out, nil
}

// Eligible reports whether autopilot may approve r without a human.
func (s *Service) Eligible(r *domain.Recommendation) bool {
	ap := s.cfg.Autopilot
	return ap.Enabled && r.Priority != domain.PriorityCritical && r.Confidence >= ap.MinConfidence
}

func (s *Service) publish(ctx context.Context, t events.Type, e *domain.ChangeLogEntry) {
	if err := s.publisher.Publish(ctx, events.FromChange(t, e)); err != nil {
		logger.Warn("change event not published", "type", string(t), "change_id", e.ID, "error", err)
	}
}
