package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/metrics"
	"github.com/ignite/bidguard/internal/pkg/logger"
	"github.com/ignite/bidguard/internal/repository"
)

var outcomesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bidguard_outcomes_recorded_total",
	Help: "Change outcomes recorded by the evaluator, by label.",
}, []string{"label"})

// Report summarizes one evaluation pass.
type Report struct {
	Due       int `json:"due"`
	Evaluated int `json:"evaluated"`
	Success   int `json:"success"`
	Neutral   int `json:"neutral"`
	Failure   int `json:"failure"`
	DataGaps  int `json:"data_gaps"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Service evaluates matured changes and computes learning stats.
type Service struct {
	store    repository.Store
	provider metrics.Provider
	cfg      config.OutcomeConfig
	now      func() time.Time
}

// NewService creates an outcome evaluator.
func NewService(store repository.Store, provider metrics.Provider, cfg config.OutcomeConfig) *Service {
	return &Service{store: store, provider: provider, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RunPass evaluates every due entry once. Per-entry failures are counted
// and logged; only a failure to list due entries aborts the pass.
func (s *Service) RunPass(ctx context.Context) (Report, error) {
	now := s.now()
	due, err := s.store.DueForEvaluation(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return Report{}, domain.Persistence("list due changes", err)
	}

	rep := Report{Due: len(due)}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		e := &due[i]
		o, err := s.evaluate(ctx, e, now)
		switch {
		case errors.Is(err, domain.ErrEvaluatorDataGap):
			rep.DataGaps++
			logger.Debug("outcome data gap", "change_id", e.ID, "error", err)
			continue
		case err != nil:
			rep.Errors++
			logger.Warn("outcome evaluation failed", "change_id", e.ID, "error", err)
			continue
		}

		recorded, err := s.record(ctx, e, o)
		if err != nil {
			rep.Errors++
			logger.Warn("outcome not recorded", "change_id", e.ID, "error", err)
			continue
		}
		if !recorded {
			rep.Skipped++
			continue
		}
		rep.Evaluated++
		switch o.Label {
		case domain.OutcomeSuccess:
			rep.Success++
		case domain.OutcomeNeutral:
			rep.Neutral++
		case domain.OutcomeFailure:
			rep.Failure++
		}
		outcomesRecorded.WithLabelValues(string(o.Label)).Inc()
	}

	logger.Info("outcome pass complete", "due", rep.Due, "evaluated", rep.Evaluated,
		"data_gaps", rep.DataGaps, "errors", rep.Errors)
	return rep, nil
}

// evaluate measures the entry over [applied, applied+maturation].
func (s *Service) evaluate(ctx context.Context, e *domain.ChangeLogEntry, now time.Time) (domain.Outcome, error) {
	end := e.Timestamp.Add(s.cfg.MaturationWindow())
	if now.Before(end) {
		return domain.Outcome{}, domain.ErrEvaluatorDataGap
	}
	post, err := s.provider.Snapshot(ctx, e.Entity, domain.Window{Start: e.Timestamp, End: end})
	if errors.Is(err, domain.ErrDataInsufficient) {
		return domain.Outcome{}, errors.Join(domain.ErrEvaluatorDataGap, err)
	}
	if err != nil {
		return domain.Outcome{}, err
	}
	return Classify(e, post, s.cfg, now)
}

// record writes the outcome and marks the recommendation evaluated in one
// transaction. Entries whose recommendation was reverted meanwhile, or
// that another pass already evaluated, are left alone.
func (s *Service) record(ctx context.Context, e *domain.ChangeLogEntry, o domain.Outcome) (bool, error) {
	var recorded bool
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.RecommendationForUpdate(ctx, e.RecommendationID)
		if err != nil {
			return err
		}
		if r.Status != domain.StatusApplied {
			return nil
		}
		ok, err := tx.RecordOutcome(ctx, e.ID, o)
		if err != nil || !ok {
			return err
		}
		r.Status = domain.StatusEvaluated
		if err := tx.UpdateRecommendation(ctx, r); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, domain.Persistence("record outcome", err)
	}
	return recorded, nil
}

// Stats recomputes learning stats from outcomes evaluated in [from, to).
// Outcomes are attributed to the rule that triggered the change.
func (s *Service) Stats(ctx context.Context, from, to time.Time) (*domain.LearningStats, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: stats range end must be after start", domain.ErrInvalidInput)
	}
	entries, err := s.store.EvaluatedChanges(ctx, from, to)
	if err != nil {
		return nil, domain.Persistence("list evaluated changes", err)
	}
	stats := domain.NewLearningStats(from, to)
	for _, e := range entries {
		if e.IsRevert() || !e.Evaluated() {
			continue
		}
		stats.Record(domain.RuleID(e.TriggeredBy), e.OutcomeLabel)
	}
	return stats, nil
}

// RecentStats returns stats over the trailing window ending now.
func (s *Service) RecentStats(ctx context.Context, window time.Duration) (*domain.LearningStats, error) {
	now := s.now()
	return s.Stats(ctx, now.Add(-window), now.Add(time.Second))
}
