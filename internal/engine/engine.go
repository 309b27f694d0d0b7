// Package engine runs evaluation cycles: for every entity the provider
// knows, read a snapshot, evaluate the rule catalog, aggregate signals into
// recommendations, pass them through the safety gate and hand survivors to
// the lifecycle manager. Entities are processed by a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/bidguard/internal/aggregator"
	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/metrics"
	"github.com/ignite/bidguard/internal/pkg/logger"
	"github.com/ignite/bidguard/internal/repository"
	"github.com/ignite/bidguard/internal/rules"
	"github.com/ignite/bidguard/internal/safety"
	"github.com/ignite/bidguard/internal/service/recommendation"
)

// StatsSource supplies the learning stats used to weight confidence.
type StatsSource interface {
	RecentStats(ctx context.Context, window time.Duration) (*domain.LearningStats, error)
}

// Notifier is told about the recommendations a cycle created.
type Notifier interface {
	NotifyCritical(ctx context.Context, recs []domain.Recommendation) error
}

// Report summarizes one cycle.
type Report struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Entities     int           `json:"entities"`
	Signals      int           `json:"signals"`
	Insufficient int           `json:"insufficient"`
	GateRejected int           `json:"gate_rejected"`
	Created      int           `json:"created"`
	AutoApproved int           `json:"auto_approved"`
	Errors       int           `json:"errors"`

	Recommendations []domain.Recommendation `json:"recommendations"`
}

// Engine wires the decision pipeline together.
type Engine struct {
	cfg      *config.Config
	provider metrics.Provider
	store    repository.Store
	catalog  rules.Catalog
	agg      *aggregator.Aggregator
	gate     *safety.Gate
	recs     *recommendation.Service
	stats    StatsSource
	notifier Notifier
	now      func() time.Time
}

// New creates an engine. stats and notifier may be nil.
func New(cfg *config.Config, provider metrics.Provider, store repository.Store, recs *recommendation.Service, stats StatsSource, notifier Notifier) *Engine {
	catalog := rules.DefaultCatalog()
	return &Engine{
		cfg:      cfg,
		provider: provider,
		store:    store,
		catalog:  catalog,
		agg:      aggregator.New(cfg, catalog),
		gate:     safety.NewGate(cfg.Safety),
		recs:     recs,
		stats:    stats,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// RunCycle evaluates every entity once. A failure on one entity is counted
// and logged without stopping the others; the cycle itself only fails when
// the entity list cannot be read or ctx is cancelled.
func (e *Engine) RunCycle(ctx context.Context) (*Report, error) {
	start := e.now()
	rep := &Report{StartedAt: start}

	refs, err := e.provider.ListEntities(ctx)
	if err != nil {
		cycleTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	rep.Entities = len(refs)
	stats := e.learningStats(ctx)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Engine.Workers)
	for _, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := e.processEntity(gctx, ref, stats, start)
			mu.Lock()
			rep.merge(res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cycleTotal.WithLabelValues("cancelled").Inc()
		return rep, err
	}

	rep.Duration = e.now().Sub(start)
	cycleTotal.WithLabelValues("ok").Inc()
	cycleDuration.Observe(rep.Duration.Seconds())

	if e.notifier != nil {
		var pending []domain.Recommendation
		for _, r := range rep.Recommendations {
			if r.Status == domain.StatusPending {
				pending = append(pending, r)
			}
		}
		if err := e.notifier.NotifyCritical(ctx, pending); err != nil {
			logger.Warn("critical alert failed", "error", err)
		}
	}

	logger.Info("cycle complete", "entities", rep.Entities, "signals", rep.Signals,
		"created", rep.Created, "auto_approved", rep.AutoApproved,
		"gate_rejected", rep.GateRejected, "insufficient", rep.Insufficient, "errors", rep.Errors)
	return rep, nil
}

func (e *Engine) learningStats(ctx context.Context) *domain.LearningStats {
	if e.stats == nil || !config.On(e.cfg.Learning.Enabled) {
		return nil
	}
	stats, err := e.stats.RecentStats(ctx, e.cfg.Learning.Window())
	if err != nil {
		logger.Warn("learning stats unavailable, using raw confidence", "error", err)
		return nil
	}
	return stats
}

// processEntity runs the pipeline for one entity.
func (e *Engine) processEntity(ctx context.Context, ref domain.EntityRef, stats *domain.LearningStats, now time.Time) *Report {
	rep := &Report{}
	window := domain.WindowEnding(now, e.cfg.Engine.Window())

	snap, err := e.provider.Snapshot(ctx, ref, window)
	if errors.Is(err, domain.ErrDataInsufficient) {
		rep.Insufficient++
		return rep
	}
	if err != nil {
		rep.Errors++
		logger.Warn("snapshot failed", "entity", ref.Key(), "error", err)
		return rep
	}
	if err := e.applyLiveValues(ctx, &snap); err != nil {
		rep.Errors++
		logger.Warn("live values unavailable", "entity", ref.Key(), "error", err)
		return rep
	}

	signals := e.catalog.Evaluate(snap, e.cfg)
	rep.Signals = len(signals)
	if len(signals) == 0 {
		return rep
	}
	candidates := e.agg.Aggregate(snap, signals, stats, now)
	if len(candidates) == 0 {
		return rep
	}

	st, err := e.store.GateState(ctx, ref)
	if err != nil {
		rep.Errors++
		logger.Warn("gate state unavailable", "entity", ref.Key(), "error", err)
		return rep
	}

	for i := range candidates {
		c := &candidates[i]
		if d := e.gate.Check(st, snap, c.Confidence, now); !d.Allowed {
			rep.GateRejected++
			continue
		}
		created, err := e.recs.Create(ctx, c)
		if err != nil {
			rep.Errors++
			logger.Warn("create recommendation failed", "entity", ref.Key(), "error", err)
			continue
		}
		rep.Created++
		recommendationsCreated.WithLabelValues(string(created.AdjustmentType), string(created.Priority)).Inc()

		if e.recs.Eligible(created) {
			res := e.recs.Approve(ctx, created.ID, domain.ActorAutopilot)
			if res.OK {
				rep.AutoApproved++
				created = res.Recommendation
				if res.GateState != nil {
					st = res.GateState
				}
			} else {
				logger.Info("autopilot approval refused", "id", created.ID, "reason", res.Reason)
			}
		}
		rep.Recommendations = append(rep.Recommendations, *created)
	}
	return rep
}

// applyLiveValues overlays the values this system owns on the snapshot.
// Platform-reported values are kept until a value has been recorded here.
func (e *Engine) applyLiveValues(ctx context.Context, s *domain.Snapshot) error {
	v, err := e.store.EntityValues(ctx, s.Entity)
	if err != nil {
		return err
	}
	if v.Bid > 0 {
		s.CurrentBid = v.Bid
	}
	if v.Budget > 0 {
		s.CurrentBudget = v.Budget
	}
	s.Negated = s.Negated || v.Negated
	return nil
}

func (r *Report) merge(o *Report) {
	r.Signals += o.Signals
	r.Insufficient += o.Insufficient
	r.GateRejected += o.GateRejected
	r.Created += o.Created
	r.AutoApproved += o.AutoApproved
	r.Errors += o.Errors
	r.Recommendations = append(r.Recommendations, o.Recommendations...)
}
