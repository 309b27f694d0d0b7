package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/events"
	"github.com/ignite/bidguard/internal/metrics"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/repository"
	"github.com/ignite/bidguard/internal/repository/memory"
	"github.com/ignite/bidguard/internal/service/recommendation"
)

var (
	now = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	k1  = domain.EntityRef{Type: domain.EntityKeyword, ID: "k1", Name: "running shoes"}
	k2  = domain.EntityRef{Type: domain.EntityKeyword, ID: "k2", Name: "trail shoes"}
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []domain.Recommendation
}

func (n *recordingNotifier) NotifyCritical(_ context.Context, recs []domain.Recommendation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, recs...)
	return nil
}

type failingStats struct{}

func (failingStats) RecentStats(context.Context, time.Duration) (*domain.LearningStats, error) {
	return nil, errors.New("stats table missing")
}

type harness struct {
	cfg      *config.Config
	store    *memory.Store
	provider *metrics.Static
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Workers = 4
	return &harness{
		cfg:      cfg,
		store:    memory.New(),
		provider: metrics.NewStatic(),
		notifier: &recordingNotifier{},
	}
}

func (h *harness) engine(stats StatsSource) *Engine {
	recs := recommendation.NewService(h.store, distlock.NewLocalLocker(), events.LogPublisher{}, h.cfg)
	recs.SetClock(func() time.Time { return now })
	e := New(h.cfg, h.provider, h.store, recs, stats, h.notifier)
	e.SetClock(func() time.Time { return now })
	return e
}

func overTarget(ref domain.EntityRef) domain.Snapshot {
	return domain.Snapshot{
		Entity: ref, Impressions: 2000, Clicks: 80, Conversions: 5,
		Cost: 35, Sales: 100, CurrentBid: 1.50,
	}
}

func TestRunCycle_CreatesPendingRecommendation(t *testing.T) {
	h := newHarness(t)
	h.provider.Put(overTarget(k1))
	h.store.SeedValues(k1, repository.EntityValues{Bid: 1.50})

	rep, err := h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Entities)
	assert.Equal(t, 1, rep.Created)
	assert.Zero(t, rep.AutoApproved)
	assert.Positive(t, rep.Signals)

	require.Len(t, rep.Recommendations, 1)
	r := rep.Recommendations[0]
	assert.Equal(t, domain.StatusPending, r.Status)
	assert.Equal(t, domain.AdjustBid, r.AdjustmentType)
	assert.InDelta(t, 1.50, r.CurrentValue, 1e-9)
	assert.Less(t, r.RecommendedValue, r.CurrentValue)
	assert.Contains(t, r.RulesTriggered, domain.RuleACOS)

	stored, err := h.store.ListRecommendations(context.Background(), repository.RecommendationFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	assert.Len(t, h.notifier.got, 1, "pending recommendations are offered to the notifier")
}

func TestRunCycle_OverlaysStoredValues(t *testing.T) {
	h := newHarness(t)
	h.provider.Put(overTarget(k1))
	h.store.SeedValues(k1, repository.EntityValues{Bid: 2.00})

	rep, err := h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Recommendations, 1)
	assert.InDelta(t, 2.00, rep.Recommendations[0].CurrentValue, 1e-9)
}

func TestRunCycle_ApproveWithoutStoredValue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.Put(overTarget(k1))

	e := h.engine(nil)
	rep, err := e.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Recommendations, 1)
	r := rep.Recommendations[0]
	assert.InDelta(t, 1.50, r.CurrentValue, 1e-9, "provider value is the baseline")

	res := e.recs.Approve(ctx, r.ID, "dana")
	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 1.50, res.Change.OldValue, 1e-9)
	assert.InDelta(t, r.RecommendedValue, res.Change.NewValue, 1e-9)

	v, err := h.store.EntityValues(ctx, k1)
	require.NoError(t, err)
	assert.InDelta(t, r.RecommendedValue, v.Bid, 1e-9)
}

func TestRunCycle_AutopilotAppliesWithoutStoredValue(t *testing.T) {
	h := newHarness(t)
	h.cfg.Autopilot.Enabled = true
	h.cfg.Autopilot.MinConfidence = 0.1
	h.provider.Put(overTarget(k1))

	rep, err := h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AutoApproved)
	assert.Zero(t, rep.Errors)
}

func TestRunCycle_CountsProviderFailures(t *testing.T) {
	h := newHarness(t)
	h.provider.Put(overTarget(k1))
	h.provider.Put(overTarget(k2))
	h.provider.Put(domain.Snapshot{Entity: domain.EntityRef{Type: domain.EntityKeyword, ID: "k3"}})
	h.provider.Fail(k2, errors.New("warehouse timeout"))
	h.provider.Fail(domain.EntityRef{Type: domain.EntityKeyword, ID: "k3"}, domain.ErrDataInsufficient)

	rep, err := h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Entities)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 1, rep.Insufficient)
	assert.Equal(t, 1, rep.Created, "one failing entity does not stop the others")
}

func TestRunCycle_LockedEntityIsVetoed(t *testing.T) {
	h := newHarness(t)
	h.provider.Put(overTarget(k1))
	until := now.Add(7 * 24 * time.Hour)
	err := h.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.SaveGateState(ctx, &domain.GateState{Entity: k1, IsLocked: true, LockExpiresAt: &until, LockReason: "brand review"})
	})
	require.NoError(t, err)

	rep, err := h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.GateRejected)
	assert.Zero(t, rep.Created)
	assert.Empty(t, h.notifier.got)
}

func TestRunCycle_NoSignalsNoRecommendations(t *testing.T) {
	h := newHarness(t)
	// ACOS 0.30 with ROAS 3.33 sits inside every band.
	h.cfg.Rules.ROAS.Target = 3.3
	h.provider.Put(domain.Snapshot{Entity: k1, Impressions: 2000, Clicks: 80, Conversions: 5, Cost: 30, Sales: 100, CurrentBid: 1})

	rep, err := h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Signals)
	assert.Zero(t, rep.Created)
}

func TestRunCycle_AutopilotApplies(t *testing.T) {
	h := newHarness(t)
	h.cfg.Autopilot.Enabled = true
	h.cfg.Autopilot.MinConfidence = 0.1
	h.provider.Put(overTarget(k1))
	h.store.SeedValues(k1, repository.EntityValues{Bid: 1.50})

	rep, err := h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.AutoApproved)
	r := rep.Recommendations[0]
	assert.Equal(t, domain.StatusApplied, r.Status)
	assert.Equal(t, domain.ActorAutopilot, r.DecidedBy)

	v, err := h.store.EntityValues(context.Background(), k1)
	require.NoError(t, err)
	assert.InDelta(t, r.RecommendedValue, v.Bid, 1e-9)

	changes, err := h.store.ListChanges(context.Background(), repository.ChangeFilter{EntityID: k1.ID})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ActorAutopilot, changes[0].Actor)

	// The next cycle sees the cooldown and holds off.
	rep, err = h.engine(nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Created)
	assert.Equal(t, 1, rep.GateRejected)
}

func TestRunCycle_LearningStatsFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	on := true
	h.cfg.Learning.Enabled = &on
	h.provider.Put(overTarget(k1))

	rep, err := h.engine(failingStats{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
}

func TestRunCycle_Cancelled(t *testing.T) {
	h := newHarness(t)
	h.provider.Put(overTarget(k1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine(nil).RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
