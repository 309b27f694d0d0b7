package outcome_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/metrics"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/repository"
	"github.com/ignite/bidguard/internal/repository/memory"
	"github.com/ignite/bidguard/internal/service/outcome"
	"github.com/ignite/bidguard/internal/service/recommendation"
)

var (
	t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	k1 = domain.EntityRef{Type: domain.EntityKeyword, ID: "k1"}
)

func acosEntry() *domain.ChangeLogEntry {
	return &domain.ChangeLogEntry{
		ID:             "c1",
		Entity:         k1,
		BaselineMetric: domain.MetricACOS,
		BaselineValue:  0.35,
		BaselineTarget: 0.30,
		BaselineSales:  100,
	}
}

func TestClassify_Scenarios(t *testing.T) {
	cfg := config.Default().Outcome
	tests := []struct {
		name  string
		cost  float64
		label domain.OutcomeLabel
		score float64
	}{
		{"moved toward target", 28, domain.OutcomeSuccess, 0.8},
		{"inside noise", 33, domain.OutcomeNeutral, 0.7},
		{"moved away", 40, domain.OutcomeFailure, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := domain.Snapshot{Entity: k1, Cost: tt.cost, Sales: 100}
			o, err := outcome.Classify(acosEntry(), post, cfg, t0)
			require.NoError(t, err)
			assert.Equal(t, tt.label, o.Label)
			assert.InDelta(t, tt.score, o.Score, 1e-9)
			assert.InDelta(t, tt.cost/100, o.PostMetricValue, 1e-9)
			assert.False(t, o.GuardrailBreach)
		})
	}
}

func TestClassify_Guardrail(t *testing.T) {
	cfg := config.Default().Outcome
	// ACOS improves but sales collapse.
	post := domain.Snapshot{Entity: k1, Cost: 11, Sales: 40}
	o, err := outcome.Classify(acosEntry(), post, cfg, t0)
	require.NoError(t, err)
	assert.True(t, o.GuardrailBreach)
	assert.Equal(t, domain.OutcomeFailure, o.Label)
	assert.Zero(t, o.Score)

	noBaseline := acosEntry()
	noBaseline.BaselineSales = 0
	o, err = outcome.Classify(noBaseline, post, cfg, t0)
	require.NoError(t, err)
	assert.False(t, o.GuardrailBreach)
}

func TestClassify_DataGap(t *testing.T) {
	_, err := outcome.Classify(acosEntry(), domain.Snapshot{Entity: k1, Cost: 10}, config.Default().Outcome, t0)
	assert.True(t, errors.Is(err, domain.ErrEvaluatorDataGap))
}

func TestClassify_HigherIsBetterMetric(t *testing.T) {
	e := &domain.ChangeLogEntry{Entity: k1, BaselineMetric: domain.MetricROAS, BaselineValue: 2, BaselineTarget: 4}
	o, err := outcome.Classify(e, domain.Snapshot{Entity: k1, Cost: 10, Sales: 30}, config.Default().Outcome, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, o.Label)
	assert.InDelta(t, 0.5, o.Movement, 1e-9)
}

type fixture struct {
	store    *memory.Store
	provider *metrics.Static
	recs     *recommendation.Service
	svc      *outcome.Service
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	f := &fixture{store: memory.New(), provider: metrics.NewStatic(), clock: t0}
	f.store.SeedValues(k1, repository.EntityValues{Bid: 1.50})
	f.recs = recommendation.NewService(f.store, distlock.NewLocalLocker(), nil, cfg)
	f.recs.SetClock(func() time.Time { return f.clock })
	f.svc = outcome.NewService(f.store, f.provider, cfg.Outcome)
	f.svc.SetClock(func() time.Time { return f.clock })
	return f
}

// apply creates and approves an ACOS bid decrease on ref.
func (f *fixture) apply(t *testing.T, ref domain.EntityRef) recommendation.Result {
	t.Helper()
	r := &domain.Recommendation{
		AdjustmentType:   domain.AdjustBid,
		CurrentValue:     1.50,
		RecommendedValue: 1.35,
		Priority:         domain.PriorityMedium,
		Confidence:       0.5,
		RulesTriggered:   []domain.RuleID{domain.RuleACOS},
		Metric:           domain.MetricACOS,
		MetricValue:      0.35,
		MetricTarget:     0.30,
		BaselineSales:    100,
	}
	r.SetEntity(ref)
	created, err := f.recs.Create(context.Background(), r)
	require.NoError(t, err)
	res := f.recs.Approve(context.Background(), created.ID, "ana")
	require.True(t, res.OK, res.Reason)
	return res
}

func TestRunPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.apply(t, k1)
	f.provider.Put(domain.Snapshot{Entity: k1, Cost: 28, Sales: 100, Impressions: 2000, Clicks: 80, Conversions: 5})

	f.clock = t0.Add(3 * 24 * time.Hour)
	rep, err := f.svc.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Due, "not matured yet")

	f.clock = t0.Add(7 * 24 * time.Hour)
	rep, err = f.svc.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Evaluated)
	assert.Equal(t, 1, rep.Success)

	e, err := f.store.GetChange(ctx, res.Change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, e.OutcomeLabel)
	require.NotNil(t, e.OutcomeScore)
	assert.InDelta(t, 0.8, *e.OutcomeScore, 1e-9)
	require.NotNil(t, e.PostMetricValue)
	assert.InDelta(t, 0.28, *e.PostMetricValue, 1e-9)

	r, err := f.store.GetRecommendation(ctx, res.Recommendation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEvaluated, r.Status)

	// A second pass finds nothing and changes nothing.
	f.provider.Put(domain.Snapshot{Entity: k1, Cost: 40, Sales: 100})
	rep, err = f.svc.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Evaluated)
	again, err := f.store.GetChange(ctx, res.Change.ID)
	require.NoError(t, err)
	assert.Equal(t, e, again)
}

func TestRunPass_DataGapStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.apply(t, k1)
	f.clock = t0.Add(8 * 24 * time.Hour)

	rep, err := f.svc.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DataGaps)

	e, err := f.store.GetChange(ctx, res.Change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, e.OutcomeLabel)

	f.provider.Put(domain.Snapshot{Entity: k1, Cost: 40, Sales: 100})
	rep, err = f.svc.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failure)
}

func TestRunPass_ProviderErrorIsCounted(t *testing.T) {
	f := newFixture(t)
	f.apply(t, k1)
	f.provider.Fail(k1, errors.New("timeout"))
	f.clock = t0.Add(8 * 24 * time.Hour)

	rep, err := f.svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)
	assert.Zero(t, rep.Evaluated)
}

func TestRunPass_SkipsReverted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.apply(t, k1)
	f.clock = t0.Add(time.Hour)
	require.True(t, f.recs.Revert(ctx, res.Change.ID, "ana").OK)
	f.provider.Put(domain.Snapshot{Entity: k1, Cost: 28, Sales: 100})

	f.clock = t0.Add(8 * 24 * time.Hour)
	rep, err := f.svc.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Evaluated)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	k2 := domain.EntityRef{Type: domain.EntityKeyword, ID: "k2"}
	f.store.SeedValues(k2, repository.EntityValues{Bid: 1.50})
	f.apply(t, k1)
	f.apply(t, k2)
	f.provider.Put(domain.Snapshot{Entity: k1, Cost: 28, Sales: 100})
	f.provider.Put(domain.Snapshot{Entity: k2, Cost: 40, Sales: 100})

	f.clock = t0.Add(7 * 24 * time.Hour)
	_, err := f.svc.RunPass(ctx)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, t0, f.clock.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Global.Total())
	acos := stats.Rule(domain.RuleACOS)
	assert.Equal(t, 1, acos.Success)
	assert.Equal(t, 1, acos.Failure)
	assert.InDelta(t, 0.5, acos.FailureRate, 1e-9)

	empty, err := f.svc.Stats(ctx, t0.Add(-48*time.Hour), t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Global.Total())

	_, err = f.svc.Stats(ctx, t0, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
