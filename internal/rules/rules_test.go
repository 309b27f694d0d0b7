package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Rules.ACOS.Target = 0.30
	cfg.Rules.ACOS.Tolerance = 0.05
	cfg.Rules.ACOS.BidAdjustmentFactor = 0.10
	cfg.Rules.Volume = domain.VolumeThresholds{MinImpressions: 100, MinClicks: 10, MinConversions: 1}
	return cfg
}

func keyword(id string) domain.EntityRef {
	return domain.EntityRef{Type: domain.EntityKeyword, ID: id, Name: "kw " + id}
}

func TestConfidenceGolden(t *testing.T) {
	tests := []struct {
		name   string
		excess float64
		scale  float64
		curve  Curve
		want   float64
	}{
		{"at threshold", 0, 0.05, Curve{0.5, 4}, 0.5},
		{"one scale past", 0.05, 0.05, Curve{0.5, 4}, 0.625},
		{"two scales past", 0.10, 0.05, Curve{0.5, 4}, 0.75},
		{"saturated", 0.20, 0.05, Curve{0.5, 4}, 1.0},
		{"beyond saturation", 1.0, 0.05, Curve{0.5, 4}, 1.0},
		{"negative excess", -1, 0.05, Curve{0.5, 4}, 0.5},
		{"zero scale", 0.1, 0, Curve{0.5, 4}, 0.5},
		{"low base", 0.05, 0.10, Curve{0.2, 2}, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.excess, tt.scale, tt.curve), 1e-9)
		})
	}
}

func TestConfidenceMonotonic(t *testing.T) {
	c := Curve{Base: 0.5, Saturation: 4}
	prev := 0.0
	for i := 0; i <= 100; i++ {
		got := Confidence(float64(i)*0.005, 0.05, c)
		assert.GreaterOrEqual(t, got, prev)
		assert.LessOrEqual(t, got, 1.0)
		prev = got
	}
}

func TestACOS_OverTargetScenario(t *testing.T) {
	cfg := testConfig()
	s := domain.Snapshot{
		Entity:      keyword("k1"),
		Cost:        35,
		Sales:       100,
		Impressions: 2000,
		Clicks:      80,
		Conversions: 5,
		CurrentBid:  1.50,
	}

	sig, ok := Evaluate(domain.RuleACOS, s, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionDecrease, sig.Direction)
	assert.Equal(t, domain.AdjustBid, sig.AdjustmentType)
	assert.InDelta(t, 0.10, sig.Magnitude, 1e-9)
	assert.Equal(t, "ACOS 0.35 exceeds target 0.30", sig.Reason)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
	assert.InDelta(t, 0.05, sig.Deviation, 1e-9)
	assert.Equal(t, domain.MetricACOS, sig.Metric)
}

func TestACOS_Hysteresis(t *testing.T) {
	cfg := testConfig()
	// Every ACOS strictly inside (0.25, 0.35) must stay quiet.
	for cost := 25.5; cost < 35; cost += 0.5 {
		s := domain.Snapshot{
			Entity: keyword("k1"), Cost: cost, Sales: 100,
			Impressions: 2000, Clicks: 80, Conversions: 5, CurrentBid: 1,
		}
		_, ok := Evaluate(domain.RuleACOS, s, cfg)
		assert.False(t, ok, "acos %.3f fired inside band", cost/100)
	}
}

func TestACOS_BelowTarget(t *testing.T) {
	cfg := testConfig()
	s := domain.Snapshot{
		Entity: keyword("k1"), Cost: 12, Sales: 100,
		Impressions: 2000, Clicks: 80, Conversions: 5, CurrentBid: 1,
	}
	sig, ok := Evaluate(domain.RuleACOS, s, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionIncrease, sig.Direction)
	assert.Equal(t, "ACOS 0.12 below target 0.30", sig.Reason)
	assert.Greater(t, sig.Confidence, 0.5)
}

func TestRules_InsufficientData(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name string
		s    domain.Snapshot
	}{
		{"no sales", domain.Snapshot{Entity: keyword("k"), Impressions: 2000, Clicks: 80, Conversions: 5}},
		{"few impressions", domain.Snapshot{Entity: keyword("k"), Cost: 50, Sales: 100, Impressions: 50, Clicks: 20, Conversions: 5}},
		{"few clicks", domain.Snapshot{Entity: keyword("k"), Cost: 50, Sales: 100, Impressions: 2000, Clicks: 5, Conversions: 5}},
		{"no conversions", domain.Snapshot{Entity: keyword("k"), Cost: 50, Sales: 100, Impressions: 2000, Clicks: 80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, id := range []domain.RuleID{domain.RuleACOS, domain.RuleROAS, domain.RuleCTR} {
				_, ok := Evaluate(id, tt.s, cfg)
				assert.False(t, ok, "rule %s fired", id)
			}
		})
	}
}

func TestROAS(t *testing.T) {
	cfg := testConfig()
	cfg.Rules.ROAS.Target = 4
	cfg.Rules.ROAS.Tolerance = 0.5

	low := domain.Snapshot{Entity: keyword("k"), Cost: 50, Sales: 100, Impressions: 2000, Clicks: 80, Conversions: 5}
	sig, ok := Evaluate(domain.RuleROAS, low, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionDecrease, sig.Direction)
	assert.Equal(t, "ROAS 2.00 below target 4.00", sig.Reason)

	high := domain.Snapshot{Entity: keyword("k"), Cost: 10, Sales: 60, Impressions: 2000, Clicks: 80, Conversions: 5}
	sig, ok = Evaluate(domain.RuleROAS, high, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionIncrease, sig.Direction)

	inside := domain.Snapshot{Entity: keyword("k"), Cost: 25, Sales: 100, Impressions: 2000, Clicks: 80, Conversions: 5}
	_, ok = Evaluate(domain.RuleROAS, inside, cfg)
	assert.False(t, ok)
}

func TestCTR_MagnitudeScalesWithSeverity(t *testing.T) {
	cfg := testConfig()
	cfg.Rules.CTR.Minimum = 0.005
	cfg.Rules.CTR.BidAdjustmentFactor = 0.10

	s := domain.Snapshot{Entity: keyword("k"), Impressions: 8000, Clicks: 20, Conversions: 1, Cost: 10, Sales: 40}
	sig, ok := Evaluate(domain.RuleCTR, s, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionIncrease, sig.Direction)
	assert.InDelta(t, 0.05, sig.Magnitude, 1e-9)

	fine := s
	fine.Clicks = 80
	_, ok = Evaluate(domain.RuleCTR, fine, cfg)
	assert.False(t, ok)
}

func TestNegativeKeyword(t *testing.T) {
	cfg := testConfig()
	cfg.Rules.NegativeKeyword.CTRThreshold = 0.001
	cfg.Rules.NegativeKeyword.MinImpressions = 1000

	s := domain.Snapshot{Entity: keyword("k"), Impressions: 5000, Clicks: 2, Cost: 1.2, CurrentBid: 0.8}
	sig, ok := Evaluate(domain.RuleNegativeKeyword, s, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionFlagNegative, sig.Direction)
	assert.Equal(t, domain.AdjustNegativeKeyword, sig.AdjustmentType)
	assert.Equal(t, domain.MetricCost, sig.Metric)

	t.Run("not enough impressions", func(t *testing.T) {
		few := s
		few.Impressions = 900
		few.Clicks = 0
		_, ok := Evaluate(domain.RuleNegativeKeyword, few, cfg)
		assert.False(t, ok)
	})
	t.Run("only keywords", func(t *testing.T) {
		ag := s
		ag.Entity = domain.EntityRef{Type: domain.EntityAdGroup, ID: "ag"}
		_, ok := Evaluate(domain.RuleNegativeKeyword, ag, cfg)
		assert.False(t, ok)
	})
	t.Run("already negated", func(t *testing.T) {
		neg := s
		neg.Negated = true
		_, ok := Evaluate(domain.RuleNegativeKeyword, neg, cfg)
		assert.False(t, ok)
	})
}

func TestBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Rules.Budget.HighWatermark = 6
	cfg.Rules.Budget.LowWatermark = 2
	cfg.Budget.AdjustmentFactor = 0.2
	campaign := domain.EntityRef{Type: domain.EntityCampaign, ID: "c1"}

	hot := domain.Snapshot{Entity: campaign, Cost: 10, Sales: 80, Impressions: 5000, Clicks: 100, Conversions: 10, CurrentBudget: 50}
	sig, ok := Evaluate(domain.RuleBudget, hot, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.AdjustBudget, sig.AdjustmentType)
	assert.Equal(t, domain.DirectionIncrease, sig.Direction)
	assert.InDelta(t, 0.2, sig.Magnitude, 1e-9)

	cold := hot
	cold.Sales = 15
	sig, ok = Evaluate(domain.RuleBudget, cold, cfg)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionDecrease, sig.Direction)

	// Bid rules ignore campaigns; budget rule ignores keywords.
	_, ok = Evaluate(domain.RuleACOS, cold, cfg)
	assert.False(t, ok)
	kw := hot
	kw.Entity = keyword("k")
	_, ok = Evaluate(domain.RuleBudget, kw, cfg)
	assert.False(t, ok)
}

func TestCatalogEvaluate(t *testing.T) {
	cfg := testConfig()
	disabled := false
	cfg.Rules.ROAS.Enabled = &disabled

	s := domain.Snapshot{Entity: keyword("k1"), Cost: 35, Sales: 100, Impressions: 2000, Clicks: 80, Conversions: 5}
	sigs := DefaultCatalog().Evaluate(s, cfg)
	require.Len(t, sigs, 1)
	assert.Equal(t, domain.RuleACOS, sigs[0].Rule)

	bad := s
	bad.Cost = -1
	assert.Empty(t, DefaultCatalog().Evaluate(bad, cfg))
}

func TestCatalogRank(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, 0, c.Rank(domain.RuleACOS))
	assert.Less(t, c.Rank(domain.RuleROAS), c.Rank(domain.RuleCTR))
	assert.Equal(t, len(c), c.Rank("unknown"))
}
