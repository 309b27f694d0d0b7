package aggregator

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/rules"
)

// Aggregator turns signals into recommendations. It holds no mutable state
// and is safe for concurrent use.
type Aggregator struct {
	cfg     *config.Config
	catalog rules.Catalog
}

// New creates an aggregator using catalog order as the final tie-break.
func New(cfg *config.Config, catalog rules.Catalog) *Aggregator {
	return &Aggregator{cfg: cfg, catalog: catalog}
}

// Aggregate builds at most one recommendation per adjustment type from the
// signals fired for s. stats may be nil when no outcome history exists.
// Recommendations whose clamped delta is zero are dropped.
func (a *Aggregator) Aggregate(s domain.Snapshot, signals []domain.Signal, stats *domain.LearningStats, now time.Time) []domain.Recommendation {
	groups := make(map[domain.AdjustmentType][]domain.Signal)
	for _, sig := range signals {
		sig.Confidence = a.Weight(sig, stats)
		groups[sig.AdjustmentType] = append(groups[sig.AdjustmentType], sig)
	}

	var out []domain.Recommendation
	for _, adj := range []domain.AdjustmentType{domain.AdjustBid, domain.AdjustBudget, domain.AdjustNegativeKeyword} {
		group := groups[adj]
		if len(group) == 0 {
			continue
		}
		if rec, ok := a.build(s, adj, group, now); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Weight applies the learning feedback: a rule with enough evaluated
// outcomes loses confidence in proportion to its failure rate.
func (a *Aggregator) Weight(sig domain.Signal, stats *domain.LearningStats) float64 {
	lc := a.cfg.Learning
	if stats == nil || !config.On(lc.Enabled) {
		return sig.Confidence
	}
	counts := stats.Rule(sig.Rule)
	if counts.Total() < lc.MinSamples {
		return sig.Confidence
	}
	w := 1 - lc.FailurePenalty*counts.FailureRate
	if w < 0 {
		w = 0
	}
	return sig.Confidence * w
}

// Resolve orders a group of same-type signals so the winner comes first.
func (a *Aggregator) Resolve(group []domain.Signal) []domain.Signal {
	sorted := append([]domain.Signal(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Severity(), sorted[j].Severity()
		if math.Abs(si-sj) > 1e-12 {
			return si > sj
		}
		if math.Abs(sorted[i].Deviation-sorted[j].Deviation) > 1e-12 {
			return sorted[i].Deviation > sorted[j].Deviation
		}
		return a.catalog.Rank(sorted[i].Rule) < a.catalog.Rank(sorted[j].Rule)
	})
	return sorted
}

func (a *Aggregator) build(s domain.Snapshot, adj domain.AdjustmentType, group []domain.Signal, now time.Time) (domain.Recommendation, bool) {
	ordered := a.Resolve(group)
	winner := ordered[0]

	var agreeing, overridden []domain.Signal
	for _, sig := range ordered[1:] {
		if sig.Direction == winner.Direction {
			agreeing = append(agreeing, sig)
		} else {
			overridden = append(overridden, sig)
		}
	}
	// Agreeing rules are listed in catalog order after the winner.
	sort.SliceStable(agreeing, func(i, j int) bool {
		return a.catalog.Rank(agreeing[i].Rule) < a.catalog.Rank(agreeing[j].Rule)
	})

	current, recommended, clamped, ok := a.target(s, adj, winner)
	if !ok {
		return domain.Recommendation{}, false
	}
	amount := recommended.Sub(current)
	if amount.IsZero() {
		return domain.Recommendation{}, false
	}
	pct := decimal.Zero
	if !current.IsZero() {
		pct = amount.Div(current).Mul(decimal.NewFromInt(100)).Round(2)
	}

	triggered := []domain.RuleID{winner.Rule}
	reasons := []string{winner.Reason}
	for _, sig := range agreeing {
		triggered = append(triggered, sig.Rule)
		reasons = append(reasons, sig.Reason)
	}
	for _, sig := range overridden {
		reasons = append(reasons, fmt.Sprintf("%s (%s) considered but overridden by %s", sig.Rule, sig.Direction, winner.Rule))
	}
	if clamped != "" {
		reasons = append(reasons, clamped)
	}

	rec := domain.Recommendation{
		AdjustmentType:       adj,
		CurrentValue:         current.InexactFloat64(),
		RecommendedValue:     recommended.InexactFloat64(),
		AdjustmentAmount:     amount.InexactFloat64(),
		AdjustmentPercentage: pct.InexactFloat64(),
		Confidence:           winner.Confidence,
		Reason:               strings.Join(reasons, "; "),
		RulesTriggered:       triggered,
		Status:               domain.StatusPending,
		CreatedAt:            now,
		Metric:               winner.Metric,
		MetricValue:          winner.MetricValue,
		MetricTarget:         winner.MetricTarget,
		BaselineSales:        s.Sales,
	}
	rec.SetEntity(s.Entity)
	rec.Priority = Priority(rec.Confidence, rec.AdjustmentPercentage)
	return rec, true
}

// target computes the current and recommended values for one adjustment.
// It reports false when no value satisfies every bound at once.
func (a *Aggregator) target(s domain.Snapshot, adj domain.AdjustmentType, winner domain.Signal) (current, recommended decimal.Decimal, clamped string, ok bool) {
	switch adj {
	case domain.AdjustNegativeKeyword:
		// Serving state: 1 while the keyword serves, 0 once negated.
		return decimal.NewFromInt(1), decimal.Zero, "", true
	case domain.AdjustBid:
		return Clamp(s.CurrentBid, winner, a.cfg.Bid.Floor, a.cfg.Bid.Cap, a.cfg.Bid.MaxAdjustment)
	case domain.AdjustBudget:
		return Clamp(s.CurrentBudget, winner, a.cfg.Budget.MinDaily, a.cfg.Budget.MaxDaily, a.cfg.Budget.AdjustmentFactor)
	}
	return decimal.Zero, decimal.Zero, "", false
}

// Clamp applies current x (1 ± magnitude), rounds to cents and clamps the
// result to [floor, ceiling] and to within maxDelta x current of current.
// Bounds are rounded inward so the rounded result never leaves them.
func Clamp(currentValue float64, winner domain.Signal, floor, ceiling, maxDelta float64) (current, recommended decimal.Decimal, clamped string, ok bool) {
	current = decimal.NewFromFloat(currentValue).Round(2)
	if !current.IsPositive() {
		return current, current, "", false
	}

	factor := decimal.NewFromFloat(1 + winner.Direction.Sign()*winner.Magnitude)
	raw := current.Mul(factor).Round(2)

	span := current.Mul(decimal.NewFromFloat(maxDelta))
	lo := decimal.Max(decimal.NewFromFloat(floor), current.Sub(span)).RoundCeil(2)
	hi := decimal.Min(decimal.NewFromFloat(ceiling), current.Add(span)).RoundFloor(2)
	if lo.GreaterThan(hi) {
		return current, current, "", false
	}

	recommended = raw
	switch {
	case raw.LessThan(lo):
		recommended = lo
		clamped = fmt.Sprintf("clamped up to %s", lo.StringFixed(2))
	case raw.GreaterThan(hi):
		recommended = hi
		clamped = fmt.Sprintf("clamped down to %s", hi.StringFixed(2))
	}
	return current, recommended, clamped, true
}

// Priority maps confidence and the absolute percentage change to a
// priority bucket.
func Priority(confidence, pct float64) domain.Priority {
	p := math.Abs(pct)
	switch {
	case confidence >= 0.8 && p >= 25:
		return domain.PriorityCritical
	case confidence >= 0.6 || p >= 15:
		return domain.PriorityHigh
	case confidence >= 0.4:
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}
