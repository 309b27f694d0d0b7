package rules

import (
	"fmt"
	"math"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

// evalBudget moves campaign daily budgets when ROAS leaves the watermark
// band. Success is later judged by ROAS moving toward the ROAS target.
func evalBudget(s domain.Snapshot, cfg *config.Config) (domain.Signal, bool) {
	rc := cfg.Rules.Budget
	if s.Entity.Type != domain.EntityCampaign || !sufficient(s, cfg) {
		return domain.Signal{}, false
	}
	roas := s.ROAS()
	if !roas.Valid {
		return domain.Signal{}, false
	}

	var sig domain.Signal
	var excess, mark float64
	switch {
	case roas.Value > rc.HighWatermark:
		sig = signal(domain.RuleBudget, s, domain.AdjustBudget, domain.DirectionIncrease)
		excess, mark = roas.Value-rc.HighWatermark, rc.HighWatermark
		sig.Reason = fmt.Sprintf("ROAS %.2f above budget high watermark %.2f", roas.Value, rc.HighWatermark)
	case roas.Value < rc.LowWatermark:
		sig = signal(domain.RuleBudget, s, domain.AdjustBudget, domain.DirectionDecrease)
		excess, mark = rc.LowWatermark-roas.Value, rc.LowWatermark
		sig.Reason = fmt.Sprintf("ROAS %.2f below budget low watermark %.2f", roas.Value, rc.LowWatermark)
	default:
		return domain.Signal{}, false
	}

	sig.Magnitude = cfg.Budget.AdjustmentFactor
	sig.Confidence = Confidence(excess, rc.HighWatermark-rc.LowWatermark, CurveFrom(cfg.Confidence))
	sig.Deviation = math.Abs(roas.Value - mark)
	sig.Metric, sig.MetricValue, sig.MetricTarget = domain.MetricROAS, roas.Value, cfg.Rules.ROAS.Target
	return sig, true
}

// evalNegativeKeyword flags keywords that keep serving without clicks. It
// only ever proposes an exclusion and never touches the bid.
func evalNegativeKeyword(s domain.Snapshot, cfg *config.Config) (domain.Signal, bool) {
	rc := cfg.Rules.NegativeKeyword
	if s.Entity.Type != domain.EntityKeyword || s.Negated {
		return domain.Signal{}, false
	}
	minImpr := rc.MinImpressions
	if cfg.Rules.Volume.MinImpressions > minImpr {
		minImpr = cfg.Rules.Volume.MinImpressions
	}
	if s.Impressions < minImpr {
		return domain.Signal{}, false
	}
	ctr := s.CTR()
	if !ctr.Valid || ctr.Value >= rc.CTRThreshold {
		return domain.Signal{}, false
	}

	sig := signal(domain.RuleNegativeKeyword, s, domain.AdjustNegativeKeyword, domain.DirectionFlagNegative)
	sig.Magnitude = 1
	sig.Confidence = Confidence(rc.CTRThreshold-ctr.Value, rc.CTRThreshold, CurveFrom(cfg.Confidence))
	sig.Deviation = rc.CTRThreshold - ctr.Value
	sig.Reason = fmt.Sprintf("CTR %.3f%% below negative threshold %.3f%% over %d impressions",
		ctr.Value*100, rc.CTRThreshold*100, s.Impressions)
	sig.Metric, sig.MetricValue, sig.MetricTarget = domain.MetricCost, s.Cost, 0
	return sig, true
}
