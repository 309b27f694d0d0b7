package rules

import (
	"fmt"
	"math"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

// evalACOS lowers bids when cost of sales is too high and raises them when
// there is headroom. Values strictly inside the tolerance band never fire.
func evalACOS(s domain.Snapshot, cfg *config.Config) (domain.Signal, bool) {
	rc := cfg.Rules.ACOS
	if !bidEntity(s) || !sufficient(s, cfg) {
		return domain.Signal{}, false
	}
	acos := s.ACOS()
	if !acos.Valid {
		return domain.Signal{}, false
	}

	upper, lower := rc.Target+rc.Tolerance, rc.Target-rc.Tolerance
	var sig domain.Signal
	var excess float64
	switch {
	case acos.Value >= upper-eps:
		sig = signal(domain.RuleACOS, s, domain.AdjustBid, domain.DirectionDecrease)
		excess = acos.Value - upper
		sig.Reason = fmt.Sprintf("ACOS %.2f exceeds target %.2f", acos.Value, rc.Target)
	case acos.Value <= lower+eps:
		sig = signal(domain.RuleACOS, s, domain.AdjustBid, domain.DirectionIncrease)
		excess = lower - acos.Value
		sig.Reason = fmt.Sprintf("ACOS %.2f below target %.2f", acos.Value, rc.Target)
	default:
		return domain.Signal{}, false
	}

	sig.Magnitude = rc.BidAdjustmentFactor
	sig.Confidence = Confidence(excess, bandScale(rc), CurveFrom(cfg.Confidence))
	sig.Deviation = math.Abs(acos.Value - rc.Target)
	sig.Metric, sig.MetricValue, sig.MetricTarget = domain.MetricACOS, acos.Value, rc.Target
	return sig, true
}

// evalROAS mirrors evalACOS on return on ad spend, where higher is better.
func evalROAS(s domain.Snapshot, cfg *config.Config) (domain.Signal, bool) {
	rc := cfg.Rules.ROAS
	if !bidEntity(s) || !sufficient(s, cfg) {
		return domain.Signal{}, false
	}
	roas := s.ROAS()
	if !roas.Valid {
		return domain.Signal{}, false
	}

	upper, lower := rc.Target+rc.Tolerance, rc.Target-rc.Tolerance
	var sig domain.Signal
	var excess float64
	switch {
	case roas.Value <= lower+eps:
		sig = signal(domain.RuleROAS, s, domain.AdjustBid, domain.DirectionDecrease)
		excess = lower - roas.Value
		sig.Reason = fmt.Sprintf("ROAS %.2f below target %.2f", roas.Value, rc.Target)
	case roas.Value >= upper-eps:
		sig = signal(domain.RuleROAS, s, domain.AdjustBid, domain.DirectionIncrease)
		excess = roas.Value - upper
		sig.Reason = fmt.Sprintf("ROAS %.2f exceeds target %.2f", roas.Value, rc.Target)
	default:
		return domain.Signal{}, false
	}

	sig.Magnitude = rc.BidAdjustmentFactor
	sig.Confidence = Confidence(excess, bandScale(rc), CurveFrom(cfg.Confidence))
	sig.Deviation = math.Abs(roas.Value - rc.Target)
	sig.Metric, sig.MetricValue, sig.MetricTarget = domain.MetricROAS, roas.Value, rc.Target
	return sig, true
}

// evalCTR raises bids on keywords that are not getting clicked, scaled by
// how far below the minimum they sit.
func evalCTR(s domain.Snapshot, cfg *config.Config) (domain.Signal, bool) {
	rc := cfg.Rules.CTR
	if !bidEntity(s) || !sufficient(s, cfg) || rc.Minimum <= 0 {
		return domain.Signal{}, false
	}
	ctr := s.CTR()
	if !ctr.Valid || ctr.Value >= rc.Minimum {
		return domain.Signal{}, false
	}

	severity := math.Min(1, (rc.Minimum-ctr.Value)/rc.Minimum)
	sig := signal(domain.RuleCTR, s, domain.AdjustBid, domain.DirectionIncrease)
	sig.Magnitude = severity * rc.BidAdjustmentFactor
	sig.Confidence = Confidence(rc.Minimum-ctr.Value, rc.Minimum, CurveFrom(cfg.Confidence))
	sig.Deviation = rc.Minimum - ctr.Value
	sig.Reason = fmt.Sprintf("CTR %.2f%% below minimum %.2f%%", ctr.Value*100, rc.Minimum*100)
	sig.Metric, sig.MetricValue, sig.MetricTarget = domain.MetricCTR, ctr.Value, rc.Minimum
	return sig, true
}

// bandScale is the unit confidence is measured in for target rules. A zero
// tolerance falls back to the target itself.
func bandScale(rc config.TargetRuleConfig) float64 {
	if rc.Tolerance > 0 {
		return rc.Tolerance
	}
	return rc.Target
}
