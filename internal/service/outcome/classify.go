package outcome

import (
	"fmt"
	"math"
	"time"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

// Classify scores one entry against its post-change snapshot. It returns
// domain.ErrEvaluatorDataGap when the snapshot cannot be measured.
func Classify(e *domain.ChangeLogEntry, post domain.Snapshot, cfg config.OutcomeConfig, now time.Time) (domain.Outcome, error) {
	v := e.BaselineMetric.Value(post)
	if !v.Valid {
		return domain.Outcome{}, fmt.Errorf("%w: %s undefined for %s", domain.ErrEvaluatorDataGap, e.BaselineMetric, e.Entity.Key())
	}

	pre, target, after := e.BaselineValue, e.BaselineTarget, v.Value
	o := domain.Outcome{PostMetricValue: after, EvaluatedAt: now}

	if pre != 0 {
		o.Movement = (after - pre) / math.Abs(pre) * sign(target-pre)
	}
	if e.BaselineSales > 0 && post.Sales < e.BaselineSales*(1-cfg.GuardrailSalesDrop) {
		o.GuardrailBreach = true
	}

	switch {
	case o.GuardrailBreach || o.Movement <= -cfg.NoiseThreshold:
		o.Label = domain.OutcomeFailure
	case o.Movement >= cfg.NoiseThreshold:
		o.Label = domain.OutcomeSuccess
	default:
		o.Label = domain.OutcomeNeutral
	}

	if !o.GuardrailBreach {
		o.Score = 0.5
		if dPre := math.Abs(pre - target); dPre > 0 {
			o.Score = clamp01(0.5 + 0.5*(dPre-math.Abs(after-target))/dPre)
		}
	}
	return o, nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
