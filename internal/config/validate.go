package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/bidguard/internal/domain"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return domain.ErrConfiguration }

// Validate checks ranges and orderings. A non-nil result must stop startup.
func (c *Config) Validate() error {
	var p []string
	add := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }

	checkTarget := func(name string, r TargetRuleConfig) {
		if r.Target <= 0 {
			add("rules.%s.target must be > 0", name)
		}
		if r.Tolerance < 0 {
			add("rules.%s.tolerance must be >= 0", name)
		}
		if r.Tolerance >= r.Target && r.Target > 0 {
			add("rules.%s.tolerance must be smaller than the target", name)
		}
		checkFactor(add, "rules."+name+".bid_adjustment_factor", r.BidAdjustmentFactor)
	}
	checkTarget("acos", c.Rules.ACOS)
	checkTarget("roas", c.Rules.ROAS)

	if c.Rules.CTR.Minimum <= 0 || c.Rules.CTR.Minimum > 1 {
		add("rules.ctr.minimum must be in (0,1]")
	}
	checkFactor(add, "rules.ctr.bid_adjustment_factor", c.Rules.CTR.BidAdjustmentFactor)
	if c.Rules.NegativeKeyword.CTRThreshold < 0 || c.Rules.NegativeKeyword.CTRThreshold > 1 {
		add("rules.negative_keyword.ctr_threshold must be in [0,1]")
	}
	if c.Rules.NegativeKeyword.MinImpressions < 0 {
		add("rules.negative_keyword.min_impressions must be >= 0")
	}
	if c.Rules.Budget.LowWatermark < 0 || c.Rules.Budget.LowWatermark >= c.Rules.Budget.HighWatermark {
		add("rules.budget watermarks must satisfy 0 <= low_watermark < high_watermark")
	}
	checkVolume(add, "rules.volume", c.Rules.Volume)

	if c.Bid.Floor <= 0 {
		add("bid.floor must be > 0")
	}
	if c.Bid.Floor > c.Bid.Cap {
		add("bid.floor (%.2f) must not exceed bid.cap (%.2f)", c.Bid.Floor, c.Bid.Cap)
	}
	checkFactor(add, "bid.max_adjustment", c.Bid.MaxAdjustment)
	if c.Budget.MinDaily <= 0 {
		add("budget.min_daily must be > 0")
	}
	if c.Budget.MinDaily > c.Budget.MaxDaily {
		add("budget.min_daily (%.2f) must not exceed budget.max_daily (%.2f)", c.Budget.MinDaily, c.Budget.MaxDaily)
	}
	checkFactor(add, "budget.adjustment_factor", c.Budget.AdjustmentFactor)

	if c.Safety.MaxDailyAdjustments < 1 {
		add("safety.max_daily_adjustments must be >= 1")
	}
	if c.Safety.CooldownHours < 0 {
		add("safety.cooldown_hours must be >= 0")
	}
	checkUnit(add, "safety.min_confidence", c.Safety.MinConfidence)
	if _, err := time.LoadLocation(c.Safety.Timezone); err != nil {
		add("safety.timezone %q: %v", c.Safety.Timezone, err)
	}
	checkVolume(add, "safety.volume", c.Safety.Volume)

	checkUnit(add, "confidence.base", c.Confidence.Base)
	if c.Confidence.Saturation <= 0 {
		add("confidence.saturation must be > 0")
	}
	if c.Learning.MinSamples < 1 {
		add("learning.min_samples must be >= 1")
	}
	checkUnit(add, "learning.failure_penalty", c.Learning.FailurePenalty)
	if c.Outcome.MaturationDays < 1 {
		add("outcome.maturation_days must be >= 1")
	}
	if c.Outcome.NoiseThreshold < 0 {
		add("outcome.noise_threshold must be >= 0")
	}
	checkUnit(add, "outcome.guardrail_sales_drop", c.Outcome.GuardrailSalesDrop)
	checkUnit(add, "autopilot.min_confidence", c.Autopilot.MinConfidence)

	if c.Engine.Workers < 1 {
		add("engine.workers must be >= 1")
	}
	if c.Engine.WindowDays < 1 {
		add("engine.window_days must be >= 1")
	}
	switch c.Metrics.Driver {
	case "postgres", "snowflake":
	default:
		add("metrics.driver %q must be postgres or snowflake", c.Metrics.Driver)
	}
	if c.Archive.Enabled && c.Archive.S3Bucket == "" {
		add("archive.s3_bucket is required when archive is enabled")
	}
	if c.Alerts.Enabled && c.Alerts.WebhookURL == "" && (c.Alerts.From == "" || len(c.Alerts.To) == 0) {
		add("alerts.from and alerts.to, or alerts.webhook_url, are required when alerts are enabled")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		add("aws.access_key_id and aws.secret_access_key must be set together")
	}

	if len(p) > 0 {
		return &ValidationError{Problems: p}
	}
	return nil
}

func checkFactor(add func(string, ...any), name string, v float64) {
	if v <= 0 || v > 1 {
		add("%s must be in (0,1]", name)
	}
}

func checkUnit(add func(string, ...any), name string, v float64) {
	if v < 0 || v > 1 {
		add("%s must be in [0,1]", name)
	}
}

func checkVolume(add func(string, ...any), name string, v domain.VolumeThresholds) {
	if v.MinImpressions < 0 || v.MinClicks < 0 || v.MinConversions < 0 {
		add("%s thresholds must be >= 0", name)
	}
}
