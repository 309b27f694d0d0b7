package domain

import "fmt"

// Ratio is a derived metric whose denominator may be zero. Valid=false is
// the explicit "insufficient data" marker; Value is meaningless in that case.
type Ratio struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// NewRatio divides num by den, returning an invalid ratio when den is zero.
func NewRatio(num, den float64) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: num / den, Valid: true}
}

func (r Ratio) String() string {
	if !r.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", r.Value)
}

// Snapshot is the performance of one entity over one evaluation window, as
// supplied by the metrics provider. It is immutable once produced.
type Snapshot struct {
	Entity      EntityRef `json:"entity"`
	Window      Window    `json:"window"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	Cost        float64   `json:"cost"`
	Sales       float64   `json:"sales"`

	// Live values owned by this system at the time the snapshot was read.
	CurrentBid    float64 `json:"current_bid"`
	CurrentBudget float64 `json:"current_budget"`
	Negated       bool    `json:"negated"`
}

// ACOS is advertising cost of sales: cost / sales.
func (s Snapshot) ACOS() Ratio { return NewRatio(s.Cost, s.Sales) }

// ROAS is return on ad spend: sales / cost.
func (s Snapshot) ROAS() Ratio { return NewRatio(s.Sales, s.Cost) }

// CTR is click-through rate: clicks / impressions.
func (s Snapshot) CTR() Ratio { return NewRatio(float64(s.Clicks), float64(s.Impressions)) }

// Validate checks that all counters are non-negative.
func (s Snapshot) Validate() error {
	if !s.Entity.Type.Valid() || s.Entity.ID == "" {
		return fmt.Errorf("snapshot: invalid entity %q/%q", s.Entity.Type, s.Entity.ID)
	}
	if s.Impressions < 0 || s.Clicks < 0 || s.Conversions < 0 {
		return fmt.Errorf("snapshot %s: negative counters", s.Entity.Key())
	}
	if s.Cost < 0 || s.Sales < 0 {
		return fmt.Errorf("snapshot %s: negative cost or sales", s.Entity.Key())
	}
	return nil
}

// VolumeThresholds are the minimum counts a snapshot needs before any
// decision may be based on it.
type VolumeThresholds struct {
	MinImpressions int64 `yaml:"min_impressions" json:"min_impressions"`
	MinClicks      int64 `yaml:"min_clicks" json:"min_clicks"`
	MinConversions int64 `yaml:"min_conversions" json:"min_conversions"`
}

// Sufficient reports whether s meets all thresholds. The returned string
// names the first unmet threshold.
func (v VolumeThresholds) Sufficient(s Snapshot) (bool, string) {
	switch {
	case s.Impressions < v.MinImpressions:
		return false, fmt.Sprintf("impressions %d below minimum %d", s.Impressions, v.MinImpressions)
	case s.Clicks < v.MinClicks:
		return false, fmt.Sprintf("clicks %d below minimum %d", s.Clicks, v.MinClicks)
	case s.Conversions < v.MinConversions:
		return false, fmt.Sprintf("conversions %d below minimum %d", s.Conversions, v.MinConversions)
	}
	return true, ""
}
