package domain

// Direction is the way a signal wants to move a value.
type Direction string

const (
	DirectionIncrease     Direction = "increase"
	DirectionDecrease     Direction = "decrease"
	DirectionFlagNegative Direction = "flag_negative"
)

// Sign returns +1 for increase, -1 for decrease and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionIncrease:
		return 1
	case DirectionDecrease:
		return -1
	}
	return 0
}

// AdjustmentType is the live value a recommendation changes.
type AdjustmentType string

const (
	AdjustBid             AdjustmentType = "bid"
	AdjustBudget          AdjustmentType = "budget"
	AdjustNegativeKeyword AdjustmentType = "negative_keyword"
)

// Valid reports whether a is a known adjustment type.
func (a AdjustmentType) Valid() bool {
	switch a {
	case AdjustBid, AdjustBudget, AdjustNegativeKeyword:
		return true
	}
	return false
}

// RuleID names one rule in the fixed catalog.
type RuleID string

const (
	RuleACOS            RuleID = "acos"
	RuleROAS            RuleID = "roas"
	RuleCTR             RuleID = "ctr"
	RuleBudget          RuleID = "budget"
	RuleNegativeKeyword RuleID = "negative_keyword"
)

// Metric names a derived performance metric.
type Metric string

const (
	MetricACOS Metric = "acos"
	MetricROAS Metric = "roas"
	MetricCTR  Metric = "ctr"
	MetricCost Metric = "cost"
)

// Value reads the metric from a snapshot.
func (m Metric) Value(s Snapshot) Ratio {
	switch m {
	case MetricACOS:
		return s.ACOS()
	case MetricROAS:
		return s.ROAS()
	case MetricCTR:
		return s.CTR()
	case MetricCost:
		return Ratio{Value: s.Cost, Valid: true}
	}
	return Ratio{}
}

// Signal is one rule's opinion about one entity in one cycle. It never
// outlives the cycle that produced it.
type Signal struct {
	Rule           RuleID         `json:"rule_id"`
	Entity         EntityRef      `json:"entity"`
	AdjustmentType AdjustmentType `json:"adjustment_type"`
	Direction      Direction      `json:"direction"`
	Magnitude      float64        `json:"magnitude"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`

	// Deviation is the absolute distance of the metric from its target and
	// breaks ties between equally severe signals.
	Deviation    float64 `json:"deviation"`
	Metric       Metric  `json:"metric"`
	MetricValue  float64 `json:"metric_value"`
	MetricTarget float64 `json:"metric_target"`
}

// Severity is magnitude weighted by confidence.
func (s Signal) Severity() float64 {
	return s.Magnitude * s.Confidence
}
