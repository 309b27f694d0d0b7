package domain

import "time"

// OutcomeLabel classifies the real-world effect of an applied change.
type OutcomeLabel string

const (
	OutcomePending OutcomeLabel = "pending"
	OutcomeSuccess OutcomeLabel = "success"
	OutcomeNeutral OutcomeLabel = "neutral"
	OutcomeFailure OutcomeLabel = "failure"
)

// TriggeredByHuman marks entries created by an operator action rather than
// by a rule.
const TriggeredByHuman = "human"

// Actors recorded on change-log entries and recommendations.
const (
	ActorAutopilot = "autopilot"
	ActorOperator  = "operator"
)

// ChangeLogEntry is the audit record of one value change. Entries are
// append-only; the outcome fields are written exactly once.
type ChangeLogEntry struct {
	ID               string         `json:"id" db:"id"`
	RecommendationID string         `json:"recommendation_id" db:"recommendation_id"`
	Entity           EntityRef      `json:"entity"`
	AdjustmentType   AdjustmentType `json:"adjustment_type" db:"adjustment_type"`
	OldValue         float64        `json:"old_value" db:"old_value"`
	NewValue         float64        `json:"new_value" db:"new_value"`
	TriggeredBy      string         `json:"triggered_by" db:"triggered_by"`
	Actor            string         `json:"actor" db:"actor"`
	Timestamp        time.Time      `json:"timestamp" db:"created_at"`
	EvaluateAfter    *time.Time     `json:"evaluate_after,omitempty" db:"evaluate_after"`
	RevertsEntryID   string         `json:"reverts_entry_id,omitempty" db:"reverts_entry_id"`

	BaselineMetric Metric  `json:"baseline_metric,omitempty" db:"baseline_metric"`
	BaselineValue  float64 `json:"baseline_value" db:"baseline_value"`
	BaselineTarget float64 `json:"baseline_target" db:"baseline_target"`
	BaselineSales  float64 `json:"baseline_sales" db:"baseline_sales"`

	OutcomeLabel    OutcomeLabel `json:"outcome_label" db:"outcome_label"`
	OutcomeScore    *float64     `json:"outcome_score,omitempty" db:"outcome_score"`
	PostMetricValue *float64     `json:"post_metric_value,omitempty" db:"post_metric_value"`
	EvaluatedAt     *time.Time   `json:"evaluated_at,omitempty" db:"evaluated_at"`
}

// IsRevert reports whether the entry undoes an earlier entry.
func (e *ChangeLogEntry) IsRevert() bool {
	return e.RevertsEntryID != ""
}

// Evaluated reports whether an outcome has been recorded.
func (e *ChangeLogEntry) Evaluated() bool {
	return e.OutcomeLabel != "" && e.OutcomeLabel != OutcomePending
}

// Outcome is the result of evaluating one change-log entry.
type Outcome struct {
	Label           OutcomeLabel `json:"label"`
	Score           float64      `json:"score"`
	PostMetricValue float64      `json:"post_metric_value"`
	Movement        float64      `json:"movement"`
	GuardrailBreach bool         `json:"guardrail_breach"`
	EvaluatedAt     time.Time    `json:"evaluated_at"`
}
