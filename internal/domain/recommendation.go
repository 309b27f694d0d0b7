package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a recommendation.
type Status string

const (
	StatusPending Status = "pending"
	// StatusApproved names the approve transition. It is never persisted:
	// approval moves a recommendation straight to applied.
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusApplied   Status = "applied"
	StatusEvaluated Status = "evaluated"
	StatusReverted  Status = "reverted"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusReverted
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusApplied, StatusEvaluated, StatusReverted:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Priority ranks recommendations for operator attention.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority converts a raw string into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Recommendation is a proposed change to one live value of one entity.
// It is never deleted; it only moves through lifecycle transitions.
type Recommendation struct {
	ID                   string         `json:"id" db:"id"`
	EntityType           EntityType     `json:"entity_type" db:"entity_type"`
	EntityID             string         `json:"entity_id" db:"entity_id"`
	EntityName           string         `json:"entity_name" db:"entity_name"`
	AdjustmentType       AdjustmentType `json:"adjustment_type" db:"adjustment_type"`
	CurrentValue         float64        `json:"current_value" db:"current_value"`
	RecommendedValue     float64        `json:"recommended_value" db:"recommended_value"`
	AdjustmentAmount     float64        `json:"adjustment_amount" db:"adjustment_amount"`
	AdjustmentPercentage float64        `json:"adjustment_percentage" db:"adjustment_percentage"`
	Priority             Priority       `json:"priority" db:"priority"`
	Confidence           float64        `json:"confidence" db:"confidence"`
	Reason               string         `json:"reason" db:"reason"`
	RulesTriggered       []RuleID       `json:"rules_triggered" db:"rules_triggered"`
	Status               Status         `json:"status" db:"status"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`

	Metric        Metric     `json:"metric,omitempty" db:"metric"`
	MetricValue   float64    `json:"metric_value,omitempty" db:"metric_value"`
	MetricTarget  float64    `json:"metric_target,omitempty" db:"metric_target"`
	BaselineSales float64    `json:"baseline_sales,omitempty" db:"baseline_sales"`
	SupersededBy  string     `json:"superseded_by,omitempty" db:"superseded_by"`
	DecidedBy     string     `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt     *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	AppliedAt     *time.Time `json:"applied_at,omitempty" db:"applied_at"`
	EvaluateAfter *time.Time `json:"evaluate_after,omitempty" db:"evaluate_after"`
}

// SetEntity copies ref into the flattened entity fields.
func (r *Recommendation) SetEntity(ref EntityRef) {
	r.EntityType = ref.Type
	r.EntityID = ref.ID
	r.EntityName = ref.Name
}

// Ref returns the entity the recommendation targets.
func (r *Recommendation) Ref() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID, Name: r.EntityName}
}

// PrimaryRule is the rule whose signal decided the recommended value.
func (r *Recommendation) PrimaryRule() RuleID {
	if len(r.RulesTriggered) == 0 {
		return ""
	}
	return r.RulesTriggered[0]
}
