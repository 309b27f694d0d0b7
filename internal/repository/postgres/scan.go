package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/bidguard/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

var recColumns = []string{
	"id", "entity_type", "entity_id", "entity_name", "adjustment_type",
	"current_value", "recommended_value", "adjustment_amount", "adjustment_percentage",
	"priority", "confidence", "reason", "rules_triggered", "status", "created_at",
	"metric", "metric_value", "metric_target", "baseline_sales",
	"superseded_by", "decided_by", "decided_at", "applied_at", "evaluate_after",
}

var changeColumns = []string{
	"id", "recommendation_id", "entity_type", "entity_id", "entity_name", "adjustment_type",
	"old_value", "new_value", "triggered_by", "actor", "created_at", "evaluate_after",
	"reverts_entry_id", "baseline_metric", "baseline_value", "baseline_target", "baseline_sales",
	"outcome_label", "outcome_score", "post_metric_value", "evaluated_at",
}

var gateColumns = []string{
	"entity_type", "entity_id", "is_locked", "lock_expires_at", "lock_reason",
	"last_adjustment_at", "adjustments_today", "adjustments_day", "updated_at",
}

// cols renders a column list, optionally qualified with a table alias.
func cols(names []string, alias string) string {
	if alias == "" {
		return strings.Join(names, ", ")
	}
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = alias + "." + n
	}
	return strings.Join(q, ", ")
}

func scanRecommendation(s scanner) (*domain.Recommendation, error) {
	var (
		r     domain.Recommendation
		rules []string
	)
	err := s.Scan(
		&r.ID, &r.EntityType, &r.EntityID, &r.EntityName, &r.AdjustmentType,
		&r.CurrentValue, &r.RecommendedValue, &r.AdjustmentAmount, &r.AdjustmentPercentage,
		&r.Priority, &r.Confidence, &r.Reason, pq.Array(&rules), &r.Status, &r.CreatedAt,
		&r.Metric, &r.MetricValue, &r.MetricTarget, &r.BaselineSales,
		&r.SupersededBy, &r.DecidedBy, &r.DecidedAt, &r.AppliedAt, &r.EvaluateAfter,
	)
	if err != nil {
		return nil, err
	}
	r.RulesTriggered = make([]domain.RuleID, len(rules))
	for i, id := range rules {
		r.RulesTriggered[i] = domain.RuleID(id)
	}
	return &r, nil
}

func recommendationArgs(r *domain.Recommendation) []any {
	rules := make([]string, len(r.RulesTriggered))
	for i, id := range r.RulesTriggered {
		rules[i] = string(id)
	}
	return []any{
		r.ID, string(r.EntityType), r.EntityID, r.EntityName, string(r.AdjustmentType),
		r.CurrentValue, r.RecommendedValue, r.AdjustmentAmount, r.AdjustmentPercentage,
		string(r.Priority), r.Confidence, r.Reason, pq.Array(rules), string(r.Status), r.CreatedAt,
		string(r.Metric), r.MetricValue, r.MetricTarget, r.BaselineSales,
		r.SupersededBy, r.DecidedBy, r.DecidedAt, r.AppliedAt, r.EvaluateAfter,
	}
}

func scanChange(s scanner) (*domain.ChangeLogEntry, error) {
	var e domain.ChangeLogEntry
	err := s.Scan(
		&e.ID, &e.RecommendationID, &e.Entity.Type, &e.Entity.ID, &e.Entity.Name, &e.AdjustmentType,
		&e.OldValue, &e.NewValue, &e.TriggeredBy, &e.Actor, &e.Timestamp, &e.EvaluateAfter,
		&e.RevertsEntryID, &e.BaselineMetric, &e.BaselineValue, &e.BaselineTarget, &e.BaselineSales,
		&e.OutcomeLabel, &e.OutcomeScore, &e.PostMetricValue, &e.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func changeArgs(e *domain.ChangeLogEntry) []any {
	return []any{
		e.ID, e.RecommendationID, string(e.Entity.Type), e.Entity.ID, e.Entity.Name, string(e.AdjustmentType),
		e.OldValue, e.NewValue, e.TriggeredBy, e.Actor, e.Timestamp, e.EvaluateAfter,
		e.RevertsEntryID, string(e.BaselineMetric), e.BaselineValue, e.BaselineTarget, e.BaselineSales,
		string(e.OutcomeLabel), e.OutcomeScore, e.PostMetricValue, e.EvaluatedAt,
	}
}

func scanGate(s scanner) (*domain.GateState, error) {
	var g domain.GateState
	err := s.Scan(
		&g.Entity.Type, &g.Entity.ID, &g.IsLocked, &g.LockExpiresAt, &g.LockReason,
		&g.LastAdjustmentAt, &g.AdjustmentsToday, &g.AdjustmentsDay, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// placeholders returns "$1, $2, ... $n".
func placeholders(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}
