package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/repository"
)

type pgTx struct{ q querier }

var _ repository.Tx = (*pgTx)(nil)

func (t *pgTx) InsertRecommendation(ctx context.Context, r *domain.Recommendation) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO recommendations (`+cols(recColumns, "")+`) VALUES (`+placeholders(len(recColumns))+`)`,
		recommendationArgs(r)...)
	if err != nil {
		return domain.Persistence("insert recommendation", err)
	}
	return nil
}

// UpdateRecommendation rewrites the mutable lifecycle columns.
func (t *pgTx) UpdateRecommendation(ctx context.Context, r *domain.Recommendation) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE recommendations
		SET status = $2, superseded_by = $3, decided_by = $4, decided_at = $5,
		    applied_at = $6, evaluate_after = $7
		WHERE id = $1
	`, r.ID, string(r.Status), r.SupersededBy, r.DecidedBy, r.DecidedAt, r.AppliedAt, r.EvaluateAfter)
	if err != nil {
		return domain.Persistence("update recommendation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) RecommendationForUpdate(ctx context.Context, id string) (*domain.Recommendation, error) {
	return getRecommendation(ctx, t.q, id, true)
}

func (t *pgTx) PendingFor(ctx context.Context, ref domain.EntityRef, adj domain.AdjustmentType) ([]domain.Recommendation, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT `+cols(recColumns, "")+`
		FROM recommendations
		WHERE entity_type = $1 AND entity_id = $2 AND adjustment_type = $3 AND status = 'pending'
		ORDER BY created_at
		FOR UPDATE`, string(ref.Type), ref.ID, string(adj))
	if err != nil {
		return nil, domain.Persistence("list pending", err)
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, domain.Persistence("scan recommendation", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("list pending", err)
	}
	return out, nil
}

// GateStateForUpdate creates the row when missing so that the lock is
// always taken on a real row.
func (t *pgTx) GateStateForUpdate(ctx context.Context, ref domain.EntityRef) (*domain.GateState, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO gate_states (entity_type, entity_id) VALUES ($1, $2)
		ON CONFLICT (entity_type, entity_id) DO NOTHING
	`, string(ref.Type), ref.ID)
	if err != nil {
		return nil, domain.Persistence("init gate state", err)
	}
	g, err := scanGate(t.q.QueryRowContext(ctx,
		`SELECT `+cols(gateColumns, "")+` FROM gate_states WHERE entity_type = $1 AND entity_id = $2 FOR UPDATE`,
		string(ref.Type), ref.ID))
	if err != nil {
		return nil, domain.Persistence("lock gate state", err)
	}
	g.Entity.Name = ref.Name
	return g, nil
}

func (t *pgTx) SaveGateState(ctx context.Context, g *domain.GateState) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO gate_states (`+cols(gateColumns, "")+`)
		VALUES (`+placeholders(len(gateColumns))+`)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			is_locked = EXCLUDED.is_locked,
			lock_expires_at = EXCLUDED.lock_expires_at,
			lock_reason = EXCLUDED.lock_reason,
			last_adjustment_at = EXCLUDED.last_adjustment_at,
			adjustments_today = EXCLUDED.adjustments_today,
			adjustments_day = EXCLUDED.adjustments_day,
			updated_at = EXCLUDED.updated_at
	`, string(g.Entity.Type), g.Entity.ID, g.IsLocked, g.LockExpiresAt, g.LockReason,
		g.LastAdjustmentAt, g.AdjustmentsToday, g.AdjustmentsDay, g.UpdatedAt)
	if err != nil {
		return domain.Persistence("save gate state", err)
	}
	return nil
}

func (t *pgTx) InsertChange(ctx context.Context, e *domain.ChangeLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO change_log (`+cols(changeColumns, "")+`) VALUES (`+placeholders(len(changeColumns))+`)`,
		changeArgs(e)...)
	if err != nil {
		return domain.Persistence("insert change", err)
	}
	return nil
}

func (t *pgTx) ChangeForUpdate(ctx context.Context, id string) (*domain.ChangeLogEntry, error) {
	return getChange(ctx, t.q, id, true)
}

func (t *pgTx) AppliedChange(ctx context.Context, recommendationID string) (*domain.ChangeLogEntry, error) {
	e, err := scanChange(t.q.QueryRowContext(ctx, `SELECT `+cols(changeColumns, "")+`
		FROM change_log
		WHERE recommendation_id = $1 AND reverts_entry_id = ''`, recommendationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.Persistence("get applied change", err)
	}
	return e, nil
}

// RecordOutcome only touches rows still pending, so a second evaluation of
// the same entry changes nothing.
func (t *pgTx) RecordOutcome(ctx context.Context, id string, o domain.Outcome) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE change_log
		SET outcome_label = $2, outcome_score = $3, post_metric_value = $4, evaluated_at = $5
		WHERE id = $1 AND outcome_label = 'pending'
	`, id, string(o.Label), o.Score, o.PostMetricValue, o.EvaluatedAt)
	if err != nil {
		return false, domain.Persistence("record outcome", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.Persistence("record outcome", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = t.q.QueryRowContext(ctx, `SELECT 1 FROM change_log WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, domain.Persistence("record outcome", err)
	}
	return false, nil
}

func (t *pgTx) EntityValuesForUpdate(ctx context.Context, ref domain.EntityRef) (repository.EntityValues, error) {
	return entityValues(ctx, t.q, ref, true)
}

func (t *pgTx) SetEntityValue(ctx context.Context, ref domain.EntityRef, adj domain.AdjustmentType, value float64) error {
	var (
		column string
		arg    any = value
	)
	switch adj {
	case domain.AdjustBid:
		column = "bid"
	case domain.AdjustBudget:
		column = "budget"
	case domain.AdjustNegativeKeyword:
		column = "negated"
		arg = value == 0
	default:
		return fmt.Errorf("%w: adjustment type %q", domain.ErrInvalidInput, adj)
	}
	_, err := t.q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO entity_values (entity_type, entity_id, %[1]s, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET %[1]s = EXCLUDED.%[1]s, updated_at = NOW()
	`, column), string(ref.Type), ref.ID, arg)
	if err != nil {
		return domain.Persistence("set entity value", err)
	}
	return nil
}

// ImportValues upserts every live value of an entity.
func (s *Store) ImportValues(ctx context.Context, ref domain.EntityRef, v repository.EntityValues) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_values (entity_type, entity_id, bid, budget, negated, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			bid = EXCLUDED.bid, budget = EXCLUDED.budget, negated = EXCLUDED.negated, updated_at = NOW()
	`, string(ref.Type), ref.ID, v.Bid, v.Budget, v.Negated)
	if err != nil {
		return domain.Persistence("import entity values", err)
	}
	return nil
}
