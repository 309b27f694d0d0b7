// Package postgres implements repository.Store on PostgreSQL. Row locks
// (SELECT ... FOR UPDATE) back the ForUpdate methods; every error other
// than not-found is wrapped as domain.PersistenceError.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/repository"
)

// Store implements repository.Store against PostgreSQL.
type Store struct{ db *sql.DB }

var (
	_ repository.Store         = (*Store)(nil)
	_ repository.ValueImporter = (*Store)(nil)
)

// New creates a Postgres-backed store.
func New(db *sql.DB) *Store { return &Store{db: db} }

// WithinTx runs fn in a database transaction, committing only when fn
// succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Persistence("begin tx", err)
	}
	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Persistence("commit tx", err)
	}
	return nil
}

func (s *Store) GetRecommendation(ctx context.Context, id string) (*domain.Recommendation, error) {
	return getRecommendation(ctx, s.db, id, false)
}

func (s *Store) ListRecommendations(ctx context.Context, f repository.RecommendationFilter) ([]domain.Recommendation, error) {
	q := `SELECT ` + cols(recColumns, "") + ` FROM recommendations WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if f.AdjustmentType != "" {
		add("adjustment_type", string(f.AdjustmentType))
	}
	if f.Priority != "" {
		add("priority", string(f.Priority))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.EntityType != "" {
		add("entity_type", string(f.EntityType))
	}
	if f.EntityID != "" {
		add("entity_id", f.EntityID)
	}
	q += " ORDER BY created_at DESC, id"
	q, args = paginate(q, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.Persistence("list recommendations", err)
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
		return nil, domain.Persistence("list recommendations", err)
	}
	return out, nil
}

func (s *Store) GetChange(ctx context.Context, id string) (*domain.ChangeLogEntry, error) {
	return getChange(ctx, s.db, id, false)
}

func (s *Store) ListChanges(ctx context.Context, f repository.ChangeFilter) ([]domain.ChangeLogEntry, error) {
	q := `SELECT ` + cols(changeColumns, "") + ` FROM change_log WHERE 1=1`
	var args []any
	if f.EntityType != "" {
		args = append(args, string(f.EntityType))
		q += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		q += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	q += " ORDER BY created_at DESC, id"
	q, args = paginate(q, args, f.Limit, f.Offset)
	return queryChanges(ctx, s.db, "list changes", q, args...)
}

func (s *Store) DueForEvaluation(ctx context.Context, now time.Time, limit int) ([]domain.ChangeLogEntry, error) {
	q := `SELECT ` + cols(changeColumns, "c") + `
		FROM change_log c
		JOIN recommendations r ON r.id = c.recommendation_id
		WHERE c.outcome_label = 'pending'
		  AND c.reverts_entry_id = ''
		  AND c.evaluate_after IS NOT NULL
		  AND c.evaluate_after <= $1
		  AND r.status = 'applied'
		ORDER BY c.evaluate_after, c.id`
	q, args := paginate(q, []any{now}, limit, 0)
	return queryChanges(ctx, s.db, "list due changes", q, args...)
}

func (s *Store) EvaluatedChanges(ctx context.Context, from, to time.Time) ([]domain.ChangeLogEntry, error) {
	q := `SELECT ` + cols(changeColumns, "") + `
		FROM change_log
		WHERE outcome_label <> 'pending' AND evaluated_at >= $1 AND evaluated_at < $2
		ORDER BY created_at DESC, id`
	return queryChanges(ctx, s.db, "list evaluated changes", q, from, to)
}

func (s *Store) GateState(ctx context.Context, ref domain.EntityRef) (*domain.GateState, error) {
	g, err := scanGate(s.db.QueryRowContext(ctx,
		`SELECT `+cols(gateColumns, "")+` FROM gate_states WHERE entity_type = $1 AND entity_id = $2`,
		string(ref.Type), ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.GateState{Entity: ref}, nil
	}
	if err != nil {
		return nil, domain.Persistence("get gate state", err)
	}
	g.Entity.Name = ref.Name
	return g, nil
}

func (s *Store) EntityValues(ctx context.Context, ref domain.EntityRef) (repository.EntityValues, error) {
	return entityValues(ctx, s.db, ref, false)
}

func paginate(q string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return q, args
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func getRecommendation(ctx context.Context, q querier, id string, lock bool) (*domain.Recommendation, error) {
	r, err := scanRecommendation(q.QueryRowContext(ctx,
		`SELECT `+cols(recColumns, "")+` FROM recommendations WHERE id = $1`+forUpdate(lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.Persistence("get recommendation", err)
	}
	return r, nil
}

func getChange(ctx context.Context, q querier, id string, lock bool) (*domain.ChangeLogEntry, error) {
	e, err := scanChange(q.QueryRowContext(ctx,
		`SELECT `+cols(changeColumns, "")+` FROM change_log WHERE id = $1`+forUpdate(lock), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.Persistence("get change", err)
	}
	return e, nil
}

func queryChanges(ctx context.Context, q querier, op, query string, args ...any) ([]domain.ChangeLogEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence(op, err)
	}
	defer rows.Close()

	var out []domain.ChangeLogEntry
	for rows.Next() {
		e, err := scanChange(rows)
		if err != nil {
			return nil, domain.Persistence("scan change", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence(op, err)
	}
	return out, nil
}

func entityValues(ctx context.Context, q querier, ref domain.EntityRef, lock bool) (repository.EntityValues, error) {
	var v repository.EntityValues
	err := q.QueryRowContext(ctx,
		`SELECT bid, budget, negated FROM entity_values WHERE entity_type = $1 AND entity_id = $2`+forUpdate(lock),
		string(ref.Type), ref.ID).Scan(&v.Bid, &v.Budget, &v.Negated)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.EntityValues{}, nil
	}
	if err != nil {
		return v, domain.Persistence("get entity values", err)
	}
	return v, nil
}
