// Package repository defines the storage contract shared by the lifecycle,
// safety and outcome services. Implementations live in the postgres and
// memory subpackages.
//
// Every state transition runs inside Store.WithinTx: either all of its
// writes commit or none do. Lookups that return a single record report
// domain.ErrNotFound when it does not exist; storage failures are wrapped
// as domain.PersistenceError.
package repository

import (
	"context"
	"time"

	"github.com/ignite/bidguard/internal/domain"
)

// Store is the entry point for reads and transactional writes.
type Store interface {
	// WithinTx runs fn in one transaction. A non-nil error from fn rolls
	// everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetRecommendation(ctx context.Context, id string) (*domain.Recommendation, error)
	ListRecommendations(ctx context.Context, f RecommendationFilter) ([]domain.Recommendation, error)

	GetChange(ctx context.Context, id string) (*domain.ChangeLogEntry, error)
	ListChanges(ctx context.Context, f ChangeFilter) ([]domain.ChangeLogEntry, error)

	// DueForEvaluation returns pending, non-revert entries whose
	// evaluate_after is at or before now and whose recommendation is
	// still applied. Oldest first.
	DueForEvaluation(ctx context.Context, now time.Time, limit int) ([]domain.ChangeLogEntry, error)

	// EvaluatedChanges returns entries evaluated within [from, to).
	EvaluatedChanges(ctx context.Context, from, to time.Time) ([]domain.ChangeLogEntry, error)

	// GateState returns the entity's gate state, or a zero state when the
	// entity has never been touched.
	GateState(ctx context.Context, ref domain.EntityRef) (*domain.GateState, error)

	// EntityValues returns the live values this system owns for ref.
	EntityValues(ctx context.Context, ref domain.EntityRef) (EntityValues, error)
}

// ValueImporter records platform values for entities, replacing whatever
// was stored for them.
type ValueImporter interface {
	ImportValues(ctx context.Context, ref domain.EntityRef, v EntityValues) error
}

// Tx is the set of operations available inside a transaction. Methods
// named ForUpdate take a row lock held until commit.
type Tx interface {
	InsertRecommendation(ctx context.Context, r *domain.Recommendation) error
	UpdateRecommendation(ctx context.Context, r *domain.Recommendation) error
	RecommendationForUpdate(ctx context.Context, id string) (*domain.Recommendation, error)
	// PendingFor returns the pending recommendations for one entity and
	// adjustment type.
	PendingFor(ctx context.Context, ref domain.EntityRef, adj domain.AdjustmentType) ([]domain.Recommendation, error)

	GateStateForUpdate(ctx context.Context, ref domain.EntityRef) (*domain.GateState, error)
	SaveGateState(ctx context.Context, g *domain.GateState) error

	InsertChange(ctx context.Context, e *domain.ChangeLogEntry) error
	ChangeForUpdate(ctx context.Context, id string) (*domain.ChangeLogEntry, error)
	// AppliedChange returns the entry written when the recommendation was
	// applied.
	AppliedChange(ctx context.Context, recommendationID string) (*domain.ChangeLogEntry, error)
	// RecordOutcome writes the outcome fields of an entry exactly once. It
	// reports false when the entry was already evaluated.
	RecordOutcome(ctx context.Context, id string, o domain.Outcome) (bool, error)

	EntityValuesForUpdate(ctx context.Context, ref domain.EntityRef) (EntityValues, error)
	SetEntityValue(ctx context.Context, ref domain.EntityRef, adj domain.AdjustmentType, value float64) error
}

// EntityValues are the live values owned by this system for one entity.
type EntityValues struct {
	Bid     float64 `json:"bid"`
	Budget  float64 `json:"budget"`
	Negated bool    `json:"negated"`
}

// Value returns the live value an adjustment type acts on. The negative
// keyword value is the serving state: 1 while serving, 0 once negated.
func (v EntityValues) Value(adj domain.AdjustmentType) float64 {
	switch adj {
	case domain.AdjustBid:
		return v.Bid
	case domain.AdjustBudget:
		return v.Budget
	case domain.AdjustNegativeKeyword:
		if v.Negated {
			return 0
		}
		return 1
	}
	return 0
}

// Owned reports whether a live value for adj has been recorded. Bids and
// budgets are never zero once written, so zero means the platform value
// has not been adopted yet. The serving state of a keyword is always known.
func (v EntityValues) Owned(adj domain.AdjustmentType) bool {
	switch adj {
	case domain.AdjustBid:
		return v.Bid > 0
	case domain.AdjustBudget:
		return v.Budget > 0
	}
	return true
}

// Set stores value for adj.
func (v *EntityValues) Set(adj domain.AdjustmentType, value float64) {
	switch adj {
	case domain.AdjustBid:
		v.Bid = value
	case domain.AdjustBudget:
		v.Budget = value
	case domain.AdjustNegativeKeyword:
		v.Negated = value == 0
	}
}

// RecommendationFilter narrows recommendation listings. Zero values match
// everything.
type RecommendationFilter struct {
	AdjustmentType domain.AdjustmentType
	Priority       domain.Priority
	Status         domain.Status
	EntityType     domain.EntityType
	EntityID       string
	Limit          int
	Offset         int
}

// ChangeFilter narrows change-log listings. From is inclusive, To exclusive.
type ChangeFilter struct {
	EntityType domain.EntityType
	EntityID   string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
