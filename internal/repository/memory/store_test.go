package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/repository"
)

var kw = domain.EntityRef{Type: domain.EntityKeyword, ID: "k1"}

func TestWithinTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		require.NoError(t, tx.InsertRecommendation(ctx, &domain.Recommendation{ID: "r1", Status: domain.StatusPending}))
		require.NoError(t, tx.SetEntityValue(ctx, kw, domain.AdjustBid, 2))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetRecommendation(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	v, _ := s.EntityValues(ctx, kw)
	assert.Zero(t, v.Bid)
}

func TestWithinTx_CommitFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailNextCommit(errors.New("disk full"))

	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertChange(ctx, &domain.ChangeLogEntry{ID: "c1"})
	})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	_, err = s.GetChange(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Only the next commit fails
	err = s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertChange(ctx, &domain.ChangeLogEntry{ID: "c1"})
	})
	require.NoError(t, err)
}

func TestDueForEvaluation(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, r := range []domain.Recommendation{
			{ID: "applied", Status: domain.StatusApplied},
			{ID: "reverted", Status: domain.StatusReverted},
		} {
			r := r
			require.NoError(t, tx.InsertRecommendation(ctx, &r))
		}
		entries := []domain.ChangeLogEntry{
			{ID: "due", RecommendationID: "applied", EvaluateAfter: &past, OutcomeLabel: domain.OutcomePending},
			{ID: "early", RecommendationID: "applied", EvaluateAfter: &future, OutcomeLabel: domain.OutcomePending},
			{ID: "gone", RecommendationID: "reverted", EvaluateAfter: &past, OutcomeLabel: domain.OutcomePending},
			{ID: "revert", RecommendationID: "applied", EvaluateAfter: &past, RevertsEntryID: "x", OutcomeLabel: domain.OutcomePending},
		}
		for i := range entries {
			require.NoError(t, tx.InsertChange(ctx, &entries[i]))
		}
		return nil
	}))

	due, err := s.DueForEvaluation(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}

func TestRecordOutcomeOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Now()

	var first, second bool
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		require.NoError(t, tx.InsertChange(ctx, &domain.ChangeLogEntry{ID: "c1", OutcomeLabel: domain.OutcomePending}))
		var err error
		first, err = tx.RecordOutcome(ctx, "c1", domain.Outcome{Label: domain.OutcomeSuccess, Score: 0.8, EvaluatedAt: at})
		require.NoError(t, err)
		second, err = tx.RecordOutcome(ctx, "c1", domain.Outcome{Label: domain.OutcomeFailure, EvaluatedAt: at})
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	e, err := s.GetChange(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, e.OutcomeLabel)
	assert.Equal(t, 0.8, *e.OutcomeScore)
}

func TestEntityValues(t *testing.T) {
	v := repository.EntityValues{Bid: 1.5}
	assert.Equal(t, 1.0, v.Value(domain.AdjustNegativeKeyword))
	v.Set(domain.AdjustNegativeKeyword, 0)
	assert.True(t, v.Negated)
	assert.Equal(t, 0.0, v.Value(domain.AdjustNegativeKeyword))
	assert.Equal(t, 1.5, v.Value(domain.AdjustBid))
}
