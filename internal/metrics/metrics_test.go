package metrics

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

var (
	k1  = domain.EntityRef{Type: domain.EntityKeyword, ID: "k1"}
	win = domain.Window{
		Start: time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
)

func newMock(t *testing.T, driver string) (*SQLProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	p, err := NewSQLProvider(db, config.MetricsConfig{Driver: driver, Table: "entity_daily_metrics", TimeoutSeconds: 5})
	require.NoError(t, err)
	return p, mock
}

func TestSQLProvider_Snapshot(t *testing.T) {
	p, mock := newMock(t, "postgres")

	mock.ExpectQuery(regexp.QuoteMeta("FROM entity_daily_metrics")).
		WithArgs("keyword", "k1", win.Start, win.End).
		WillReturnRows(sqlmock.NewRows([]string{"count", "name", "imp", "clk", "conv", "cost", "sales"}).
			AddRow(14, "running shoes", 2000, 80, 5, 35.0, 100.0))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY day DESC LIMIT 1")).
		WithArgs("keyword", "k1", win.Start, win.End).
		WillReturnRows(sqlmock.NewRows([]string{"bid", "budget"}).AddRow(1.5, 0.0))

	s, err := p.Snapshot(context.Background(), k1, win)
	require.NoError(t, err)
	assert.Equal(t, "running shoes", s.Entity.Name)
	assert.Equal(t, int64(2000), s.Impressions)
	assert.Equal(t, int64(80), s.Clicks)
	assert.Equal(t, 35.0, s.Cost)
	assert.Equal(t, 1.5, s.CurrentBid)
	assert.Equal(t, win, s.Window)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLProvider_SnapshotNoRows(t *testing.T) {
	p, mock := newMock(t, "postgres")
	mock.ExpectQuery("FROM entity_daily_metrics").
		WillReturnRows(sqlmock.NewRows([]string{"count", "name", "imp", "clk", "conv", "cost", "sales"}).
			AddRow(0, nil, 0, 0, 0, 0.0, 0.0))

	_, err := p.Snapshot(context.Background(), k1, win)
	assert.True(t, errors.Is(err, domain.ErrDataInsufficient))
}

func TestSQLProvider_SnowflakePlaceholders(t *testing.T) {
	p, mock := newMock(t, "snowflake")
	mock.ExpectQuery(regexp.QuoteMeta("entity_type = ? AND entity_id = ? AND day >= ? AND day < ?")).
		WillReturnError(errors.New("warehouse suspended"))

	_, err := p.Snapshot(context.Background(), k1, win)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse suspended")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLProvider_ListEntities(t *testing.T) {
	p, mock := newMock(t, "postgres")
	mock.ExpectQuery("GROUP BY entity_type, entity_id").
		WillReturnRows(sqlmock.NewRows([]string{"type", "id", "name"}).
			AddRow("campaign", "c1", "Spring").
			AddRow("placement", "x", nil).
			AddRow("keyword", "k1", nil))

	refs, err := p.ListEntities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityRef{
		{Type: domain.EntityCampaign, ID: "c1", Name: "Spring"},
		{Type: domain.EntityKeyword, ID: "k1"},
	}, refs)
}

func TestNewSQLProvider_RejectsBadTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = NewSQLProvider(db, config.MetricsConfig{Driver: "postgres", Table: "m; DROP TABLE x"})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestStatic(t *testing.T) {
	p := NewStatic(domain.Snapshot{Entity: k1, Impressions: 10})
	s, err := p.Snapshot(context.Background(), k1, win)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.Impressions)
	assert.Equal(t, win, s.Window)

	_, err = p.Snapshot(context.Background(), domain.EntityRef{Type: domain.EntityKeyword, ID: "nope"}, win)
	assert.ErrorIs(t, err, domain.ErrDataInsufficient)

	p.Fail(k1, errors.New("boom"))
	_, err = p.Snapshot(context.Background(), k1, win)
	assert.EqualError(t, err, "boom")
}
