package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"                 // PostgreSQL driver
	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){0,2}$`)

// SQLProvider aggregates a daily metrics table with the columns entity_type,
// entity_id, entity_name, day, impressions, clicks, conversions, cost,
// sales, current_bid and current_budget.
type SQLProvider struct {
	db      *sql.DB
	driver  string
	table   string
	timeout time.Duration
}

// Open connects to the configured warehouse.
func Open(cfg config.MetricsConfig) (*SQLProvider, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	p, err := NewSQLProvider(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewSQLProvider wraps an open connection.
func NewSQLProvider(db *sql.DB, cfg config.MetricsConfig) (*SQLProvider, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: metrics table %q", domain.ErrConfiguration, cfg.Table)
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SQLProvider{db: db, driver: cfg.Driver, table: cfg.Table, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (p *SQLProvider) Close() error {
	return p.db.Close()
}

// Ping tests the connection.
func (p *SQLProvider) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// bind rewrites $n placeholders for drivers that use ?.
func (p *SQLProvider) bind(q string) string {
	if p.driver != "snowflake" {
		return q
	}
	for i := 9; i >= 1; i-- {
		q = strings.ReplaceAll(q, fmt.Sprintf("$%d", i), "?")
	}
	return q
}

// ListEntities returns every entity with at least one metrics row.
func (p *SQLProvider) ListEntities(ctx context.Context) ([]domain.EntityRef, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	q := `SELECT entity_type, entity_id, MAX(entity_name)
		FROM ` + p.table + `
		GROUP BY entity_type, entity_id
		ORDER BY entity_type, entity_id`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityRef
	for rows.Next() {
		var (
			ref  domain.EntityRef
			typ  string
			name sql.NullString
		)
		if err := rows.Scan(&typ, &ref.ID, &name); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		t, err := domain.ParseEntityType(typ)
		if err != nil {
			continue
		}
		ref.Type = t
		ref.Name = name.String
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Snapshot sums the entity's rows with day in [w.Start, w.End). The
// current bid and budget come from the latest row in the window.
func (p *SQLProvider) Snapshot(ctx context.Context, ref domain.EntityRef, w domain.Window) (domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	s := domain.Snapshot{Entity: ref, Window: w}
	var (
		n    int64
		name sql.NullString
	)
	q := p.bind(`SELECT COUNT(*), MAX(entity_name),
			COALESCE(SUM(impressions), 0), COALESCE(SUM(clicks), 0), COALESCE(SUM(conversions), 0),
			COALESCE(SUM(cost), 0), COALESCE(SUM(sales), 0)
		FROM ` + p.table + `
		WHERE entity_type = $1 AND entity_id = $2 AND day >= $3 AND day < $4`)
	err := p.db.QueryRowContext(ctx, q, string(ref.Type), ref.ID, w.Start, w.End).
		Scan(&n, &name, &s.Impressions, &s.Clicks, &s.Conversions, &s.Cost, &s.Sales)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s: %w", ref.Key(), err)
	}
	if n == 0 {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s: no rows in window: %w", ref.Key(), domain.ErrDataInsufficient)
	}
	if s.Entity.Name == "" {
		s.Entity.Name = name.String
	}

	q = p.bind(`SELECT COALESCE(current_bid, 0), COALESCE(current_budget, 0)
		FROM ` + p.table + `
		WHERE entity_type = $1 AND entity_id = $2 AND day >= $3 AND day < $4
		ORDER BY day DESC LIMIT 1`)
	err = p.db.QueryRowContext(ctx, q, string(ref.Type), ref.ID, w.Start, w.End).
		Scan(&s.CurrentBid, &s.CurrentBudget)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s current values: %w", ref.Key(), err)
	}
	return s, nil
}
