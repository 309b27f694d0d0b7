// Package metrics reads per-entity performance snapshots. The engine and
// the outcome evaluator depend only on the Provider interface; SQLProvider
// implements it over a Postgres or Snowflake daily-metrics table.
package metrics

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/bidguard/internal/domain"
)

// Provider supplies performance data. Snapshot returns an error wrapping
// domain.ErrDataInsufficient when the entity has no rows in the window.
type Provider interface {
	ListEntities(ctx context.Context) ([]domain.EntityRef, error)
	Snapshot(ctx context.Context, ref domain.EntityRef, w domain.Window) (domain.Snapshot, error)
}

// Static serves fixed snapshots from memory. Used in tests and dry runs.
type Static struct {
	mu    sync.RWMutex
	snaps map[string]domain.Snapshot
	errs  map[string]error
}

// NewStatic creates a provider seeded with snaps.
func NewStatic(snaps ...domain.Snapshot) *Static {
	p := &Static{snaps: make(map[string]domain.Snapshot), errs: make(map[string]error)}
	for _, s := range snaps {
		p.Put(s)
	}
	return p
}

// Put replaces the snapshot served for s.Entity.
func (p *Static) Put(s domain.Snapshot) {
	p.mu.Lock()
	p.snaps[s.Entity.Key()] = s
	p.mu.Unlock()
}

// Fail makes every Snapshot call for ref return err.
func (p *Static) Fail(ref domain.EntityRef, err error) {
	p.mu.Lock()
	p.errs[ref.Key()] = err
	p.mu.Unlock()
}

func (p *Static) ListEntities(_ context.Context) ([]domain.EntityRef, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.EntityRef, 0, len(p.snaps))
	for _, s := range p.snaps {
		out = append(out, s.Entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (p *Static) Snapshot(_ context.Context, ref domain.EntityRef, w domain.Window) (domain.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.errs[ref.Key()]; err != nil {
		return domain.Snapshot{}, err
	}
	s, ok := p.snaps[ref.Key()]
	if !ok {
		return domain.Snapshot{}, domain.ErrDataInsufficient
	}
	s.Window = w
	return s, nil
}
