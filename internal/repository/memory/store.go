// Package memory is an in-process implementation of repository.Store used
// by tests and single-instance local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/repository"
)

type state struct {
	recs    map[string]domain.Recommendation
	changes map[string]domain.ChangeLogEntry
	gates   map[string]domain.GateState
	values  map[string]repository.EntityValues
}

func newState() *state {
	return &state{
		recs:    make(map[string]domain.Recommendation),
		changes: make(map[string]domain.ChangeLogEntry),
		gates:   make(map[string]domain.GateState),
		values:  make(map[string]repository.EntityValues),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.recs {
		v.RulesTriggered = append([]domain.RuleID(nil), v.RulesTriggered...)
		c.recs[k] = v
	}
	for k, v := range s.changes {
		c.changes[k] = v
	}
	for k, v := range s.gates {
		c.gates[k] = v
	}
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

// Store keeps everything in maps guarded by one mutex. Transactions run
// one at a time against a private copy that replaces the live state on
// commit.
type Store struct {
	mu    sync.Mutex
	state *state

	// failCommit, when set, makes the next commit fail with this error.
	failCommit error
}

var (
	_ repository.Store         = (*Store)(nil)
	_ repository.ValueImporter = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// FailNextCommit makes the next transaction fail at commit time.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.failCommit = err
	s.mu.Unlock()
}

// SeedValues sets the live values for an entity.
func (s *Store) SeedValues(ref domain.EntityRef, v repository.EntityValues) {
	s.mu.Lock()
	s.state.values[ref.Key()] = v
	s.mu.Unlock()
}

// ImportValues is SeedValues behind the repository.ValueImporter contract.
func (s *Store) ImportValues(ctx context.Context, ref domain.EntityRef, v repository.EntityValues) error {
	if err := ctx.Err(); err != nil {
		return domain.Persistence("import entity values", err)
	}
	s.SeedValues(ref, v)
	return nil
}

// WithinTx runs fn against a copy of the state and publishes it on success.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.Persistence("commit", err)
	}
	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		return domain.Persistence("commit", err)
	}
	s.state = tx.st
	return nil
}

func (s *Store) GetRecommendation(_ context.Context, id string) (*domain.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.recs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRecommendations(_ context.Context, f repository.RecommendationFilter) ([]domain.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Recommendation
	for _, r := range s.state.recs {
		if f.AdjustmentType != "" && r.AdjustmentType != f.AdjustmentType {
			continue
		}
		if f.Priority != "" && r.Priority != f.Priority {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.EntityType != "" && r.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && r.EntityID != f.EntityID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) GetChange(_ context.Context, id string) (*domain.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.changes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListChanges(_ context.Context, f repository.ChangeFilter) ([]domain.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ChangeLogEntry
	for _, e := range s.state.changes {
		if f.EntityType != "" && e.Entity.Type != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.Entity.ID != f.EntityID {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
			continue
		}
		out = append(out, e)
	}
	sortChanges(out)
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) DueForEvaluation(_ context.Context, now time.Time, limit int) ([]domain.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ChangeLogEntry
	for _, e := range s.state.changes {
		if e.Evaluated() || e.IsRevert() || e.EvaluateAfter == nil || e.EvaluateAfter.After(now) {
			continue
		}
		if r, ok := s.state.recs[e.RecommendationID]; !ok || r.Status != domain.StatusApplied {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EvaluateAfter.Equal(*out[j].EvaluateAfter) {
			return out[i].EvaluateAfter.Before(*out[j].EvaluateAfter)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, 0), nil
}

func (s *Store) EvaluatedChanges(_ context.Context, from, to time.Time) ([]domain.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ChangeLogEntry
	for _, e := range s.state.changes {
		if !e.Evaluated() || e.EvaluatedAt == nil {
			continue
		}
		if e.EvaluatedAt.Before(from) || !e.EvaluatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sortChanges(out)
	return out, nil
}

func (s *Store) GateState(_ context.Context, ref domain.EntityRef) (*domain.GateState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.state.gates[ref.Key()]
	if !ok {
		g = domain.GateState{Entity: ref}
	}
	return &g, nil
}

func (s *Store) EntityValues(_ context.Context, ref domain.EntityRef) (repository.EntityValues, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.values[ref.Key()], nil
}

type memTx struct {
	st *state
}

func (t *memTx) InsertRecommendation(_ context.Context, r *domain.Recommendation) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if _, dup := t.st.recs[r.ID]; dup {
		return domain.Persistence("insert recommendation", errDuplicate(r.ID))
	}
	c := *r
	c.RulesTriggered = append([]domain.RuleID(nil), r.RulesTriggered...)
	t.st.recs[r.ID] = c
	return nil
}

func (t *memTx) UpdateRecommendation(_ context.Context, r *domain.Recommendation) error {
	if _, ok := t.st.recs[r.ID]; !ok {
		return domain.ErrNotFound
	}
	c := *r
	c.RulesTriggered = append([]domain.RuleID(nil), r.RulesTriggered...)
	t.st.recs[r.ID] = c
	return nil
}

func (t *memTx) RecommendationForUpdate(_ context.Context, id string) (*domain.Recommendation, error) {
	r, ok := t.st.recs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (t *memTx) PendingFor(_ context.Context, ref domain.EntityRef, adj domain.AdjustmentType) ([]domain.Recommendation, error) {
	var out []domain.Recommendation
	for _, r := range t.st.recs {
		if r.Status == domain.StatusPending && r.AdjustmentType == adj && r.EntityType == ref.Type && r.EntityID == ref.ID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) GateStateForUpdate(_ context.Context, ref domain.EntityRef) (*domain.GateState, error) {
	g, ok := t.st.gates[ref.Key()]
	if !ok {
		g = domain.GateState{Entity: ref}
	}
	return &g, nil
}

func (t *memTx) SaveGateState(_ context.Context, g *domain.GateState) error {
	t.st.gates[g.Entity.Key()] = *g
	return nil
}

func (t *memTx) InsertChange(_ context.Context, e *domain.ChangeLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, dup := t.st.changes[e.ID]; dup {
		return domain.Persistence("insert change", errDuplicate(e.ID))
	}
	t.st.changes[e.ID] = *e
	return nil
}

func (t *memTx) ChangeForUpdate(_ context.Context, id string) (*domain.ChangeLogEntry, error) {
	e, ok := t.st.changes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (t *memTx) AppliedChange(_ context.Context, recommendationID string) (*domain.ChangeLogEntry, error) {
	for _, e := range t.st.changes {
		if e.RecommendationID == recommendationID && !e.IsRevert() {
			c := e
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memTx) RecordOutcome(_ context.Context, id string, o domain.Outcome) (bool, error) {
	e, ok := t.st.changes[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if e.Evaluated() {
		return false, nil
	}
	score, post, at := o.Score, o.PostMetricValue, o.EvaluatedAt
	e.OutcomeLabel = o.Label
	e.OutcomeScore = &score
	e.PostMetricValue = &post
	e.EvaluatedAt = &at
	t.st.changes[id] = e
	return true, nil
}

func (t *memTx) EntityValuesForUpdate(_ context.Context, ref domain.EntityRef) (repository.EntityValues, error) {
	return t.st.values[ref.Key()], nil
}

func (t *memTx) SetEntityValue(_ context.Context, ref domain.EntityRef, adj domain.AdjustmentType, value float64) error {
	v := t.st.values[ref.Key()]
	v.Set(adj, value)
	t.st.values[ref.Key()] = v
	return nil
}

type errDuplicate string

func (e errDuplicate) Error() string { return "duplicate id " + string(e) }

func sortChanges(out []domain.ChangeLogEntry) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
