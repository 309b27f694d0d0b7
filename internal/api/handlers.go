// Package api exposes operator actions and queries over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/engine"
	"github.com/ignite/bidguard/internal/export"
	"github.com/ignite/bidguard/internal/pkg/httputil"
	"github.com/ignite/bidguard/internal/pkg/logger"
	"github.com/ignite/bidguard/internal/repository"
	"github.com/ignite/bidguard/internal/safety"
	"github.com/ignite/bidguard/internal/service/recommendation"
)

// ActorHeader names the operator performing an action. A JSON "actor"
// field in the body takes precedence.
const ActorHeader = "X-Actor"

// CycleRunner runs one evaluation cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*engine.Report, error)
}

// StatsReader computes learning stats over [from, to).
type StatsReader interface {
	Stats(ctx context.Context, from, to time.Time) (*domain.LearningStats, error)
}

// Handlers serves the /api routes.
type Handlers struct {
	recs        *recommendation.Service
	gates       *safety.Service
	stats       StatsReader
	cycles      CycleRunner
	statsWindow time.Duration
	now         func() time.Time
}

// NewHandlers creates the handler set. cycles may be nil, in which case
// POST /api/cycles answers 503.
func NewHandlers(recs *recommendation.Service, gates *safety.Service, stats StatsReader, cycles CycleRunner, statsWindow time.Duration) *Handlers {
	return &Handlers{
		recs:        recs,
		gates:       gates,
		stats:       stats,
		cycles:      cycles,
		statsWindow: statsWindow,
		now:         time.Now,
	}
}

type actionRequest struct {
	Actor string   `json:"actor"`
	IDs   []string `json:"ids"`
}

type lockRequest struct {
	Days   int    `json:"days"`
	Reason string `json:"reason"`
}

// decodeOptional reads a JSON body when one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return httputil.Decode(w, r, dst)
}

func actor(r *http.Request, body actionRequest) string {
	if body.Actor != "" {
		return body.Actor
	}
	if a := r.Header.Get(ActorHeader); a != "" {
		return a
	}
	return domain.ActorOperator
}

// --- recommendations ---

func (h *Handlers) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	f, err := recommendationFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	p := ParsePagination(r, 50, 500)
	f.Limit, f.Offset = p.Limit, p.Offset

	recs, err := h.recs.List(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	respondJSON(w, http.StatusOK, NewPaginatedResponse(recs, p, len(recs)))
}

func (h *Handlers) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.recs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) ExportRecommendations(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, err)
		return
	}
	f, err := recommendationFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	recs, err := h.recs.List(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format == export.FormatCSV {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=recommendations_%s.csv", h.now().UTC().Format("20060102")))
	}
	if err := export.Write(w, format, recs); err != nil {
		logger.Error("export write failed", "format", string(format), "error", err)
	}
}

func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	res := h.recs.Approve(r.Context(), chi.URLParam(r, "id"), actor(r, body))
	respondJSON(w, resultStatus(res), res)
}

func (h *Handlers) Reject(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	res := h.recs.Reject(r.Context(), chi.URLParam(r, "id"), actor(r, body))
	respondJSON(w, resultStatus(res), res)
}

// BulkApprove answers 200 with one result per id; individual failures do
// not fail the request.
func (h *Handlers) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !httputil.Decode(w, r, &body) {
		return
	}
	results, err := h.recs.BulkApprove(r.Context(), body.IDs, actor(r, body))
	if err != nil {
		respondError(w, err)
		return
	}
	applied := 0
	for _, res := range results {
		if res.OK {
			applied++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"ok":      applied,
		"failed":  len(results) - applied,
	})
}

// --- change log ---

func (h *Handlers) ListChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f repository.ChangeFilter
	if s := q.Get("entity_type"); s != "" {
		t, err := domain.ParseEntityType(s)
		if err != nil {
			respondError(w, invalid(err))
			return
		}
		f.EntityType = t
	}
	f.EntityID = q.Get("entity_id")
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		respondError(w, err)
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		respondError(w, err)
		return
	}
	p := ParsePagination(r, 50, 500)
	f.Limit, f.Offset = p.Limit, p.Offset

	changes, err := h.recs.ListChanges(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	if changes == nil {
		changes = []domain.ChangeLogEntry{}
	}
	respondJSON(w, http.StatusOK, NewPaginatedResponse(changes, p, len(changes)))
}

func (h *Handlers) GetChange(w http.ResponseWriter, r *http.Request) {
	e, err := h.recs.GetChange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (h *Handlers) Revert(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	res := h.recs.Revert(r.Context(), chi.URLParam(r, "id"), actor(r, body))
	respondJSON(w, resultStatus(res), res)
}

// --- entity locks ---

func (h *Handlers) GateState(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(r)
	if err != nil {
		respondError(w, err)
		return
	}
	st, err := h.gates.State(r.Context(), ref)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handlers) Lock(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var body lockRequest
	if !httputil.Decode(w, r, &body) {
		return
	}
	st, err := h.gates.Lock(r.Context(), ref, body.Days, body.Reason)
	h.gateResult(w, ref, st, err)
}

func (h *Handlers) Unlock(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(r)
	if err != nil {
		respondError(w, err)
		return
	}
	st, err := h.gates.Unlock(r.Context(), ref)
	h.gateResult(w, ref, st, err)
}

func (h *Handlers) gateResult(w http.ResponseWriter, ref domain.EntityRef, st *domain.GateState, err error) {
	if err != nil {
		res := recommendation.Failed(ref.Key(), err)
		respondJSON(w, resultStatus(res), res)
		return
	}
	respondJSON(w, http.StatusOK, recommendation.Result{ID: ref.Key(), OK: true, GateState: st})
}

// --- learning + cycles ---

func (h *Handlers) LearningStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		respondError(w, err)
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		respondError(w, err)
		return
	}
	if to.IsZero() {
		to = h.now()
	}
	if from.IsZero() {
		from = to.Add(-h.statsWindow)
	}
	stats, err := h.stats.Stats(r.Context(), from, to)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) RunCycle(w http.ResponseWriter, r *http.Request) {
	if h.cycles == nil {
		httputil.Fail(w, http.StatusServiceUnavailable, httputil.CodeUnavailable, "cycles are not enabled on this server")
		return
	}
	rep, err := h.cycles.RunCycle(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// --- parsing ---

func recommendationFilter(r *http.Request) (repository.RecommendationFilter, error) {
	q := r.URL.Query()
	var f repository.RecommendationFilter
	if s := q.Get("type"); s != "" {
		adj := domain.AdjustmentType(s)
		if !adj.Valid() {
			return f, fmt.Errorf("%w: unknown adjustment type %q", domain.ErrInvalidInput, s)
		}
		f.AdjustmentType = adj
	}
	if s := q.Get("priority"); s != "" {
		p, err := domain.ParsePriority(s)
		if err != nil {
			return f, invalid(err)
		}
		f.Priority = p
	}
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			return f, invalid(err)
		}
		f.Status = st
	}
	if s := q.Get("entity_type"); s != "" {
		t, err := domain.ParseEntityType(s)
		if err != nil {
			return f, invalid(err)
		}
		f.EntityType = t
	}
	f.EntityID = q.Get("entity_id")
	return f, nil
}

func entityRef(r *http.Request) (domain.EntityRef, error) {
	t, err := domain.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		return domain.EntityRef{}, invalid(err)
	}
	return domain.EntityRef{Type: t, ID: chi.URLParam(r, "id")}, nil
}

// parseTime accepts RFC 3339 or a bare date; empty yields the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", domain.ErrInvalidInput, s)
	}
	return t, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}
