package recommendation

import (
	"errors"

	"github.com/ignite/bidguard/internal/domain"
)

// Result is the structured answer to an operator action. On success it
// carries the new state; on failure a human-readable reason.
type Result struct {
	ID             string                 `json:"id,omitempty"`
	OK             bool                   `json:"ok"`
	Reason         string                 `json:"reason,omitempty"`
	Code           string                 `json:"code,omitempty"`
	Recommendation *domain.Recommendation `json:"recommendation,omitempty"`
	Change         *domain.ChangeLogEntry `json:"change,omitempty"`
	GateState      *domain.GateState      `json:"gate_state,omitempty"`
}

// Failed builds a failure result for id.
func Failed(id string, err error) Result {
	return Result{ID: id, Reason: err.Error(), Code: Code(err)}
}

// Code classifies an error for clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, domain.ErrPersistence):
		return "retry"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}
