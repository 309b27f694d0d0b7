// Package events publishes change events for the external synchronization
// collaborator that pushes live values to the ad platform. Publishing
// happens after commit and never rolls a change back.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/pkg/logger"
)

type Type string

const (
	ChangeApplied  Type = "change.applied"
	ChangeReverted Type = "change.reverted"
)

// Event describes one committed value change.
type Event struct {
	ID               string                `json:"id"`
	Type             Type                  `json:"type"`
	RecommendationID string                `json:"recommendation_id"`
	ChangeID         string                `json:"change_id"`
	Entity           domain.EntityRef      `json:"entity"`
	AdjustmentType   domain.AdjustmentType `json:"adjustment_type"`
	OldValue         float64               `json:"old_value"`
	NewValue         float64               `json:"new_value"`
	Actor            string                `json:"actor"`
	TriggeredBy      string                `json:"triggered_by"`
	OccurredAt       time.Time             `json:"occurred_at"`
}

// FromChange builds the event for a committed change-log entry.
func FromChange(t Type, e *domain.ChangeLogEntry) Event {
	return Event{
		ID:               uuid.New().String(),
		Type:             t,
		RecommendationID: e.RecommendationID,
		ChangeID:         e.ID,
		Entity:           e.Entity,
		AdjustmentType:   e.AdjustmentType,
		OldValue:         e.OldValue,
		NewValue:         e.NewValue,
		Actor:            e.Actor,
		TriggeredBy:      e.TriggeredBy,
		OccurredAt:       e.Timestamp,
	}
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the structured log. It is the sink of
// last resort when nothing else is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, evt Event) error {
	logger.Info("change event",
		"type", string(evt.Type),
		"entity", evt.Entity.Key(),
		"adjustment_type", string(evt.AdjustmentType),
		"old_value", evt.OldValue,
		"new_value", evt.NewValue,
		"actor", evt.Actor,
	)
	return nil
}
