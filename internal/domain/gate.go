package domain

import "time"

// GateState is the per-entity safety state. Only the safety gate and the
// lifecycle transitions that apply or revert a change mutate it.
type GateState struct {
	Entity           EntityRef  `json:"entity"`
	IsLocked         bool       `json:"is_locked" db:"is_locked"`
	LockExpiresAt    *time.Time `json:"lock_expires_at,omitempty" db:"lock_expires_at"`
	LockReason       string     `json:"lock_reason,omitempty" db:"lock_reason"`
	LastAdjustmentAt *time.Time `json:"last_adjustment_at,omitempty" db:"last_adjustment_at"`
	AdjustmentsToday int        `json:"adjustments_today" db:"adjustments_today"`
	// AdjustmentsDay is the local calendar day (YYYY-MM-DD) the counter
	// belongs to.
	AdjustmentsDay string    `json:"adjustments_day,omitempty" db:"adjustments_day"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// LockActive reports whether an unexpired lock is in place at now.
func (g *GateState) LockActive(now time.Time) bool {
	if !g.IsLocked {
		return false
	}
	return g.LockExpiresAt == nil || now.Before(*g.LockExpiresAt)
}

// AdjustmentsOn returns the adjustment counter as seen on the given local
// day. A counter recorded for an earlier day reads as zero.
func (g *GateState) AdjustmentsOn(day string) int {
	if g.AdjustmentsDay != day {
		return 0
	}
	return g.AdjustmentsToday
}

// RecordAdjustment bumps the counter for day and stamps the adjustment time.
func (g *GateState) RecordAdjustment(at time.Time, day string) {
	g.AdjustmentsToday = g.AdjustmentsOn(day) + 1
	g.AdjustmentsDay = day
	t := at
	g.LastAdjustmentAt = &t
	g.UpdatedAt = at
}
