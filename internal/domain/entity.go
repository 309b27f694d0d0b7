package domain

import (
	"fmt"
	"time"
)

// EntityType enumerates the advertising objects the engine can adjust.
type EntityType string

const (
	EntityCampaign EntityType = "campaign"
	EntityAdGroup  EntityType = "ad_group"
	EntityKeyword  EntityType = "keyword"
)

// Valid reports whether t is one of the supported entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityCampaign, EntityAdGroup, EntityKeyword:
		return true
	}
	return false
}

// ParseEntityType converts a raw string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// EntityRef identifies a single campaign, ad group or keyword.
type EntityRef struct {
	Type EntityType `json:"entity_type" db:"entity_type"`
	ID   string     `json:"entity_id" db:"entity_id"`
	Name string     `json:"entity_name,omitempty" db:"entity_name"`
}

// Key returns the stable identity used for locking and state lookups.
// The display name is not part of the identity.
func (r EntityRef) Key() string {
	return string(r.Type) + "/" + r.ID
}

func (r EntityRef) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s %s (%s)", r.Type, r.ID, r.Name)
	}
	return fmt.Sprintf("%s %s", r.Type, r.ID)
}

// Window is a half-open evaluation window [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// WindowEnding returns the window of length d that ends at end.
func WindowEnding(end time.Time, d time.Duration) Window {
	return Window{Start: end.Add(-d), End: end}
}
