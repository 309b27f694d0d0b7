package safety

import (
	"fmt"
	"time"

	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/pkg/logger"
)

// RejectReason names the check that vetoed a recommendation.
type RejectReason string

const (
	RejectLocked     RejectReason = "locked"
	RejectCooldown   RejectReason = "cooldown"
	RejectDailyLimit RejectReason = "daily_limit"
	RejectVolume     RejectReason = "insufficient_volume"
	RejectConfidence RejectReason = "low_confidence"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  RejectReason `json:"reason,omitempty"`
	Detail  string       `json:"detail,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func reject(r RejectReason, format string, args ...any) Decision {
	return Decision{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// Gate evaluates the safety checks against one entity's state. It holds no
// per-entity state itself.
type Gate struct {
	cfg config.SafetyConfig
	loc *time.Location
}

// NewGate creates a gate from the safety configuration.
func NewGate(cfg config.SafetyConfig) *Gate {
	return &Gate{cfg: cfg, loc: cfg.Location()}
}

// Day returns the local calendar day t falls on in the configured timezone.
func (g *Gate) Day(t time.Time) string {
	return t.In(g.loc).Format("2006-01-02")
}

// Decide runs every check in order: lock, cooldown, daily limit, volume
// minimums, confidence floor. The first failing check wins.
func (g *Gate) Decide(st *domain.GateState, s domain.Snapshot, confidence float64, now time.Time) Decision {
	if d := g.stateChecks(st, now); !d.Allowed {
		return d
	}
	if ok, why := g.cfg.Volume.Sufficient(s); !ok {
		return reject(RejectVolume, "%s", why)
	}
	if confidence < g.cfg.MinConfidence {
		return reject(RejectConfidence, "confidence %.2f below floor %.2f", confidence, g.cfg.MinConfidence)
	}
	return allow()
}

// Check is Decide plus observability: rejections are logged at debug level
// and counted.
func (g *Gate) Check(st *domain.GateState, s domain.Snapshot, confidence float64, now time.Time) Decision {
	d := g.Decide(st, s, confidence, now)
	if !d.Allowed {
		gateRejections.WithLabelValues(string(d.Reason)).Inc()
		logger.Debug("safety gate rejected", "entity", s.Entity.Key(), "reason", string(d.Reason), "detail", d.Detail)
	}
	return d
}

// Admit re-checks the state-based limits at application time and returns
// the state with the adjustment recorded. It must be called with the
// entity serialized (entity lock plus row lock on the state).
func (g *Gate) Admit(st *domain.GateState, now time.Time) (*domain.GateState, error) {
	if d := g.stateChecks(st, now); !d.Allowed {
		gateRejections.WithLabelValues(string(d.Reason)).Inc()
		return nil, domain.Conflict("apply change to", st.Entity.Key(), string(d.Reason), d.Detail)
	}
	next := *st
	next.RecordAdjustment(now, g.Day(now))
	return &next, nil
}

func (g *Gate) stateChecks(st *domain.GateState, now time.Time) Decision {
	if st == nil {
		return allow()
	}
	if st.LockActive(now) {
		until := "indefinitely"
		if st.LockExpiresAt != nil {
			until = "until " + st.LockExpiresAt.Format(time.RFC3339)
		}
		return reject(RejectLocked, "entity locked %s: %s", until, st.LockReason)
	}
	if st.LastAdjustmentAt != nil {
		if since := now.Sub(*st.LastAdjustmentAt); since < g.cfg.Cooldown() {
			return reject(RejectCooldown, "last adjustment %s ago, cooldown %s",
				since.Round(time.Minute), g.cfg.Cooldown())
		}
	}
	if n := st.AdjustmentsOn(g.Day(now)); n >= g.cfg.MaxDailyAdjustments {
		return reject(RejectDailyLimit, "%d adjustments today, limit %d", n, g.cfg.MaxDailyAdjustments)
	}
	return allow()
}
