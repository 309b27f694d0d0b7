package rules

import (
	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/domain"
)

// eps absorbs float noise when a metric sits exactly on a band edge.
const eps = 1e-9

// Catalog is the ordered rule set. Order is significant: it is the last
// tie-break when two signals are otherwise equal.
type Catalog []domain.RuleID

// DefaultCatalog returns every rule kind in precedence order.
func DefaultCatalog() Catalog {
	return Catalog{
		domain.RuleACOS,
		domain.RuleROAS,
		domain.RuleCTR,
		domain.RuleBudget,
		domain.RuleNegativeKeyword,
	}
}

// Rank returns the position of id in the catalog, or len(c) if absent.
func (c Catalog) Rank(id domain.RuleID) int {
	for i, r := range c {
		if r == id {
			return i
		}
	}
	return len(c)
}

// Evaluate runs every enabled rule against s and returns the signals that
// fired, in catalog order.
func (c Catalog) Evaluate(s domain.Snapshot, cfg *config.Config) []domain.Signal {
	if err := s.Validate(); err != nil {
		return nil
	}
	var out []domain.Signal
	for _, id := range c {
		if !Enabled(id, cfg) {
			continue
		}
		if sig, ok := Evaluate(id, s, cfg); ok {
			out = append(out, sig)
		}
	}
	return out
}

// Enabled reports whether the rule is switched on in configuration.
func Enabled(id domain.RuleID, cfg *config.Config) bool {
	switch id {
	case domain.RuleACOS:
		return config.On(cfg.Rules.ACOS.Enabled)
	case domain.RuleROAS:
		return config.On(cfg.Rules.ROAS.Enabled)
	case domain.RuleCTR:
		return config.On(cfg.Rules.CTR.Enabled)
	case domain.RuleBudget:
		return config.On(cfg.Rules.Budget.Enabled)
	case domain.RuleNegativeKeyword:
		return config.On(cfg.Rules.NegativeKeyword.Enabled)
	}
	return false
}

// Evaluate runs a single rule. It returns false when the rule does not
// fire, including when the snapshot lacks the volume to decide on.
func Evaluate(id domain.RuleID, s domain.Snapshot, cfg *config.Config) (domain.Signal, bool) {
	switch id {
	case domain.RuleACOS:
		return evalACOS(s, cfg)
	case domain.RuleROAS:
		return evalROAS(s, cfg)
	case domain.RuleCTR:
		return evalCTR(s, cfg)
	case domain.RuleBudget:
		return evalBudget(s, cfg)
	case domain.RuleNegativeKeyword:
		return evalNegativeKeyword(s, cfg)
	}
	return domain.Signal{}, false
}

// bidEntity reports whether the entity carries a bid. Campaigns carry a
// budget instead.
func bidEntity(s domain.Snapshot) bool {
	return s.Entity.Type == domain.EntityKeyword || s.Entity.Type == domain.EntityAdGroup
}

func sufficient(s domain.Snapshot, cfg *config.Config) bool {
	ok, _ := cfg.Rules.Volume.Sufficient(s)
	return ok
}

func signal(id domain.RuleID, s domain.Snapshot, adj domain.AdjustmentType, dir domain.Direction) domain.Signal {
	return domain.Signal{
		Rule:           id,
		Entity:         s.Entity,
		AdjustmentType: adj,
		Direction:      dir,
	}
}
