package domain

import "time"

// OutcomeCounts tallies evaluated outcomes.
type OutcomeCounts struct {
	Success     int     `json:"success"`
	Neutral     int     `json:"neutral"`
	Failure     int     `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`
}

// Add records one outcome and refreshes the rates.
func (c *OutcomeCounts) Add(label OutcomeLabel) {
	switch label {
	case OutcomeSuccess:
		c.Success++
	case OutcomeNeutral:
		c.Neutral++
	case OutcomeFailure:
		c.Failure++
	default:
		return
	}
	total := float64(c.Total())
	c.SuccessRate = float64(c.Success) / total
	c.FailureRate = float64(c.Failure) / total
}

// Total is the number of evaluated outcomes counted.
func (c OutcomeCounts) Total() int {
	return c.Success + c.Neutral + c.Failure
}

// LearningStats summarizes outcomes over a date range, globally and per
// rule. It is always recomputed from change-log entries.
type LearningStats struct {
	From    time.Time                `json:"from"`
	To      time.Time                `json:"to"`
	Global  OutcomeCounts            `json:"global"`
	PerRule map[RuleID]OutcomeCounts `json:"per_rule"`
}

// NewLearningStats returns empty stats for the given range.
func NewLearningStats(from, to time.Time) *LearningStats {
	return &LearningStats{From: from, To: to, PerRule: make(map[RuleID]OutcomeCounts)}
}

// Record adds one evaluated outcome attributed to rule.
func (s *LearningStats) Record(rule RuleID, label OutcomeLabel) {
	s.Global.Add(label)
	if rule == "" {
		return
	}
	c := s.PerRule[rule]
	c.Add(label)
	s.PerRule[rule] = c
}

// Rule returns the counts for one rule.
func (s *LearningStats) Rule(rule RuleID) OutcomeCounts {
	if s == nil {
		return OutcomeCounts{}
	}
	return s.PerRule[rule]
}
