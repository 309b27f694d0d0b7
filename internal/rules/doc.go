// Package rules holds the fixed catalog of decision rules.
//
// A rule is a pure function of a performance snapshot and configuration that
// yields at most one signal. Rules check their own volume minimums and never
// fire on undefined ratios, so each one can be tested in isolation. The set
// of rule kinds is closed: Evaluate dispatches on domain.RuleID.
package rules
