// Package outcome closes the learning loop. A pass scores every applied
// change whose maturation window has elapsed by comparing the metric the
// change targeted before and after, and Stats turns the recorded outcomes
// into per-rule success and failure rates for the aggregator.
//
// Passes are idempotent: an entry is evaluated at most once, and entries
// whose post-change data is not available yet stay pending for the next
// pass.
package outcome
