// Package aggregator combines the signals fired for one entity in one cycle
// into recommendations, one per adjustment type at most.
//
// Conflicting signals are never summed. The strongest signal (confidence x
// magnitude, then deviation, then catalog order) sets the delta; agreeing
// rules are listed for transparency and overridden rules are named in the
// reason. Values are rounded to cents and clamped to the configured bounds
// and per-cycle delta.
package aggregator
