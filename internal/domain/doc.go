// Package domain defines the core business types for the bidguard decision
// and safety engine.
//
// Types in this package are pure value objects: performance snapshots,
// signals, recommendations, change-log entries, per-entity gate state and
// learning statistics. They are the shared language between rules, the
// aggregator, the safety gate, the lifecycle services and the repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
