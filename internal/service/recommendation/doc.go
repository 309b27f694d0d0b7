// Package recommendation implements the recommendation lifecycle.
//
// A recommendation is created PENDING and then approved (straight to
// APPLIED) or rejected. Applying writes the change-log entry, moves the
// live value and records the adjustment on the entity's gate state in one
// transaction while the entity lock is held. A revert writes a new entry
// restoring the old value; entries are never rewritten.
//
// Change events are published after commit. A failed publish is logged and
// does not undo the change.
package recommendation
