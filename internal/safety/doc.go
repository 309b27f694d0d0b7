// Package safety implements the per-entity safety gate.
//
// The gate runs after aggregation and before a recommendation is created
// (Check), and again when a change is applied (Admit) so that two
// concurrent cycles cannot both slip past the cooldown or daily limit.
// Operators suppress an entity with Lock and lift it with Unlock.
//
// A rejection is not an error: the recommendation is simply not created.
// Rejections are logged at debug level and counted by reason.
package safety
