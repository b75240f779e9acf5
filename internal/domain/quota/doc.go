// Package quota holds the subscription tier catalogue and the rules that
// decide whether a subscriber may perform another metered action in the
// current billing cycle.
//
// Three pieces live here:
//   - Registry: the immutable set of tiers and their per-action limits.
//   - Evaluator: pure limit and remaining-quota arithmetic over a tier and
//     a usage snapshot. Unknown tiers fail closed.
//   - ResetClock: billing-cycle dates derived from the subscription start
//     date and an injectable Clock.
//
// Persistence of usage counters is expressed through the UsageStore port.
package quota
