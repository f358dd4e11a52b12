// Package engine applies narrative actions to a world store.
//
// Every action runs in three phases against the current store:
//
//  1. resolve: every identifier the action names must exist.
//  2. check: narrative preconditions must hold (the target is alive, the
//     giver holds the memory, a violation has a mechanism, ...).
//  3. apply: the action appends at most one event and updates the derived
//     per-timeline tables.
//
// The first two phases never mutate, so a rejected action leaves the
// store exactly as it was. A *Rejection is an expected outcome; an
// *InternalError is not and ends the run.
//
// After apply the engine indexes the new event's causal dependencies.
// Indexing is incremental and must agree with causal.Build over the same
// store.
//
// Sequence numbers come from a logical Clock, never wall-clock time, so a
// replayed action list reproduces its outcomes exactly.
//
// A permissive engine skips the check phase. It is how scenarios and the
// fuzzer construct inconsistent worlds on purpose.
package engine
