// Package store persists harness runs in SQLite.
//
// A run is stored with its full action sequence, the result of each
// action, the violations it ended with and the final store digest, so it
// can be replayed and verified later.
//
// # Identity
//
// A run's ID is the SHA-256 of its canonical inputs (actions, permissive
// flag, rejection policy) under the run domain. Writing the same run twice
// stores it once. Runs written by one command share a UUIDv7 batch ID.
//
// # Ordering
//
// Runs are ordered by seq, a counter assigned at insert time. Wall-clock
// time is never stored, so two logs built from the same inputs compare
// equal.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
