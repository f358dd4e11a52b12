// Package ir holds the hashable value model and its canonical encoding.
//
// Store snapshots, action records and persisted runs are all reduced to a
// Value and hashed with Digest. Two runs that reach byte-identical canonical
// encodings are the same run.
//
// Constraints:
//   - no floats anywhere; numbers are int64
//   - no null; optional data is omitted instead
//   - object keys use snake_case
package ir
