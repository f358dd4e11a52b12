// Package invariant checks a world store against the consistency rules a
// branching story must keep.
//
// Rules are evaluated independently and in a fixed order:
//
//  1. memory_consistency: provenances are well formed, witnesses took
//     part in what they remember, and every transfer is made by the
//     memory's holder in that timeline after the memory was formed.
//  2. death_finality: within each timeline, nobody acts while dead unless
//     the same event resurrects them.
//  3. causality_justification: effects that precede their cause carry a
//     marker naming the mechanism, or the subject's ability explains them.
//  4. branch_consistency: children share their parent's history up to the
//     branch point and own everything after it.
//  5. relationship_persistence: stored relationships equal what the
//     timeline's history implies.
//  6. knowledge_propagation: every flag is backed by a grant, and flags
//     from other lineages need timeline perception or a marker.
//
// The result is deterministic for a given store: violations are ordered
// by rule, then by event index, then by discovery order.
package invariant
