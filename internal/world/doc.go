// Package world is the entity store and timeline graph of a branching story.
//
// A Store holds four append-only arenas (timelines, characters, memories,
// events) addressed by sequential identifiers. Timelines form a tree: a
// child shares its parent's history up to and including the event it
// branched at, then grows its own suffix.
//
// Liveness is never stored. Whether a character is alive in a timeline is
// replayed from the death and resurrection effects in that timeline's
// history, so killing someone in one branch cannot leak into another.
// Relationships and knowledge are stored per timeline and must agree with
// what the history implies.
package world
