// Package harness executes action sequences against a fresh store and
// validates the store after every applied action.
//
// Execute stops at the first action after which the invariant checker
// reports anything, and returns a Report holding the steps taken, the
// failing index and the violations. Minimize shrinks a failing sequence
// to a 1-minimal one that still breaks the same rule. Dump renders a
// Report as text.
//
// Scenarios bundle an action sequence with expectations and assertions
// about the final store. They are loaded from YAML or CUE files:
//
//	name: death_is_final
//	permissive: true
//	actions:
//	  - {op: create_character, name: Kim}
//	  - {op: kill_character, character: C0, timeline: T0}
//	  - {op: record_scene, timeline: T0, participants: [C0]}
//	expect:
//	  violations: [death_finality]
//	  failing_index: 2
//
// Every run uses its own in-memory store, so independent runs may execute
// concurrently.
package harness
