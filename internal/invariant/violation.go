package invariant

import (
	"fmt"
	"slices"

	"github.com/roach88/strand/internal/world"
)

// Rule names one consistency rule.
type Rule string

const (
	MemoryConsistency       Rule = "memory_consistency"
	DeathFinality           Rule = "death_finality"
	CausalityJustification  Rule = "causality_justification"
	BranchConsistency       Rule = "branch_consistency"
	RelationshipPersistence Rule = "relationship_persistence"
	KnowledgePropagation    Rule = "knowledge_propagation"
)

// Rules lists every rule in evaluation order.
var Rules = []Rule{
	MemoryConsistency,
	DeathFinality,
	CausalityJustification,
	BranchConsistency,
	RelationshipPersistence,
	KnowledgePropagation,
}

// Number is the rule's 1-based position in Rules, or 0 if unknown.
func (r Rule) Number() int {
	return slices.Index(Rules, r) + 1
}

// Valid reports whether r names a rule.
func (r Rule) Valid() bool { return r.Number() > 0 }

// EntityLevel is the EventIndex of findings not tied to one event.
const EntityLevel = -1

// Violation is one broken rule.
type Violation struct {
	Rule Rule `json:"rule" yaml:"rule"`

	// Entity is the offending entity, e.g. "C2" or "M0".
	Entity string `json:"entity" yaml:"entity"`

	Timeline world.TimelineID `json:"timeline" yaml:"timeline"`

	// EventIndex is the offending event's position in Timeline, or
	// EntityLevel.
	EventIndex int `json:"event_index" yaml:"event_index"`

	Message string `json:"message" yaml:"message"`
}

func (v Violation) String() string {
	at := v.Timeline.String()
	if v.EventIndex != EntityLevel {
		at = fmt.Sprintf("%s@%d", v.Timeline, v.EventIndex)
	}
	return fmt.Sprintf("[%d %s] %s %s: %s", v.Rule.Number(), v.Rule, at, v.Entity, v.Message)
}

// sortViolations orders by rule number then event index, keeping
// discovery order for ties.
func sortViolations(vs []Violation) {
	slices.SortStableFunc(vs, func(a, b Violation) int {
		if a.Rule != b.Rule {
			return a.Rule.Number() - b.Rule.Number()
		}
		return a.EventIndex - b.EventIndex
	})
}
