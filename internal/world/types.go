package world

import (
	"fmt"
	"slices"
)

// Ability is a special capacity a character may hold. Abilities are global
// to the character, not scoped to a timeline.
type Ability uint8

const (
	TimelinePerception Ability = iota + 1
	Precognition
	MemoryImmunity
	LoopMemory
	CausalityHacking
)

var abilityNames = map[Ability]string{
	TimelinePerception: "timeline_perception",
	Precognition:       "precognition",
	MemoryImmunity:     "memory_immunity",
	LoopMemory:         "loop_memory",
	CausalityHacking:   "causality_hacking",
}

// Abilities lists every ability in declaration order.
var Abilities = []Ability{TimelinePerception, Precognition, MemoryImmunity, LoopMemory, CausalityHacking}

func (a Ability) String() string {
	if name, ok := abilityNames[a]; ok {
		return name
	}
	return fmt.Sprintf("ability(%d)", uint8(a))
}

// Valid reports whether a names a declared ability.
func (a Ability) Valid() bool {
	_, ok := abilityNames[a]
	return ok
}

func (a Ability) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid ability %d", uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Ability) UnmarshalText(text []byte) error {
	for k, name := range abilityNames {
		if name == string(text) {
			*a = k
			return nil
		}
	}
	return fmt.Errorf("unknown ability %q", text)
}

// Relationship is the directed attitude of one character toward another.
// Neutral is the zero value and the default for any pair never changed.
type Relationship int8

const (
	Hostile     Relationship = -2
	Distrustful Relationship = -1
	Neutral     Relationship = 0
	Trusting    Relationship = 1
	Allied      Relationship = 2
)

var relationshipNames = map[Relationship]string{
	Hostile:     "hostile",
	Distrustful: "distrustful",
	Neutral:     "neutral",
	Trusting:    "trusting",
	Allied:      "allied",
}

// Relationships lists every relationship state from most to least hostile.
var Relationships = []Relationship{Hostile, Distrustful, Neutral, Trusting, Allied}

func (r Relationship) String() string {
	if name, ok := relationshipNames[r]; ok {
		return name
	}
	return fmt.Sprintf("relationship(%d)", int8(r))
}

func (r Relationship) Valid() bool {
	_, ok := relationshipNames[r]
	return ok
}

func (r Relationship) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid relationship %d", int8(r))
	}
	return []byte(r.String()), nil
}

func (r *Relationship) UnmarshalText(text []byte) error {
	for k, name := range relationshipNames {
		if name == string(text) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown relationship %q", text)
}

// ViolationKind classifies a deliberate break in causality.
type ViolationKind uint8

const (
	EffectBeforeCause ViolationKind = iota + 1
	RetroactiveChange
	Superposition
)

var violationKindNames = map[ViolationKind]string{
	EffectBeforeCause: "effect_before_cause",
	RetroactiveChange: "retroactive_change",
	Superposition:     "superposition",
}

func (k ViolationKind) String() string {
	if name, ok := violationKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("violation_kind(%d)", uint8(k))
}

func (k ViolationKind) Valid() bool {
	_, ok := violationKindNames[k]
	return ok
}

func (k ViolationKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid violation kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *ViolationKind) UnmarshalText(text []byte) error {
	for v, name := range violationKindNames {
		if name == string(text) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown violation kind %q", text)
}

// Marker tags an event as a deliberate causality violation. The mechanism
// is the in-world explanation and must be non-empty to count as justified.
type Marker struct {
	Kind      ViolationKind
	Mechanism string
}

// Provenance records how a memory came to be held. The variants are
// Witnessed, Traded, Forged and Installed.
type Provenance interface {
	provenance()
	Kind() string
}

// Witnessed memories were formed by a participant of the recalled event.
type Witnessed struct {
	Witness CharacterID
}

// Traded memories were handed over by another character.
type Traded struct {
	From      CharacterID
	Mechanism string
}

// Forged memories were fabricated by an in-world forger.
type Forged struct {
	Forger string
}

// Installed memories were placed by an in-world mechanism.
type Installed struct {
	Mechanism string
}

func (Witnessed) provenance() {}
func (Traded) provenance()    {}
func (Forged) provenance()    {}
func (Installed) provenance() {}

func (Witnessed) Kind() string { return "witnessed" }
func (Traded) Kind() string    { return "traded" }
func (Forged) Kind() string    { return "forged" }
func (Installed) Kind() string { return "installed" }

// EffectKind names an Effect variant.
type EffectKind string

const (
	EffectDeath              EffectKind = "death"
	EffectResurrection       EffectKind = "resurrection"
	EffectRelationshipChange EffectKind = "relationship_change"
	EffectKnowledgeGain      EffectKind = "knowledge_gain"
	EffectMemoryCreation     EffectKind = "memory_creation"
	EffectMemoryTransfer     EffectKind = "memory_transfer"
	EffectBranch             EffectKind = "branch"
)

// Effect is one state change carried by an event. The set of variants is
// closed; consumers switch over all of them.
type Effect interface {
	effect()
	Kind() EffectKind
}

// Death ends a character's life in the event's timeline.
type Death struct {
	Character CharacterID
	Cause     *EventID
}

// Resurrection returns a dead character to life in the event's timeline.
type Resurrection struct {
	Character CharacterID
	Mechanism string
	Cause     *EventID
}

// RelationshipChange sets A's and B's mutual relationship in the event's
// timeline. It applies in both directions.
type RelationshipChange struct {
	A, B  CharacterID
	State Relationship
	Cause *EventID
}

// KnowledgeGain adds a knowledge flag to a character in the event's timeline.
type KnowledgeGain struct {
	Character CharacterID
	Flag      string
	Cause     *EventID
}

// MemoryCreation records that a memory came into being at this event.
type MemoryCreation struct {
	Memory MemoryID
}

// MemoryTransfer moves a memory between holders in the event's timeline.
type MemoryTransfer struct {
	Memory    MemoryID
	From, To  CharacterID
	Mechanism string
}

// Branch records that Child diverged from the event's timeline here.
type Branch struct {
	Child TimelineID
}

func (Death) effect()              {}
func (Resurrection) effect()       {}
func (RelationshipChange) effect() {}
func (KnowledgeGain) effect()      {}
func (MemoryCreation) effect()     {}
func (MemoryTransfer) effect()     {}
func (Branch) effect()             {}

func (Death) Kind() EffectKind              { return EffectDeath }
func (Resurrection) Kind() EffectKind       { return EffectResurrection }
func (RelationshipChange) Kind() EffectKind { return EffectRelationshipChange }
func (KnowledgeGain) Kind() EffectKind      { return EffectKnowledgeGain }
func (MemoryCreation) Kind() EffectKind     { return EffectMemoryCreation }
func (MemoryTransfer) Kind() EffectKind     { return EffectMemoryTransfer }
func (Branch) Kind() EffectKind             { return EffectBranch }

// CauseOf returns the explicit cause an effect declares, if any.
func CauseOf(e Effect) (EventID, bool) {
	var cause *EventID
	switch eff := e.(type) {
	case Death:
		cause = eff.Cause
	case Resurrection:
		cause = eff.Cause
	case RelationshipChange:
		cause = eff.Cause
	case KnowledgeGain:
		cause = eff.Cause
	}
	if cause == nil {
		return 0, false
	}
	return *cause, true
}

// Subjects returns the characters whose state an effect changes.
func Subjects(e Effect) []CharacterID {
	switch eff := e.(type) {
	case Death:
		return []CharacterID{eff.Character}
	case Resurrection:
		return []CharacterID{eff.Character}
	case RelationshipChange:
		return []CharacterID{eff.A, eff.B}
	case KnowledgeGain:
		return []CharacterID{eff.Character}
	case MemoryTransfer:
		return []CharacterID{eff.From, eff.To}
	default:
		return nil
	}
}

// Timeline is one branch of the story. The root has no parent. A child's
// history is its parent's history up to and including BranchPoint,
// followed by the child's own events.
type Timeline struct {
	ID          TimelineID
	Parent      TimelineID
	HasParent   bool
	BranchPoint EventID
	History     []EventID
}

// Character is a story participant. Liveness is not stored: it is derived
// from the death and resurrection effects in a timeline's history.
type Character struct {
	ID        CharacterID
	Name      string
	Home      TimelineID
	Anchor    int
	Abilities []Ability

	// Relations and Knowledge are scoped per timeline. Knowledge maps a
	// flag to the event that granted it.
	Relations map[TimelineID]map[CharacterID]Relationship
	Knowledge map[TimelineID]map[string]EventID
}

// HasAbility reports whether the character holds a.
func (c *Character) HasAbility(a Ability) bool {
	return slices.Contains(c.Abilities, a)
}

// Relationship returns the stored relationship toward other in timeline t.
func (c *Character) Relationship(t TimelineID, other CharacterID) Relationship {
	return c.Relations[t][other]
}

// Knows reports whether the character holds flag in timeline t.
func (c *Character) Knows(t TimelineID, flag string) bool {
	_, ok := c.Knowledge[t][flag]
	return ok
}

// Memory is a character's recollection of an event, formed for Creator at
// the Origin event. Creator and Provenance describe the memory as formed;
// who holds it later depends on the timeline (see HoldingAt).
type Memory struct {
	ID         MemoryID
	Event      EventID
	Creator    CharacterID
	Provenance Provenance
	Origin     EventID
}

// Holding is who holds a memory at a point of one timeline and how it came
// to them. Previous lists the provenances it carried before, oldest first.
type Holding struct {
	Holder     CharacterID
	Provenance Provenance
	Previous   []Provenance
}

// Event is an immutable entry in a timeline's history.
type Event struct {
	ID           EventID
	Timeline     TimelineID
	Position     int
	Description  string
	Participants []CharacterID
	Effects      []Effect
	Marker       *Marker
}

// HasParticipant reports whether c took part in the event.
func (e *Event) HasParticipant(c CharacterID) bool {
	return slices.Contains(e.Participants, c)
}
