package engine

import (
	"strings"

	"github.com/roach88/strand/internal/world"
)

// Op names an action type. Ops are the "op" field of a Record.
type Op string

const (
	OpCreateCharacter    Op = "create_character"
	OpKillCharacter      Op = "kill_character"
	OpResurrectCharacter Op = "resurrect_character"
	OpTradeMemory        Op = "trade_memory"
	OpBranchTimeline     Op = "branch_timeline"
	OpViolateCausality   Op = "violate_causality"
	OpGrantKnowledge     Op = "grant_knowledge"
	OpChangeRelationship Op = "change_relationship"
	OpRecordScene        Op = "record_scene"
	OpWitnessMemory      Op = "witness_memory"
	OpForgeMemory        Op = "forge_memory"
	OpInstallMemory      Op = "install_memory"
	OpGrantAbility       Op = "grant_ability"
	OpPerceiveTimeline   Op = "perceive_timeline"
)

// Ops lists every op in a stable order.
var Ops = []Op{
	OpCreateCharacter, OpKillCharacter, OpResurrectCharacter, OpTradeMemory,
	OpBranchTimeline, OpViolateCausality, OpGrantKnowledge, OpChangeRelationship,
	OpRecordScene, OpWitnessMemory, OpForgeMemory, OpInstallMemory,
	OpGrantAbility, OpPerceiveTimeline,
}

// Action is a single mutation request. The set of actions is closed.
//
// Applying an action runs three phases: resolve checks that every
// identifier exists, check enforces narrative preconditions, and apply
// commits. resolve and check never mutate, so a rejected action leaves
// no trace.
type Action interface {
	Op() Op
	resolve(s *world.Store) error
	check(s *world.Store) error
	apply(s *world.Store) (Outcome, error)
}

// Outcome describes what a successful action did.
type Outcome struct {
	// Seq is the engine clock value assigned to the action.
	Seq int64
	Op  Op

	// Event is set when the action appended an event.
	Event *world.EventID

	// Set when the action created the corresponding entity.
	Character *world.CharacterID
	Timeline  *world.TimelineID
	Memory    *world.MemoryID

	// Effects are the effects carried by Event.
	Effects []world.Effect
}

// String renders what the action produced, e.g. "E4 +T1".
func (o Outcome) String() string {
	var parts []string
	if o.Event != nil {
		parts = append(parts, o.Event.String())
	}
	if o.Character != nil {
		parts = append(parts, "+"+o.Character.String())
	}
	if o.Timeline != nil {
		parts = append(parts, "+"+o.Timeline.String())
	}
	if o.Memory != nil {
		parts = append(parts, "+"+o.Memory.String())
	}
	if len(parts) == 0 {
		return "ok"
	}
	return strings.Join(parts, " ")
}

// CreateCharacter adds a character homed in Timeline.
type CreateCharacter struct {
	Name     string
	Timeline world.TimelineID
}

// KillCharacter kills a living character in one timeline.
type KillCharacter struct {
	Character world.CharacterID
	Timeline  world.TimelineID
}

// ResurrectCharacter brings a dead character back through Mechanism.
// ExtraCausal marks the event as a retroactive change.
type ResurrectCharacter struct {
	Character   world.CharacterID
	Timeline    world.TimelineID
	Mechanism   string
	ExtraCausal bool
}

// TradeMemory hands a memory from one living character to another.
type TradeMemory struct {
	Memory    world.MemoryID
	From, To  world.CharacterID
	Timeline  world.TimelineID
	Mechanism string
}

// BranchTimeline splits a new timeline off the current end of Parent.
type BranchTimeline struct {
	Parent world.TimelineID
}

// ViolateCausality appends an event tagged as a deliberate causality
// violation. Its payload may kill, resurrect, change relationships and
// grant knowledge; effect subjects join the participants.
type ViolateCausality struct {
	Timeline     world.TimelineID
	Kind         world.ViolationKind
	Mechanism    string
	Description  string
	Participants []world.CharacterID
	Effects      []world.Effect
}

// GrantKnowledge gives a living character a knowledge flag.
type GrantKnowledge struct {
	Character world.CharacterID
	Timeline  world.TimelineID
	Flag      string
}

// ChangeRelationship sets the mutual relationship of A and B.
type ChangeRelationship struct {
	A, B     world.CharacterID
	Timeline world.TimelineID
	State    world.Relationship
}

// RecordScene appends an event with participants and no effects.
type RecordScene struct {
	Timeline     world.TimelineID
	Participants []world.CharacterID
	Description  string
}

// WitnessMemory gives a participant of Event a memory of it.
type WitnessMemory struct {
	Character world.CharacterID
	Timeline  world.TimelineID
	Event     world.EventID
}

// ForgeMemory gives a character a fabricated memory of Event.
type ForgeMemory struct {
	Character world.CharacterID
	Timeline  world.TimelineID
	Event     world.EventID
	Forger    string
}

// InstallMemory places a memory of Event through Mechanism.
type InstallMemory struct {
	Character world.CharacterID
	Timeline  world.TimelineID
	Event     world.EventID
	Mechanism string
}

// GrantAbility gives a character an ability. No event is appended.
type GrantAbility struct {
	Character world.CharacterID
	Ability   world.Ability
}

// PerceiveTimeline lets a character with timeline perception learn, in
// Timeline, a flag granted by Source in another lineage.
type PerceiveTimeline struct {
	Character world.CharacterID
	Timeline  world.TimelineID
	Source    world.EventID
	Flag      string
}

func (CreateCharacter) Op() Op    { return OpCreateCharacter }
func (KillCharacter) Op() Op      { return OpKillCharacter }
func (ResurrectCharacter) Op() Op { return OpResurrectCharacter }
func (TradeMemory) Op() Op        { return OpTradeMemory }
func (BranchTimeline) Op() Op     { return OpBranchTimeline }
func (ViolateCausality) Op() Op   { return OpViolateCausality }
func (GrantKnowledge) Op() Op     { return OpGrantKnowledge }
func (ChangeRelationship) Op() Op { return OpChangeRelationship }
func (RecordScene) Op() Op        { return OpRecordScene }
func (WitnessMemory) Op() Op      { return OpWitnessMemory }
func (ForgeMemory) Op() Op        { return OpForgeMemory }
func (InstallMemory) Op() Op      { return OpInstallMemory }
func (GrantAbility) Op() Op       { return OpGrantAbility }
func (PerceiveTimeline) Op() Op   { return OpPerceiveTimeline }
