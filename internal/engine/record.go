package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/roach88/strand/internal/ir"
	"github.com/roach88/strand/internal/world"
)

// Record is the serialized form of an Action, shared by scenario files,
// fuzz corpora and persisted runs. Fields a given op does not use stay
// empty. For branch_timeline, Timeline is the parent.
type Record struct {
	Op           Op                  `json:"op" yaml:"op"`
	Name         string              `json:"name,omitempty" yaml:"name,omitempty"`
	Timeline     *world.TimelineID   `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	Character    *world.CharacterID  `json:"character,omitempty" yaml:"character,omitempty"`
	Other        *world.CharacterID  `json:"other,omitempty" yaml:"other,omitempty"`
	From         *world.CharacterID  `json:"from,omitempty" yaml:"from,omitempty"`
	To           *world.CharacterID  `json:"to,omitempty" yaml:"to,omitempty"`
	Memory       *world.MemoryID     `json:"memory,omitempty" yaml:"memory,omitempty"`
	Event        *world.EventID      `json:"event,omitempty" yaml:"event,omitempty"`
	Mechanism    string              `json:"mechanism,omitempty" yaml:"mechanism,omitempty"`
	Forger       string              `json:"forger,omitempty" yaml:"forger,omitempty"`
	Flag         string              `json:"flag,omitempty" yaml:"flag,omitempty"`
	Description  string              `json:"description,omitempty" yaml:"description,omitempty"`
	ExtraCausal  bool                `json:"extra_causal,omitempty" yaml:"extra_causal,omitempty"`
	Kind         world.ViolationKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	State        *world.Relationship `json:"state,omitempty" yaml:"state,omitempty"`
	Ability      world.Ability       `json:"ability,omitempty" yaml:"ability,omitempty"`
	Participants []world.CharacterID `json:"participants,omitempty" yaml:"participants,omitempty"`
	Effects      []EffectRecord      `json:"effects,omitempty" yaml:"effects,omitempty"`
}

// EffectRecord is the serialized form of an Effect. Character is the
// subject (A for relationship changes, the giver for transfers) and Other
// the second party.
type EffectRecord struct {
	Kind      world.EffectKind    `json:"kind" yaml:"kind"`
	Character *world.CharacterID  `json:"character,omitempty" yaml:"character,omitempty"`
	Other     *world.CharacterID  `json:"other,omitempty" yaml:"other,omitempty"`
	State     *world.Relationship `json:"state,omitempty" yaml:"state,omitempty"`
	Flag      string              `json:"flag,omitempty" yaml:"flag,omitempty"`
	Mechanism string              `json:"mechanism,omitempty" yaml:"mechanism,omitempty"`
	Memory    *world.MemoryID     `json:"memory,omitempty" yaml:"memory,omitempty"`
	Child     *world.TimelineID   `json:"child,omitempty" yaml:"child,omitempty"`
	Cause     *world.EventID      `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// RecordError reports a record that cannot be turned into an action.
type RecordError struct {
	Op  Op
	Err error
}

func (e *RecordError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("invalid record: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s record: %v", e.Op, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func ptr[T any](v T) *T { return &v }

// Action decodes the record. Only structural problems are reported here;
// a record naming a dead character still decodes and is rejected when
// applied.
func (r Record) Action() (Action, error) {
	fail := func(err error) (Action, error) {
		return nil, &RecordError{Op: r.Op, Err: err}
	}
	need := func(fields ...*validation.FieldRules) error {
		return validation.ValidateStruct(&r, fields...)
	}
	timeline := func() world.TimelineID {
		if r.Timeline == nil {
			return world.RootTimeline
		}
		return *r.Timeline
	}

	switch r.Op {
	case OpCreateCharacter:
		return CreateCharacter{Name: r.Name, Timeline: timeline()}, nil

	case OpKillCharacter:
		if err := need(
			validation.Field(&r.Character, validation.NotNil),
			validation.Field(&r.Timeline, validation.NotNil),
		); err != nil {
			return fail(err)
		}
		return KillCharacter{Character: *r.Character, Timeline: *r.Timeline}, nil

	case OpResurrectCharacter:
		if err := need(
			validation.Field(&r.Character, validation.NotNil),
			validation.Field(&r.Timeline, validation.NotNil),
		); err != nil {
			return fail(err)
		}
		return ResurrectCharacter{
			Character:   *r.Character,
			Timeline:    *r.Timeline,
			Mechanism:   r.Mechanism,
			ExtraCausal: r.ExtraCausal,
		}, nil

	case OpTradeMemory:
		if err := need(
			validation.Field(&r.Memory, validation.NotNil),
			validation.Field(&r.From, validation.NotNil),
			validation.Field(&r.To, validation.NotNil),
			validation.Field(&r.Timeline, validation.NotNil),
		); err != nil {
			return fail(err)
		}
		return TradeMemory{
			Memory:    *r.Memory,
			From:      *r.From,
			To:        *r.To,
			Timeline:  *r.Timeline,
			Mechanism: r.Mechanism,
		}, nil

	case OpBranchTimeline:
		return BranchTimeline{Parent: timeline()}, nil

	case OpViolateCausality:
		if err := need(
			validation.Field(&r.Timeline, validation.NotNil),
			validation.Field(&r.Kind, validation.Required),
		); err != nil {
			return fail(err)
		}
		effects := make([]world.Effect, 0, len(r.Effects))
		for i, er := range r.Effects {
			eff, err := er.Effect()
			if err != nil {
				return fail(fmt.Errorf("effects[%d]: %w", i, err))
			}
			effects = append(effects, eff)
		}
		return ViolateCausality{
			Timeline:     *r.Timeline,
			Kind:         r.Kind,
			Mechanism:    r.Mechanism,
			Description:  r.Description,
			Participants: r.Participants,
			Effects:      effects,
		}, nil

	case OpGrantKnowledge:
		if err := need(
			validation.Field(&r.Character, validation.NotNil),
			validation.Field(&r.Timeline, validation.NotNil),
		); err != nil {
			return fail(err)
		}
		return GrantKnowledge{Character: *r.Character, Timeline: *r.Timeline, Flag: r.Flag}, nil

	case OpChangeRelationship:
		if err := need(
			validation.Field(&r.Character, validation.NotNil),
			validation.Field(&r.Other, validation.NotNil),
			validation.Field(&r.Timeline, validation.NotNil),
			validation.Field(&r.State, validation.NotNil),
		); err != nil {
			return fail(err)
		}
		return ChangeRelationship{A: *r.Character, B: *r.Other, Timeline: *r.Timeline, State: *r.State}, nil

	case OpRecordScene:
		if err := need(validation.Field(&r.Timeline, validation.NotNil)); err != nil {
			return fail(err)
		}
		return RecordScene{Timeline: *r.Timeline, Participants: r.Participants, Description: r.Description}, nil

	case OpWitnessMemory, OpForgeMemory, OpInstallMemory:
		if err := need(
			validation.Field(&r.Character, validation.NotNil),
			validation.Field(&r.Timeline, validation.NotNil),
			validation.Field(&r.Event, validation.NotNil),
		); err != nil {
			return fail(err)
		}
		switch r.Op {
		case OpWitnessMemory:
			return WitnessMemory{Character: *r.Character, Timeline: *r.Timeline, Event: *r.Event}, nil
		case OpForgeMemory:
			return ForgeMemory{Character: *r.Character, Timeline: *r.Timeline, Event: *r.Event, Forger: r.Forger}, nil
		default:
			return InstallMemory{Character: *r.Character, Timeline: *r.Timeline, Event: *r.Event, Mechanism: r.Mechanism}, nil
		}

	case OpGrantAbility:
		if err := need(
			validation.Field(&r.Character, validation.NotNil),
			validation.Field(&r.Ability, validation.Required),
		); err != nil {
			return fail(err)
		}
		return GrantAbility{Character: *r.Character, Ability: r.Ability}, nil

	case OpPerceiveTimeline:
		if err := need(
			validation.Field(&r.Character, validation.NotNil),
			validation.Field(&r.Timeline, validation.NotNil),
			validation.Field(&r.Event, validation.NotNil),
		); err != nil {
			return fail(err)
		}
		return PerceiveTimeline{Character: *r.Character, Timeline: *r.Timeline, Source: *r.Event, Flag: r.Flag}, nil

	case "":
		return fail(fmt.Errorf("op is required"))
	default:
		return fail(fmt.Errorf("unknown op %q", r.Op))
	}
}

// Effect decodes the effect record.
func (er EffectRecord) Effect() (world.Effect, error) {
	need := func(fields ...*validation.FieldRules) error {
		if err := validation.ValidateStruct(&er, fields...); err != nil {
			return fmt.Errorf("%s: %w", er.Kind, err)
		}
		return nil
	}
	switch er.Kind {
	case world.EffectDeath:
		if err := need(validation.Field(&er.Character, validation.NotNil)); err != nil {
			return nil, err
		}
		return world.Death{Character: *er.Character, Cause: er.Cause}, nil
	case world.EffectResurrection:
		if err := need(validation.Field(&er.Character, validation.NotNil)); err != nil {
			return nil, err
		}
		return world.Resurrection{Character: *er.Character, Mechanism: er.Mechanism, Cause: er.Cause}, nil
	case world.EffectRelationshipChange:
		if err := need(
			validation.Field(&er.Character, validation.NotNil),
			validation.Field(&er.Other, validation.NotNil),
			validation.Field(&er.State, validation.NotNil),
		); err != nil {
			return nil, err
		}
		return world.RelationshipChange{A: *er.Character, B: *er.Other, State: *er.State, Cause: er.Cause}, nil
	case world.EffectKnowledgeGain:
		if err := need(validation.Field(&er.Character, validation.NotNil)); err != nil {
			return nil, err
		}
		return world.KnowledgeGain{Character: *er.Character, Flag: er.Flag, Cause: er.Cause}, nil
	case world.EffectMemoryCreation:
		if err := need(validation.Field(&er.Memory, validation.NotNil)); err != nil {
			return nil, err
		}
		return world.MemoryCreation{Memory: *er.Memory}, nil
	case world.EffectMemoryTransfer:
		if err := need(
			validation.Field(&er.Memory, validation.NotNil),
			validation.Field(&er.Character, validation.NotNil),
			validation.Field(&er.Other, validation.NotNil),
		); err != nil {
			return nil, err
		}
		return world.MemoryTransfer{Memory: *er.Memory, From: *er.Character, To: *er.Other, Mechanism: er.Mechanism}, nil
	case world.EffectBranch:
		if err := need(validation.Field(&er.Child, validation.NotNil)); err != nil {
			return nil, err
		}
		return world.Branch{Child: *er.Child}, nil
	default:
		return nil, fmt.Errorf("unknown effect kind %q", er.Kind)
	}
}

// EffectRecordOf encodes an effect.
func EffectRecordOf(eff world.Effect) EffectRecord {
	switch e := eff.(type) {
	case world.Death:
		return EffectRecord{Kind: e.Kind(), Character: ptr(e.Character), Cause: e.Cause}
	case world.Resurrection:
		return EffectRecord{Kind: e.Kind(), Character: ptr(e.Character), Mechanism: e.Mechanism, Cause: e.Cause}
	case world.RelationshipChange:
		return EffectRecord{Kind: e.Kind(), Character: ptr(e.A), Other: ptr(e.B), State: ptr(e.State), Cause: e.Cause}
	case world.KnowledgeGain:
		return EffectRecord{Kind: e.Kind(), Character: ptr(e.Character), Flag: e.Flag, Cause: e.Cause}
	case world.MemoryCreation:
		return EffectRecord{Kind: e.Kind(), Memory: ptr(e.Memory)}
	case world.MemoryTransfer:
		return EffectRecord{Kind: e.Kind(), Memory: ptr(e.Memory), Character: ptr(e.From), Other: ptr(e.To), Mechanism: e.Mechanism}
	case world.Branch:
		return EffectRecord{Kind: e.Kind(), Child: ptr(e.Child)}
	default:
		return EffectRecord{}
	}
}

// RecordOf encodes an action. RecordOf(a).Action() returns a.
func RecordOf(a Action) Record {
	switch a := a.(type) {
	case CreateCharacter:
		return Record{Op: a.Op(), Name: a.Name, Timeline: ptr(a.Timeline)}
	case KillCharacter:
		return Record{Op: a.Op(), Character: ptr(a.Character), Timeline: ptr(a.Timeline)}
	case ResurrectCharacter:
		return Record{Op: a.Op(), Character: ptr(a.Character), Timeline: ptr(a.Timeline),
			Mechanism: a.Mechanism, ExtraCausal: a.ExtraCausal}
	case TradeMemory:
		return Record{Op: a.Op(), Memory: ptr(a.Memory), From: ptr(a.From), To: ptr(a.To),
			Timeline: ptr(a.Timeline), Mechanism: a.Mechanism}
	case BranchTimeline:
		return Record{Op: a.Op(), Timeline: ptr(a.Parent)}
	case ViolateCausality:
		r := Record{Op: a.Op(), Timeline: ptr(a.Timeline), Kind: a.Kind, Mechanism: a.Mechanism,
			Description: a.Description, Participants: a.Participants}
		for _, eff := range a.Effects {
			r.Effects = append(r.Effects, EffectRecordOf(eff))
		}
		return r
	case GrantKnowledge:
		return Record{Op: a.Op(), Character: ptr(a.Character), Timeline: ptr(a.Timeline), Flag: a.Flag}
	case ChangeRelationship:
		return Record{Op: a.Op(), Character: ptr(a.A), Other: ptr(a.B), Timeline: ptr(a.Timeline), State: ptr(a.State)}
	case RecordScene:
		return Record{Op: a.Op(), Timeline: ptr(a.Timeline), Participants: a.Participants, Description: a.Description}
	case WitnessMemory:
		return Record{Op: a.Op(), Character: ptr(a.Character), Timeline: ptr(a.Timeline), Event: ptr(a.Event)}
	case ForgeMemory:
		return Record{Op: a.Op(), Character: ptr(a.Character), Timeline: ptr(a.Timeline), Event: ptr(a.Event), Forger: a.Forger}
	case InstallMemory:
		return Record{Op: a.Op(), Character: ptr(a.Character), Timeline: ptr(a.Timeline), Event: ptr(a.Event), Mechanism: a.Mechanism}
	case GrantAbility:
		return Record{Op: a.Op(), Character: ptr(a.Character), Ability: a.Ability}
	case PerceiveTimeline:
		return Record{Op: a.Op(), Character: ptr(a.Character), Timeline: ptr(a.Timeline), Event: ptr(a.Source), Flag: a.Flag}
	default:
		return Record{}
	}
}

// String renders the record on one line, e.g.
// "kill_character character=C0 timeline=T1".
func (r Record) String() string {
	var b strings.Builder
	b.WriteString(string(r.Op))
	kv := func(k string, v any) {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	if r.Name != "" {
		kv("name", fmt.Sprintf("%q", r.Name))
	}
	if r.Character != nil {
		kv("character", *r.Character)
	}
	if r.Other != nil {
		kv("other", *r.Other)
	}
	if r.From != nil {
		kv("from", *r.From)
	}
	if r.To != nil {
		kv("to", *r.To)
	}
	if r.Memory != nil {
		kv("memory", *r.Memory)
	}
	if r.Event != nil {
		kv("event", *r.Event)
	}
	if r.Timeline != nil {
		kv("timeline", *r.Timeline)
	}
	if r.Kind != 0 {
		kv("kind", r.Kind)
	}
	if r.State != nil {
		kv("state", *r.State)
	}
	if r.Ability != 0 {
		kv("ability", r.Ability)
	}
	if r.Flag != "" {
		kv("flag", fmt.Sprintf("%q", r.Flag))
	}
	if r.Mechanism != "" {
		kv("mechanism", fmt.Sprintf("%q", r.Mechanism))
	}
	if r.Forger != "" {
		kv("forger", fmt.Sprintf("%q", r.Forger))
	}
	if r.ExtraCausal {
		kv("extra_causal", true)
	}
	if len(r.Participants) > 0 {
		ids := make([]string, len(r.Participants))
		for i, c := range r.Participants {
			ids[i] = c.String()
		}
		kv("participants", "["+strings.Join(ids, ",")+"]")
	}
	if len(r.Effects) > 0 {
		kinds := make([]string, len(r.Effects))
		for i, er := range r.Effects {
			kinds[i] = string(er.Kind)
		}
		kv("effects", "["+strings.Join(kinds, ",")+"]")
	}
	return b.String()
}

// Value returns the record as a canonical value.
func (r Record) Value() (ir.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", r.Op, err)
	}
	return ir.ParseJSON(data)
}

// ActionDigest is the content hash of an action's canonical record.
func ActionDigest(a Action) (string, error) {
	v, err := RecordOf(a).Value()
	if err != nil {
		return "", err
	}
	return ir.Digest(ir.DomainAction, v)
}
