package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/strand/internal/world"
)

// refs accumulates the first unknown-identifier rejection.
type refs struct {
	op  Op
	s   *world.Store
	err error
}

func newRefs(op Op, s *world.Store) *refs {
	return &refs{op: op, s: s}
}

func (r *refs) note(err error) *refs {
	if r.err != nil || err == nil {
		return r
	}
	var le *world.LookupError
	if errors.As(err, &le) {
		r.err = reject(r.op, RejectUnknownEntity, "unknown %s %s", le.Kind, le.ID)
	} else {
		r.err = reject(r.op, RejectUnknownEntity, "%v", err)
	}
	return r
}

func (r *refs) timeline(id world.TimelineID) *refs {
	_, err := r.s.Timeline(id)
	return r.note(err)
}

func (r *refs) characters(ids ...world.CharacterID) *refs {
	for _, id := range ids {
		_, err := r.s.Character(id)
		r.note(err)
	}
	return r
}

func (r *refs) memory(id world.MemoryID) *refs {
	_, err := r.s.Memory(id)
	return r.note(err)
}

func (r *refs) event(id world.EventID) *refs {
	_, err := r.s.Event(id)
	return r.note(err)
}

func (r *refs) invalid(cond bool, format string, args ...any) *refs {
	if r.err == nil && cond {
		r.err = reject(r.op, RejectInvalidArgument, format, args...)
	}
	return r
}

// requireAlive rejects unless c exists and is alive at the end of t.
func requireAlive(op Op, s *world.Store, c world.CharacterID, t world.TimelineID) error {
	if !s.Exists(c, t) {
		return reject(op, RejectAbsent, "%s does not exist in %s", c, t)
	}
	alive, err := s.IsAlive(c, t)
	if err != nil {
		return &InternalError{Op: op, Err: err}
	}
	if !alive {
		return reject(op, RejectNotAlive, "%s is dead in %s", c, t)
	}
	return nil
}

func requireMechanism(op Op, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return reject(op, RejectEmptyMechanism, "%s must not be empty", field)
	}
	return nil
}

func requireNotImmune(op Op, s *world.Store, c world.CharacterID) error {
	ch, err := s.Character(c)
	if err != nil {
		return &InternalError{Op: op, Err: err}
	}
	if ch.HasAbility(world.MemoryImmunity) {
		return reject(op, RejectImmune, "%s is immune to memory alteration", c)
	}
	return nil
}

// appendEvent appends spec and writes the per-timeline state its
// relationship and knowledge effects imply.
func appendEvent(s *world.Store, spec world.EventSpec) (Outcome, world.EventID, error) {
	id, err := s.AppendEvent(spec)
	if err != nil {
		return Outcome{}, 0, err
	}
	for _, eff := range spec.Effects {
		switch e := eff.(type) {
		case world.RelationshipChange:
			if err := s.SetRelationship(e.A, spec.Timeline, e.B, e.State); err != nil {
				return Outcome{}, 0, err
			}
			if err := s.SetRelationship(e.B, spec.Timeline, e.A, e.State); err != nil {
				return Outcome{}, 0, err
			}
		case world.KnowledgeGain:
			if err := s.AddKnowledge(e.Character, spec.Timeline, e.Flag, id); err != nil {
				return Outcome{}, 0, err
			}
		case world.Death, world.Resurrection, world.MemoryCreation, world.MemoryTransfer, world.Branch:
			// Liveness and holding are derived; memories and timelines
			// are created by the action that emitted the effect.
		default:
			return Outcome{}, 0, fmt.Errorf("unknown effect type %T", eff)
		}
	}
	return Outcome{Event: &id, Effects: spec.Effects}, id, nil
}

// CreateCharacter

func (a CreateCharacter) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).err
}

func (a CreateCharacter) check(*world.Store) error {
	if strings.TrimSpace(a.Name) == "" {
		return reject(a.Op(), RejectInvalidArgument, "name must not be empty")
	}
	return nil
}

func (a CreateCharacter) apply(s *world.Store) (Outcome, error) {
	id, err := s.CreateCharacter(a.Name, a.Timeline)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Character: &id}, nil
}

// KillCharacter

func (a KillCharacter) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Character).err
}

func (a KillCharacter) check(s *world.Store) error {
	return requireAlive(a.Op(), s, a.Character, a.Timeline)
}

func (a KillCharacter) apply(s *world.Store) (Outcome, error) {
	out, _, err := appendEvent(s, world.EventSpec{
		Timeline:     a.Timeline,
		Description:  fmt.Sprintf("%s dies", a.Character),
		Participants: []world.CharacterID{a.Character},
		Effects:      []world.Effect{world.Death{Character: a.Character}},
	})
	return out, err
}

// ResurrectCharacter

func (a ResurrectCharacter) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Character).err
}

func (a ResurrectCharacter) check(s *world.Store) error {
	if err := requireMechanism(a.Op(), "mechanism", a.Mechanism); err != nil {
		return err
	}
	if !s.Exists(a.Character, a.Timeline) {
		return reject(a.Op(), RejectAbsent, "%s does not exist in %s", a.Character, a.Timeline)
	}
	alive, err := s.IsAlive(a.Character, a.Timeline)
	if err != nil {
		return &InternalError{Op: a.Op(), Err: err}
	}
	if alive {
		return reject(a.Op(), RejectNotDead, "%s is alive in %s", a.Character, a.Timeline)
	}
	return nil
}

func (a ResurrectCharacter) apply(s *world.Store) (Outcome, error) {
	spec := world.EventSpec{
		Timeline:     a.Timeline,
		Description:  fmt.Sprintf("%s returns via %s", a.Character, a.Mechanism),
		Participants: []world.CharacterID{a.Character},
		Effects:      []world.Effect{world.Resurrection{Character: a.Character, Mechanism: a.Mechanism}},
	}
	if a.ExtraCausal {
		spec.Marker = &world.Marker{Kind: world.RetroactiveChange, Mechanism: a.Mechanism}
	}
	out, _, err := appendEvent(s, spec)
	return out, err
}

// TradeMemory

func (a TradeMemory) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).memory(a.Memory).characters(a.From, a.To).err
}

func (a TradeMemory) check(s *world.Store) error {
	if err := requireMechanism(a.Op(), "mechanism", a.Mechanism); err != nil {
		return err
	}
	if a.From == a.To {
		return reject(a.Op(), RejectInvalidArgument, "%s cannot trade a memory with itself", a.From)
	}
	holder, ok := s.HolderAt(a.Memory, a.Timeline)
	if !ok {
		return reject(a.Op(), RejectNotFormed, "%s was not formed in the history of %s", a.Memory, a.Timeline)
	}
	if holder != a.From {
		return reject(a.Op(), RejectNotHolder, "%s is held by %s in %s, not %s", a.Memory, holder, a.Timeline, a.From)
	}
	if err := requireAlive(a.Op(), s, a.From, a.Timeline); err != nil {
		return err
	}
	return requireAlive(a.Op(), s, a.To, a.Timeline)
}

func (a TradeMemory) apply(s *world.Store) (Outcome, error) {
	out, _, err := appendEvent(s, world.EventSpec{
		Timeline:     a.Timeline,
		Description:  fmt.Sprintf("%s passes from %s to %s", a.Memory, a.From, a.To),
		Participants: []world.CharacterID{a.From, a.To},
		Effects: []world.Effect{world.MemoryTransfer{
			Memory:    a.Memory,
			From:      a.From,
			To:        a.To,
			Mechanism: a.Mechanism,
		}},
	})
	return out, err
}

// BranchTimeline

func (a BranchTimeline) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Parent).err
}

func (BranchTimeline) check(*world.Store) error { return nil }

func (a BranchTimeline) apply(s *world.Store) (Outcome, error) {
	child := s.NextTimelineID()
	out, ev, err := appendEvent(s, world.EventSpec{
		Timeline:    a.Parent,
		Description: fmt.Sprintf("%s branches from %s", child, a.Parent),
		Effects:     []world.Effect{world.Branch{Child: child}},
	})
	if err != nil {
		return Outcome{}, err
	}
	got, err := s.Branch(a.Parent, ev)
	if err != nil {
		return Outcome{}, err
	}
	if got != child {
		return Outcome{}, fmt.Errorf("branch created %s, event announced %s", got, child)
	}
	out.Timeline = &got
	return out, nil
}

// ViolateCausality

// effects returns the payload with empty resurrection mechanisms filled
// from the action's mechanism.
func (a ViolateCausality) effects() []world.Effect {
	out := make([]world.Effect, len(a.Effects))
	for i, eff := range a.Effects {
		if r, ok := eff.(world.Resurrection); ok && strings.TrimSpace(r.Mechanism) == "" {
			r.Mechanism = a.Mechanism
			eff = r
		}
		out[i] = eff
	}
	return out
}

// participants returns the declared participants followed by any effect
// subject not already listed.
func (a ViolateCausality) participants() []world.CharacterID {
	out := slices.Clone(a.Participants)
	for _, eff := range a.Effects {
		for _, c := range world.Subjects(eff) {
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (a ViolateCausality) resolve(s *world.Store) error {
	r := newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Participants...)
	for i, eff := range a.Effects {
		switch eff.(type) {
		case world.Death, world.Resurrection, world.RelationshipChange, world.KnowledgeGain:
		case nil:
			r.invalid(true, "effect %d is empty", i)
		default:
			r.invalid(true, "%s effects cannot be forced by a causality violation", eff.Kind())
		}
		if eff == nil {
			continue
		}
		r.characters(world.Subjects(eff)...)
		if cause, ok := world.CauseOf(eff); ok {
			r.event(cause)
		}
	}
	return r.err
}

func (a ViolateCausality) check(s *world.Store) error {
	op := a.Op()
	if !a.Kind.Valid() {
		return reject(op, RejectInvalidArgument, "invalid violation kind %d", uint8(a.Kind))
	}
	if err := requireMechanism(op, "mechanism", a.Mechanism); err != nil {
		return err
	}

	resurrected := make(map[world.CharacterID]bool)
	for _, eff := range a.Effects {
		if r, ok := eff.(world.Resurrection); ok {
			resurrected[r.Character] = true
		}
	}

	alive := make(map[world.CharacterID]bool)
	for _, c := range a.participants() {
		if !s.Exists(c, a.Timeline) {
			return reject(op, RejectAbsent, "%s does not exist in %s", c, a.Timeline)
		}
		ok, err := s.IsAlive(c, a.Timeline)
		if err != nil {
			return &InternalError{Op: op, Err: err}
		}
		if !ok && !resurrected[c] {
			return reject(op, RejectNotAlive, "%s is dead in %s", c, a.Timeline)
		}
		alive[c] = ok
	}

	// Effects apply in order; each must be valid against the state the
	// previous ones leave behind.
	for _, eff := range a.effects() {
		switch e := eff.(type) {
		case world.Death:
			if !alive[e.Character] {
				return reject(op, RejectNotAlive, "%s is already dead in %s", e.Character, a.Timeline)
			}
			alive[e.Character] = false
		case world.Resurrection:
			if alive[e.Character] {
				return reject(op, RejectNotDead, "%s is alive in %s", e.Character, a.Timeline)
			}
			alive[e.Character] = true
		case world.RelationshipChange:
			if e.A == e.B {
				return reject(op, RejectInvalidArgument, "%s cannot relate to itself", e.A)
			}
			if !e.State.Valid() {
				return reject(op, RejectInvalidArgument, "invalid relationship %d", int8(e.State))
			}
			if !alive[e.A] || !alive[e.B] {
				return reject(op, RejectNotAlive, "relationship change between %s and %s needs both alive", e.A, e.B)
			}
		case world.KnowledgeGain:
			if strings.TrimSpace(e.Flag) == "" {
				return reject(op, RejectInvalidArgument, "knowledge flag must not be empty")
			}
			if !alive[e.Character] {
				return reject(op, RejectNotAlive, "%s is dead in %s", e.Character, a.Timeline)
			}
		}
	}
	return nil
}

func (a ViolateCausality) apply(s *world.Store) (Outcome, error) {
	desc := a.Description
	if desc == "" {
		desc = fmt.Sprintf("%s via %s", a.Kind, a.Mechanism)
	}
	out, _, err := appendEvent(s, world.EventSpec{
		Timeline:     a.Timeline,
		Description:  desc,
		Participants: a.participants(),
		Effects:      a.effects(),
		Marker:       &world.Marker{Kind: a.Kind, Mechanism: a.Mechanism},
	})
	return out, err
}

// GrantKnowledge

func (a GrantKnowledge) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Character).err
}

func (a GrantKnowledge) check(s *world.Store) error {
	if strings.TrimSpace(a.Flag) == "" {
		return reject(a.Op(), RejectInvalidArgument, "knowledge flag must not be empty")
	}
	return requireAlive(a.Op(), s, a.Character, a.Timeline)
}

func (a GrantKnowledge) apply(s *world.Store) (Outcome, error) {
	out, _, err := appendEvent(s, world.EventSpec{
		Timeline:     a.Timeline,
		Description:  fmt.Sprintf("%s learns %s", a.Character, a.Flag),
		Participants: []world.CharacterID{a.Character},
		Effects:      []world.Effect{world.KnowledgeGain{Character: a.Character, Flag: a.Flag}},
	})
	return out, err
}

// ChangeRelationship

func (a ChangeRelationship) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.A, a.B).
		invalid(!a.State.Valid(), "invalid relationship %d", int8(a.State)).err
}

func (a ChangeRelationship) check(s *world.Store) error {
	if a.A == a.B {
		return reject(a.Op(), RejectInvalidArgument, "%s cannot relate to itself", a.A)
	}
	if err := requireAlive(a.Op(), s, a.A, a.Timeline); err != nil {
		return err
	}
	return requireAlive(a.Op(), s, a.B, a.Timeline)
}

func (a ChangeRelationship) apply(s *world.Store) (Outcome, error) {
	out, _, err := appendEvent(s, world.EventSpec{
		Timeline:     a.Timeline,
		Description:  fmt.Sprintf("%s and %s become %s", a.A, a.B, a.State),
		Participants: []world.CharacterID{a.A, a.B},
		Effects:      []world.Effect{world.RelationshipChange{A: a.A, B: a.B, State: a.State}},
	})
	return out, err
}

// RecordScene

func (a RecordScene) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Participants...).err
}

func (a RecordScene) check(s *world.Store) error {
	if len(a.Participants) == 0 {
		return reject(a.Op(), RejectInvalidArgument, "a scene needs at least one participant")
	}
	for i, c := range a.Participants {
		if slices.Contains(a.Participants[:i], c) {
			return reject(a.Op(), RejectInvalidArgument, "%s listed twice", c)
		}
		if err := requireAlive(a.Op(), s, c, a.Timeline); err != nil {
			return err
		}
	}
	return nil
}

func (a RecordScene) apply(s *world.Store) (Outcome, error) {
	desc := a.Description
	if desc == "" {
		desc = "scene"
	}
	out, _, err := appendEvent(s, world.EventSpec{
		Timeline:     a.Timeline,
		Description:  desc,
		Participants: a.Participants,
	})
	return out, err
}

// Memory creation shared by witness, forge and install.

func createMemory(s *world.Store, holder world.CharacterID, t world.TimelineID, recalled world.EventID, prov world.Provenance, desc string) (Outcome, error) {
	mid := s.NextMemoryID()
	out, ev, err := appendEvent(s, world.EventSpec{
		Timeline:     t,
		Description:  desc,
		Participants: []world.CharacterID{holder},
		Effects:      []world.Effect{world.MemoryCreation{Memory: mid}},
	})
	if err != nil {
		return Outcome{}, err
	}
	got, err := s.CreateMemory(recalled, holder, prov, ev)
	if err != nil {
		return Outcome{}, err
	}
	if got != mid {
		return Outcome{}, fmt.Errorf("created %s, event announced %s", got, mid)
	}
	out.Memory = &got
	return out, nil
}

// WitnessMemory

func (a WitnessMemory) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Character).event(a.Event).err
}

func (a WitnessMemory) check(s *world.Store) error {
	if !s.InHistory(a.Timeline, a.Event) {
		return reject(a.Op(), RejectInvalidArgument, "%s is not in the history of %s", a.Event, a.Timeline)
	}
	ev, err := s.Event(a.Event)
	if err != nil {
		return &InternalError{Op: a.Op(), Err: err}
	}
	if !ev.HasParticipant(a.Character) {
		return reject(a.Op(), RejectNotParticipant, "%s did not take part in %s", a.Character, a.Event)
	}
	return requireAlive(a.Op(), s, a.Character, a.Timeline)
}

func (a WitnessMemory) apply(s *world.Store) (Outcome, error) {
	return createMemory(s, a.Character, a.Timeline, a.Event,
		world.Witnessed{Witness: a.Character},
		fmt.Sprintf("%s remembers %s", a.Character, a.Event))
}

// ForgeMemory

func (a ForgeMemory) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Character).event(a.Event).err
}

func (a ForgeMemory) check(s *world.Store) error {
	if err := requireMechanism(a.Op(), "forger", a.Forger); err != nil {
		return err
	}
	if err := requireNotImmune(a.Op(), s, a.Character); err != nil {
		return err
	}
	return requireAlive(a.Op(), s, a.Character, a.Timeline)
}

func (a ForgeMemory) apply(s *world.Store) (Outcome, error) {
	return createMemory(s, a.Character, a.Timeline, a.Event,
		world.Forged{Forger: a.Forger},
		fmt.Sprintf("%s forges a memory of %s for %s", a.Forger, a.Event, a.Character))
}

// InstallMemory

func (a InstallMemory) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Character).event(a.Event).err
}

func (a InstallMemory) check(s *world.Store) error {
	if err := requireMechanism(a.Op(), "mechanism", a.Mechanism); err != nil {
		return err
	}
	if err := requireNotImmune(a.Op(), s, a.Character); err != nil {
		return err
	}
	return requireAlive(a.Op(), s, a.Character, a.Timeline)
}

func (a InstallMemory) apply(s *world.Store) (Outcome, error) {
	return createMemory(s, a.Character, a.Timeline, a.Event,
		world.Installed{Mechanism: a.Mechanism},
		fmt.Sprintf("%s installs a memory of %s in %s", a.Mechanism, a.Event, a.Character))
}

// GrantAbility

func (a GrantAbility) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).characters(a.Character).
		invalid(!a.Ability.Valid(), "invalid ability %d", uint8(a.Ability)).err
}

func (GrantAbility) check(*world.Store) error { return nil }

func (a GrantAbility) apply(s *world.Store) (Outcome, error) {
	return Outcome{}, s.AddAbility(a.Character, a.Ability)
}

// PerceiveTimeline

func (a PerceiveTimeline) resolve(s *world.Store) error {
	return newRefs(a.Op(), s).timeline(a.Timeline).characters(a.Character).event(a.Source).err
}

func (a PerceiveTimeline) check(s *world.Store) error {
	op := a.Op()
	ch, err := s.Character(a.Character)
	if err != nil {
		return &InternalError{Op: op, Err: err}
	}
	if !ch.HasAbility(world.TimelinePerception) {
		return reject(op, RejectMissingAbility, "%s lacks %s", a.Character, world.TimelinePerception)
	}
	if strings.TrimSpace(a.Flag) == "" {
		return reject(op, RejectInvalidArgument, "knowledge flag must not be empty")
	}
	if s.InHistory(a.Timeline, a.Source) {
		return reject(op, RejectInvalidArgument, "%s is already in the history of %s", a.Source, a.Timeline)
	}
	src, err := s.Event(a.Source)
	if err != nil {
		return &InternalError{Op: op, Err: err}
	}
	granted := slices.ContainsFunc(src.Effects, func(eff world.Effect) bool {
		kg, ok := eff.(world.KnowledgeGain)
		return ok && kg.Flag == a.Flag
	})
	if !granted {
		return reject(op, RejectInvalidArgument, "%s does not grant %q", a.Source, a.Flag)
	}
	return requireAlive(op, s, a.Character, a.Timeline)
}

func (a PerceiveTimeline) apply(s *world.Store) (Outcome, error) {
	source := a.Source
	out, _, err := appendEvent(s, world.EventSpec{
		Timeline:     a.Timeline,
		Description:  fmt.Sprintf("%s perceives %s from %s", a.Character, a.Flag, a.Source),
		Participants: []world.CharacterID{a.Character},
		Effects:      []world.Effect{world.KnowledgeGain{Character: a.Character, Flag: a.Flag, Cause: &source}},
	})
	return out, err
}
