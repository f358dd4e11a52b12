package invariant

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/strand/internal/causal"
	"github.com/roach88/strand/internal/world"
)

// Func evaluates one rule over a store and its causal index.
type Func func(s *world.Store, ix *causal.Index) []Violation

var funcs = map[Rule]Func{
	MemoryConsistency:       CheckMemories,
	DeathFinality:           CheckDeaths,
	CausalityJustification:  CheckCausality,
	BranchConsistency:       CheckBranches,
	RelationshipPersistence: CheckRelationships,
	KnowledgePropagation:    CheckKnowledge,
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// marked reports whether ev carries a marker with a mechanism.
func marked(ev *world.Event) bool {
	return ev.Marker != nil && !blank(ev.Marker.Mechanism)
}

// CheckMemories verifies that every memory has a well-formed provenance,
// that witnesses took part in what they remember and could have seen it,
// and that every transfer is made by the memory's holder in that timeline.
func CheckMemories(s *world.Store, _ *causal.Index) []Violation {
	var out []Violation
	for _, m := range s.Memories() {
		v := Violation{Rule: MemoryConsistency, Entity: m.ID.String(), EventIndex: EntityLevel}
		report := func(format string, args ...any) {
			v.Message = fmt.Sprintf(format, args...)
			out = append(out, v)
		}

		ev, err := s.Event(m.Event)
		if err != nil {
			report("recalls unknown event %s", m.Event)
			continue
		}
		v.Timeline, v.EventIndex = ev.Timeline, ev.Position

		if _, err := s.Character(m.Creator); err != nil {
			report("formed for unknown character %s", m.Creator)
		}

		switch p := m.Provenance.(type) {
		case nil:
			report("has no provenance")
		case world.Witnessed:
			if !ev.HasParticipant(p.Witness) {
				report("witnessed by %s, who did not take part in %s", p.Witness, ev.ID)
			}
			origin, err := s.Event(m.Origin)
			if err != nil {
				report("formed at unknown event %s", m.Origin)
				break
			}
			if pos, ok := s.PositionOf(origin.Timeline, ev.ID); !ok || pos > origin.Position {
				report("witnessed in %s, where %s had not happened", origin.Timeline, ev.ID)
			}
		case world.Traded:
			if blank(p.Mechanism) {
				report("traded without a mechanism")
			}
			if _, err := s.Character(p.From); err != nil {
				report("traded from unknown character %s", p.From)
			}
		case world.Forged:
			if blank(p.Forger) {
				report("forged without a forger")
			}
		case world.Installed:
			if blank(p.Mechanism) {
				report("installed without a mechanism")
			}
		}
	}

	// Transfers are checked in the timeline that owns them, against the
	// holding that timeline's history implies.
	for _, t := range s.Timelines() {
		for pos, id := range t.History {
			ev, err := s.Event(id)
			if err != nil || ev.Timeline != t.ID {
				continue
			}
			for _, eff := range ev.Effects {
				tr, ok := eff.(world.MemoryTransfer)
				if !ok {
					continue
				}
				v := Violation{Rule: MemoryConsistency, Entity: tr.Memory.String(), Timeline: t.ID, EventIndex: pos}
				h, formed, err := s.HoldingAt(tr.Memory, t.ID, pos)
				switch {
				case err != nil:
					v.Message = fmt.Sprintf("%s passes on unknown memory %s", ev.ID, tr.Memory)
				case !formed:
					v.Message = fmt.Sprintf("passed on in %s before it was formed in %s", ev.ID, t.ID)
				case h.Holder != tr.From:
					v.Message = fmt.Sprintf("passed on by %s in %s, but held by %s", tr.From, ev.ID, h.Holder)
				case blank(tr.Mechanism):
					v.Message = fmt.Sprintf("passed on in %s without a mechanism", ev.ID)
				default:
					continue
				}
				out = append(out, v)
			}
		}
	}
	return out
}

// CheckDeaths walks each timeline's own events with the liveness its
// history implies. A participant must exist and be alive unless the same
// event resurrects it; deaths and resurrections must change state.
func CheckDeaths(s *world.Store, _ *causal.Index) []Violation {
	var out []Violation
	for _, t := range s.Timelines() {
		for pos, id := range t.History {
			ev, err := s.Event(id)
			if err != nil || ev.Timeline != t.ID {
				// Inherited events are checked in their own timeline.
				continue
			}
			report := func(c world.CharacterID, format string, args ...any) {
				out = append(out, Violation{
					Rule:       DeathFinality,
					Entity:     c.String(),
					Timeline:   t.ID,
					EventIndex: pos,
					Message:    fmt.Sprintf(format, args...),
				})
			}

			resurrected := make(map[world.CharacterID]bool)
			for _, eff := range ev.Effects {
				if r, ok := eff.(world.Resurrection); ok {
					resurrected[r.Character] = true
				}
			}

			alive := make(map[world.CharacterID]bool)
			absent := make(map[world.CharacterID]bool)
			state := func(c world.CharacterID) (bool, bool) {
				if absent[c] {
					return false, false
				}
				if a, ok := alive[c]; ok {
					return a, true
				}
				if !s.Exists(c, t.ID) {
					absent[c] = true
					report(c, "appears in %s but does not exist in %s", ev.ID, t.ID)
					return false, false
				}
				a, err := s.AliveAt(c, t.ID, pos)
				if err != nil {
					absent[c] = true
					return false, false
				}
				alive[c] = a
				return a, true
			}

			for _, c := range ev.Participants {
				a, ok := state(c)
				if ok && !a && !resurrected[c] {
					report(c, "takes part in %s while dead", ev.ID)
				}
			}
			for _, eff := range ev.Effects {
				switch e := eff.(type) {
				case world.Death:
					a, ok := state(e.Character)
					if !ok {
						continue
					}
					if !a {
						report(e.Character, "dies in %s while already dead", ev.ID)
					}
					alive[e.Character] = false
				case world.Resurrection:
					a, ok := state(e.Character)
					if !ok {
						continue
					}
					if a {
						report(e.Character, "resurrected in %s while alive", ev.ID)
					}
					if blank(e.Mechanism) {
						report(e.Character, "resurrected in %s without a mechanism", ev.ID)
					}
					alive[e.Character] = true
				}
			}
		}
	}
	return out
}

// CheckCausality flags markers without a mechanism and dependencies that
// do not precede their event, unless a marker or an ability explains them.
func CheckCausality(s *world.Store, ix *causal.Index) []Violation {
	var out []Violation
	for _, ev := range s.Events() {
		if ev.Marker == nil {
			continue
		}
		v := Violation{
			Rule:       CausalityJustification,
			Entity:     ev.ID.String(),
			Timeline:   ev.Timeline,
			EventIndex: ev.Position,
		}
		if !ev.Marker.Kind.Valid() {
			v.Message = fmt.Sprintf("marked with unknown kind %s", ev.Marker.Kind)
			out = append(out, v)
		}
		if blank(ev.Marker.Mechanism) {
			v.Message = fmt.Sprintf("marked %s without a mechanism", ev.Marker.Kind)
			out = append(out, v)
		}
	}

	for _, f := range ix.Faults(s) {
		ev, err := s.Event(f.Event)
		if err != nil || marked(ev) {
			continue
		}
		if f.Dep.Kind == causal.DepCause && abilityJustifies(s, ev, f) {
			continue
		}
		where := "from another lineage"
		if f.Later {
			where = fmt.Sprintf("later in %s", ev.Timeline)
		}
		out = append(out, Violation{
			Rule:       CausalityJustification,
			Entity:     ev.ID.String(),
			Timeline:   ev.Timeline,
			EventIndex: ev.Position,
			Message:    fmt.Sprintf("depends on %s (%s) %s without a marker", f.Dep.Event, f.Dep.Kind, where),
		})
	}
	return out
}

// abilityJustifies reports whether every effect of ev caused by the
// faulting dependency is knowledge its subject could perceive: across
// lineages with timeline perception, ahead in time with precognition.
func abilityJustifies(s *world.Store, ev *world.Event, f causal.Fault) bool {
	found := false
	for _, eff := range ev.Effects {
		cause, ok := world.CauseOf(eff)
		if !ok || cause != f.Dep.Event {
			continue
		}
		kg, ok := eff.(world.KnowledgeGain)
		if !ok {
			return false
		}
		c, err := s.Character(kg.Character)
		if err != nil {
			return false
		}
		need := world.TimelinePerception
		if f.Later {
			need = world.Precognition
		}
		if !c.HasAbility(need) {
			return false
		}
		found = true
	}
	return found
}

// CheckBranches verifies that every timeline's history is well formed and
// that children share their parent's history up to the branch point.
func CheckBranches(s *world.Store, _ *causal.Index) []Violation {
	var out []Violation
	for _, t := range s.Timelines() {
		report := func(idx int, format string, args ...any) {
			out = append(out, Violation{
				Rule:       BranchConsistency,
				Entity:     t.ID.String(),
				Timeline:   t.ID,
				EventIndex: idx,
				Message:    fmt.Sprintf(format, args...),
			})
		}

		tail := 0
		if t.HasParent {
			parent, err := s.Timeline(t.Parent)
			if err != nil {
				report(EntityLevel, "parent %s does not exist", t.Parent)
				continue
			}
			bp, err := s.Event(t.BranchPoint)
			if err != nil {
				report(EntityLevel, "branch point %s does not exist", t.BranchPoint)
				continue
			}
			tail = bp.Position + 1

			if !s.SharesHistoryUntil(t.ID, parent.ID, bp.ID) {
				report(bp.Position, "does not share the history of %s up to %s", parent.ID, bp.ID)
			}
			announced := slices.ContainsFunc(bp.Effects, func(eff world.Effect) bool {
				b, ok := eff.(world.Branch)
				return ok && b.Child == t.ID
			})
			if !announced {
				report(bp.Position, "branch point %s does not record the branch", bp.ID)
			}
			if tail <= len(t.History) && tail <= len(parent.History) {
				own, theirs := t.History[tail:], parent.History[tail:]
				if len(own) > 0 && len(theirs) > 0 && slices.Equal(own, theirs) {
					report(tail, "has not diverged from %s", parent.ID)
				}
			}
		}

		for pos, id := range t.History {
			ev, err := s.Event(id)
			if err != nil {
				report(pos, "history lists unknown event %s", id)
				continue
			}
			if ev.Position != pos {
				report(pos, "%s is recorded at position %d", ev.ID, ev.Position)
			}
			if pos >= tail && ev.Timeline != t.ID {
				report(pos, "%s belongs to %s", ev.ID, ev.Timeline)
			}
		}
	}

	for _, ev := range s.Events() {
		for _, eff := range ev.Effects {
			b, ok := eff.(world.Branch)
			if !ok {
				continue
			}
			child, err := s.Timeline(b.Child)
			if err == nil && child.HasParent && child.Parent == ev.Timeline && child.BranchPoint == ev.ID {
				continue
			}
			out = append(out, Violation{
				Rule:       BranchConsistency,
				Entity:     ev.ID.String(),
				Timeline:   ev.Timeline,
				EventIndex: ev.Position,
				Message:    fmt.Sprintf("records a branch to %s that did not happen here", b.Child),
			})
		}
	}
	return out
}

// CheckRelationships verifies that each stored relationship equals the
// value set by the latest change in the timeline's history, or Neutral.
func CheckRelationships(s *world.Store, _ *causal.Index) []Violation {
	var out []Violation
	for _, t := range s.Timelines() {
		derived := s.DeriveRelations(t.ID)
		for _, c := range s.Characters() {
			stored := c.Relations[t.ID]
			others := slices.Sorted(maps.Keys(stored))
			for o := range derived[c.ID] {
				if _, ok := stored[o]; !ok {
					others = append(others, o)
				}
			}
			slices.Sort(others)

			for _, o := range others {
				got, want := stored[o], derived[c.ID][o]
				if got == want {
					continue
				}
				idx := EntityLevel
				if id, ok := s.LastRelationshipEvent(t.ID, len(t.History), c.ID, o); ok {
					if ev, err := s.Event(id); err == nil {
						idx = ev.Position
					}
				}
				out = append(out, Violation{
					Rule:       RelationshipPersistence,
					Entity:     c.ID.String(),
					Timeline:   t.ID,
					EventIndex: idx,
					Message:    fmt.Sprintf("regards %s as %s, history says %s", o, got, want),
				})
			}
		}
	}

	for _, c := range s.Characters() {
		for _, tid := range slices.Sorted(maps.Keys(c.Relations)) {
			if _, err := s.Timeline(tid); err != nil {
				out = append(out, Violation{
					Rule:       RelationshipPersistence,
					Entity:     c.ID.String(),
					Timeline:   tid,
					EventIndex: EntityLevel,
					Message:    fmt.Sprintf("has relationships in unknown timeline %s", tid),
				})
			}
		}
	}
	return out
}

// CheckKnowledge verifies that every held flag is backed by a grant in
// the timeline's history, that cross-lineage knowledge is perceivable or
// marked, and that no granted flag has gone missing.
func CheckKnowledge(s *world.Store, _ *causal.Index) []Violation {
	var out []Violation
	for _, c := range s.Characters() {
		for _, tid := range slices.Sorted(maps.Keys(c.Knowledge)) {
			flags := c.Knowledge[tid]
			if len(flags) == 0 {
				continue
			}
			v := Violation{Rule: KnowledgePropagation, Entity: c.ID.String(), Timeline: tid, EventIndex: EntityLevel}
			if _, err := s.Timeline(tid); err != nil {
				v.Message = fmt.Sprintf("knows flags in unknown timeline %s", tid)
				out = append(out, v)
				continue
			}
			if !s.Exists(c.ID, tid) {
				v.Message = fmt.Sprintf("knows %d flags in %s, where it does not exist", len(flags), tid)
				out = append(out, v)
			}

			for _, flag := range slices.Sorted(maps.Keys(flags)) {
				by := flags[flag]
				v := v
				report := func(format string, args ...any) {
					v.Message = fmt.Sprintf(format, args...)
					out = append(out, v)
				}

				ev, err := s.Event(by)
				if err != nil {
					report("knows %q from unknown event %s", flag, by)
					continue
				}
				if pos, ok := s.PositionOf(tid, by); ok {
					v.EventIndex = pos
				} else {
					report("knows %q from %s, outside the history of %s", flag, by, tid)
				}

				idx := slices.IndexFunc(ev.Effects, func(eff world.Effect) bool {
					kg, ok := eff.(world.KnowledgeGain)
					return ok && kg.Character == c.ID && kg.Flag == flag
				})
				if idx < 0 {
					report("knows %q, but %s does not grant it", flag, by)
					continue
				}
				kg := ev.Effects[idx].(world.KnowledgeGain)
				if kg.Cause == nil || s.InHistory(tid, *kg.Cause) {
					continue
				}
				if !c.HasAbility(world.TimelinePerception) && !marked(ev) {
					report("knows %q from %s in another lineage without %s", flag, *kg.Cause, world.TimelinePerception)
				}
			}
		}
	}

	for _, t := range s.Timelines() {
		derived := s.DeriveKnowledge(t.ID)
		for _, cid := range slices.Sorted(maps.Keys(derived)) {
			c, err := s.Character(cid)
			if err != nil {
				continue
			}
			for _, flag := range slices.Sorted(maps.Keys(derived[cid])) {
				if c.Knows(t.ID, flag) {
					continue
				}
				by := derived[cid][flag]
				idx := EntityLevel
				if pos, ok := s.PositionOf(t.ID, by); ok {
					idx = pos
				}
				out = append(out, Violation{
					Rule:       KnowledgePropagation,
					Entity:     cid.String(),
					Timeline:   t.ID,
					EventIndex: idx,
					Message:    fmt.Sprintf("lost %q granted by %s", flag, by),
				})
			}
		}
	}
	return out
}
