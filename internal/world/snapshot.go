package world

import (
	"fmt"

	"github.com/roach88/strand/internal/ir"
)

// Digest returns the canonical SHA-256 digest of the whole store. Two
// stores with equal digests hold identical entities and histories.
func (s *Store) Digest() (string, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return "", err
	}
	return ir.Digest(ir.DomainSnapshot, snap)
}

// Snapshot renders the store as a hashable value.
func (s *Store) Snapshot() (ir.Object, error) {
	timelines := make(ir.List, len(s.timelines))
	for i, t := range s.timelines {
		obj := ir.Object{
			"id":      ir.String(t.ID.String()),
			"history": ir.Strings(idStrings(t.History)),
		}
		if t.HasParent {
			obj["parent"] = ir.String(t.Parent.String())
			obj["branch_point"] = ir.String(t.BranchPoint.String())
		}
		timelines[i] = obj
	}

	characters := make(ir.List, len(s.characters))
	for i, c := range s.characters {
		abilities := make(ir.List, len(c.Abilities))
		for j, a := range c.Abilities {
			abilities[j] = ir.String(a.String())
		}
		relations := ir.Object{}
		for t, rel := range c.Relations {
			row := ir.Object{}
			for other, r := range rel {
				row[other.String()] = ir.String(r.String())
			}
			relations[t.String()] = row
		}
		knowledge := ir.Object{}
		for t, flags := range c.Knowledge {
			row := ir.Object{}
			for flag, ev := range flags {
				row[flag] = ir.String(ev.String())
			}
			knowledge[t.String()] = row
		}
		characters[i] = ir.Object{
			"id":        ir.String(c.ID.String()),
			"name":      ir.String(c.Name),
			"home":      ir.String(c.Home.String()),
			"anchor":    ir.Int(c.Anchor),
			"abilities": abilities,
			"relations": relations,
			"knowledge": knowledge,
		}
	}

	memories := make(ir.List, len(s.memories))
	for i, m := range s.memories {
		prov, err := ProvenanceValue(m.Provenance)
		if err != nil {
			return nil, fmt.Errorf("memory %s: %w", m.ID, err)
		}
		memories[i] = ir.Object{
			"id":         ir.String(m.ID.String()),
			"event":      ir.String(m.Event.String()),
			"creator":    ir.String(m.Creator.String()),
			"provenance": prov,
			"origin":     ir.String(m.Origin.String()),
		}
	}

	events := make(ir.List, len(s.events))
	for i, e := range s.events {
		effects := make(ir.List, len(e.Effects))
		for j, eff := range e.Effects {
			v, err := EffectValue(eff)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", e.ID, err)
			}
			effects[j] = v
		}
		obj := ir.Object{
			"id":           ir.String(e.ID.String()),
			"timeline":     ir.String(e.Timeline.String()),
			"position":     ir.Int(e.Position),
			"description":  ir.String(e.Description),
			"participants": ir.Strings(idStrings(e.Participants)),
			"effects":      effects,
		}
		if e.Marker != nil {
			obj["marker"] = ir.Object{
				"kind":      ir.String(e.Marker.Kind.String()),
				"mechanism": ir.String(e.Marker.Mechanism),
			}
		}
		events[i] = obj
	}

	return ir.Object{
		"version":    ir.String(ir.SnapshotVersion),
		"timelines":  timelines,
		"characters": characters,
		"memories":   memories,
		"events":     events,
	}, nil
}

// EffectValue renders one effect as a hashable value.
func EffectValue(e Effect) (ir.Object, error) {
	obj := ir.Object{}
	switch eff := e.(type) {
	case Death:
		obj["character"] = ir.String(eff.Character.String())
	case Resurrection:
		obj["character"] = ir.String(eff.Character.String())
		obj["mechanism"] = ir.String(eff.Mechanism)
	case RelationshipChange:
		obj["a"] = ir.String(eff.A.String())
		obj["b"] = ir.String(eff.B.String())
		obj["state"] = ir.String(eff.State.String())
	case KnowledgeGain:
		obj["character"] = ir.String(eff.Character.String())
		obj["flag"] = ir.String(eff.Flag)
	case MemoryCreation:
		obj["memory"] = ir.String(eff.Memory.String())
	case MemoryTransfer:
		obj["memory"] = ir.String(eff.Memory.String())
		obj["from"] = ir.String(eff.From.String())
		obj["to"] = ir.String(eff.To.String())
		obj["mechanism"] = ir.String(eff.Mechanism)
	case Branch:
		obj["child"] = ir.String(eff.Child.String())
	default:
		return nil, fmt.Errorf("unknown effect type %T", e)
	}
	obj["kind"] = ir.String(string(e.Kind()))
	if cause, ok := CauseOf(e); ok {
		obj["cause"] = ir.String(cause.String())
	}
	return obj, nil
}

// ProvenanceValue renders a provenance as a hashable value.
func ProvenanceValue(p Provenance) (ir.Object, error) {
	switch pv := p.(type) {
	case Witnessed:
		return ir.Object{"kind": ir.String(pv.Kind()), "witness": ir.String(pv.Witness.String())}, nil
	case Traded:
		return ir.Object{"kind": ir.String(pv.Kind()), "from": ir.String(pv.From.String()), "mechanism": ir.String(pv.Mechanism)}, nil
	case Forged:
		return ir.Object{"kind": ir.String(pv.Kind()), "forger": ir.String(pv.Forger)}, nil
	case Installed:
		return ir.Object{"kind": ir.String(pv.Kind()), "mechanism": ir.String(pv.Mechanism)}, nil
	case nil:
		return ir.Object{"kind": ir.String("none")}, nil
	default:
		return nil, fmt.Errorf("unknown provenance type %T", p)
	}
}

func idStrings[ID fmt.Stringer](ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
