// Package causal tracks which earlier events each event depends on.
//
// The index is maintained incrementally as the engine appends events and
// can be rebuilt from a store at any time. Both paths must agree; the
// tests hold them to it.
package causal

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/strand/internal/world"
)

// DepKind says why an event depends on another.
type DepKind uint8

const (
	// DepLiveness points at a participant's latest death or resurrection.
	DepLiveness DepKind = iota + 1
	// DepRelationship points at the latest change to a pair the event changes.
	DepRelationship
	// DepMemory points at the event a memory recalls. Memories may recall
	// any timeline, so these edges are not ordered.
	DepMemory
	// DepCause points at an explicit cause declared by an effect.
	DepCause
	// DepOrigin points from a transfer at the event that formed the memory.
	DepOrigin
)

func (k DepKind) String() string {
	switch k {
	case DepLiveness:
		return "liveness"
	case DepRelationship:
		return "relationship"
	case DepMemory:
		return "memory"
	case DepCause:
		return "cause"
	case DepOrigin:
		return "origin"
	default:
		return fmt.Sprintf("dep(%d)", uint8(k))
	}
}

// Dep is one dependency edge.
type Dep struct {
	Event world.EventID
	Kind  DepKind
}

// Index maps events to their dependencies and dependents.
type Index struct {
	deps       [][]Dep
	dependents map[world.EventID][]world.EventID
}

// New returns an empty index.
func New() *Index {
	return &Index{dependents: make(map[world.EventID][]world.EventID)}
}

// Build indexes every event in s from scratch.
func Build(s *world.Store) (*Index, error) {
	ix := New()
	for _, ev := range s.Events() {
		if err := ix.Observe(s, ev.ID); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Observe indexes one newly appended event. Events must be observed in
// identifier order, after any memory they create exists in the store.
func (ix *Index) Observe(s *world.Store, id world.EventID) error {
	if uint64(id) != uint64(len(ix.deps)) {
		return fmt.Errorf("observe %s: expected %s next", id, world.EventID(len(ix.deps)))
	}
	deps, err := dependencies(s, id)
	if err != nil {
		return fmt.Errorf("observe %s: %w", id, err)
	}
	ix.deps = append(ix.deps, deps)

	for _, d := range deps {
		list := ix.dependents[d.Event]
		if i, found := slices.BinarySearch(list, id); !found {
			ix.dependents[d.Event] = slices.Insert(list, i, id)
		}
	}
	return nil
}

func dependencies(s *world.Store, id world.EventID) ([]Dep, error) {
	ev, err := s.Event(id)
	if err != nil {
		return nil, err
	}

	var deps []Dep
	add := func(e world.EventID, k DepKind) {
		if e != id {
			deps = append(deps, Dep{Event: e, Kind: k})
		}
	}

	for _, c := range ev.Participants {
		if last, ok := s.LastLivenessEvent(c, ev.Timeline, ev.Position); ok {
			add(last, DepLiveness)
		}
	}

	for _, eff := range ev.Effects {
		switch e := eff.(type) {
		case world.RelationshipChange:
			if last, ok := s.LastRelationshipEvent(ev.Timeline, ev.Position, e.A, e.B); ok {
				add(last, DepRelationship)
			}
		case world.MemoryCreation:
			m, err := s.Memory(e.Memory)
			if err != nil {
				return nil, err
			}
			add(m.Event, DepMemory)
		case world.MemoryTransfer:
			m, err := s.Memory(e.Memory)
			if err != nil {
				return nil, err
			}
			add(m.Event, DepMemory)
			add(m.Origin, DepOrigin)
		case world.Death, world.Resurrection, world.KnowledgeGain, world.Branch:
		default:
			return nil, fmt.Errorf("unknown effect type %T", eff)
		}
		if cause, ok := world.CauseOf(eff); ok {
			add(cause, DepCause)
		}
	}

	slices.SortFunc(deps, func(a, b Dep) int {
		if c := cmp.Compare(a.Event, b.Event); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return slices.Compact(deps), nil
}

// Len is the number of events indexed.
func (ix *Index) Len() int { return len(ix.deps) }

// Deps returns the dependencies of id ordered by event then kind.
func (ix *Index) Deps(id world.EventID) []Dep {
	if uint64(id) >= uint64(len(ix.deps)) {
		return nil
	}
	return ix.deps[id]
}

// Dependents returns the events that depend on id, in identifier order.
func (ix *Index) Dependents(id world.EventID) []world.EventID {
	return ix.dependents[id]
}

// Equal reports whether two indexes hold the same edges.
func (ix *Index) Equal(other *Index) bool {
	if len(ix.deps) != len(other.deps) || len(ix.dependents) != len(other.dependents) {
		return false
	}
	for i := range ix.deps {
		if !slices.Equal(ix.deps[i], other.deps[i]) {
			return false
		}
	}
	for k, v := range ix.dependents {
		if !slices.Equal(v, other.dependents[k]) {
			return false
		}
	}
	return true
}

// Fault is a dependency that does not lie strictly before its dependent
// in the dependent's timeline.
type Fault struct {
	Event world.EventID
	Dep   Dep

	// Later is set when the dependency is in the same timeline history
	// at or after the event. Otherwise it belongs to another lineage.
	Later bool
}

// Faults lists every ordered dependency (all but DepMemory) that is not in
// its event's strict prefix, in event order. Markers and
// abilities are not consulted; deciding which faults are justified is the
// invariant checker's job.
func (ix *Index) Faults(s *world.Store) []Fault {
	var out []Fault
	for i, deps := range ix.deps {
		ev, err := s.Event(world.EventID(i))
		if err != nil {
			continue
		}
		for _, d := range deps {
			if d.Kind == DepMemory {
				continue
			}
			if s.InPrefix(ev.Timeline, ev.Position, d.Event) {
				continue
			}
			out = append(out, Fault{
				Event: ev.ID,
				Dep:   d,
				Later: s.InHistory(ev.Timeline, d.Event),
			})
		}
	}
	return out
}
