package world

import (
	"fmt"
	"maps"
	"slices"
)

// Store is the arena holding every timeline, character, memory and event
// of one run. Entities are never deleted, so an identifier stays valid
// once issued.
//
// Store performs referential checks only. Narrative preconditions such as
// "only the living may die" belong to the engine, which lets tests build
// inconsistent worlds directly for the invariant checker.
//
// A Store is not safe for concurrent use. Each run owns its own store.
type Store struct {
	timelines  []*Timeline
	characters []*Character
	memories   []*Memory
	events     []*Event
}

// NewStore returns a store holding only the root timeline T0.
func NewStore() *Store {
	return &Store{
		timelines: []*Timeline{{ID: RootTimeline}},
	}
}

// EventSpec describes an event to append.
type EventSpec struct {
	Timeline     TimelineID
	Description  string
	Participants []CharacterID
	Effects      []Effect
	Marker       *Marker
}

// Timeline returns the timeline with the given id. The result is shared
// with the store and must not be modified.
func (s *Store) Timeline(id TimelineID) (*Timeline, error) {
	if uint64(id) >= uint64(len(s.timelines)) {
		return nil, unknownTimeline(id)
	}
	return s.timelines[id], nil
}

// Character returns the character with the given id. The result is shared
// with the store and must not be modified.
func (s *Store) Character(id CharacterID) (*Character, error) {
	if uint64(id) >= uint64(len(s.characters)) {
		return nil, unknownCharacter(id)
	}
	return s.characters[id], nil
}

// Memory returns the memory with the given id. The result is shared with
// the store and must not be modified.
func (s *Store) Memory(id MemoryID) (*Memory, error) {
	if uint64(id) >= uint64(len(s.memories)) {
		return nil, unknownMemory(id)
	}
	return s.memories[id], nil
}

// Event returns the event with the given id. The result is shared with the
// store and must not be modified.
func (s *Store) Event(id EventID) (*Event, error) {
	if uint64(id) >= uint64(len(s.events)) {
		return nil, unknownEvent(id)
	}
	return s.events[id], nil
}

// Timelines returns all timelines in identifier order.
func (s *Store) Timelines() []*Timeline { return s.timelines }

// Characters returns all characters in identifier order.
func (s *Store) Characters() []*Character { return s.characters }

// Memories returns all memories in identifier order.
func (s *Store) Memories() []*Memory { return s.memories }

// Events returns all events in identifier order.
func (s *Store) Events() []*Event { return s.events }

// NextTimelineID is the identifier the next created timeline will get.
func (s *Store) NextTimelineID() TimelineID { return TimelineID(len(s.timelines)) }

// NextMemoryID is the identifier the next created memory will get.
func (s *Store) NextMemoryID() MemoryID { return MemoryID(len(s.memories)) }

// NextEventID is the identifier the next appended event will get.
func (s *Store) NextEventID() EventID { return EventID(len(s.events)) }

// CreateTimeline adds a child of parent whose history is parent's history
// up to and including at. Per-timeline character state is not copied; use
// Branch for that.
func (s *Store) CreateTimeline(parent TimelineID, at EventID) (TimelineID, error) {
	p, err := s.Timeline(parent)
	if err != nil {
		return 0, err
	}
	ev, err := s.Event(at)
	if err != nil {
		return 0, err
	}
	pos, ok := s.PositionOf(parent, at)
	if !ok {
		return 0, fmt.Errorf("create timeline: %s is not in the history of %s (owned by %s)", at, parent, ev.Timeline)
	}

	id := s.NextTimelineID()
	s.timelines = append(s.timelines, &Timeline{
		ID:          id,
		Parent:      parent,
		HasParent:   true,
		BranchPoint: at,
		History:     slices.Clone(p.History[:pos+1]),
	})
	return id, nil
}

// CreateCharacter adds a character homed in home. The character enters
// home at the current end of its history.
func (s *Store) CreateCharacter(name string, home TimelineID) (CharacterID, error) {
	t, err := s.Timeline(home)
	if err != nil {
		return 0, err
	}
	id := CharacterID(len(s.characters))
	s.characters = append(s.characters, &Character{
		ID:        id,
		Name:      name,
		Home:      home,
		Anchor:    len(t.History),
		Relations: make(map[TimelineID]map[CharacterID]Relationship),
		Knowledge: make(map[TimelineID]map[string]EventID),
	})
	return id, nil
}

// CreateMemory adds a memory of event formed for creator at origin.
func (s *Store) CreateMemory(event EventID, creator CharacterID, prov Provenance, origin EventID) (MemoryID, error) {
	if _, err := s.Event(event); err != nil {
		return 0, err
	}
	if _, err := s.Event(origin); err != nil {
		return 0, err
	}
	if _, err := s.Character(creator); err != nil {
		return 0, err
	}
	id := s.NextMemoryID()
	s.memories = append(s.memories, &Memory{
		ID:         id,
		Event:      event,
		Creator:    creator,
		Provenance: prov,
		Origin:     origin,
	})
	return id, nil
}

// AppendEvent appends a new event to the end of spec.Timeline's history.
// Character and event references are checked; memory and timeline
// references inside effects may name entities the caller is about to
// create.
func (s *Store) AppendEvent(spec EventSpec) (EventID, error) {
	t, err := s.Timeline(spec.Timeline)
	if err != nil {
		return 0, err
	}
	for _, c := range spec.Participants {
		if _, err := s.Character(c); err != nil {
			return 0, err
		}
	}
	for _, eff := range spec.Effects {
		if eff == nil {
			return 0, fmt.Errorf("append event: nil effect")
		}
		for _, c := range Subjects(eff) {
			if _, err := s.Character(c); err != nil {
				return 0, err
			}
		}
		if cause, ok := CauseOf(eff); ok {
			if _, err := s.Event(cause); err != nil {
				return 0, err
			}
		}
	}

	id := s.NextEventID()
	ev := &Event{
		ID:           id,
		Timeline:     spec.Timeline,
		Position:     len(t.History),
		Description:  spec.Description,
		Participants: slices.Clone(spec.Participants),
		Effects:      slices.Clone(spec.Effects),
	}
	if spec.Marker != nil {
		m := *spec.Marker
		ev.Marker = &m
	}
	s.events = append(s.events, ev)
	t.History = append(t.History, id)
	return id, nil
}

// SetRelationship stores c's relationship toward other in timeline t.
// Only the c→other direction is written.
func (s *Store) SetRelationship(c CharacterID, t TimelineID, other CharacterID, r Relationship) error {
	ch, err := s.Character(c)
	if err != nil {
		return err
	}
	if _, err := s.Timeline(t); err != nil {
		return err
	}
	if _, err := s.Character(other); err != nil {
		return err
	}
	if ch.Relations[t] == nil {
		ch.Relations[t] = make(map[CharacterID]Relationship)
	}
	ch.Relations[t][other] = r
	return nil
}

// AddKnowledge records that c learned flag in timeline t at event by.
// A flag already held keeps its original grant.
func (s *Store) AddKnowledge(c CharacterID, t TimelineID, flag string, by EventID) error {
	ch, err := s.Character(c)
	if err != nil {
		return err
	}
	if _, err := s.Timeline(t); err != nil {
		return err
	}
	if _, err := s.Event(by); err != nil {
		return err
	}
	if ch.Knowledge[t] == nil {
		ch.Knowledge[t] = make(map[string]EventID)
	}
	if _, ok := ch.Knowledge[t][flag]; !ok {
		ch.Knowledge[t][flag] = by
	}
	return nil
}

// AddAbility grants a to c. Granting a held ability is a no-op.
func (s *Store) AddAbility(c CharacterID, a Ability) error {
	ch, err := s.Character(c)
	if err != nil {
		return err
	}
	if !ch.HasAbility(a) {
		ch.Abilities = append(ch.Abilities, a)
		slices.Sort(ch.Abilities)
	}
	return nil
}

// Clone returns an independent deep copy of the store.
func (s *Store) Clone() *Store {
	out := &Store{
		timelines:  make([]*Timeline, len(s.timelines)),
		characters: make([]*Character, len(s.characters)),
		memories:   make([]*Memory, len(s.memories)),
		events:     make([]*Event, len(s.events)),
	}
	for i, t := range s.timelines {
		cp := *t
		cp.History = slices.Clone(t.History)
		out.timelines[i] = &cp
	}
	for i, c := range s.characters {
		cp := *c
		cp.Abilities = slices.Clone(c.Abilities)
		cp.Relations = make(map[TimelineID]map[CharacterID]Relationship, len(c.Relations))
		for t, rel := range c.Relations {
			cp.Relations[t] = maps.Clone(rel)
		}
		cp.Knowledge = make(map[TimelineID]map[string]EventID, len(c.Knowledge))
		for t, k := range c.Knowledge {
			cp.Knowledge[t] = maps.Clone(k)
		}
		out.characters[i] = &cp
	}
	for i, m := range s.memories {
		cp := *m
		out.memories[i] = &cp
	}
	for i, e := range s.events {
		// Events are immutable once appended; only the slices are copied
		// so callers of the clone cannot reach the original's backing arrays.
		cp := *e
		cp.Participants = slices.Clone(e.Participants)
		cp.Effects = slices.Clone(e.Effects)
		if e.Marker != nil {
			m := *e.Marker
			cp.Marker = &m
		}
		out.events[i] = &cp
	}
	return out
}
