package world

import (
	"fmt"
	"slices"
)

// Branch creates a child of parent diverging at the given event and seeds
// the child's relationship and knowledge tables from its history.
func (s *Store) Branch(parent TimelineID, at EventID) (TimelineID, error) {
	child, err := s.CreateTimeline(parent, at)
	if err != nil {
		return 0, err
	}
	relations := s.DeriveRelations(child)
	knowledge := s.DeriveKnowledge(child)
	for _, c := range s.characters {
		if !s.Exists(c.ID, child) {
			continue
		}
		if rel := relations[c.ID]; len(rel) > 0 {
			c.Relations[child] = rel
		}
		if know := knowledge[c.ID]; len(know) > 0 {
			c.Knowledge[child] = know
		}
	}
	return child, nil
}

// PositionOf returns the index of event in timeline's history.
func (s *Store) PositionOf(timeline TimelineID, event EventID) (int, bool) {
	t, err := s.Timeline(timeline)
	if err != nil {
		return 0, false
	}
	ev, err := s.Event(event)
	if err != nil {
		return 0, false
	}
	// An event keeps its index in every timeline that inherits it.
	if ev.Position < len(t.History) && t.History[ev.Position] == event {
		return ev.Position, true
	}
	return 0, false
}

// InHistory reports whether event is part of timeline's history.
func (s *Store) InHistory(timeline TimelineID, event EventID) bool {
	_, ok := s.PositionOf(timeline, event)
	return ok
}

// InPrefix reports whether event lies strictly before position pos in
// timeline's history.
func (s *Store) InPrefix(timeline TimelineID, pos int, event EventID) bool {
	p, ok := s.PositionOf(timeline, event)
	return ok && p < pos
}

// HistoryUntil returns timeline's history up to and including event.
func (s *Store) HistoryUntil(timeline TimelineID, event EventID) ([]EventID, error) {
	t, err := s.Timeline(timeline)
	if err != nil {
		return nil, err
	}
	pos, ok := s.PositionOf(timeline, event)
	if !ok {
		return nil, fmt.Errorf("history until: %s is not in the history of %s", event, timeline)
	}
	return slices.Clone(t.History[:pos+1]), nil
}

// SharesHistoryUntil reports whether a and b have identical histories up to
// and including event.
func (s *Store) SharesHistoryUntil(a, b TimelineID, event EventID) bool {
	ha, err := s.HistoryUntil(a, event)
	if err != nil {
		return false
	}
	hb, err := s.HistoryUntil(b, event)
	if err != nil {
		return false
	}
	return slices.Equal(ha, hb)
}

// Lineage returns timeline followed by its ancestors up to the root.
func (s *Store) Lineage(timeline TimelineID) []TimelineID {
	var out []TimelineID
	for {
		t, err := s.Timeline(timeline)
		if err != nil {
			return out
		}
		out = append(out, t.ID)
		if !t.HasParent {
			return out
		}
		timeline = t.Parent
	}
}

// Tail returns the index of the first event owned by timeline itself:
// zero for the root, one past the branch point otherwise.
func (s *Store) Tail(timeline TimelineID) int {
	t, err := s.Timeline(timeline)
	if err != nil || !t.HasParent {
		return 0
	}
	ev, err := s.Event(t.BranchPoint)
	if err != nil {
		return 0
	}
	return ev.Position + 1
}

// Entry returns the history index at which character c enters timeline t,
// or false if c never exists there.
//
// A character exists in its home from its anchor onward. It exists in a
// descendant of its home when the lineage left home at or after the anchor.
func (s *Store) Entry(c CharacterID, timeline TimelineID) (int, bool) {
	ch, err := s.Character(c)
	if err != nil {
		return 0, false
	}
	if timeline == ch.Home {
		return ch.Anchor, true
	}
	lineage := s.Lineage(timeline)
	for i, id := range lineage {
		if id != ch.Home {
			continue
		}
		// lineage[i-1] is the child of home on the path to timeline.
		if i == 0 {
			return ch.Anchor, true
		}
		child, _ := s.Timeline(lineage[i-1])
		bp, err := s.Event(child.BranchPoint)
		if err != nil {
			return 0, false
		}
		if bp.Position >= ch.Anchor {
			return ch.Anchor, true
		}
		return 0, false
	}
	return 0, false
}

// Exists reports whether character c exists in timeline t.
func (s *Store) Exists(c CharacterID, timeline TimelineID) bool {
	_, ok := s.Entry(c, timeline)
	return ok
}
