package world

// Everything in this file is computed from a timeline's history on demand.
// Nothing here writes to the store. History entries naming unknown events
// are skipped; the branch rule reports them.

// AliveAt reports whether c is alive in timeline just before the event at
// index pos. A character that does not exist yet is not alive.
func (s *Store) AliveAt(c CharacterID, timeline TimelineID, pos int) (bool, error) {
	if _, err := s.Character(c); err != nil {
		return false, err
	}
	t, err := s.Timeline(timeline)
	if err != nil {
		return false, err
	}
	entry, ok := s.Entry(c, timeline)
	if !ok || pos < entry {
		return false, nil
	}
	pos = min(pos, len(t.History))

	alive := true
	for _, id := range t.History[entry:pos] {
		ev, err := s.Event(id)
		if err != nil {
			continue
		}
		for _, eff := range ev.Effects {
			switch e := eff.(type) {
			case Death:
				if e.Character == c {
					alive = false
				}
			case Resurrection:
				if e.Character == c {
					alive = true
				}
			}
		}
	}
	return alive, nil
}

// IsAlive reports whether c is alive at the current end of timeline.
func (s *Store) IsAlive(c CharacterID, timeline TimelineID) (bool, error) {
	t, err := s.Timeline(timeline)
	if err != nil {
		return false, err
	}
	return s.AliveAt(c, timeline, len(t.History))
}

// LastLivenessEvent returns the latest event before pos in timeline that
// killed or resurrected c.
func (s *Store) LastLivenessEvent(c CharacterID, timeline TimelineID, pos int) (EventID, bool) {
	t, err := s.Timeline(timeline)
	if err != nil {
		return 0, false
	}
	for i := min(pos, len(t.History)) - 1; i >= 0; i-- {
		ev, err := s.Event(t.History[i])
		if err != nil {
			continue
		}
		for _, eff := range ev.Effects {
			switch e := eff.(type) {
			case Death:
				if e.Character == c {
					return ev.ID, true
				}
			case Resurrection:
				if e.Character == c {
					return ev.ID, true
				}
			}
		}
	}
	return 0, false
}

// LastRelationshipEvent returns the latest event before pos in timeline
// that changed the relationship between a and b.
func (s *Store) LastRelationshipEvent(timeline TimelineID, pos int, a, b CharacterID) (EventID, bool) {
	t, err := s.Timeline(timeline)
	if err != nil {
		return 0, false
	}
	for i := min(pos, len(t.History)) - 1; i >= 0; i-- {
		ev, err := s.Event(t.History[i])
		if err != nil {
			continue
		}
		for _, eff := range ev.Effects {
			if rc, ok := eff.(RelationshipChange); ok && samePair(rc, a, b) {
				return ev.ID, true
			}
		}
	}
	return 0, false
}

func samePair(rc RelationshipChange, a, b CharacterID) bool {
	return (rc.A == a && rc.B == b) || (rc.A == b && rc.B == a)
}

// DeriveRelations replays timeline's history and returns every non-default
// relationship it implies, keyed by holder then other.
func (s *Store) DeriveRelations(timeline TimelineID) map[CharacterID]map[CharacterID]Relationship {
	out := make(map[CharacterID]map[CharacterID]Relationship)
	t, err := s.Timeline(timeline)
	if err != nil {
		return out
	}
	set := func(a, b CharacterID, r Relationship) {
		if out[a] == nil {
			out[a] = make(map[CharacterID]Relationship)
		}
		out[a][b] = r
	}
	for _, id := range t.History {
		ev, err := s.Event(id)
		if err != nil {
			continue
		}
		for _, eff := range ev.Effects {
			if rc, ok := eff.(RelationshipChange); ok {
				set(rc.A, rc.B, rc.State)
				set(rc.B, rc.A, rc.State)
			}
		}
	}
	return out
}

// DeriveRelationship returns the relationship of a toward b implied by
// timeline's history, Neutral if the pair was never changed.
func (s *Store) DeriveRelationship(timeline TimelineID, a, b CharacterID) Relationship {
	t, err := s.Timeline(timeline)
	if err != nil {
		return Neutral
	}
	id, ok := s.LastRelationshipEvent(timeline, len(t.History), a, b)
	if !ok {
		return Neutral
	}
	ev, err := s.Event(id)
	if err != nil {
		return Neutral
	}
	for _, eff := range ev.Effects {
		if rc, ok := eff.(RelationshipChange); ok && samePair(rc, a, b) {
			return rc.State
		}
	}
	return Neutral
}

// DeriveKnowledge replays timeline's history and returns, per character,
// each flag it gained together with the first event that granted it.
func (s *Store) DeriveKnowledge(timeline TimelineID) map[CharacterID]map[string]EventID {
	out := make(map[CharacterID]map[string]EventID)
	t, err := s.Timeline(timeline)
	if err != nil {
		return out
	}
	for _, id := range t.History {
		ev, err := s.Event(id)
		if err != nil {
			continue
		}
		for _, eff := range ev.Effects {
			kg, ok := eff.(KnowledgeGain)
			if !ok {
				continue
			}
			if out[kg.Character] == nil {
				out[kg.Character] = make(map[string]EventID)
			}
			if _, seen := out[kg.Character][kg.Flag]; !seen {
				out[kg.Character][kg.Flag] = id
			}
		}
	}
	return out
}

// HoldingAt returns who holds memory m in timeline just before the event at
// index pos: the creator, then the recipient of each transfer of m that
// follows the origin. It reports false when m was not formed in timeline
// before pos.
func (s *Store) HoldingAt(m MemoryID, timeline TimelineID, pos int) (Holding, bool, error) {
	mem, err := s.Memory(m)
	if err != nil {
		return Holding{}, false, err
	}
	t, err := s.Timeline(timeline)
	if err != nil {
		return Holding{}, false, err
	}
	pos = min(pos, len(t.History))
	origin, ok := s.PositionOf(timeline, mem.Origin)
	if !ok || origin >= pos {
		return Holding{}, false, nil
	}

	h := Holding{Holder: mem.Creator, Provenance: mem.Provenance}
	for _, id := range t.History[origin+1 : pos] {
		ev, err := s.Event(id)
		if err != nil {
			continue
		}
		for _, eff := range ev.Effects {
			tr, ok := eff.(MemoryTransfer)
			if !ok || tr.Memory != m {
				continue
			}
			h.Previous = append(h.Previous, h.Provenance)
			h.Provenance = Traded{From: tr.From, Mechanism: tr.Mechanism}
			h.Holder = tr.To
		}
	}
	return h, true, nil
}

// HolderAt returns the character holding m at the end of timeline.
func (s *Store) HolderAt(m MemoryID, timeline TimelineID) (CharacterID, bool) {
	t, err := s.Timeline(timeline)
	if err != nil {
		return 0, false
	}
	h, ok, err := s.HoldingAt(m, timeline, len(t.History))
	if err != nil || !ok {
		return 0, false
	}
	return h.Holder, true
}

// HeldBy lists the memories c holds at the end of timeline, in id order.
func (s *Store) HeldBy(c CharacterID, timeline TimelineID) []MemoryID {
	var out []MemoryID
	for _, m := range s.memories {
		if h, ok := s.HolderAt(m.ID, timeline); ok && h == c {
			out = append(out, m.ID)
		}
	}
	return out
}
