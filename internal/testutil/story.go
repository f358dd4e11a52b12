// Package testutil builds small stories for tests.
package testutil

import (
	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/world"
)

// Story accumulates actions and predicts the identifiers they will be
// given, assuming each one is applied. Identifiers are allocated in
// creation order, so the predictions hold for a fresh store.
type Story struct {
	timeline  world.TimelineID
	actions   []engine.Action
	chars     int
	events    int
	timelines int
}

// NewStory returns an empty story set in the root timeline.
func NewStory() *Story {
	return &Story{timeline: world.RootTimeline, timelines: 1}
}

// In moves the story to timeline t for the actions that follow.
func (s *Story) In(t world.TimelineID) *Story {
	s.timeline = t
	return s
}

func (s *Story) add(a engine.Action) world.EventID {
	s.actions = append(s.actions, a)
	ev := world.EventID(s.events)
	s.events++
	return ev
}

// Create adds a character in the current timeline.
func (s *Story) Create(name string) world.CharacterID {
	s.actions = append(s.actions, engine.CreateCharacter{Name: name, Timeline: s.timeline})
	c := world.CharacterID(s.chars)
	s.chars++
	return c
}

// Kill kills c in the current timeline.
func (s *Story) Kill(c world.CharacterID) world.EventID {
	return s.add(engine.KillCharacter{Character: c, Timeline: s.timeline})
}

// Scene records a scene with the given participants.
func (s *Story) Scene(participants ...world.CharacterID) world.EventID {
	return s.add(engine.RecordScene{Timeline: s.timeline, Participants: participants})
}

// Know grants c the knowledge flag.
func (s *Story) Know(c world.CharacterID, flag string) world.EventID {
	return s.add(engine.GrantKnowledge{Character: c, Timeline: s.timeline, Flag: flag})
}

// Witness gives c a memory of ev.
func (s *Story) Witness(c world.CharacterID, ev world.EventID) world.EventID {
	return s.add(engine.WitnessMemory{Character: c, Timeline: s.timeline, Event: ev})
}

// Branch splits a timeline off the current one and returns it. The
// story stays in the current timeline.
func (s *Story) Branch() world.TimelineID {
	s.add(engine.BranchTimeline{Parent: s.timeline})
	t := world.TimelineID(s.timelines)
	s.timelines++
	return t
}

// Actions returns the accumulated actions.
func (s *Story) Actions() []engine.Action {
	return append([]engine.Action(nil), s.actions...)
}

// DeadSpeaker is the smallest story that breaks death finality when
// applied without narrative checks: Kim is created, killed, and then
// takes part in a scene. A strict engine rejects the scene.
func DeadSpeaker() []engine.Action {
	s := NewStory()
	kim := s.Create("Kim")
	s.Kill(kim)
	s.Scene(kim)
	return s.Actions()
}
