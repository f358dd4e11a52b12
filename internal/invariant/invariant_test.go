package invariant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/gen"
	"github.com/roach88/strand/internal/world"
)

const (
	kim = world.CharacterID(0)
	lee = world.CharacterID(1)
)

// setup applies actions to a strict engine over T0 holding Kim and Lee.
func setup(t *testing.T, actions ...engine.Action) *world.Store {
	t.Helper()
	e, err := engine.New(world.NewStore())
	require.NoError(t, err)
	all := append([]engine.Action{
		engine.CreateCharacter{Name: "Kim", Timeline: world.RootTimeline},
		engine.CreateCharacter{Name: "Lee", Timeline: world.RootTimeline},
	}, actions...)
	for _, a := range all {
		_, err := e.Apply(a)
		require.NoError(t, err, engine.RecordOf(a).String())
	}
	return e.Store()
}

// setupPermissive is setup with the narrative checks off.
func setupPermissive(t *testing.T, actions ...engine.Action) *world.Store {
	t.Helper()
	e, err := engine.New(world.NewStore(), engine.WithPermissive(true))
	require.NoError(t, err)
	all := append([]engine.Action{
		engine.CreateCharacter{Name: "Kim", Timeline: world.RootTimeline},
		engine.CreateCharacter{Name: "Lee", Timeline: world.RootTimeline},
	}, actions...)
	for _, a := range all {
		_, err := e.Apply(a)
		require.NoError(t, err, engine.RecordOf(a).String())
	}
	return e.Store()
}

func validate(t *testing.T, s *world.Store) []Violation {
	t.Helper()
	vs, err := ValidateAll(s)
	require.NoError(t, err)
	return vs
}

func rulesOf(vs []Violation) []Rule {
	var out []Rule
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestRule_NumberAndValid(t *testing.T) {
	assert.Equal(t, 1, MemoryConsistency.Number())
	assert.Equal(t, 6, KnowledgePropagation.Number())
	assert.Equal(t, 0, Rule("nope").Number())
	assert.False(t, Rule("nope").Valid())
}

func TestViolation_String(t *testing.T) {
	v := Violation{Rule: DeathFinality, Entity: "C0", Timeline: 1, EventIndex: 3, Message: "takes part in E5 while dead"}
	assert.Equal(t, "[2 death_finality] T1@3 C0: takes part in E5 while dead", v.String())

	v.EventIndex = EntityLevel
	assert.Equal(t, "[2 death_finality] T1 C0: takes part in E5 while dead", v.String())
}

func TestValidateAll_EmptyStore(t *testing.T) {
	assert.Empty(t, validate(t, world.NewStore()))
}

func TestValidateAll_StrictStoryHolds(t *testing.T) {
	s := setup(t,
		engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim, lee}},
		engine.WitnessMemory{Character: kim, Timeline: world.RootTimeline, Event: 0},
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.KillCharacter{Character: kim, Timeline: 1},
		engine.ChangeRelationship{A: kim, B: lee, Timeline: world.RootTimeline, State: world.Hostile},
		engine.GrantKnowledge{Character: lee, Timeline: 1, Flag: "door_code"},
		engine.GrantAbility{Character: kim, Ability: world.TimelinePerception},
		engine.PerceiveTimeline{Character: kim, Timeline: world.RootTimeline, Source: 5, Flag: "door_code"},
		engine.TradeMemory{Memory: 0, From: kim, To: lee, Timeline: world.RootTimeline, Mechanism: "memory kiss"},
		engine.ResurrectCharacter{Character: kim, Timeline: 1, Mechanism: "phoenix rite", ExtraCausal: true},
	)
	assert.Empty(t, validate(t, s))
}

func TestMemoryConsistency_WitnessMustParticipate(t *testing.T) {
	s := setup(t, engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}})

	// A memory built directly in the store, bypassing the engine.
	m, err := s.CreateMemory(0, lee, world.Witnessed{Witness: lee}, 0)
	require.NoError(t, err)

	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, MemoryConsistency, vs[0].Rule)
	assert.Equal(t, m.String(), vs[0].Entity)
	assert.Equal(t, world.RootTimeline, vs[0].Timeline)
	assert.Equal(t, 0, vs[0].EventIndex)
	assert.Contains(t, vs[0].Message, "did not take part")
}

func TestMemoryConsistency_Provenance(t *testing.T) {
	tests := []struct {
		name string
		prov world.Provenance
		msg  string
	}{
		{"missing", nil, "no provenance"},
		{"forged without forger", world.Forged{Forger: " "}, "without a forger"},
		{"installed without mechanism", world.Installed{}, "without a mechanism"},
		{"traded without mechanism", world.Traded{From: kim}, "without a mechanism"},
		{"traded from nobody", world.Traded{From: 7, Mechanism: "kiss"}, "unknown character C7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setup(t, engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}})
			_, err := s.CreateMemory(0, kim, tt.prov, 0)
			require.NoError(t, err)

			vs := validate(t, s)
			require.Len(t, vs, 1)
			assert.Equal(t, MemoryConsistency, vs[0].Rule)
			assert.Contains(t, vs[0].Message, tt.msg)
		})
	}
}

func TestMemoryConsistency_TransferOutsideOrigin(t *testing.T) {
	s := setupPermissive(t,
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}},
		engine.WitnessMemory{Character: kim, Timeline: world.RootTimeline, Event: 1},
		engine.TradeMemory{Memory: 0, From: kim, To: lee, Timeline: 1, Mechanism: "memory kiss"},
	)

	vs := validate(t, s)
	assert.Equal(t, []Violation{
		{
			Rule:       MemoryConsistency,
			Entity:     "M0",
			Timeline:   1,
			EventIndex: 1,
			Message:    "passed on in E3 before it was formed in T1",
		},
		{
			Rule:       CausalityJustification,
			Entity:     "E3",
			Timeline:   1,
			EventIndex: 1,
			Message:    "depends on E2 (origin) from another lineage without a marker",
		},
	}, vs)
}

func TestMemoryConsistency_HoldingIsPerTimeline(t *testing.T) {
	s := setupPermissive(t,
		engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}},
		engine.WitnessMemory{Character: kim, Timeline: world.RootTimeline, Event: 0},
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.TradeMemory{Memory: 0, From: kim, To: lee, Timeline: 1, Mechanism: "memory kiss"},
		// Lee only received the memory in T1.
		engine.TradeMemory{Memory: 0, From: lee, To: kim, Timeline: world.RootTimeline, Mechanism: "memory kiss"},
	)

	vs := validate(t, s)
	assert.Equal(t, []Violation{{
		Rule:       MemoryConsistency,
		Entity:     "M0",
		Timeline:   world.RootTimeline,
		EventIndex: 3,
		Message:    "passed on by C1 in E4, but held by C0",
	}}, vs)
}

func TestMemoryConsistency_WitnessNeedsTheEventInHistory(t *testing.T) {
	s := setup(t,
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.RecordScene{Timeline: 1, Participants: []world.CharacterID{kim}},
		engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}},
	)

	// E1 happened only in T1; the memory is formed at E2 in T0.
	_, err := s.CreateMemory(1, kim, world.Witnessed{Witness: kim}, 2)
	require.NoError(t, err)

	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, Violation{
		Rule:       MemoryConsistency,
		Entity:     "M0",
		Timeline:   1,
		EventIndex: 1,
		Message:    "witnessed in T0, where E1 had not happened",
	}, vs[0])
}

func TestMemoryConsistency_ForgedRecallMayCrossLineages(t *testing.T) {
	s := setup(t,
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.RecordScene{Timeline: 1, Participants: []world.CharacterID{kim}},
		engine.ForgeMemory{Character: kim, Timeline: world.RootTimeline, Event: 1, Forger: "the archivist"},
		engine.InstallMemory{Character: lee, Timeline: world.RootTimeline, Event: 1, Mechanism: "neural lace"},
		engine.TradeMemory{Memory: 0, From: kim, To: lee, Timeline: world.RootTimeline, Mechanism: "memory kiss"},
	)
	assert.Empty(t, validate(t, s))
}

func TestDeathFinality_DeadParticipant(t *testing.T) {
	s := setup(t, engine.KillCharacter{Character: kim, Timeline: world.RootTimeline})

	_, err := s.AppendEvent(world.EventSpec{
		Timeline:     world.RootTimeline,
		Participants: []world.CharacterID{kim, lee},
	})
	require.NoError(t, err)

	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, Violation{
		Rule:       DeathFinality,
		Entity:     "C0",
		Timeline:   world.RootTimeline,
		EventIndex: 1,
		Message:    "takes part in E1 while dead",
	}, vs[0])
}

func TestDeathFinality_ResurrectionInSameEvent(t *testing.T) {
	s := setup(t, engine.KillCharacter{Character: kim, Timeline: world.RootTimeline})

	_, err := s.AppendEvent(world.EventSpec{
		Timeline:     world.RootTimeline,
		Participants: []world.CharacterID{kim},
		Effects:      []world.Effect{world.Resurrection{Character: kim, Mechanism: "Living Gate"}},
	})
	require.NoError(t, err)
	assert.Empty(t, validate(t, s))
}

func TestDeathFinality_IsPerTimeline(t *testing.T) {
	s := setup(t,
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.KillCharacter{Character: kim, Timeline: 1},
	)

	// Kim is alive in T0, so a scene there is fine.
	_, err := s.AppendEvent(world.EventSpec{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}})
	require.NoError(t, err)
	assert.Empty(t, validate(t, s))

	// In T1 Kim is dead.
	_, err = s.AppendEvent(world.EventSpec{Timeline: 1, Participants: []world.CharacterID{kim}})
	require.NoError(t, err)
	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, DeathFinality, vs[0].Rule)
	assert.Equal(t, world.TimelineID(1), vs[0].Timeline)
	assert.Equal(t, 2, vs[0].EventIndex)
}

func TestDeathFinality_StateChanges(t *testing.T) {
	s := setup(t)
	_, err := s.AppendEvent(world.EventSpec{
		Timeline: world.RootTimeline,
		Effects:  []world.Effect{world.Resurrection{Character: kim}},
	})
	require.NoError(t, err)
	_, err = s.AppendEvent(world.EventSpec{
		Timeline: world.RootTimeline,
		Effects:  []world.Effect{world.Death{Character: lee}, world.Death{Character: lee}},
	})
	require.NoError(t, err)

	vs := validate(t, s)
	var msgs []string
	for _, v := range vs {
		assert.Equal(t, DeathFinality, v.Rule)
		msgs = append(msgs, v.Message)
	}
	assert.Equal(t, []string{
		"resurrected in E0 while alive",
		"resurrected in E0 without a mechanism",
		"dies in E1 while already dead",
	}, msgs)
}

func TestDeathFinality_AbsentParticipant(t *testing.T) {
	s := setup(t,
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.CreateCharacter{Name: "Ada", Timeline: 1},
	)
	_, err := s.AppendEvent(world.EventSpec{Timeline: world.RootTimeline, Participants: []world.CharacterID{2}})
	require.NoError(t, err)

	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, "C2", vs[0].Entity)
	assert.Contains(t, vs[0].Message, "does not exist in T0")
}

func TestCausality_MarkerNeedsMechanism(t *testing.T) {
	s := setup(t)
	_, err := s.AppendEvent(world.EventSpec{
		Timeline:     world.RootTimeline,
		Participants: []world.CharacterID{kim},
		Marker:       &world.Marker{Kind: world.EffectBeforeCause},
	})
	require.NoError(t, err)

	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, CausalityJustification, vs[0].Rule)
	assert.Equal(t, "marked effect_before_cause without a mechanism", vs[0].Message)
}

func TestCausality_CrossLineageCause(t *testing.T) {
	s := setup(t,
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.GrantKnowledge{Character: lee, Timeline: 1, Flag: "door_code"},
	)
	cause := world.EventID(1)
	spec := world.EventSpec{
		Timeline:     world.RootTimeline,
		Participants: []world.CharacterID{kim},
		Effects:      []world.Effect{world.KnowledgeGain{Character: kim, Flag: "door_code", Cause: &cause}},
	}

	t.Run("unjustified", func(t *testing.T) {
		s := s.Clone()
		id, err := s.AppendEvent(spec)
		require.NoError(t, err)
		require.NoError(t, s.AddKnowledge(kim, world.RootTimeline, "door_code", id))

		vs := validate(t, s)
		assert.Equal(t, []Rule{CausalityJustification, KnowledgePropagation}, rulesOf(vs))
		assert.Equal(t, "depends on E1 (cause) from another lineage without a marker", vs[0].Message)
	})

	t.Run("timeline perception", func(t *testing.T) {
		s := s.Clone()
		require.NoError(t, s.AddAbility(kim, world.TimelinePerception))
		id, err := s.AppendEvent(spec)
		require.NoError(t, err)
		require.NoError(t, s.AddKnowledge(kim, world.RootTimeline, "door_code", id))
		assert.Empty(t, validate(t, s))
	})

	t.Run("marker", func(t *testing.T) {
		s := s.Clone()
		marked := spec
		marked.Marker = &world.Marker{Kind: world.Superposition, Mechanism: "Living Gate"}
		id, err := s.AppendEvent(marked)
		require.NoError(t, err)
		require.NoError(t, s.AddKnowledge(kim, world.RootTimeline, "door_code", id))
		assert.Empty(t, validate(t, s))
	})

	t.Run("perception does not excuse a death", func(t *testing.T) {
		s := s.Clone()
		require.NoError(t, s.AddAbility(lee, world.TimelinePerception))
		_, err := s.AppendEvent(world.EventSpec{
			Timeline:     world.RootTimeline,
			Participants: []world.CharacterID{lee},
			Effects:      []world.Effect{world.Death{Character: lee, Cause: &cause}},
		})
		require.NoError(t, err)
		assert.Equal(t, []Rule{CausalityJustification}, rulesOf(validate(t, s)))
	})
}

func TestBranchConsistency_Divergence(t *testing.T) {
	s := setup(t, engine.BranchTimeline{Parent: world.RootTimeline})
	assert.Empty(t, validate(t, s), "a fresh branch has not diverged and need not have")

	s = setup(t,
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}},
		engine.RecordScene{Timeline: 1, Participants: []world.CharacterID{lee}},
	)
	assert.Empty(t, validate(t, s))
}

func TestBranchConsistency_Corruptions(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, s *world.Store)
		msg     string
	}{
		{
			name: "rewritten shared prefix",
			corrupt: func(t *testing.T, s *world.Store) {
				t1, err := s.Timeline(1)
				require.NoError(t, err)
				t1.History[0], t1.History[1] = t1.History[1], t1.History[0]
			},
			msg: "does not share the history of T0",
		},
		{
			name: "foreign event after the branch point",
			corrupt: func(t *testing.T, s *world.Store) {
				t1, err := s.Timeline(1)
				require.NoError(t, err)
				t1.History = append(t1.History, 2)
			},
			msg: "E2 belongs to T0",
		},
		{
			name: "unannounced branch",
			corrupt: func(t *testing.T, s *world.Store) {
				ev, err := s.Event(1)
				require.NoError(t, err)
				ev.Effects = nil
			},
			msg: "does not record the branch",
		},
		{
			name: "identical suffixes",
			corrupt: func(t *testing.T, s *world.Store) {
				t1, err := s.Timeline(1)
				require.NoError(t, err)
				ev, err := s.Event(2)
				require.NoError(t, err)
				ev.Timeline = 1
				t1.History = append(t1.History, 2)
			},
			msg: "has not diverged from T0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setup(t,
				engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}},
				engine.BranchTimeline{Parent: world.RootTimeline},
				engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{lee}},
			)
			tt.corrupt(t, s)

			vs, err := Checker{Only: []Rule{BranchConsistency}}.Check(s)
			require.NoError(t, err)
			require.NotEmpty(t, vs)
			var msgs []string
			for _, v := range vs {
				assert.Equal(t, BranchConsistency, v.Rule)
				msgs = append(msgs, v.Message)
			}
			assert.Contains(t, strings.Join(msgs, "\n"), tt.msg)
		})
	}
}

func TestRelationshipPersistence(t *testing.T) {
	s := setup(t, engine.ChangeRelationship{A: kim, B: lee, Timeline: world.RootTimeline, State: world.Allied})
	assert.Empty(t, validate(t, s))

	// Silent decay in one direction.
	require.NoError(t, s.SetRelationship(lee, world.RootTimeline, kim, world.Neutral))
	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, Violation{
		Rule:       RelationshipPersistence,
		Entity:     "C1",
		Timeline:   world.RootTimeline,
		EventIndex: 0,
		Message:    "regards C0 as neutral, history says allied",
	}, vs[0])
}

func TestRelationshipPersistence_UnbackedValue(t *testing.T) {
	s := setup(t)
	require.NoError(t, s.SetRelationship(kim, world.RootTimeline, lee, world.Hostile))

	vs := validate(t, s)
	require.Len(t, vs, 1)
	assert.Equal(t, EntityLevel, vs[0].EventIndex)
	assert.Equal(t, "regards C1 as hostile, history says neutral", vs[0].Message)
}

func TestRelationshipPersistence_BranchKeepsParentValues(t *testing.T) {
	s := setup(t,
		engine.ChangeRelationship{A: kim, B: lee, Timeline: world.RootTimeline, State: world.Trusting},
		engine.BranchTimeline{Parent: world.RootTimeline},
		engine.ChangeRelationship{A: kim, B: lee, Timeline: world.RootTimeline, State: world.Hostile},
	)
	assert.Empty(t, validate(t, s))

	k, err := s.Character(kim)
	require.NoError(t, err)
	assert.Equal(t, world.Hostile, k.Relationship(world.RootTimeline, lee))
	assert.Equal(t, world.Trusting, k.Relationship(1, lee))
}

func TestKnowledgePropagation(t *testing.T) {
	t.Run("unbacked flag", func(t *testing.T) {
		s := setup(t, engine.RecordScene{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}})
		require.NoError(t, s.AddKnowledge(kim, world.RootTimeline, "vault", 0))

		vs := validate(t, s)
		require.Len(t, vs, 1)
		assert.Equal(t, KnowledgePropagation, vs[0].Rule)
		assert.Equal(t, `knows "vault", but E0 does not grant it`, vs[0].Message)
	})

	t.Run("lost flag", func(t *testing.T) {
		s := setup(t, engine.GrantKnowledge{Character: kim, Timeline: world.RootTimeline, Flag: "vault"})
		k, err := s.Character(kim)
		require.NoError(t, err)
		delete(k.Knowledge[world.RootTimeline], "vault")

		vs := validate(t, s)
		require.Len(t, vs, 1)
		assert.Equal(t, `lost "vault" granted by E0`, vs[0].Message)
	})

	t.Run("grant outside history", func(t *testing.T) {
		s := setup(t,
			engine.BranchTimeline{Parent: world.RootTimeline},
			engine.GrantKnowledge{Character: kim, Timeline: 1, Flag: "vault"},
		)
		require.NoError(t, s.AddKnowledge(kim, world.RootTimeline, "vault", 1))

		vs := validate(t, s)
		require.Len(t, vs, 1)
		assert.Equal(t, EntityLevel, vs[0].EventIndex)
		assert.Equal(t, `knows "vault" from E1, outside the history of T0`, vs[0].Message)
	})

	t.Run("inherited by branch", func(t *testing.T) {
		s := setup(t,
			engine.GrantKnowledge{Character: kim, Timeline: world.RootTimeline, Flag: "vault"},
			engine.BranchTimeline{Parent: world.RootTimeline},
		)
		assert.Empty(t, validate(t, s))
		k, err := s.Character(kim)
		require.NoError(t, err)
		assert.True(t, k.Knows(1, "vault"))
	})
}

func TestChecker_FirstOnly(t *testing.T) {
	s := setup(t, engine.KillCharacter{Character: kim, Timeline: world.RootTimeline})
	_, err := s.AppendEvent(world.EventSpec{Timeline: world.RootTimeline, Participants: []world.CharacterID{kim}})
	require.NoError(t, err)
	require.NoError(t, s.SetRelationship(kim, world.RootTimeline, lee, world.Hostile))

	all := validate(t, s)
	assert.Equal(t, []Rule{DeathFinality, RelationshipPersistence}, rulesOf(all))

	first, err := Checker{FirstOnly: true}.Check(s)
	require.NoError(t, err)
	assert.Equal(t, all[:1], first)
}

func TestChecker_UnknownRule(t *testing.T) {
	_, err := Checker{Only: []Rule{"gravity"}}.Check(world.NewStore())
	assert.Error(t, err)
}

func TestValidateAll_Deterministic(t *testing.T) {
	actions, err := gen.Sequence(11, gen.Options{Steps: 80, Cast: 4, Chaos: 0.4})
	require.NoError(t, err)

	run := func() []Violation {
		e, err := engine.New(world.NewStore(), engine.WithPermissive(true))
		require.NoError(t, err)
		for _, a := range actions {
			_, err := e.Apply(a)
			require.NoError(t, err)
		}
		return validate(t, e.Store())
	}
	assert.Equal(t, run(), run())
}

// Strict engines never produce a store that breaks a rule.
func TestValidateAll_StrictSequencesHold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seed := rapid.Uint64().Draw(rt, "seed")
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		actions, err := gen.Sequence(seed, gen.Options{Steps: steps, Cast: 3})
		require.NoError(rt, err)

		e, err := engine.New(world.NewStore())
		require.NoError(rt, err)
		for i, a := range actions {
			_, err := e.Apply(a)
			require.NoError(rt, err, "action %d", i)

			vs, err := Checker{}.CheckIndexed(e.Store(), e.Index())
			require.NoError(rt, err)
			require.Empty(rt, vs, "after action %d: %s", i, engine.RecordOf(a))
		}
	})
}
