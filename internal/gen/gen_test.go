package gen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/world"
)

func records(actions []engine.Action) []engine.Record {
	out := make([]engine.Record, len(actions))
	for i, a := range actions {
		out[i] = engine.RecordOf(a)
	}
	return out
}

func TestSequence_Deterministic(t *testing.T) {
	opts := Options{Steps: 60, Cast: 3, Chaos: 0.2}

	a, err := Sequence(7, opts)
	require.NoError(t, err)
	b, err := Sequence(7, opts)
	require.NoError(t, err)
	c, err := Sequence(8, opts)
	require.NoError(t, err)

	assert.Equal(t, records(a), records(b))
	assert.NotEqual(t, records(a), records(c))
}

func TestSequence_LengthAndCast(t *testing.T) {
	actions, err := Sequence(1, Options{Steps: 25, Cast: 4})
	require.NoError(t, err)
	require.Len(t, actions, 25)

	for i := range 4 {
		cc, ok := actions[i].(engine.CreateCharacter)
		require.True(t, ok, "action %d is %T", i, actions[i])
		assert.Equal(t, world.RootTimeline, cc.Timeline)
		assert.Equal(t, names[i], cc.Name)
	}
}

func TestSequence_StrictEngineAcceptsEverything(t *testing.T) {
	for seed := range uint64(20) {
		actions, err := Sequence(seed, Options{Steps: 80, Cast: 4})
		require.NoError(t, err)

		e, err := engine.New(world.NewStore())
		require.NoError(t, err)
		for i, a := range actions {
			_, err := e.Apply(a)
			require.NoError(t, err, "seed %d action %d: %s", seed, i, engine.RecordOf(a))
		}
	}
}

func TestSequence_ExercisesManyOps(t *testing.T) {
	seen := make(map[engine.Op]bool)
	for seed := range uint64(10) {
		actions, err := Sequence(seed, Options{Steps: 120, Cast: 5})
		require.NoError(t, err)
		for _, a := range actions {
			seen[a.Op()] = true
		}
	}
	for _, op := range []engine.Op{
		engine.OpCreateCharacter, engine.OpKillCharacter, engine.OpBranchTimeline,
		engine.OpChangeRelationship, engine.OpGrantKnowledge, engine.OpRecordScene,
		engine.OpViolateCausality, engine.OpGrantAbility,
	} {
		assert.True(t, seen[op], "%s never generated", op)
	}
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(1, Options{Steps: -1})
	assert.Error(t, err)
	_, err = New(1, Options{Steps: 1, Chaos: 1.5})
	assert.Error(t, err)
}
