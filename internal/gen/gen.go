// Package gen produces seeded random action sequences.
//
// The generator keeps a shadow engine in step with what it has emitted and
// draws each action from that state, so most actions are accepted by a
// strict engine. A chaos rate mixes in actions that skip the narrative
// checks; those are only meaningful against a permissive engine.
package gen

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/world"
)

// Options controls generation.
type Options struct {
	// Steps is the number of actions to emit.
	Steps int

	// Cast is the number of characters created in the root timeline
	// before anything else. They count toward Steps.
	Cast int

	// Chaos is the probability in [0, 1] that an action skips narrative
	// checks.
	Chaos float64
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{Steps: 40, Cast: 4}
}

// maxTries bounds redraws when a candidate is rejected.
const maxTries = 32

var (
	names      = []string{"Ada", "Bram", "Cleo", "Dov", "Esme", "Fenn", "Gil", "Hana", "Ines", "Jory", "Kit", "Lune", "Mara"}
	mechanisms = []string{"Living Gate", "time weapon", "memory kiss", "bootstrap loop", "phoenix rite"}
	forgers    = []string{"the archivist", "a dream thief", "the loom"}
	flags      = []string{"door_code", "true_name", "vault_location", "betrayal", "prophecy"}
	kinds      = []world.ViolationKind{world.EffectBeforeCause, world.RetroactiveChange, world.Superposition}
)

// Generator draws actions from a seeded source.
type Generator struct {
	rng    *rand.Rand
	opts   Options
	shadow *engine.Engine
}

// New returns a generator for seed. The same seed and options always
// produce the same sequence.
func New(seed uint64, opts Options) (*Generator, error) {
	if opts.Steps < 0 || opts.Cast < 0 {
		return nil, fmt.Errorf("gen: negative steps or cast")
	}
	if opts.Chaos < 0 || opts.Chaos > 1 {
		return nil, fmt.Errorf("gen: chaos %v outside [0, 1]", opts.Chaos)
	}
	// The shadow is permissive so chaos actions apply; ordinary actions
	// are vetted with Check first.
	shadow, err := engine.New(world.NewStore(), engine.WithPermissive(true))
	if err != nil {
		return nil, err
	}
	return &Generator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		opts:   opts,
		shadow: shadow,
	}, nil
}

// Sequence is shorthand for New followed by All.
func Sequence(seed uint64, opts Options) ([]engine.Action, error) {
	g, err := New(seed, opts)
	if err != nil {
		return nil, err
	}
	return g.All()
}

// All emits opts.Steps actions.
func (g *Generator) All() ([]engine.Action, error) {
	out := make([]engine.Action, 0, g.opts.Steps)
	for i := range g.opts.Steps {
		var (
			a   engine.Action
			err error
		)
		if i < g.opts.Cast {
			a, err = g.emit(engine.CreateCharacter{Name: g.name(), Timeline: world.RootTimeline})
		} else {
			a, err = g.Next()
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Next draws one action and advances the shadow state.
func (g *Generator) Next() (engine.Action, error) {
	chaos := g.rng.Float64() < g.opts.Chaos
	for range maxTries {
		var a engine.Action
		if chaos {
			a = g.drawChaos()
		} else {
			a = g.draw()
			if a == nil || g.shadow.Check(a) != nil {
				continue
			}
		}
		if a == nil {
			continue
		}
		out, err := g.emit(a)
		if engine.IsRejection(err) {
			continue
		}
		return out, err
	}
	// A character can always be created.
	return g.emit(engine.CreateCharacter{Name: g.name(), Timeline: g.timeline()})
}

func (g *Generator) emit(a engine.Action) (engine.Action, error) {
	if _, err := g.shadow.Apply(a); err != nil {
		return nil, err
	}
	return a, nil
}

func pick[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}

func (g *Generator) store() *world.Store { return g.shadow.Store() }

func (g *Generator) name() string {
	n := len(g.store().Characters())
	if n < len(names) {
		return names[n]
	}
	return fmt.Sprintf("%s %d", names[n%len(names)], n/len(names)+1)
}

func (g *Generator) timeline() world.TimelineID {
	return world.TimelineID(g.rng.IntN(len(g.store().Timelines())))
}

// living returns the characters alive at the end of t, in id order.
func (g *Generator) living(t world.TimelineID) []world.CharacterID {
	var out []world.CharacterID
	for _, c := range g.store().Characters() {
		if ok, err := g.store().IsAlive(c.ID, t); err == nil && ok {
			out = append(out, c.ID)
		}
	}
	return out
}

func (g *Generator) dead(t world.TimelineID) []world.CharacterID {
	var out []world.CharacterID
	for _, c := range g.store().Characters() {
		if !g.store().Exists(c.ID, t) {
			continue
		}
		if ok, err := g.store().IsAlive(c.ID, t); err == nil && !ok {
			out = append(out, c.ID)
		}
	}
	return out
}

func (g *Generator) draw() engine.Action {
	s := g.store()
	t := g.timeline()
	living := g.living(t)

	switch g.rng.IntN(14) {
	case 0:
		return engine.CreateCharacter{Name: g.name(), Timeline: t}
	case 1:
		if len(living) == 0 {
			return nil
		}
		return engine.KillCharacter{Character: pick(g.rng, living), Timeline: t}
	case 2:
		dead := g.dead(t)
		if len(dead) == 0 {
			return nil
		}
		return engine.ResurrectCharacter{
			Character:   pick(g.rng, dead),
			Timeline:    t,
			Mechanism:   pick(g.rng, mechanisms),
			ExtraCausal: g.rng.IntN(2) == 0,
		}
	case 3:
		if len(living) < 2 {
			return nil
		}
		type held struct {
			memory world.MemoryID
			holder world.CharacterID
		}
		var candidates []held
		for _, m := range s.Memories() {
			if h, ok := s.HolderAt(m.ID, t); ok {
				candidates = append(candidates, held{memory: m.ID, holder: h})
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		m := pick(g.rng, candidates)
		return engine.TradeMemory{
			Memory:    m.memory,
			From:      m.holder,
			To:        pick(g.rng, living),
			Timeline:  t,
			Mechanism: pick(g.rng, mechanisms),
		}
	case 4:
		// Branching is kept rarer than other actions.
		if len(s.Timelines()) > 1+len(s.Events())/4 {
			return nil
		}
		return engine.BranchTimeline{Parent: t}
	case 5:
		if len(living) == 0 {
			return nil
		}
		return g.drawViolation(t, living)
	case 6:
		if len(living) == 0 {
			return nil
		}
		return engine.GrantKnowledge{Character: pick(g.rng, living), Timeline: t, Flag: pick(g.rng, flags)}
	case 7, 8:
		if len(living) < 2 {
			return nil
		}
		a := pick(g.rng, living)
		b := pick(g.rng, living)
		return engine.ChangeRelationship{A: a, B: b, Timeline: t, State: pick(g.rng, world.Relationships)}
	case 9:
		if len(living) == 0 {
			return nil
		}
		n := 1 + g.rng.IntN(min(3, len(living)))
		perm := g.rng.Perm(len(living))[:n]
		slices.Sort(perm)
		participants := make([]world.CharacterID, n)
		for i, j := range perm {
			participants[i] = living[j]
		}
		return engine.RecordScene{Timeline: t, Participants: participants, Description: "scene"}
	case 10:
		if len(living) == 0 {
			return nil
		}
		c := pick(g.rng, living)
		tl, _ := s.Timeline(t)
		var seen []world.EventID
		for _, id := range tl.History {
			if ev, err := s.Event(id); err == nil && ev.HasParticipant(c) {
				seen = append(seen, id)
			}
		}
		if len(seen) == 0 {
			return nil
		}
		return engine.WitnessMemory{Character: c, Timeline: t, Event: pick(g.rng, seen)}
	case 11:
		if len(living) == 0 || len(s.Events()) == 0 {
			return nil
		}
		c := pick(g.rng, living)
		ev := pick(g.rng, s.Events()).ID
		if g.rng.IntN(2) == 0 {
			return engine.ForgeMemory{Character: c, Timeline: t, Event: ev, Forger: pick(g.rng, forgers)}
		}
		return engine.InstallMemory{Character: c, Timeline: t, Event: ev, Mechanism: pick(g.rng, mechanisms)}
	case 12:
		if len(s.Characters()) == 0 {
			return nil
		}
		return engine.GrantAbility{
			Character: pick(g.rng, s.Characters()).ID,
			Ability:   pick(g.rng, world.Abilities),
		}
	default:
		return g.drawPerception(t, living)
	}
}

func (g *Generator) drawViolation(t world.TimelineID, living []world.CharacterID) engine.Action {
	a := engine.ViolateCausality{
		Timeline:  t,
		Kind:      pick(g.rng, kinds),
		Mechanism: pick(g.rng, mechanisms),
	}
	c := pick(g.rng, living)
	switch g.rng.IntN(3) {
	case 0:
		a.Effects = []world.Effect{world.Death{Character: c}}
	case 1:
		other := pick(g.rng, living)
		a.Effects = []world.Effect{world.RelationshipChange{A: c, B: other, State: pick(g.rng, world.Relationships)}}
	default:
		kg := world.KnowledgeGain{Character: c, Flag: pick(g.rng, flags)}
		if events := g.store().Events(); len(events) > 0 {
			cause := pick(g.rng, events).ID
			kg.Cause = &cause
		}
		a.Effects = []world.Effect{kg}
	}
	return a
}

func (g *Generator) drawPerception(t world.TimelineID, living []world.CharacterID) engine.Action {
	s := g.store()
	var seers []world.CharacterID
	for _, c := range living {
		if ch, err := s.Character(c); err == nil && ch.HasAbility(world.TimelinePerception) {
			seers = append(seers, c)
		}
	}
	if len(seers) == 0 {
		return nil
	}
	type grant struct {
		source world.EventID
		flag   string
	}
	var grants []grant
	for _, ev := range s.Events() {
		if s.InHistory(t, ev.ID) {
			continue
		}
		for _, eff := range ev.Effects {
			if kg, ok := eff.(world.KnowledgeGain); ok {
				grants = append(grants, grant{source: ev.ID, flag: kg.Flag})
			}
		}
	}
	if len(grants) == 0 {
		return nil
	}
	gr := pick(g.rng, grants)
	return engine.PerceiveTimeline{Character: pick(g.rng, seers), Timeline: t, Source: gr.source, Flag: gr.flag}
}

// drawChaos draws an action with in-range identifiers and no regard for
// narrative preconditions.
func (g *Generator) drawChaos() engine.Action {
	s := g.store()
	if len(s.Characters()) == 0 {
		return nil
	}
	t := g.timeline()
	c := pick(g.rng, s.Characters()).ID
	other := pick(g.rng, s.Characters()).ID

	switch g.rng.IntN(6) {
	case 0:
		return engine.KillCharacter{Character: c, Timeline: t}
	case 1:
		return engine.ResurrectCharacter{Character: c, Timeline: t, Mechanism: pick(g.rng, append([]string{""}, mechanisms...))}
	case 2:
		return engine.RecordScene{Timeline: t, Participants: []world.CharacterID{c, other}, Description: "chaos"}
	case 3:
		return engine.ViolateCausality{
			Timeline: t,
			Kind:     pick(g.rng, kinds),
			Effects:  []world.Effect{world.Resurrection{Character: c}},
		}
	case 4:
		if len(s.Events()) == 0 {
			return nil
		}
		return engine.WitnessMemory{Character: c, Timeline: t, Event: pick(g.rng, s.Events()).ID}
	default:
		return engine.GrantKnowledge{Character: c, Timeline: t, Flag: pick(g.rng, flags)}
	}
}
