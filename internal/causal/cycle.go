package causal

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/strand/internal/world"
)

// CycleError reports a dependency cycle. Dependencies always point at
// events that already existed, so a cycle means the store or the index
// is corrupt.
type CycleError struct {
	Cycles [][]world.EventID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		ids := make([]string, len(c))
		for j, id := range c {
			ids[j] = id.String()
		}
		parts[i] = strings.Join(ids, " -> ")
	}
	return fmt.Sprintf("causal cycle: %s", strings.Join(parts, "; "))
}

// CheckAcyclic returns a *CycleError when the dependency graph has a cycle.
func (ix *Index) CheckAcyclic() error {
	if cycles := ix.Cycles(); len(cycles) > 0 {
		return &CycleError{Cycles: cycles}
	}
	return nil
}

// Cycles returns every strongly connected component of the dependency
// graph that forms a cycle, each rotated to start at its smallest event.
// Components are ordered by that first event.
func (ix *Index) Cycles() [][]world.EventID {
	var cycles [][]world.EventID
	for _, scc := range ix.tarjan() {
		if len(scc) == 1 && !ix.selfLoop(scc[0]) {
			continue
		}
		slices.Sort(scc)
		cycles = append(cycles, scc)
	}
	slices.SortFunc(cycles, func(a, b []world.EventID) int {
		return int(a[0]) - int(b[0])
	})
	return cycles
}

func (ix *Index) selfLoop(id world.EventID) bool {
	for _, d := range ix.Deps(id) {
		if d.Event == id {
			return true
		}
	}
	return false
}

// tarjan finds strongly connected components over edges event -> dep.
// Nodes are visited in identifier order so the result is deterministic.
func (ix *Index) tarjan() [][]world.EventID {
	var (
		counter int
		stack   []world.EventID
		index   = make(map[world.EventID]int)
		lowlink = make(map[world.EventID]int)
		onStack = make(map[world.EventID]bool)
		sccs    [][]world.EventID
	)

	var connect func(world.EventID)
	connect = func(v world.EventID) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, d := range ix.Deps(v) {
			w := d.Event
			if _, seen := index[w]; !seen {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], index[w])
			}
		}

		if lowlink[v] == index[v] {
			var scc []world.EventID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for i := range ix.deps {
		v := world.EventID(i)
		if _, seen := index[v]; !seen {
			connect(v)
		}
	}
	return sccs
}
