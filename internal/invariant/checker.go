package invariant

import (
	"fmt"
	"slices"

	"github.com/roach88/strand/internal/causal"
	"github.com/roach88/strand/internal/world"
)

// Checker evaluates rules over a store.
type Checker struct {
	// FirstOnly stops at the first violation of the lowest-numbered
	// failing rule. Shrinking uses it for speed.
	FirstOnly bool

	// Only restricts evaluation to the listed rules. Empty means all.
	Only []Rule
}

// Check builds the causal index for s and evaluates the rules.
func (c Checker) Check(s *world.Store) ([]Violation, error) {
	ix, err := causal.Build(s)
	if err != nil {
		return nil, fmt.Errorf("build causal index: %w", err)
	}
	return c.CheckIndexed(s, ix)
}

// CheckIndexed evaluates the rules against an index the caller keeps in
// step with s. A causal cycle is an error, not a violation: no sequence of
// appends can produce one.
func (c Checker) CheckIndexed(s *world.Store, ix *causal.Index) ([]Violation, error) {
	for _, r := range c.Only {
		if !r.Valid() {
			return nil, fmt.Errorf("unknown rule %q", r)
		}
	}
	if err := ix.CheckAcyclic(); err != nil {
		return nil, err
	}

	var out []Violation
	for _, r := range Rules {
		if len(c.Only) > 0 && !slices.Contains(c.Only, r) {
			continue
		}
		vs := funcs[r](s, ix)
		sortViolations(vs)
		if c.FirstOnly && len(vs) > 0 {
			return vs[:1], nil
		}
		out = append(out, vs...)
	}
	return out, nil
}

// ValidateAll evaluates every rule and returns all violations ordered by
// rule then event index.
func ValidateAll(s *world.Store) ([]Violation, error) {
	return Checker{}.Check(s)
}
