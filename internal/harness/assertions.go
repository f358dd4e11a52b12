package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/world"
)

// AssertionError is a failed expectation or assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// Result is the outcome of running a scenario.
type Result struct {
	Scenario string
	Pass     bool
	Report   *Report
	Errors   []error
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err error) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run executes a scenario and evaluates its expectations and assertions.
// The error is non-nil only when the run itself could not complete.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	actions, err := Decode(sc.Actions)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	opts = append(slices.Clone(opts),
		WithPermissive(sc.Permissive),
		WithPolicy(sc.Policy),
	)
	rep, err := Execute(ctx, actions, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	res := &Result{Scenario: sc.Name, Pass: true, Report: rep}
	checkExpectation(res, sc.Expect)
	for i, a := range sc.Assertions {
		if err := evaluate(rep.Store, a); err != nil {
			res.AddError(fmt.Errorf("assertions[%d]: %w", i, err))
		}
	}
	return res, nil
}

func checkExpectation(res *Result, exp Expectation) {
	rep := res.Report

	want := exp.expectedRules()
	var got []invariant.Rule
	for _, v := range rep.Violations {
		if !slices.Contains(got, v.Rule) {
			got = append(got, v.Rule)
		}
	}
	if !slices.Equal(want, got) {
		res.AddError(&AssertionError{
			Type:     "violations",
			Expected: ruleList(want),
			Actual:   ruleList(got) + violationDetail(rep.Violations),
		})
	}

	if exp.FailingIndex != nil && *exp.FailingIndex != rep.FailingIndex {
		res.AddError(&AssertionError{
			Type:     "failing_index",
			Expected: fmt.Sprint(*exp.FailingIndex),
			Actual:   fmt.Sprint(rep.FailingIndex),
		})
	}

	if rejected := rep.Rejected(); !slices.Equal(exp.Rejected, rejected) {
		var detail []string
		for _, i := range rejected {
			detail = append(detail, fmt.Sprintf("%d (%s)", i, rep.Steps[i].Rejection.Code))
		}
		res.AddError(&AssertionError{
			Type:     "rejected",
			Expected: fmt.Sprint(exp.Rejected),
			Actual:   "[" + strings.Join(detail, " ") + "]",
		})
	}
}

func ruleList(rules []invariant.Rule) string {
	if len(rules) == 0 {
		return "none"
	}
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func violationDetail(vs []invariant.Violation) string {
	if len(vs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, v := range vs {
		b.WriteString("\n    ")
		b.WriteString(v.String())
	}
	return b.String()
}

// evaluate checks one assertion against the final store.
func evaluate(s *world.Store, a Assertion) error {
	var (
		holds bool
		what  string
		err   error
	)
	switch a.Type {
	case AssertAlive, AssertDead:
		var alive bool
		alive, err = s.IsAlive(*a.Character, *a.Timeline)
		holds = alive == (a.Type == AssertAlive)
		what = fmt.Sprintf("%s %s in %s", a.Character, a.Type, a.Timeline)
	case AssertExists:
		holds = s.Exists(*a.Character, *a.Timeline)
		what = fmt.Sprintf("%s exists in %s", a.Character, a.Timeline)
	case AssertRelationship:
		var c *world.Character
		c, err = s.Character(*a.Character)
		if err == nil {
			got := c.Relationship(*a.Timeline, *a.Other)
			holds = got == *a.State
			what = fmt.Sprintf("%s regards %s as %s in %s (stored %s)", a.Character, a.Other, a.State, a.Timeline, got)
		}
	case AssertKnows:
		var c *world.Character
		c, err = s.Character(*a.Character)
		if err == nil {
			holds = c.Knows(*a.Timeline, a.Flag)
			what = fmt.Sprintf("%s knows %q in %s", a.Character, a.Flag, a.Timeline)
		}
	case AssertHoldsMemory:
		var t world.TimelineID
		_, err = s.Character(*a.Character)
		if err == nil {
			t, err = holdingTimeline(s, a)
		}
		if err == nil {
			holder, ok := s.HolderAt(*a.Memory, t)
			holds = ok && holder == *a.Character
			what = fmt.Sprintf("%s holds %s in %s", a.Character, a.Memory, t)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "a resolvable assertion", Actual: err.Error()}
	}
	if holds == a.Negate {
		expected := what
		if a.Negate {
			expected = "not " + what
		}
		return &AssertionError{Type: a.Type, Expected: expected, Actual: "the opposite"}
	}
	return nil
}

// holdingTimeline is the assertion's timeline, or the one the memory was
// formed in when none is given.
func holdingTimeline(s *world.Store, a Assertion) (world.TimelineID, error) {
	if a.Timeline != nil {
		return *a.Timeline, nil
	}
	m, err := s.Memory(*a.Memory)
	if err != nil {
		return 0, err
	}
	origin, err := s.Event(m.Origin)
	if err != nil {
		return 0, err
	}
	return origin.Timeline, nil
}
