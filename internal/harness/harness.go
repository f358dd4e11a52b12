package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/strand/internal/causal"
	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/shrink"
	"github.com/roach88/strand/internal/world"
)

// RejectionPolicy decides what a run does when the engine rejects an
// action.
type RejectionPolicy string

const (
	// SkipRejected records the rejection and moves on. The store is
	// unchanged, so nothing is revalidated.
	SkipRejected RejectionPolicy = "skip"

	// StopOnRejection ends the run at the first rejection.
	StopOnRejection RejectionPolicy = "stop"
)

// Valid reports whether p is a known policy. The empty policy means skip.
func (p RejectionPolicy) Valid() bool {
	return p == "" || p == SkipRejected || p == StopOnRejection
}

// Checker validates a store. invariant.Checker satisfies it.
type Checker interface {
	CheckIndexed(s *world.Store, ix *causal.Index) ([]invariant.Violation, error)
}

type options struct {
	logger     *slog.Logger
	permissive bool
	policy     RejectionPolicy
	checker    Checker
}

// Option configures Execute and Minimize.
type Option func(*options)

// WithLogger sets the logger handed to the engine. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPermissive runs the engine without narrative precondition checks.
func WithPermissive(on bool) Option {
	return func(o *options) { o.permissive = on }
}

// WithPolicy sets the rejection policy.
func WithPolicy(p RejectionPolicy) Option {
	return func(o *options) {
		if p != "" {
			o.policy = p
		}
	}
}

// WithChecker replaces the checker that runs after every action.
func WithChecker(c Checker) Option {
	return func(o *options) {
		if c != nil {
			o.checker = c
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		policy: SkipRejected,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Step is one submitted action and what became of it.
type Step struct {
	Index  int           `json:"index"`
	Record engine.Record `json:"action"`

	// Exactly one of Outcome and Rejection is set.
	Outcome   *engine.Outcome   `json:"-"`
	Rejection *engine.Rejection `json:"-"`

	action engine.Action
}

// Result is a short rendering of what the step produced: "E3 +T1",
// "+C0", or "rejected NOT_ALIVE: C1 is dead in T0".
func (s Step) Result() string {
	if s.Rejection != nil {
		return fmt.Sprintf("rejected %s: %s", s.Rejection.Code, s.Rejection.Message)
	}
	if s.Outcome != nil {
		return s.Outcome.String()
	}
	return "?"
}

// Report is the result of one run.
type Report struct {
	Steps []Step `json:"steps"`

	// FailingIndex is the index of the action after which the checker
	// first reported violations, or -1.
	FailingIndex int `json:"failing_index"`

	Violations []invariant.Violation `json:"violations"`

	// Stopped is set when StopOnRejection ended the run early.
	Stopped bool `json:"stopped,omitempty"`

	// FirstOnly is set when the checker stopped at the first violation.
	FirstOnly bool `json:"first_only,omitempty"`

	// Digest is the store digest at the end of the run.
	Digest string `json:"digest"`

	Store *world.Store `json:"-"`
}

// Failed reports whether the run found violations.
func (r *Report) Failed() bool { return len(r.Violations) > 0 }

// Prefix returns the actions that were submitted, up to and including the
// failing one.
func (r *Report) Prefix() []engine.Action {
	out := make([]engine.Action, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.action
	}
	return out
}

// Rejected returns the indexes of rejected steps.
func (r *Report) Rejected() []int {
	var out []int
	for _, s := range r.Steps {
		if s.Rejection != nil {
			out = append(out, s.Index)
		}
	}
	return out
}

// Execute applies actions in order to a fresh store, validating after each
// applied action, and stops at the first non-empty result.
//
// Rejections and violations are reported in the Report. The error is
// non-nil only for internal failures and cancellation; the run's store is
// then abandoned.
func Execute(ctx context.Context, actions []engine.Action, opts ...Option) (*Report, error) {
	o := newOptions(opts)
	if !o.policy.Valid() {
		return nil, fmt.Errorf("unknown rejection policy %q", o.policy)
	}
	checker := o.checker
	if checker == nil {
		checker = invariant.Checker{}
	}

	e, err := engine.New(world.NewStore(),
		engine.WithLogger(o.logger),
		engine.WithPermissive(o.permissive),
	)
	if err != nil {
		return nil, err
	}

	rep := &Report{FailingIndex: -1}
	if c, ok := checker.(invariant.Checker); ok {
		rep.FirstOnly = c.FirstOnly
	}
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step := Step{Index: i, Record: engine.RecordOf(a), action: a}
		out, err := e.Apply(a)
		if err != nil {
			var rej *engine.Rejection
			if !errors.As(err, &rej) {
				return nil, fmt.Errorf("action %d (%s): %w", i, step.Record, err)
			}
			step.Rejection = rej
		} else {
			step.Outcome = &out
		}
		rep.Steps = append(rep.Steps, step)

		if step.Rejection != nil {
			if o.policy == StopOnRejection {
				rep.Stopped = true
				break
			}
			continue
		}

		vs, err := checker.CheckIndexed(e.Store(), e.Index())
		if err != nil {
			return nil, fmt.Errorf("validate after action %d: %w", i, err)
		}
		if len(vs) > 0 {
			rep.FailingIndex = i
			rep.Violations = vs
			o.logger.Debug("violation found",
				"index", i,
				"rule", vs[0].Rule,
				"count", len(vs),
			)
			break
		}
	}

	digest, err := e.Store().Digest()
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}
	rep.Digest = digest
	rep.Store = e.Store()
	return rep, nil
}

// Decode turns records into actions.
func Decode(records []engine.Record) ([]engine.Action, error) {
	out := make([]engine.Action, len(records))
	for i, r := range records {
		a, err := r.Action()
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// Records encodes actions.
func Records(actions []engine.Action) []engine.Record {
	out := make([]engine.Record, len(actions))
	for i, a := range actions {
		out[i] = engine.RecordOf(a)
	}
	return out
}

// Minimize shrinks a failing sequence. A candidate counts as failing when
// its first violation breaks the same rule as the first violation of the
// full sequence. The options are those the failure was found with.
func Minimize(ctx context.Context, actions []engine.Action, opts ...Option) ([]engine.Action, shrink.Stats, error) {
	// Only the first violation matters while shrinking.
	opts = append([]Option{WithChecker(invariant.Checker{FirstOnly: true})}, opts...)

	rep, err := Execute(ctx, actions, opts...)
	if err != nil {
		return nil, shrink.Stats{}, err
	}
	if !rep.Failed() {
		return nil, shrink.Stats{}, fmt.Errorf("sequence of %d actions does not fail", len(actions))
	}
	target := rep.Violations[0].Rule

	// Actions after the failing one cannot matter.
	prefix := rep.Prefix()
	return shrink.Minimize(ctx, prefix, func(ctx context.Context, c []engine.Action) (bool, error) {
		rep, err := Execute(ctx, c, opts...)
		if err != nil {
			return false, err
		}
		return rep.Failed() && rep.Violations[0].Rule == target, nil
	})
}
