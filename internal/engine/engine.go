package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/strand/internal/causal"
	"github.com/roach88/strand/internal/world"
)

// Engine applies actions to a store one at a time and keeps the causal
// index in step with the event log.
//
// An Engine is not safe for concurrent use. Callers that need isolation
// clone the store and run a separate engine over the clone.
type Engine struct {
	store      *world.Store
	index      *causal.Index
	clock      *Clock
	logger     *slog.Logger
	permissive bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPermissive skips narrative precondition checks. Identifiers are
// still resolved. Permissive engines exist to drive the store into
// states the invariant checker must catch.
func WithPermissive(on bool) Option {
	return func(e *Engine) {
		e.permissive = on
	}
}

// WithClock sets the clock, for example to resume numbering on replay.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// New returns an engine over s. The causal index is built from the
// events already in s.
func New(s *world.Store, opts ...Option) (*Engine, error) {
	ix, err := causal.Build(s)
	if err != nil {
		return nil, fmt.Errorf("build causal index: %w", err)
	}
	e := &Engine{
		store:  s,
		index:  ix,
		clock:  NewClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store returns the store the engine mutates.
func (e *Engine) Store() *world.Store { return e.store }

// Index returns the causal index.
func (e *Engine) Index() *causal.Index { return e.index }

// Clock returns the engine clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Permissive reports whether precondition checks are skipped.
func (e *Engine) Permissive() bool { return e.permissive }

// Apply runs a against the store.
//
// A *Rejection means the action was refused and nothing changed. An
// *InternalError means the store may be inconsistent and the engine
// must not be used further.
func (e *Engine) Apply(a Action) (Outcome, error) {
	if a == nil {
		return Outcome{}, &Rejection{Code: RejectInvalidArgument, Message: "nil action"}
	}
	seq := e.clock.Next()
	op := a.Op()

	if err := a.resolve(e.store); err != nil {
		return Outcome{}, e.refuse(seq, op, err)
	}
	if !e.permissive {
		if err := a.check(e.store); err != nil {
			return Outcome{}, e.refuse(seq, op, err)
		}
	}

	before := e.store.NextEventID()
	out, err := a.apply(e.store)
	if err != nil {
		return Outcome{}, e.fail(seq, op, err)
	}
	for id := before; id < e.store.NextEventID(); id++ {
		if err := e.index.Observe(e.store, id); err != nil {
			return Outcome{}, e.fail(seq, op, err)
		}
	}

	out.Seq = seq
	out.Op = op
	e.logger.Debug("action applied",
		"seq", seq,
		"op", op,
		"outcome", out.String(),
	)
	return out, nil
}

// Check reports whether a would be accepted with all preconditions
// enforced, permissive or not. Nothing is applied.
func (e *Engine) Check(a Action) error {
	if a == nil {
		return &Rejection{Code: RejectInvalidArgument, Message: "nil action"}
	}
	if err := a.resolve(e.store); err != nil {
		return err
	}
	return a.check(e.store)
}

func (e *Engine) refuse(seq int64, op Op, err error) error {
	if IsRejection(err) {
		e.logger.Debug("action rejected",
			"seq", seq,
			"op", op,
			"code", RejectionCodeOf(err),
			"error", err,
		)
		return err
	}
	return e.fail(seq, op, err)
}

func (e *Engine) fail(seq int64, op Op, err error) error {
	e.logger.Error("internal error",
		"seq", seq,
		"op", op,
		"error", err,
	)
	if IsInternalError(err) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// Step applies a to a clone of s and returns the clone. s is never
// modified, whatever the outcome.
func Step(s *world.Store, a Action, opts ...Option) (*world.Store, Outcome, error) {
	next := s.Clone()
	e, err := New(next, opts...)
	if err != nil {
		return nil, Outcome{}, err
	}
	out, err := e.Apply(a)
	if err != nil {
		return nil, Outcome{}, err
	}
	return next, out, nil
}
