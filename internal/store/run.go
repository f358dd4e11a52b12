package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/strand/internal/engine"
	"github.com/roach88/strand/internal/harness"
	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/ir"
)

// Run is one persisted harness run.
type Run struct {
	ID      string
	BatchID string

	// Seq orders runs in the log. It is assigned by WriteRun.
	Seq int64

	Name string

	// Seed is the generator seed for fuzz runs, nil for scenarios.
	Seed *uint64

	Permissive bool
	Policy     harness.RejectionPolicy

	// FirstOnly is set when the run was checked for its first violation
	// only. Replay checks the same way.
	FirstOnly bool

	Actions []engine.Record

	// Results holds one Step.Result string per action.
	Results []string

	FailingIndex int
	Violations   []invariant.Violation
	Digest       string

	// ShrunkFrom is the length of the sequence this run was minimized
	// from, or 0.
	ShrunkFrom int
}

// Failed reports whether the run ended with violations.
func (r Run) Failed() bool { return r.FailingIndex >= 0 }

// NewBatchID returns a fresh batch identifier. UUIDv7 sorts by creation.
func NewBatchID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RunID is the content address of a run's inputs.
func RunID(actions []engine.Record, permissive bool, policy harness.RejectionPolicy, firstOnly bool) (string, error) {
	list := make(ir.List, len(actions))
	for i, r := range actions {
		v, err := r.Value()
		if err != nil {
			return "", fmt.Errorf("run id: action %d: %w", i, err)
		}
		list[i] = v
	}
	if policy == "" {
		policy = harness.SkipRejected
	}
	return ir.Digest(ir.DomainRun, ir.Object{
		"actions":    list,
		"first_only": ir.Bool(firstOnly),
		"permissive": ir.Bool(permissive),
		"policy":     ir.String(policy),
	})
}

// FromReport builds a Run from a harness report. The report's steps are
// the actions recorded; actions never submitted are not part of the run.
func FromReport(batchID, name string, rep *harness.Report, permissive bool, policy harness.RejectionPolicy) (Run, error) {
	if policy == "" {
		policy = harness.SkipRejected
	}
	run := Run{
		BatchID:      batchID,
		Name:         name,
		Permissive:   permissive,
		Policy:       policy,
		FirstOnly:    rep.FirstOnly,
		FailingIndex: rep.FailingIndex,
		Violations:   rep.Violations,
		Digest:       rep.Digest,
	}
	for _, s := range rep.Steps {
		run.Actions = append(run.Actions, s.Record)
		run.Results = append(run.Results, s.Result())
	}
	id, err := RunID(run.Actions, permissive, policy, run.FirstOnly)
	if err != nil {
		return Run{}, err
	}
	run.ID = id
	return run, nil
}

// marshalRecord encodes a record as canonical JSON.
func marshalRecord(r engine.Record) (string, error) {
	v, err := r.Value()
	if err != nil {
		return "", err
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s record: %w", r.Op, err)
	}
	return string(data), nil
}

func unmarshalRecord(data string) (engine.Record, error) {
	var r engine.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return engine.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}
