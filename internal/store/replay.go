package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/strand/internal/harness"
	"github.com/roach88/strand/internal/invariant"
)

// ReplayMismatch reports a replay that did not reproduce the stored run.
type ReplayMismatch struct {
	RunID string
	Field string
	Want  string
	Got   string
}

func (e *ReplayMismatch) Error() string {
	return fmt.Sprintf("replay of %s diverged: %s: stored %s, replayed %s", e.RunID, e.Field, e.Want, e.Got)
}

// Replay re-executes a stored run with its recorded settings and checks
// that it ends the same way: the same result for every action, the same
// failing index and violations, and the same digest. The replayed report
// is returned either way.
func Replay(ctx context.Context, run Run, logger *slog.Logger) (*harness.Report, error) {
	actions, err := harness.Decode(run.Actions)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", run.ID, err)
	}
	rep, err := harness.Execute(ctx, actions,
		harness.WithLogger(logger),
		harness.WithPermissive(run.Permissive),
		harness.WithPolicy(run.Policy),
		harness.WithChecker(invariant.Checker{FirstOnly: run.FirstOnly}),
	)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", run.ID, err)
	}

	mismatch := func(field string, want, got any) (*harness.Report, error) {
		return rep, &ReplayMismatch{RunID: run.ID, Field: field, Want: fmt.Sprint(want), Got: fmt.Sprint(got)}
	}
	if len(rep.Steps) != len(run.Actions) {
		return mismatch("steps", len(run.Actions), len(rep.Steps))
	}
	for i, s := range rep.Steps {
		if got := s.Result(); got != run.Results[i] {
			return mismatch(fmt.Sprintf("result of action %d", i), run.Results[i], got)
		}
	}
	if rep.FailingIndex != run.FailingIndex {
		return mismatch("failing index", run.FailingIndex, rep.FailingIndex)
	}
	if !slices.Equal(rep.Violations, run.Violations) {
		return mismatch("violations", describe(run.Violations), describe(rep.Violations))
	}
	if rep.Digest != run.Digest {
		return mismatch("digest", run.Digest, rep.Digest)
	}
	return rep, nil
}

func describe(vs []invariant.Violation) string {
	if len(vs) == 0 {
		return "none"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}
