package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/strand/internal/harness"
	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/world"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

// Filter narrows ListRuns. The zero value lists everything.
type Filter struct {
	BatchID    string
	FailedOnly bool
	Limit      int
}

const runColumns = `id, batch_id, seq, name, seed, permissive, policy, first_only, failing_index, digest, shrunk_from`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run    Run
		policy string
		seed   sql.NullInt64
		shrunk sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.BatchID, &run.Seq, &run.Name, &seed, &run.Permissive,
		&policy, &run.FirstOnly, &run.FailingIndex, &run.Digest, &shrunk)
	if err != nil {
		return Run{}, err
	}
	run.Policy = harness.RejectionPolicy(policy)
	if seed.Valid {
		v := uint64(seed.Int64)
		run.Seed = &v
	}
	if shrunk.Valid {
		run.ShrunkFrom = int(shrunk.Int64)
	}
	return run, nil
}

// ListRuns returns run headers ordered by seq. Actions and violations are
// not loaded; use ReadRun for those.
func (s *Store) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`
	var args []any
	if f.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.FailedOnly {
		query += ` AND failing_index >= 0`
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun loads a run by ID or unique ID prefix.
func (s *Store) ReadRun(ctx context.Context, idOrPrefix string) (Run, error) {
	if idOrPrefix == "" {
		return Run{}, fmt.Errorf("read run: empty id")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE substr(id, 1, length(?)) = ?
		ORDER BY seq ASC
		LIMIT 2
	`, idOrPrefix, idOrPrefix)
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	var found []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return Run{}, fmt.Errorf("read run: %w", err)
		}
		found = append(found, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case 2:
		return Run{}, fmt.Errorf("read run: prefix %q is ambiguous", idOrPrefix)
	}

	run := found[0]
	if err := s.readActions(ctx, &run); err != nil {
		return Run{}, err
	}
	if err := s.readViolations(ctx, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *Store) readActions(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, result FROM run_actions WHERE run_id = ? ORDER BY idx ASC
	`, run.ID)
	if err != nil {
		return fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action, result string
		if err := rows.Scan(&action, &result); err != nil {
			return fmt.Errorf("scan action: %w", err)
		}
		r, err := unmarshalRecord(action)
		if err != nil {
			return fmt.Errorf("run %s: %w", run.ID, err)
		}
		run.Actions = append(run.Actions, r)
		run.Results = append(run.Results, result)
	}
	return rows.Err()
}

func (s *Store) readViolations(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule, entity, timeline, event_index, message
		FROM run_violations WHERE run_id = ? ORDER BY idx ASC
	`, run.ID)
	if err != nil {
		return fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v        invariant.Violation
			rule     string
			timeline string
		)
		if err := rows.Scan(&rule, &v.Entity, &timeline, &v.EventIndex, &v.Message); err != nil {
			return fmt.Errorf("scan violation: %w", err)
		}
		v.Rule = invariant.Rule(rule)
		if v.Timeline, err = world.ParseTimelineID(timeline); err != nil {
			return fmt.Errorf("run %s: %w", run.ID, err)
		}
		run.Violations = append(run.Violations, v)
	}
	return rows.Err()
}
