package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WriteRun inserts a run with its actions and violations in one
// transaction and sets run.Seq. A run whose ID is already stored is left
// as it is and WriteRun reports false.
func (s *Store) WriteRun(ctx context.Context, run *Run) (bool, error) {
	if run.ID == "" {
		return false, fmt.Errorf("write run: empty id")
	}
	if len(run.Results) != len(run.Actions) {
		return false, fmt.Errorf("write run %s: %d results for %d actions", run.ID, len(run.Results), len(run.Actions))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM runs WHERE id = ?)`, run.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	if exists {
		return false, nil
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return false, fmt.Errorf("write run: next seq: %w", err)
	}

	var seed sql.NullInt64
	if run.Seed != nil {
		// Stored bit for bit; read back with the same conversion.
		seed = sql.NullInt64{Int64: int64(*run.Seed), Valid: true}
	}
	var shrunk sql.NullInt64
	if run.ShrunkFrom > 0 {
		shrunk = sql.NullInt64{Int64: int64(run.ShrunkFrom), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, batch_id, seq, name, seed, permissive, policy, first_only, failing_index, digest, shrunk_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.BatchID,
		seq,
		run.Name,
		seed,
		run.Permissive,
		string(run.Policy),
		run.FirstOnly,
		run.FailingIndex,
		run.Digest,
		shrunk,
	)
	if err != nil {
		return false, fmt.Errorf("write run %s: %w", run.ID, err)
	}

	for i, r := range run.Actions {
		action, err := marshalRecord(r)
		if err != nil {
			return false, fmt.Errorf("write run %s: action %d: %w", run.ID, i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_actions (run_id, idx, action, result) VALUES (?, ?, ?, ?)
		`, run.ID, i, action, run.Results[i]); err != nil {
			return false, fmt.Errorf("write run %s: action %d: %w", run.ID, i, err)
		}
	}

	for i, v := range run.Violations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_violations (run_id, idx, rule, entity, timeline, event_index, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, string(v.Rule), v.Entity, v.Timeline.String(), v.EventIndex, v.Message); err != nil {
			return false, fmt.Errorf("write run %s: violation %d: %w", run.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write run %s: commit: %w", run.ID, err)
	}
	run.Seq = seq
	return true, nil
}
