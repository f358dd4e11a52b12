package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strand/internal/gen"
	"github.com/roach88/strand/internal/harness"
	"github.com/roach88/strand/internal/invariant"
	"github.com/roach88/strand/internal/testutil"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// failingRun executes a permissive story that breaks death finality.
func failingRun(t *testing.T, batch string) Run {
	t.Helper()
	rep, err := harness.Execute(context.Background(), testutil.DeadSpeaker(), harness.WithPermissive(true))
	require.NoError(t, err)
	require.True(t, rep.Failed())

	run, err := FromReport(batch, "dead_speaker", rep, true, "")
	require.NoError(t, err)
	return run
}

func cleanRun(t *testing.T, batch string, seed uint64) Run {
	t.Helper()
	actions, err := gen.Sequence(seed, gen.Options{Steps: 30, Cast: 3})
	require.NoError(t, err)
	rep, err := harness.Execute(context.Background(), actions)
	require.NoError(t, err)

	run, err := FromReport(batch, "fuzz", rep, false, harness.SkipRejected)
	require.NoError(t, err)
	run.Seed = &seed
	return run
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s1, err := Open(path)
	require.NoError(t, err)
	run := failingRun(t, NewBatchID())
	_, err = s1.WriteRun(context.Background(), &run)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	runs, err := s2.ListRuns(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOpen_MigratesV1Log(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE runs (
			id TEXT PRIMARY KEY, batch_id TEXT NOT NULL, seq INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL, seed INTEGER, permissive INTEGER NOT NULL,
			policy TEXT NOT NULL, failing_index INTEGER NOT NULL,
			digest TEXT NOT NULL, shrunk_from INTEGER
		);
		INSERT INTO runs VALUES ('old', 'b', 1, 'legacy', NULL, 0, 'skip', -1, 'd', NULL);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	runs, err := s.ListRuns(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "legacy", runs[0].Name)
	assert.False(t, runs[0].FirstOnly)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
		{"user_version", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.pragma(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := failingRun(t, NewBatchID())

	inserted, err := s.WriteRun(ctx, &run)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), run.Seq)

	got, err := s.ReadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)
	assert.Equal(t, []string{"+C0", "E0", "E1"}, got.Results)
	assert.Equal(t, 2, got.FailingIndex)
	assert.Nil(t, got.Seed)
	assert.Equal(t, harness.SkipRejected, got.Policy)
}

func TestWriteRun_SameInputsStoredOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := failingRun(t, NewBatchID())
	second := failingRun(t, NewBatchID())
	require.Equal(t, first.ID, second.ID, "run id depends only on inputs")

	inserted, err := s.WriteRun(ctx, &first)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.WriteRun(ctx, &second)
	require.NoError(t, err)
	assert.False(t, inserted)

	runs, err := s.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.BatchID, runs[0].BatchID)
}

func TestWriteRun_Rejects(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteRun(ctx, &Run{})
	assert.ErrorContains(t, err, "empty id")

	run := failingRun(t, NewBatchID())
	run.Results = run.Results[:1]
	_, err = s.WriteRun(ctx, &run)
	assert.ErrorContains(t, err, "1 results for 3 actions")
}

func TestListRuns_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	batchA, batchB := NewBatchID(), NewBatchID()

	for _, run := range []Run{
		cleanRun(t, batchA, 1),
		failingRun(t, batchA),
		cleanRun(t, batchB, 2),
	} {
		_, err := s.WriteRun(ctx, &run)
		require.NoError(t, err)
	}

	all, err := s.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, int64(i+1), r.Seq)
		assert.Empty(t, r.Actions, "headers only")
	}
	require.NotNil(t, all[0].Seed)
	assert.Equal(t, uint64(1), *all[0].Seed)

	inA, err := s.ListRuns(ctx, Filter{BatchID: batchA})
	require.NoError(t, err)
	assert.Len(t, inA, 2)

	failed, err := s.ListRuns(ctx, Filter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "dead_speaker", failed[0].Name)

	limited, err := s.ListRuns(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListRuns(ctx, Filter{BatchID: "nope"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestReadRun_Prefix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := failingRun(t, NewBatchID())
	_, err := s.WriteRun(ctx, &run)
	require.NoError(t, err)

	got, err := s.ReadRun(ctx, run.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	_, err = s.ReadRun(ctx, "zzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("reproduces", func(t *testing.T) {
		run := failingRun(t, NewBatchID())
		rep, err := Replay(ctx, run, nil)
		require.NoError(t, err)
		assert.Equal(t, run.Digest, rep.Digest)
		assert.Equal(t, run.Violations, rep.Violations)
	})

	t.Run("clean fuzz run", func(t *testing.T) {
		run := cleanRun(t, NewBatchID(), 3)
		_, err := Replay(ctx, run, nil)
		require.NoError(t, err)
	})

	t.Run("digest tampered", func(t *testing.T) {
		run := failingRun(t, NewBatchID())
		run.Digest = "0000"
		_, err := Replay(ctx, run, nil)
		var mm *ReplayMismatch
		require.ErrorAs(t, err, &mm)
		assert.Equal(t, "digest", mm.Field)
	})

	t.Run("violations tampered", func(t *testing.T) {
		run := failingRun(t, NewBatchID())
		require.NotEmpty(t, run.Violations)
		run.Violations[0].Message = "something else"
		_, err := Replay(ctx, run, nil)
		var mm *ReplayMismatch
		require.ErrorAs(t, err, &mm)
		assert.Equal(t, "violations", mm.Field)
		assert.Contains(t, mm.Want, "something else")
	})

	t.Run("first violation only", func(t *testing.T) {
		rep, err := harness.Execute(ctx, testutil.DeadSpeaker(),
			harness.WithPermissive(true),
			harness.WithChecker(invariant.Checker{FirstOnly: true}),
		)
		require.NoError(t, err)
		require.Len(t, rep.Violations, 1)

		run, err := FromReport(NewBatchID(), "dead_speaker", rep, true, "")
		require.NoError(t, err)
		assert.True(t, run.FirstOnly)
		full := failingRun(t, NewBatchID())
		assert.NotEqual(t, full.ID, run.ID)

		_, err = Replay(ctx, run, nil)
		require.NoError(t, err)
	})

	t.Run("settings matter", func(t *testing.T) {
		run := failingRun(t, NewBatchID())
		run.Permissive = false
		_, err := Replay(ctx, run, nil)
		var mm *ReplayMismatch
		require.ErrorAs(t, err, &mm)
		assert.Equal(t, "result of action 2", mm.Field)
	})
}
