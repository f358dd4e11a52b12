package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFuzzCommand(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewFuzzCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func decodeFuzz(t *testing.T, buf *bytes.Buffer) FuzzResult {
	t.Helper()
	var resp struct {
		Status string     `json:"status"`
		Data   FuzzResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp.Data
}

func TestFuzzCommandStrictRunsAreClean(t *testing.T) {
	buf, err := newFuzzCommand(t, "text", "--runs", "6", "--length", "30", "--characters", "3", "--db", "")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Fuzzed 6 runs of 30 actions (seeds 1..6)")
	assert.Contains(t, out, "Fuzz Summary: 6 clean, 0 failed")
	assert.Contains(t, out, "✓ No violations")
	assert.NotContains(t, out, "Batch ", "nothing stored without a database")
}

func TestFuzzCommandDeterministic(t *testing.T) {
	args := []string{"--runs", "8", "--length", "40", "--seed", "11", "--permissive", "--chaos", "0.3", "--db", ""}

	a, errA := newFuzzCommand(t, "json", append(args, "--workers", "1")...)
	b, errB := newFuzzCommand(t, "json", append(args, "--workers", "4")...)
	assert.Equal(t, GetExitCode(errA), GetExitCode(errB))

	ra, rb := decodeFuzz(t, a), decodeFuzz(t, b)
	assert.Equal(t, ra.Failures, rb.Failures, "worker count must not change results")
	assert.Equal(t, ra.Clean, rb.Clean)
	assert.Equal(t, 8, ra.Clean+ra.Failed)
	if ra.Failed > 0 {
		assert.Equal(t, ExitFailure, GetExitCode(errA))
	}
}

func TestFuzzCommandRecordsReplayableRuns(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	buf, err := newFuzzCommand(t, "json", "--runs", "5", "--length", "40", "--seed", "3",
		"--permissive", "--chaos", "0.3", "--db", db)
	if err != nil {
		require.Equal(t, ExitFailure, GetExitCode(err), "only violations may fail the command: %v", err)
	}
	res := decodeFuzz(t, buf)
	assert.True(t, res.Stored)
	assert.NotEmpty(t, res.BatchID)
	for _, f := range res.Failures {
		assert.NotEmpty(t, f.RunID)
		assert.LessOrEqual(t, f.Actions, f.ShrunkFrom, "failures are minimized")
		assert.Equal(t, f.Actions-1, f.FailingIndex, "a minimal run fails at its last action")
	}

	listed := &bytes.Buffer{}
	trace := NewTraceCommand(&RootOptions{Format: "json"})
	trace.SetOut(listed)
	trace.SetArgs([]string{"--db", db, "--batch", res.BatchID})
	require.NoError(t, trace.Execute())
	var resp struct {
		Data []RunHeader `json:"data"`
	}
	require.NoError(t, json.Unmarshal(listed.Bytes(), &resp))
	assert.LessOrEqual(t, len(resp.Data), 5, "identical runs are stored once")
	for _, h := range resp.Data {
		require.NotNil(t, h.Seed)
	}

	replayed := &bytes.Buffer{}
	replay := NewReplayCommand(&RootOptions{Format: "text"})
	replay.SetOut(replayed)
	replay.SetArgs([]string{"--db", db})
	require.NoError(t, replay.Execute(), replayed.String())
}

func TestFuzzCommandFirstViolationRunsReplay(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	_, err := newFuzzCommand(t, "json", "--runs", "5", "--length", "40", "--seed", "3",
		"--permissive", "--chaos", "0.3", "--first-violation", "--shrink=false", "--db", db)
	if err != nil {
		require.Equal(t, ExitFailure, GetExitCode(err), "only violations may fail the command: %v", err)
	}

	replayed := &bytes.Buffer{}
	replay := NewReplayCommand(&RootOptions{Format: "text"})
	replay.SetOut(replayed)
	replay.SetArgs([]string{"--db", db})
	require.NoError(t, replay.Execute(), replayed.String())
}

func TestFuzzCommandInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"zero runs", []string{"--runs", "0"}, "Runs"},
		{"bad policy", []string{"--policy", "retry"}, "RejectPolicy"},
		{"chaos too high", []string{"--chaos", "1.5"}, "Chaos"},
		{"cast too large", []string{"--length", "2", "--characters", "3"}, "Characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFuzzCommand(t, "text", append(tt.args, "--db", "")...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFuzzCommandFlagsOverrideConfig(t *testing.T) {
	opts := &RootOptions{Format: "text"}
	opts.config().Run.Runs = 2
	opts.config().Run.Length = 10
	opts.config().Store.Path = ""

	buf := &bytes.Buffer{}
	cmd := NewFuzzCommand(opts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--length", "15"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Fuzzed 2 runs of 15 actions")
}
