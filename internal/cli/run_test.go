package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deathScenario = `name: death_is_final
description: A dead character appears in a later scene.
permissive: true
actions:
  - {op: create_character, name: Kim}
  - {op: kill_character, character: C0, timeline: T0}
  - {op: record_scene, timeline: T0, participants: [C0], description: Kim speaks}
expect:
  violations: [death_finality]
  failing_index: 2
`

const deathReport = `000 create_character name="Kim" timeline=T0 => +C0
001 kill_character character=C0 timeline=T0 => E0
002 record_scene timeline=T0 participants=[C0] => E1
violations after 002:
  [2 death_finality] T0@1 C0: takes part in E1 while dead
`

// unmetScenario expects a clean run but gets a rejection.
const unmetScenario = `name: unmet
actions:
  - {op: create_character, name: Kim}
  - {op: kill_character, character: C0, timeline: T0}
  - {op: kill_character, character: C0, timeline: T0}
`

func newRunCommand(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestRunCommandMissingArgs(t *testing.T) {
	_, err := newRunCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRunCommandMissingFile(t *testing.T) {
	_, err := newRunCommand(t, "text", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load scenario")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommandPassingScenario(t *testing.T) {
	path := writeFile(t, t.TempDir(), "death.yaml", deathScenario)

	buf, err := newRunCommand(t, "text", path)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Scenario: death_is_final\n  A dead character appears in a later scene.\n")
	assert.Contains(t, out, deathReport)
	assert.Contains(t, out, "✓ death_is_final")
}

func TestRunCommandFailingScenario(t *testing.T) {
	path := writeFile(t, t.TempDir(), "unmet.yaml", unmetScenario)

	buf, err := newRunCommand(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := buf.String()
	assert.Contains(t, out, "002 kill_character character=C0 timeline=T0 => rejected NOT_ALIVE: C0 is dead in T0")
	assert.Contains(t, out, "✗ unmet")
	assert.Contains(t, out, "rejected: expected [], got [2 (NOT_ALIVE)]")
}

func TestRunCommandJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "death.yaml", deathScenario)

	buf, err := newRunCommand(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, 2, resp.Data.Report.FailingIndex)
	require.Len(t, resp.Data.Report.Steps, 3)
	assert.Equal(t, "E1", resp.Data.Report.Steps[2].Result)
	require.Len(t, resp.Data.Report.Violations, 1)
	assert.Equal(t, "C0", resp.Data.Report.Violations[0].Entity)
	assert.NotEmpty(t, resp.Data.Report.Digest)
}

func TestRunCommandSave(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "death.yaml", deathScenario)
	db := filepath.Join(dir, "runs.db")

	buf, err := newRunCommand(t, "text", path, "--save", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Saved run ")

	// The recorded run replays.
	replayOut := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(replayOut)
	cmd.SetArgs([]string{"--db", db})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, replayOut.String(), "death_is_final (3 actions)")
	assert.Contains(t, replayOut.String(), "✓ All 1 run(s) reproduced")
}

func TestRunHelpText(t *testing.T) {
	buf, err := newRunCommand(t, "text", "--help")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "--save")
	assert.Contains(t, buf.String(), "--db")
}
