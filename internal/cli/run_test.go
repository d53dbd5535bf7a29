package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/restart"
	"github.com/roach88/caps/internal/store"
)

var (
	syncScenario  = filepath.Join("testdata", "scenarios", "plate_sync.yaml")
	dirtyScenario = filepath.Join("testdata", "scenarios", "plate_dirty.yaml")
)

// recordRun runs the plate_sync scenario into a fresh database under
// session and returns the database path.
func recordRun(t *testing.T, session string, extra ...string) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "caps.db")
	args := append([]string{"--db", db, "--session", session}, extra...)
	args = append(args, syncScenario)
	_, err := execute(NewRunCommand(&RootOptions{Format: "text"}), args...)
	require.NoError(t, err)
	return db
}

// writeScenario writes a scenario against the plate description.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	spec, err := filepath.Abs(plateFile)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("spec: "+spec+"\n"+body), 0o644))
	return path
}

func TestRunCommand_Text(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	out, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "s1", syncScenario)
	require.NoError(t, err)

	assert.Contains(t, out, "Session: s1")
	assert.Contains(t, out, "sync")
	assert.Contains(t, out, "✓ plate_sync")
	assert.Contains(t, out, "record(s) journaled")
	assert.NotContains(t, out, "Checkpoint at")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	info, err := st.Session(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "plate", info.Problem)
}

func TestRunCommand_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	out, err := execute(NewRunCommand(&RootOptions{Format: "json"}), "--db", db, "--session", "s1", syncScenario)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "plate_sync", resp.Data.Scenario)
	assert.Equal(t, "s1", resp.Data.SessionID)
	assert.True(t, resp.Data.Pass)
	assert.Positive(t, resp.Data.Records)
	require.Len(t, resp.Data.Steps, 5)
	assert.Equal(t, []string{"aero", "struct"}, resp.Data.Steps[2].Names)
	assert.Empty(t, resp.Data.Metrics)
}

func TestRunCommand_GeneratedSessionID(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	db := filepath.Join(t.TempDir(), "caps.db")

	// Reach the options through a fresh command so the generator can be set.
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}, Database: db, NewSessionID: func() string { return "generated" }}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runScenarioLive(opts, args[0], c)
	}

	out, err := execute(cmd, "--db", db, syncScenario)
	require.NoError(t, err)
	assert.Contains(t, out, "Session: generated")
}

func TestRunCommand_Checkpoint(t *testing.T) {
	restartDir := filepath.Join(t.TempDir(), "restart")
	db := recordRun(t, "s1", "--checkpoint", restartDir)

	dir, err := restart.Open(restartDir)
	require.NoError(t, err)
	snum, err := dir.ReadSNum()
	require.NoError(t, err)
	assert.Positive(t, snum)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	cp, ok, err := st.LatestCheckpoint(t.Context(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snum, cp.SNum)
}

func TestRunCommand_Metrics(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	out, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "s1", "--metrics", syncScenario)
	require.NoError(t, err)
	assert.Contains(t, out, "caps_journal_records_total")
}

func TestRunCommand_FailingScenario(t *testing.T) {
	path := writeScenario(t, `name: wrong_lift
description: "expects the wrong lift"
steps:
  - op: load
  - op: sync
  - op: get_output
    target: aero.Lift
    expect:
      value: [1]
      tolerance: 1e-9
`)
	db := filepath.Join(t.TempDir(), "caps.db")
	out, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "s1", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario wrong_lift failed")
	assert.Contains(t, out, "✗ wrong_lift")
}

func TestRunCommand_ExpectedErrorPasses(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	out, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "s1", dirtyScenario)
	require.NoError(t, err)
	assert.Contains(t, out, "STILL_DIRTY")
	assert.Contains(t, out, "✓ plate_dirty")
}

func TestRunCommand_MissingScenario(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	_, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRunCommand_RequiresDatabase(t *testing.T) {
	_, err := execute(NewRunCommand(&RootOptions{Format: "text"}), syncScenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestRunCommand_SessionIDReuseFails(t *testing.T) {
	db := recordRun(t, "s1")
	_, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "s1", syncScenario)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
