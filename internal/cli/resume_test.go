package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeCommand_Text(t *testing.T) {
	restartDir := filepath.Join(t.TempDir(), "restart")
	db := recordRun(t, "s1", "--checkpoint", restartDir)

	out, err := execute(NewResumeCommand(&RootOptions{Format: "text"}), "--db", db, "--checkpoint", restartDir, specsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Resumed plate (session s1)")
	assert.Contains(t, out, "aero")
	assert.Contains(t, out, "Clean")
}

func TestResumeCommand_SyncJSON(t *testing.T) {
	restartDir := filepath.Join(t.TempDir(), "restart")
	db := recordRun(t, "s1", "--checkpoint", restartDir)

	out, err := execute(NewResumeCommand(&RootOptions{Format: "json"}), "--db", db, "--checkpoint", restartDir, "--sync", plateFile)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ResumeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "s1", resp.Data.SessionID)
	assert.Empty(t, resp.Data.Ran, "nothing is stale after the recorded sync")
	assert.Equal(t, []AnalysisState{
		{Name: "aero", Status: "Clean"},
		{Name: "struct", Status: "Clean"},
	}, resp.Data.Analyses)
	assert.Positive(t, resp.Data.SNum)
}

func TestResumeCommand_DifferentDescription(t *testing.T) {
	restartDir := filepath.Join(t.TempDir(), "restart")
	db := recordRun(t, "s1", "--checkpoint", restartDir)

	_, err := execute(NewResumeCommand(&RootOptions{Format: "text"}), "--db", db, "--checkpoint", restartDir, writeSpec(t, badModeSpec))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestResumeCommand_MissingCheckpoint(t *testing.T) {
	db := recordRun(t, "s1")

	_, err := execute(NewResumeCommand(&RootOptions{Format: "text"}), "--db", db, "--checkpoint", filepath.Join(t.TempDir(), "none"), specsDir)
	require.Error(t, err)
}

func TestResumeCommand_BadSpecs(t *testing.T) {
	_, err := execute(NewResumeCommand(&RootOptions{Format: "text"}), "--db", "caps.db", "--checkpoint", "r", "/nonexistent")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load specs")
}
