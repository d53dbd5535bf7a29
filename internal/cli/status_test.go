package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/store"
)

func TestStatusCommand_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(NewStatusCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found in database.")
}

func TestStatusCommand_ListsSessions(t *testing.T) {
	restartDir := filepath.Join(t.TempDir(), "restart")
	db := recordRun(t, "s1", "--checkpoint", restartDir)

	out, err := execute(NewStatusCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "1 session(s)")
	assert.Contains(t, out, "s1  plate")
	assert.Contains(t, out, "checkpoint seq")
}

func TestStatusCommand_JSON(t *testing.T) {
	restartDir := filepath.Join(t.TempDir(), "restart")
	db := recordRun(t, "s1", "--checkpoint", restartDir)

	out, err := execute(NewStatusCommand(&RootOptions{Format: "json"}), "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   []SessionStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	s := resp.Data[0]
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "plate", s.Problem)
	assert.NotEmpty(t, s.SpecHash)
	assert.Positive(t, s.Records)
	assert.Equal(t, s.Records, s.CheckpointSeq, "checkpoint is taken after the last record")
	assert.Positive(t, s.CheckpointSNum)
}

func TestStatusCommand_MissingDatabase(t *testing.T) {
	_, err := execute(NewStatusCommand(&RootOptions{Format: "text"}), "--db", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
