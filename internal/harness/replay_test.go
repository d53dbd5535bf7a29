package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/store"
)

func recorded(t *testing.T, name string) (*store.Store, *Scenario) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	scenario := loadTestdata(t, name)
	scenario.SkipReplay = true
	result, err := Run(scenario, WithStore(st))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)
	return st, scenario
}

func TestReplay_RecordedSession(t *testing.T) {
	st, scenario := recorded(t, "plate_sync")

	report, err := Replay(scenario, "test-session", WithStore(st))
	require.NoError(t, err)
	assert.True(t, report.Deterministic)
	assert.Equal(t, "test-session", report.SessionID)
	assert.Positive(t, report.Records)
	require.Len(t, report.Observations, len(scenario.Steps))
	assert.Equal(t, []string{"aero", "struct"}, report.Observations[1].Names)
}

func TestReplay_NeedsStore(t *testing.T) {
	_, err := Replay(loadTestdata(t, "plate_sync"), "test-session")
	assert.ErrorContains(t, err, "journal store")
}

func TestReplay_UnknownSession(t *testing.T) {
	st, scenario := recorded(t, "plate_sync")

	_, err := Replay(scenario, "missing", WithStore(st))
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestReplay_DifferentDescription(t *testing.T) {
	st, scenario := recorded(t, "plate_sync")

	src, err := os.ReadFile(scenario.Spec)
	require.NoError(t, err)
	changed := filepath.Join(t.TempDir(), "plate.cue")
	require.NoError(t, os.WriteFile(changed, []byte(strings.Replace(string(src), "width: 2", "width: 5", 1)), 0o644))
	scenario.Spec = changed

	_, err = Replay(scenario, "test-session", WithStore(st))
	assert.True(t, errs.Is(err, errs.JournalCorrupt))
}

func TestReplay_DivergingSteps(t *testing.T) {
	st, scenario := recorded(t, "plate_sync")
	scenario.Steps = append([]Step{{Op: OpSync}}, scenario.Steps...)

	_, err := Replay(scenario, "test-session", WithStore(st))
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
}
