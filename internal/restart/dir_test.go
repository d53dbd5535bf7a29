package restart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/errs"
)

func TestDir_RoundTrip(t *testing.T) {
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	assert.False(t, d.ReadOnly())

	require.NoError(t, d.WriteSNum(42))
	n, err := d.ReadSNum()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	analyses := []AnalysisLine{{Inputs: 2, Outputs: 3, Name: "aero"}, {Inputs: 1, Outputs: 0, Name: "struct"}}
	require.NoError(t, d.WriteAnalyses(analyses))
	gotA, err := d.ReadAnalyses()
	require.NoError(t, err)
	assert.Equal(t, analyses, gotA)

	bounds := []BoundLine{{Index: 4, Name: "wing skin"}}
	require.NoError(t, d.WriteBounds(bounds))
	gotB, err := d.ReadBounds()
	require.NoError(t, err)
	assert.Equal(t, bounds, gotB, "the name keeps its spaces")

	require.NoError(t, d.WriteSnapshot([]byte(`{"s_num":42}`)))
	snap, err := d.ReadSnapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"s_num":42}`, string(snap))

	type dump struct {
		Lift []float64 `json:"lift"`
	}
	require.NoError(t, d.WriteDump("aero", dump{Lift: []float64{0.25}}))
	var got dump
	require.NoError(t, d.ReadDump("aero", &got))
	assert.Equal(t, []float64{0.25}, got.Lift)

	_, err = os.Stat(filepath.Join(d.Root(), "restart", "aero", "values.json"))
	assert.NoError(t, err)
}

func TestDir_MissingFileIsNotFound(t *testing.T) {
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = d.ReadSNum()
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestDir_RejectsPathNames(t *testing.T) {
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	assert.True(t, errs.Is(d.WriteDump("../escape", struct{}{}), errs.RangeError))
	assert.True(t, errs.Is(d.WriteAnalyses([]AnalysisLine{{Name: "a/b"}}), errs.RangeError))
}

func TestDir_LinkIsReadOnlyAlias(t *testing.T) {
	base := t.TempDir()
	owner := filepath.Join(base, "owner")
	alias := filepath.Join(base, "alias")

	src, err := Open(owner)
	require.NoError(t, err)
	require.NoError(t, src.WriteSNum(7))

	require.NoError(t, Link(alias, owner))
	d, err := Open(alias)
	require.NoError(t, err)
	assert.True(t, d.ReadOnly())

	n, err := d.ReadSNum()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n, "reads follow the alias")

	err = d.WriteSNum(8)
	assert.True(t, errs.Is(err, errs.IllegalState))
	err = d.WriteDump("aero", struct{}{})
	assert.True(t, errs.Is(err, errs.IllegalState))

	n, err = src.ReadSNum()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestDir_AliasLoopIsCircular(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	require.NoError(t, Link(a, b))
	require.NoError(t, Link(b, a))

	_, err := Open(a)
	assert.True(t, errs.Is(err, errs.CircularLink))
}

func TestDir_BadManifestLine(t *testing.T) {
	root := t.TempDir()
	d, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "restart"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "restart", "analyses"), []byte("x 1 aero\n"), 0o644))
	_, err = d.ReadAnalyses()
	assert.True(t, errs.Is(err, errs.RangeError))
}
