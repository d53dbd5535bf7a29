package quilt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/aim/planar"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
)

func geometry(t *testing.T) aim.Geometry {
	t.Helper()
	m := planar.NewModel("wing", ir.GeometrySpec{
		Units:  "m",
		Params: []ir.ParamSpec{{Name: planar.ParamWidth, Value: 2}},
		Faces: []ir.FaceSpec{
			{Name: "plate", Max: [2]float64{1, 1}},
			{Name: "left", Max: [2]float64{0.5, 1}},
			{Name: "right", Min: [2]float64{0.5, 0}, Max: [2]float64{1, 1}},
			{Name: "island", Min: [2]float64{3, 3}, Max: [2]float64{4, 4}},
		},
	}, nil)
	g, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	return g
}

func faces(t *testing.T, g aim.Geometry, n int, names ...string) *aim.Discretization {
	t.Helper()
	d := &aim.Discretization{Dim: 2}
	for _, name := range names {
		fd, err := g.Tessellate(name, n)
		require.NoError(t, err)
		d.Append(fd)
	}
	return d
}

func TestReference_TieKeepsFirst(t *testing.T) {
	g := geometry(t)
	plate := faces(t, g, 4, "plate")
	split := faces(t, g, 3, "left", "right")
	assert.Equal(t, 0, Reference([]*aim.Discretization{plate, split}))
	assert.Equal(t, 0, Reference([]*aim.Discretization{split, plate}))

	small := faces(t, g, 2, "left")
	assert.Equal(t, 1, Reference([]*aim.Discretization{small, plate}))
}

func TestBuild_PlanarPairConverges(t *testing.T) {
	g := geometry(t)
	plate := faces(t, g, 4, "plate")
	split := faces(t, g, 3, "left", "right")

	fit, err := Build([]*aim.Discretization{plate, split}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, fit.Reference)
	assert.Less(t, fit.RMS, 1e-6*2.5)
	require.Len(t, fit.UV, 2)
	require.Len(t, fit.UV[1], len(split.Points))

	for m, d := range []*aim.Discretization{plate, split} {
		for i, p := range d.Points {
			uv := fit.UV[m][i]
			assert.True(t, uv[0] >= -1e-9 && uv[0] <= 1+1e-9, "u in range")
			assert.True(t, uv[1] >= -1e-9 && uv[1] <= 1+1e-9, "v in range")
			q := fit.Evaluate(uv)
			assert.InDelta(t, p[0], q[0], 1e-6)
			assert.InDelta(t, p[1], q[1], 1e-6)
		}
	}
}

func TestBuild_WeldsSplitReference(t *testing.T) {
	g := geometry(t)
	split := faces(t, g, 2, "left", "right")
	fit, err := Build([]*aim.Discretization{split}, DefaultOptions())
	require.NoError(t, err)
	assert.Less(t, fit.RMS, 1e-6)
}

func TestBuild_DisconnectedReferenceFails(t *testing.T) {
	g := geometry(t)
	d := faces(t, g, 2, "plate", "island")
	_, err := Build([]*aim.Discretization{d}, DefaultOptions())
	assert.True(t, errs.Is(err, errs.NotConverged))
}

func TestBuild_CurvedSurfaceRefinesOrFails(t *testing.T) {
	// z = x^2 over the unit square: developable, not bilinear.
	d := &aim.Discretization{Dim: 2, Bodies: []aim.Body{{Entity: aim.EntityID{Model: "c", Name: "curve"}}}}
	const n = 6
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			x, y := float64(i)/n, float64(j)/n
			d.Points = append(d.Points, [3]float64{x, y, x * x})
			d.Params = append(d.Params, [2]float64{x, y})
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a, b, c, e := j*(n+1)+i, j*(n+1)+i+1, (j+1)*(n+1)+i+1, (j+1)*(n+1)+i
			d.Elements = append(d.Elements,
				aim.Element{Nodes: [3]int{a, b, c}}, aim.Element{Nodes: [3]int{a, c, e}})
		}
	}

	fit, err := Build([]*aim.Discretization{d}, Options{Tolerance: 1e-14, MaxLevel: 1})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotConverged))
	require.NotNil(t, fit)
	assert.Positive(t, fit.RMS)
	assert.Equal(t, 2, fit.Cells)

	coarse, err := Build([]*aim.Discretization{d}, Options{Tolerance: 1e-1, MaxLevel: 4})
	require.NoError(t, err)
	assert.LessOrEqual(t, coarse.RMS, 1e-1*extentOf(d.Points))
}
