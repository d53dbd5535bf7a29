package transfer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/aim/planar"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
)

func mesh(t *testing.T, face string, n int) *aim.Discretization {
	t.Helper()
	m := planar.NewModel("m", ir.GeometrySpec{
		Units: "m",
		Faces: []ir.FaceSpec{
			{Name: "plate", Max: [2]float64{1, 1}},
			{Name: "wide", Min: [2]float64{-0.5, 0}, Max: [2]float64{1.5, 1}},
		},
	}, nil)
	g, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	d, err := g.Tessellate(face, n)
	require.NoError(t, err)
	return d
}

func side(d *aim.Discretization) Side {
	return Side{Disc: d, Prim: aim.Linear{}, Space: d.Points}
}

func sample(d *aim.Discretization, rank int, f func(x, y float64) float64) []float64 {
	out := make([]float64, len(d.Points)*rank)
	for i, p := range d.Points {
		for k := 0; k < rank; k++ {
			out[i*rank+k] = float64(k+1) * f(p[0], p[1])
		}
	}
	return out
}

func TestInterpolate_LinearFieldExact(t *testing.T) {
	src, tgt := mesh(t, "plate", 3), mesh(t, "plate", 7)
	res, err := Interpolate(side(src), sample(src, 2, planar.LinearProfile), 2, side(tgt))
	require.NoError(t, err)
	assert.Empty(t, res.Missing)

	want := sample(tgt, 2, planar.LinearProfile)
	for i := range want {
		assert.InDelta(t, want[i], res.Data[i], 1e-12)
	}
}

func TestInterpolate_ReportsMissingPoints(t *testing.T) {
	src, tgt := mesh(t, "plate", 2), mesh(t, "wide", 4)
	res, err := Interpolate(side(src), sample(src, 1, planar.LinearProfile), 1, side(tgt))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Missing)
	for _, i := range res.Missing {
		x := tgt.Points[i][0]
		assert.True(t, x < 0 || x > 1, "point %d at x=%g should have been located", i, x)
		assert.Zero(t, res.Data[i])
	}
}

func TestInterpolate_Validation(t *testing.T) {
	src := mesh(t, "plate", 2)
	_, err := Interpolate(side(src), []float64{1, 2}, 1, side(src))
	assert.True(t, errs.Is(err, errs.RangeError))

	_, err = Interpolate(Side{}, nil, 1, side(src))
	assert.True(t, errs.Is(err, errs.SourceUnavailable))
}

// The tape-driven gradient agrees with central differences.
func TestObjective_GradientMatchesFiniteDifference(t *testing.T) {
	src, tgt := mesh(t, "plate", 3), mesh(t, "plate", 2)
	matches, _, err := buildMatches(side(src), side(tgt))
	require.NoError(t, err)
	obj := newObjective(side(src), sample(src, 1, planar.QuadraticProfile), side(tgt), matches)
	obj.weight = 5

	x := make([]float64, len(tgt.Points))
	for i := range x {
		x[i] = math.Sin(float64(i))
	}
	grad := make([]float64, len(x))
	obj.gradient(grad, x)

	const h = 1e-6
	for i := range x {
		xp := append([]float64{}, x...)
		xm := append([]float64{}, x...)
		xp[i] += h
		xm[i] -= h
		fd := (obj.value(xp) - obj.value(xm)) / (2 * h)
		assert.InDelta(t, fd, grad[i], 1e-5, "component %d", i)
	}
}

func TestConserve_FluxConverges(t *testing.T) {
	src, tgt := mesh(t, "plate", 6), mesh(t, "plate", 4)
	data := sample(src, 2, planar.QuadraticProfile)

	res, err := Conserve(side(src), data, 2, side(tgt), DefaultOptions())
	require.NoError(t, err)
	for c := 0; c < 2; c++ {
		rel := math.Abs(res.FluxTarget[c]-res.FluxSource[c]) / math.Abs(res.FluxSource[c])
		assert.Less(t, rel, 1e-6, "component %d", c)
	}
	assert.Positive(t, res.Iterations)
	assert.Zero(t, res.Unmatched)

	want := sample(tgt, 2, planar.QuadraticProfile)
	for i := range want {
		assert.InDelta(t, want[i], res.Data[i], 0.1, "point value stays near the field")
	}
}

func TestConserve_LinearFieldReproduced(t *testing.T) {
	src, tgt := mesh(t, "plate", 5), mesh(t, "plate", 3)
	res, err := Conserve(side(src), sample(src, 1, planar.LinearProfile), 1, side(tgt), Options{})
	require.NoError(t, err)
	want := sample(tgt, 1, planar.LinearProfile)
	for i := range want {
		assert.InDelta(t, want[i], res.Data[i], 1e-6)
	}
}

func TestConserve_NeedsTargetElements(t *testing.T) {
	src := mesh(t, "plate", 2)
	cloud := &aim.Discretization{Points: [][3]float64{{0.5, 0.5, 0}}, Params: [][2]float64{{0, 0}}}
	_, err := Conserve(side(src), sample(src, 1, planar.LinearProfile), 1,
		Side{Disc: cloud, Space: cloud.Points}, Options{})
	assert.True(t, errs.Is(err, errs.SourceUnavailable))
}

func TestTape_ReverseOrder(t *testing.T) {
	var tp tape
	tp.record(visit{elem: 1})
	tp.record(visit{elem: 2})
	var got []int
	tp.reverse(func(v visit) { got = append(got, v.elem) })
	assert.Equal(t, []int{2, 1}, got)
	tp.reset()
	assert.Empty(t, tp.visits)
}
