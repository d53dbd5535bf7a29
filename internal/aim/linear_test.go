package aim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/errs"
)

// unitSquare is two triangles over [0,1]x[0,1] at z=0.
func unitSquare() *Discretization {
	return &Discretization{
		Bound:  "b",
		Dim:    2,
		Bodies: []Body{{Entity: EntityID{Model: "m", Name: "f"}, Units: "m"}},
		Points: [][3]float64{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Params: [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Elements: []Element{
			{Body: 0, Nodes: [3]int{0, 1, 2}},
			{Body: 0, Nodes: [3]int{0, 2, 3}},
		},
	}
}

func TestLinear_InterpolatesLinearFieldExactly(t *testing.T) {
	d := unitSquare()
	require.NoError(t, d.Validate())
	// f(x, y) = 2x + 3y + 1
	data := make([]float64, len(d.Points))
	for i, p := range d.Points {
		data[i] = 2*p[0] + 3*p[1] + 1
	}

	var lin Linear
	for _, p := range [][3]float64{{0.25, 0.1, 0}, {0.1, 0.9, 0}, {0.5, 0.5, 0}, {1, 1, 0}} {
		e, local, err := lin.LocateElement(d, d.Points, p)
		require.NoError(t, err)
		out := make([]float64, 1)
		lin.Interpolate(d, e, local, 1, data, out)
		assert.InDelta(t, 2*p[0]+3*p[1]+1, out[0], 1e-12)
	}
}

func TestLinear_LocateOutside(t *testing.T) {
	_, _, err := Linear{}.LocateElement(unitSquare(), unitSquare().Points, [3]float64{2, 2, 0})
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestLinear_IntegrateArea(t *testing.T) {
	d := unitSquare()
	ones := []float64{1, 1, 1, 1}
	var total float64
	out := make([]float64, 1)
	for e := range d.Elements {
		Linear{}.Integrate(d, e, 1, ones, out)
		total += out[0]
	}
	assert.InDelta(t, 1.0, total, 1e-12)
	assert.InDelta(t, 1.0, d.Area(), 1e-12)
}

// The adjoint primitives satisfy <J x, y> == <x, J^T y>.
func TestLinear_BarIsAdjoint(t *testing.T) {
	d := unitSquare()
	const rank = 2
	x := []float64{1, -2, 0.5, 3, 4, 1, -1, 2}
	y := []float64{0.7, -1.3}
	local := [2]float64{0.2, 0.3}

	var lin Linear
	jx := make([]float64, rank)
	lin.Interpolate(d, 0, local, rank, x, jx)
	jty := make([]float64, len(x))
	lin.InterpolateBar(d, 0, local, rank, y, jty)
	assert.InDelta(t, jx[0]*y[0]+jx[1]*y[1], dotN(x, jty), 1e-12)

	lin.Integrate(d, 1, rank, x, jx)
	jty = make([]float64, len(x))
	lin.IntegrateBar(d, 1, rank, y, jty)
	assert.InDelta(t, jx[0]*y[0]+jx[1]*y[1], dotN(x, jty), 1e-12)
}

func TestDiscretization_AppendAndEntities(t *testing.T) {
	a := unitSquare()
	b := unitSquare()
	b.Bodies[0].Entity.Name = "g"
	a.Append(b)
	assert.Len(t, a.Points, 8)
	assert.Equal(t, [3]int{4, 5, 6}, a.Elements[2].Nodes)
	assert.Equal(t, 1, a.Elements[2].Body)
	assert.Equal(t, []EntityID{{"m", "f"}, {"m", "g"}}, a.Entities())
	require.NoError(t, a.Validate())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("missing")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func dotN(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
