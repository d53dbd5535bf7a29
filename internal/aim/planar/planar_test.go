package planar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
)

func plateSpec() ir.GeometrySpec {
	return ir.GeometrySpec{
		Units:  "m",
		Params: []ir.ParamSpec{{Name: ParamWidth, Value: 2}},
		Faces: []ir.FaceSpec{
			{Name: "plate", Min: [2]float64{0, 0}, Max: [2]float64{1, 1}},
			{Name: "left", Min: [2]float64{0, 0}, Max: [2]float64{0.5, 1}},
			{Name: "right", Units: "mm", Min: [2]float64{0.5, 0}, Max: [2]float64{1, 1}},
		},
	}
}

func TestModel_RebuildScalesFaces(t *testing.T) {
	calls := NewCalls()
	m := NewModel("wing", plateSpec(), calls)
	g, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	p, err := g.Evaluate("plate", [2]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{2, 1, 0}, p)

	require.NoError(t, m.SetParam(ParamHeight, 3))
	g, err = m.Rebuild(context.Background())
	require.NoError(t, err)
	p, err = g.Evaluate("plate", [2]float64{0.5, 1})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1, 3, 0}, p)

	assert.True(t, errs.Is(m.SetParam("span", 1), errs.NotFound))
	assert.Equal(t, 2, calls.Count("Modeler.Rebuild"))
}

func TestModel_Sensitivity(t *testing.T) {
	m := NewModel("wing", plateSpec(), nil)
	s, err := m.Sensitivity(ParamWidth, "left", [2]float64{1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.5, 0, 0}, s)

	_, err = m.Sensitivity("span", "left", [2]float64{})
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestGeometry_TessellateStructured(t *testing.T) {
	m := NewModel("wing", plateSpec(), nil)
	g, err := m.Rebuild(context.Background())
	require.NoError(t, err)

	d, err := g.Tessellate("plate", 3)
	require.NoError(t, err)
	require.NoError(t, d.Validate())
	assert.Len(t, d.Points, 16)
	assert.Len(t, d.Elements, 18)
	assert.InDelta(t, 2.0, d.Area(), 1e-12)

	units, err := g.LengthUnits("right")
	require.NoError(t, err)
	assert.Equal(t, "mm", units)
	assert.False(t, g.SameEntity(g.Faces()[1], g.Faces()[2]))
}

func TestAIM_DiscretizeAndTransfer(t *testing.T) {
	ctx := context.Background()
	calls := NewCalls()
	reg := aim.NewRegistry()
	Register(reg, calls)
	a, err := reg.New(Name)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(ctx, aim.Config{
		Analysis:   "struct",
		Resolution: 2,
		Exports:    map[string][]string{"wall": {"left", "right"}},
	}))

	m := NewModel("wing", plateSpec(), calls)
	g, err := m.Rebuild(ctx)
	require.NoError(t, err)

	d, err := a.Discretize(ctx, g, "wall")
	require.NoError(t, err)
	assert.Len(t, d.Bodies, 2)
	assert.Len(t, d.Entities(), 2)

	in := aim.Inputs{InputScale: {2}, InputAlpha: {0}}
	rank, data, err := a.TransferField(ctx, FieldDisplacement, d, in)
	require.NoError(t, err)
	assert.Equal(t, 3, rank)
	p := d.Points[4]
	assert.InDelta(t, 2*3*LinearProfile(p[0], p[1]), data[4*3+2], 1e-12)

	_, _, err = a.TransferField(ctx, "vorticity", d, in)
	assert.True(t, errs.Is(err, errs.NotFound))

	empty, err := a.Discretize(ctx, g, "other")
	require.NoError(t, err)
	assert.Empty(t, empty.Bodies)
	assert.Equal(t, 2, calls.Count("AIM.Discretize"))
}

func TestAIM_Outputs(t *testing.T) {
	a := NewFactory(nil)()
	require.NoError(t, a.Initialize(context.Background(), aim.Config{}))
	out, err := a.CalcOutput(context.Background(), OutputScale, aim.Inputs{InputScale: {4}, InputAlpha: {0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, out)

	_, err = a.CalcOutput(context.Background(), OutputLift, aim.Inputs{})
	assert.True(t, errs.Is(err, errs.SourceUnavailable))
}
