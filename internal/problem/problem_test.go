package problem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/aim/planar"
	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
	"github.com/roach88/caps/internal/testutil"
)

// fixture is a problem with counting collaborators.
type fixture struct {
	*Problem
	planar *testutil.Planar
	log    *journal.MemoryLog
}

func newFixture(t *testing.T, spec *ir.ProblemSpec, opts ...Option) *fixture {
	t.Helper()
	pl := testutil.NewPlanar(spec)
	log := journal.NewMemoryLog()
	base := []Option{
		WithLog(log),
		WithRegistry(pl.Registry),
		WithModeler(pl.Modeler),
		WithProvenance(testutil.NewFixedProvenance()),
		WithSessionIDs(testutil.NewFixedSessionGenerator("")),
	}
	p, err := New(context.Background(), spec, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return &fixture{Problem: p, planar: pl, log: log}
}

// loaded returns the plate fixture with its description loaded.
func loaded(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, testutil.PlateSpec())
	require.NoError(t, f.Load(context.Background()))
	return f
}

func (f *fixture) analysis(t *testing.T, name string) entity.Handle {
	t.Helper()
	h, err := f.Analysis(name)
	require.NoError(t, err)
	return h
}

func (f *fixture) input(t *testing.T, an, name string) entity.Handle {
	t.Helper()
	h, err := f.Input(an, name)
	require.NoError(t, err)
	return h
}

func (f *fixture) output(t *testing.T, an, name string) entity.Handle {
	t.Helper()
	h, err := f.Output(an, name)
	require.NoError(t, err)
	return h
}

func (f *fixture) dataSet(t *testing.T, path string) entity.Handle {
	t.Helper()
	h, err := f.DataSet(path)
	require.NoError(t, err)
	return h
}

func (f *fixture) status(t *testing.T, name string) Status {
	t.Helper()
	st, err := f.AnalysisStatus(context.Background(), f.analysis(t, name))
	require.NoError(t, err)
	return st
}

// headers snapshots every live entity header by handle.
func (f *fixture) headers() map[entity.Handle]entity.Header {
	out := make(map[entity.Handle]entity.Header)
	f.Each(func(h entity.Handle, hdr entity.Header) bool {
		out[h] = hdr
		return true
	})
	return out
}

// assertStampsBounded checks that no entity carries a stamp newer than the
// clock.
func assertStampsBounded(t *testing.T, p *Problem) {
	t.Helper()
	now := p.SNum()
	p.Each(func(h entity.Handle, hdr entity.Header) bool {
		assert.LessOrEqual(t, hdr.Last.SNum, now, "%s %s", h, hdr.Label())
		return true
	})
}

func TestNew_RejectsNilSpec(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.True(t, errs.Is(err, errs.NullReference))
}

func TestNew_DefaultsToPlanarCollaborators(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, testutil.PlateSpec())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Load(ctx))
	assert.Equal(t, []string{testutil.Aero, testutil.Struct}, p.Analyses())
	assert.Equal(t, []string{testutil.Surface}, p.Bounds())
	assert.Equal(t, journal.ModeLive, p.Session().Mode())

	w, err := p.GeometryParam(planar.ParamWidth)
	require.NoError(t, err)
	assert.Equal(t, 2.0, w)
}

func TestLoad_BuildsGraph(t *testing.T) {
	f := loaded(t)

	scale := f.input(t, testutil.Struct, planar.InputScale)
	v, _, err := lookup[*Value](f.Problem, scale, entity.KindValue)
	require.NoError(t, err)
	assert.Equal(t, f.output(t, testutil.Aero, planar.OutputScale), v.Link)

	alpha, err := f.ValueOf(f.input(t, testutil.Aero, planar.InputAlpha))
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, alpha)

	b, err := f.Bound(testutil.Surface)
	require.NoError(t, err)
	st, err := f.BoundState(b)
	require.NoError(t, err)
	assert.Equal(t, BoundSingle, st, "both analyses discretize the same face")

	for name, want := range map[string]int{testutil.Aero: 25, testutil.Struct: 16} {
		vs, err := f.VertexSet(testutil.Surface, name)
		require.NoError(t, err)
		n, err := f.NumPoints(vs)
		require.NoError(t, err)
		assert.Equal(t, want, n, name)
	}
	assert.Equal(t, 2, f.planar.Calls.Count("AIM.Initialize"))
	assert.Equal(t, 2, f.planar.Calls.Count("AIM.Discretize"))
}

// Every operation takes at most one serial number, and no entity is ever
// stamped ahead of the clock.
func TestClock_MonotonicAndBoundsStamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testutil.PlateSpec())
	assert.Equal(t, int64(0), f.SNum())

	require.NoError(t, f.Load(ctx))
	assertStampsBounded(t, f.Problem)
	prev := f.SNum()
	assert.Positive(t, prev)
	step := func(err error) {
		t.Helper()
		require.NoError(t, err)
		now := f.SNum()
		assert.GreaterOrEqual(t, now, prev)
		assert.LessOrEqual(t, now-prev, int64(1), "one tick per operation")
		assertStampsBounded(t, f.Problem)
		prev = now
	}

	aero := f.analysis(t, testutil.Aero)
	step(f.PreAnalysis(ctx, aero))
	step(f.Execute(ctx, aero))
	step(f.PostAnalysis(ctx, aero))
	_, err := f.GetOutput(ctx, f.output(t, testutil.Aero, planar.OutputLift))
	step(err)
	step(f.SetValue(ctx, f.input(t, testutil.Aero, planar.InputAlpha), []float64{4}))
	step(f.SetGeometryParam(ctx, planar.ParamWidth, 3))
	_, err = f.Sync(ctx)
	step(err)
	_, _, err = f.GetData(ctx, f.dataSet(t, "surface.struct.pressure"))
	step(err)
}

func TestClose_InvalidatesHandles(t *testing.T) {
	ctx := context.Background()
	f := loaded(t)
	aero := f.analysis(t, testutil.Aero)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "idempotent")

	_, err := f.Header(aero)
	assert.True(t, errs.Is(err, errs.InvalidHandle))
	assert.True(t, errs.Is(f.PreAnalysis(ctx, aero), errs.IllegalState))
}

func TestSetValue_Validation(t *testing.T) {
	ctx := context.Background()
	f := loaded(t)

	err := f.SetValue(ctx, f.output(t, testutil.Aero, planar.OutputLift), []float64{1})
	assert.True(t, errs.Is(err, errs.IllegalState), "outputs are read-only")

	err = f.SetValue(ctx, f.input(t, testutil.Struct, planar.InputScale), []float64{1})
	assert.True(t, errs.Is(err, errs.IllegalState), "linked inputs are read-only")

	err = f.SetValue(ctx, f.input(t, testutil.Aero, planar.InputScale), nil)
	assert.True(t, errs.Is(err, errs.EmptyPayload))

	err = f.SetValue(ctx, f.analysis(t, testutil.Aero), []float64{1})
	assert.True(t, errs.Is(err, errs.WrongKind))
}

func TestMakeAnalysis_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testutil.PlateSpec())

	_, err := f.MakeAnalysis(ctx, AnalysisConfig{AIM: planar.Name})
	assert.True(t, errs.Is(err, errs.EmptyPayload))

	_, err = f.MakeAnalysis(ctx, AnalysisConfig{Name: "a", AIM: "nope"})
	assert.True(t, errs.Is(err, errs.NotFound))

	_, err = f.MakeAnalysis(ctx, AnalysisConfig{Name: "a", AIM: planar.Name, Mode: "sometimes"})
	assert.True(t, errs.Is(err, errs.RangeError))

	_, err = f.MakeAnalysis(ctx, AnalysisConfig{Name: "a", AIM: planar.Name})
	require.NoError(t, err)
	_, err = f.MakeAnalysis(ctx, AnalysisConfig{Name: "a", AIM: planar.Name})
	assert.True(t, errs.Is(err, errs.IllegalState))
}

func TestGetOutput_ManualNeedsPre(t *testing.T) {
	ctx := context.Background()
	f := loaded(t)
	lift := f.output(t, testutil.Aero, planar.OutputLift)

	_, err := f.GetOutput(ctx, lift)
	require.True(t, errs.Is(err, errs.StillDirty))
	diags := f.Diagnostics()
	require.NotEmpty(t, diags)
	assert.Equal(t, errs.StillDirty, diags[0].Code)

	require.NoError(t, f.PreAnalysis(ctx, f.analysis(t, testutil.Aero)))
	got, err := f.GetOutput(ctx, lift)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 2*3.141592653589793*2*3.141592653589793/180, got[0], 1e-12)

	calls := f.planar.Calls.Count("AIM.CalcOutput")
	_, err = f.GetOutput(ctx, lift)
	require.NoError(t, err)
	assert.Equal(t, calls, f.planar.Calls.Count("AIM.CalcOutput"), "cached output is not recomputed")
}

func TestGetOutput_AutoBringsItselfUp(t *testing.T) {
	ctx := context.Background()
	f := loaded(t)
	require.NoError(t, f.PreAnalysis(ctx, f.analysis(t, testutil.Aero)))

	got, err := f.GetOutput(ctx, f.output(t, testutil.Struct, planar.OutputScale))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, got, "struct takes Scale from aero")
	assert.Equal(t, Clean, f.status(t, testutil.Struct))
	assert.Equal(t, 1, f.planar.Calls.Count("AIM.Execute"), "struct executed during pre-analysis")
}

func TestLinkValue_CopiesAndUnlinks(t *testing.T) {
	ctx := context.Background()
	f := loaded(t)
	alpha := f.input(t, testutil.Struct, planar.InputAlpha)
	require.NoError(t, f.LinkValue(ctx, alpha, f.input(t, testutil.Aero, planar.InputAlpha), ""))
	require.NoError(t, f.PreAnalysis(ctx, f.analysis(t, testutil.Aero)))
	require.NoError(t, f.PreAnalysis(ctx, f.analysis(t, testutil.Struct)))

	got, err := f.ValueOf(alpha)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, got)

	err = f.LinkValue(ctx, alpha, f.input(t, testutil.Aero, planar.InputAlpha), ir.MethodInterpolate)
	assert.True(t, errs.Is(err, errs.RangeError), "values link by copy only")

	require.NoError(t, f.UnlinkValue(ctx, alpha))
	assert.True(t, errs.Is(f.UnlinkValue(ctx, alpha), errs.SourceUnavailable))
	got, err = f.ValueOf(alpha)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, got, "unlinking keeps the last resolved data")
}

func TestGeometrySensitivity(t *testing.T) {
	ctx := context.Background()
	f := loaded(t)

	_, err := f.GeometrySensitivity(ctx, planar.ParamWidth, testutil.Wing, [2]float64{0.5, 0.5})
	assert.True(t, errs.Is(err, errs.NotFound), "not registered")

	assert.True(t, errs.Is(f.RegisterSensitivity(ctx, "span"), errs.NotFound))
	require.NoError(t, f.RegisterSensitivity(ctx, planar.ParamWidth))
	require.NoError(t, f.RegisterSensitivity(ctx, planar.ParamWidth), "idempotent")

	v, err := f.GeometrySensitivity(ctx, planar.ParamWidth, testutil.Wing, [2]float64{0.25, 0.5})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.25, 0, 0}, v)

	assert.True(t, errs.Is(f.SetGeometryParam(ctx, "span", 1), errs.NotFound))
}
