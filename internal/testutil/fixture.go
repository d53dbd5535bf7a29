// Package testutil provides deterministic collaborators and fixture
// problems shared by the caps test suites.
package testutil

import (
	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/aim/planar"
	"github.com/roach88/caps/internal/ir"
)

// Fixture names used by PlateSpec.
const (
	Aero    = "aero"
	Struct  = "struct"
	Surface = "surface"
	Wing    = "wing"
	Skin    = "skin"
)

// PlateSpec returns a two-analysis plate problem: a Manual "aero" analysis
// and an Auto "struct" analysis that both discretize the "wing" face for
// the "surface" bound. struct takes aero's pressure field through a
// FieldIn data set and its Scale input from aero's ScaleOut output.
//
// The geometry holds two coincident faces, "wing" and "skin"; they cover
// the same region but are different entities.
func PlateSpec() *ir.ProblemSpec {
	return &ir.ProblemSpec{
		Name: "plate",
		Geometry: ir.GeometrySpec{
			Units: "m",
			Params: []ir.ParamSpec{
				{Name: planar.ParamWidth, Value: 2},
				{Name: planar.ParamHeight, Value: 1},
			},
			Faces: []ir.FaceSpec{
				{Name: Wing, Min: [2]float64{0, 0}, Max: [2]float64{1, 1}},
				{Name: Skin, Min: [2]float64{0, 0}, Max: [2]float64{1, 1}},
			},
		},
		Analyses: []ir.AnalysisSpec{
			{
				Name:       Aero,
				AIM:        planar.Name,
				Mode:       ir.ModeManual,
				Resolution: 4,
				Exports:    []ir.ExportSpec{{Bound: Surface, Faces: []string{Wing}}},
				Inputs:     []ir.InputSpec{{Name: planar.InputAlpha, Value: []float64{2}}},
			},
			{
				Name:       Struct,
				AIM:        planar.Name,
				Mode:       ir.ModeAuto,
				Resolution: 3,
				Exports:    []ir.ExportSpec{{Bound: Surface, Faces: []string{Wing}}},
			},
		},
		Bounds: []ir.BoundSpec{{
			Name: Surface,
			Dim:  2,
			VertexSets: []ir.VertexSetSpec{
				{
					Name:     Aero,
					Analysis: Aero,
					DataSets: []ir.DataSetSpec{
						{Name: planar.FieldPressure, Kind: ir.KindFieldOut, Rank: 1},
					},
				},
				{
					Name:     Struct,
					Analysis: Struct,
					DataSets: []ir.DataSetSpec{
						{Name: planar.FieldPressure, Kind: ir.KindFieldIn, Rank: 1, Method: ir.MethodInterpolate, Source: Aero + "." + planar.FieldPressure},
					},
				},
			},
		}},
		Links: []ir.LinkSpec{{Target: Struct + "." + planar.InputScale, Source: Aero + "." + planar.OutputScale}},
	}
}

// QuiltSpec returns PlateSpec with struct discretizing the "skin" face, so
// the bound spans two entities and is fitted with a quilt.
func QuiltSpec() *ir.ProblemSpec {
	spec := PlateSpec()
	spec.Name = "plate-quilt"
	spec.Analyses[1].Exports = []ir.ExportSpec{{Bound: Surface, Faces: []string{Skin}}}
	return spec
}

// Planar bundles planar collaborators that count their calls into one
// shared counter.
type Planar struct {
	Calls    *planar.Calls
	Registry *aim.Registry
	Modeler  *planar.Model
}

// NewPlanar creates counting collaborators for a problem description.
func NewPlanar(spec *ir.ProblemSpec) *Planar {
	calls := planar.NewCalls()
	reg := aim.NewRegistry()
	planar.Register(reg, calls)
	return &Planar{
		Calls:    calls,
		Registry: reg,
		Modeler:  planar.NewModel(spec.Name, spec.Geometry, calls),
	}
}
