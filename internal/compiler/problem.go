package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/caps/internal/ir"
)

// CompileProblem parses a CUE value into a ProblemSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the problem struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`problem: plate: { ... }`)
//	spec, err := CompileProblem(v.LookupPath(cue.ParsePath("problem.plate")))
//
// Struct fields keep their declaration order, which becomes the creation
// order of analyses, bounds and vertex sets.
func CompileProblem(v cue.Value) (*ir.ProblemSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ProblemSpec{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		// The name may be quoted in CUE, extract it
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	geomVal := v.LookupPath(cue.ParsePath("geometry"))
	if !geomVal.Exists() {
		return nil, &CompileError{
			Field:   "geometry",
			Message: "geometry is required",
			Pos:     v.Pos(),
		}
	}
	var err error
	if spec.Geometry, err = parseGeometry(geomVal); err != nil {
		return nil, err
	}

	if spec.Analyses, err = parseAnalyses(v); err != nil {
		return nil, err
	}
	if len(spec.Analyses) == 0 {
		return nil, &CompileError{
			Field:   "analysis",
			Message: "at least one analysis is required",
			Pos:     v.Pos(),
		}
	}

	if spec.Bounds, err = parseBounds(v); err != nil {
		return nil, err
	}

	linkVal := v.LookupPath(cue.ParsePath("link"))
	if linkVal.Exists() {
		if spec.Links, err = CompileLinks(linkVal); err != nil {
			return nil, err
		}
	}

	return spec, nil
}

// parseGeometry extracts units, design parameters and faces.
func parseGeometry(v cue.Value) (ir.GeometrySpec, error) {
	var g ir.GeometrySpec
	var err error

	if g.Units, err = optString(v, "units"); err != nil {
		return g, err
	}

	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if paramsVal.Exists() {
		iter, err := paramsVal.Fields()
		if err != nil {
			return g, formatCUEError(err)
		}
		for iter.Next() {
			x, err := iter.Value().Float64()
			if err != nil {
				return g, &CompileError{
					Field:   "geometry.params." + iter.Label(),
					Message: "design parameter must be a number",
					Pos:     iter.Value().Pos(),
				}
			}
			g.Params = append(g.Params, ir.ParamSpec{Name: iter.Label(), Value: x})
		}
	}

	facesVal := v.LookupPath(cue.ParsePath("faces"))
	if !facesVal.Exists() {
		return g, &CompileError{
			Field:   "geometry.faces",
			Message: "at least one face is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := facesVal.Fields()
	if err != nil {
		return g, formatCUEError(err)
	}
	for iter.Next() {
		face, err := parseFace(iter.Label(), iter.Value())
		if err != nil {
			return g, err
		}
		g.Faces = append(g.Faces, face)
	}

	if g.Sensitivities, err = optStrings(v, "sensitivities"); err != nil {
		return g, err
	}
	return g, nil
}

func parseFace(name string, v cue.Value) (ir.FaceSpec, error) {
	face := ir.FaceSpec{Name: name}
	var err error
	if face.Units, err = optString(v, "units"); err != nil {
		return face, err
	}
	for _, corner := range []struct {
		field string
		dst   *[2]float64
	}{{"min", &face.Min}, {"max", &face.Max}} {
		xs, err := reals(v.LookupPath(cue.ParsePath(corner.field)))
		if err != nil {
			return face, err
		}
		if len(xs) != 2 {
			return face, &CompileError{
				Field:   fmt.Sprintf("geometry.faces.%s.%s", name, corner.field),
				Message: "face corners are [u, v] pairs",
				Pos:     v.Pos(),
			}
		}
		copy(corner.dst[:], xs)
	}
	return face, nil
}

// parseAnalyses extracts analysis declarations.
func parseAnalyses(v cue.Value) ([]ir.AnalysisSpec, error) {
	var analyses []ir.AnalysisSpec

	analysisVal := v.LookupPath(cue.ParsePath("analysis"))
	if !analysisVal.Exists() {
		return analyses, nil
	}

	iter, err := analysisVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		av := iter.Value()
		an := ir.AnalysisSpec{Name: name, Mode: ir.ModeManual}

		aimVal := av.LookupPath(cue.ParsePath("aim"))
		if !aimVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("analysis.%s.aim", name),
				Message: "analysis aim is required",
				Pos:     av.Pos(),
			}
		}
		if an.AIM, err = aimVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		mode, err := optString(av, "mode")
		if err != nil {
			return nil, err
		}
		if mode != "" {
			an.Mode = mode
		}

		resVal := av.LookupPath(cue.ParsePath("resolution"))
		if resVal.Exists() {
			n, err := resVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			an.Resolution = int(n)
		}

		// Exports map a bound name to the faces discretized for it.
		exportsVal := av.LookupPath(cue.ParsePath("exports"))
		if exportsVal.Exists() {
			eIter, err := exportsVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for eIter.Next() {
				faces, err := stringList(eIter.Value())
				if err != nil {
					return nil, err
				}
				an.Exports = append(an.Exports, ir.ExportSpec{Bound: eIter.Label(), Faces: faces})
			}
		}

		// Inputs accept a scalar or a list of numbers.
		inputsVal := av.LookupPath(cue.ParsePath("inputs"))
		if inputsVal.Exists() {
			inIter, err := inputsVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for inIter.Next() {
				xs, err := reals(inIter.Value())
				if err != nil {
					return nil, err
				}
				an.Inputs = append(an.Inputs, ir.InputSpec{Name: inIter.Label(), Value: xs})
			}
		}

		analyses = append(analyses, an)
	}

	return analyses, nil
}

// parseBounds extracts bound declarations with their vertex and data sets.
func parseBounds(v cue.Value) ([]ir.BoundSpec, error) {
	var bounds []ir.BoundSpec

	boundVal := v.LookupPath(cue.ParsePath("bound"))
	if !boundVal.Exists() {
		return bounds, nil
	}

	iter, err := boundVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		bv := iter.Value()
		b := ir.BoundSpec{Name: name, Dim: 2}

		dimVal := bv.LookupPath(cue.ParsePath("dim"))
		if dimVal.Exists() {
			n, err := dimVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			b.Dim = int(n)
		}

		vsVal := bv.LookupPath(cue.ParsePath("vertex_set"))
		if vsVal.Exists() {
			vsIter, err := vsVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for vsIter.Next() {
				vs, err := parseVertexSet(name, vsIter.Label(), vsIter.Value())
				if err != nil {
					return nil, err
				}
				b.VertexSets = append(b.VertexSets, vs)
			}
		}

		bounds = append(bounds, b)
	}

	return bounds, nil
}

func parseVertexSet(bound, name string, v cue.Value) (ir.VertexSetSpec, error) {
	vs := ir.VertexSetSpec{Name: name}
	var err error
	if vs.Analysis, err = optString(v, "analysis"); err != nil {
		return vs, err
	}

	pointsVal := v.LookupPath(cue.ParsePath("points"))
	if pointsVal.Exists() {
		pIter, err := pointsVal.List()
		if err != nil {
			return vs, formatCUEError(err)
		}
		for pIter.Next() {
			xs, err := reals(pIter.Value())
			if err != nil {
				return vs, err
			}
			if len(xs) != 3 {
				return vs, &CompileError{
					Field:   fmt.Sprintf("bound.%s.vertex_set.%s.points", bound, name),
					Message: "points are [x, y, z] triples",
					Pos:     pIter.Value().Pos(),
				}
			}
			vs.Points = append(vs.Points, [3]float64{xs[0], xs[1], xs[2]})
		}
	}

	dsVal := v.LookupPath(cue.ParsePath("data_set"))
	if !dsVal.Exists() {
		return vs, nil
	}
	dsIter, err := dsVal.Fields()
	if err != nil {
		return vs, formatCUEError(err)
	}
	for dsIter.Next() {
		dv := dsIter.Value()
		ds := ir.DataSetSpec{Name: dsIter.Label(), Rank: 1}

		kindVal := dv.LookupPath(cue.ParsePath("kind"))
		if !kindVal.Exists() {
			return vs, &CompileError{
				Field:   fmt.Sprintf("bound.%s.vertex_set.%s.data_set.%s.kind", bound, name, ds.Name),
				Message: "data set kind is required",
				Pos:     dv.Pos(),
			}
		}
		if ds.Kind, err = kindVal.String(); err != nil {
			return vs, formatCUEError(err)
		}

		rankVal := dv.LookupPath(cue.ParsePath("rank"))
		if rankVal.Exists() {
			n, err := rankVal.Int64()
			if err != nil {
				return vs, formatCUEError(err)
			}
			ds.Rank = int(n)
		}
		for _, f := range []struct {
			field string
			dst   *string
		}{{"method", &ds.Method}, {"source", &ds.Source}, {"units", &ds.Units}} {
			if *f.dst, err = optString(dv, f.field); err != nil {
				return vs, err
			}
		}
		vs.DataSets = append(vs.DataSets, ds)
	}
	return vs, nil
}

// reals reads a number or a list of numbers.
func reals(v cue.Value) ([]float64, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "value", Message: "number or list of numbers is required", Pos: v.Pos()}
	}
	if x, err := v.Float64(); err == nil {
		return []float64{x}, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "value", Message: "must be a number or a list of numbers", Pos: v.Pos()}
	}
	var out []float64
	for iter.Next() {
		x, err := iter.Value().Float64()
		if err != nil {
			return nil, &CompileError{Field: "value", Message: "list elements must be numbers", Pos: iter.Value().Pos()}
		}
		out = append(out, x)
	}
	return out, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	return stringList(fv)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
