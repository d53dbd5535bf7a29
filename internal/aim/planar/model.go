package planar

import (
	"context"
	"sort"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
)

// Scale parameters. A face point at reference (xr, yr) sits at
// (xr*width, yr*height, 0).
const (
	ParamWidth  = "width"
	ParamHeight = "height"
)

// Model is a planar parametric model.
type Model struct {
	name   string
	units  string
	faces  []ir.FaceSpec
	params map[string]float64
	calls  *Calls
}

var _ aim.Modeler = (*Model)(nil)

// NewModel builds a model from a geometry description. The width and
// height parameters default to 1.
func NewModel(name string, spec ir.GeometrySpec, calls *Calls) *Model {
	m := &Model{
		name:   name,
		units:  spec.Units,
		faces:  append([]ir.FaceSpec{}, spec.Faces...),
		params: map[string]float64{ParamWidth: 1, ParamHeight: 1},
		calls:  calls,
	}
	for _, p := range spec.Params {
		m.params[p.Name] = p.Value
	}
	return m
}

// Params lists the parameter names, sorted.
func (m *Model) Params() []string {
	out := make([]string, 0, len(m.params))
	for n := range m.params {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Param returns a parameter value.
func (m *Model) Param(name string) (float64, error) {
	m.calls.add("Modeler.Param")
	v, ok := m.params[name]
	if !ok {
		return 0, errs.New(errs.NotFound, "no geometry parameter %q", name)
	}
	return v, nil
}

// SetParam sets an existing parameter.
func (m *Model) SetParam(name string, v float64) error {
	m.calls.add("Modeler.SetParam")
	if _, ok := m.params[name]; !ok {
		return errs.New(errs.NotFound, "no geometry parameter %q", name)
	}
	m.params[name] = v
	return nil
}

// Rebuild snapshots the current parameters into a Geometry.
func (m *Model) Rebuild(ctx context.Context) (aim.Geometry, error) {
	m.calls.add("Modeler.Rebuild")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Geometry{
		model:  m.name,
		units:  m.units,
		faces:  m.faces,
		width:  m.params[ParamWidth],
		height: m.params[ParamHeight],
		calls:  m.calls,
	}, nil
}

// Sensitivity returns d(point)/d(param). Only width and height move points;
// any other parameter has zero sensitivity.
func (m *Model) Sensitivity(param, face string, uv [2]float64) ([3]float64, error) {
	m.calls.add("Modeler.Sensitivity")
	if _, ok := m.params[param]; !ok {
		return [3]float64{}, errs.New(errs.NotFound, "no geometry parameter %q", param)
	}
	f, err := findFace(m.faces, face)
	if err != nil {
		return [3]float64{}, err
	}
	xr, yr := reference(f, uv)
	switch param {
	case ParamWidth:
		return [3]float64{xr, 0, 0}, nil
	case ParamHeight:
		return [3]float64{0, yr, 0}, nil
	}
	return [3]float64{}, nil
}

// Geometry is a built planar model.
type Geometry struct {
	model         string
	units         string
	faces         []ir.FaceSpec
	width, height float64
	calls         *Calls
}

var _ aim.Geometry = (*Geometry)(nil)

// Faces lists the face entities in declaration order.
func (g *Geometry) Faces() []aim.EntityID {
	out := make([]aim.EntityID, len(g.faces))
	for i, f := range g.faces {
		out[i] = aim.EntityID{Model: g.model, Name: f.Name}
	}
	return out
}

// Tessellate builds an n x n structured grid over a face. Every cell is
// split along the same diagonal.
func (g *Geometry) Tessellate(face string, n int) (*aim.Discretization, error) {
	g.calls.add("Geometry.Tessellate")
	if n < 1 {
		return nil, errs.New(errs.RangeError, "tessellation needs at least one division, got %d", n)
	}
	f, err := findFace(g.faces, face)
	if err != nil {
		return nil, err
	}
	units, err := g.LengthUnits(face)
	if err != nil {
		return nil, err
	}

	d := &aim.Discretization{
		Dim:    2,
		Bodies: []aim.Body{{Entity: aim.EntityID{Model: g.model, Name: face}, Units: units}},
	}
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			uv := [2]float64{float64(i) / float64(n), float64(j) / float64(n)}
			d.Points = append(d.Points, g.point(f, uv))
			d.Params = append(d.Params, uv)
		}
	}
	idx := func(i, j int) int { return j*(n+1) + i }
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a, b, c, e := idx(i, j), idx(i+1, j), idx(i+1, j+1), idx(i, j+1)
			d.Elements = append(d.Elements,
				aim.Element{Body: 0, Nodes: [3]int{a, b, c}},
				aim.Element{Body: 0, Nodes: [3]int{a, c, e}},
			)
		}
	}
	return d, nil
}

// Evaluate maps native (u, v) in [0,1]^2 to a point.
func (g *Geometry) Evaluate(face string, uv [2]float64) ([3]float64, error) {
	g.calls.add("Geometry.Evaluate")
	f, err := findFace(g.faces, face)
	if err != nil {
		return [3]float64{}, err
	}
	return g.point(f, uv), nil
}

// SameEntity reports whether two ids name the same face.
func (g *Geometry) SameEntity(a, b aim.EntityID) bool {
	return a == b
}

// LengthUnits returns the face's units, falling back to the model's.
func (g *Geometry) LengthUnits(face string) (string, error) {
	f, err := findFace(g.faces, face)
	if err != nil {
		return "", err
	}
	if f.Units != "" {
		return f.Units, nil
	}
	return g.units, nil
}

func (g *Geometry) point(f ir.FaceSpec, uv [2]float64) [3]float64 {
	xr, yr := reference(f, uv)
	return [3]float64{xr * g.width, yr * g.height, 0}
}

func reference(f ir.FaceSpec, uv [2]float64) (float64, float64) {
	return f.Min[0] + uv[0]*(f.Max[0]-f.Min[0]), f.Min[1] + uv[1]*(f.Max[1]-f.Min[1])
}

func findFace(faces []ir.FaceSpec, name string) (ir.FaceSpec, error) {
	for _, f := range faces {
		if f.Name == name {
			return f, nil
		}
	}
	return ir.FaceSpec{}, errs.New(errs.NotFound, "no face %q", name)
}
