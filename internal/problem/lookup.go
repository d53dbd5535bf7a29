package problem

import (
	"slices"
	"strings"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/quilt"
)

// Introspection by name. None of these is journaled: they read state and
// never advance the clock.

// Analysis returns the named analysis.
func (p *Problem) Analysis(name string) (entity.Handle, error) {
	if h := p.find(p.rootObj().Analyses, name); !h.IsNull() {
		return h, nil
	}
	return entity.Null, errs.New(errs.NotFound, "no analysis %q", name)
}

// Analyses lists the analysis names in creation order.
func (p *Problem) Analyses() []string {
	return p.names(p.rootObj().Analyses)
}

// Input returns an analysis input by name.
func (p *Problem) Input(analysis, name string) (entity.Handle, error) {
	return p.value(analysis, name, false)
}

// Output returns an analysis output by name.
func (p *Problem) Output(analysis, name string) (entity.Handle, error) {
	return p.value(analysis, name, true)
}

func (p *Problem) value(analysis, name string, output bool) (entity.Handle, error) {
	anH, err := p.Analysis(analysis)
	if err != nil {
		return entity.Null, err
	}
	an, _, err := lookup[*Analysis](p, anH, entity.KindAnalysis)
	if err != nil {
		return entity.Null, err
	}
	hs, what := an.Inputs, "input"
	if output {
		hs, what = an.Outputs, "output"
	}
	if h := p.find(hs, name); !h.IsNull() {
		return h, nil
	}
	return entity.Null, errs.New(errs.NotFound, "analysis %q has no %s %q", analysis, what, name)
}

// ValueOf returns a copy of a value's current data without computing it.
func (p *Problem) ValueOf(h entity.Handle) ([]float64, error) {
	v, _, err := lookup[*Value](p, h, entity.KindValue)
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.Data), nil
}

// Bound returns the named bound.
func (p *Problem) Bound(name string) (entity.Handle, error) {
	if h := p.find(p.rootObj().Bounds, name); !h.IsNull() {
		return h, nil
	}
	return entity.Null, errs.New(errs.NotFound, "no bound %q", name)
}

// Bounds lists the bound names in creation order.
func (p *Problem) Bounds() []string {
	return p.names(p.rootObj().Bounds)
}

// BoundState returns a bound's registry state.
func (p *Problem) BoundState(h entity.Handle) (BoundState, error) {
	bd, _, err := lookup[*Bound](p, h, entity.KindBound)
	if err != nil {
		return "", err
	}
	return bd.State, nil
}

// QuiltFit returns the quilt fitted over a Multiple bound, or nil.
func (p *Problem) QuiltFit(h entity.Handle) (*quilt.Fit, error) {
	bd, _, err := lookup[*Bound](p, h, entity.KindBound)
	if err != nil {
		return nil, err
	}
	return bd.Quilt, nil
}

// VertexSet returns a vertex set of a bound by name.
func (p *Problem) VertexSet(bound, name string) (entity.Handle, error) {
	bH, err := p.Bound(bound)
	if err != nil {
		return entity.Null, err
	}
	bd, _, err := lookup[*Bound](p, bH, entity.KindBound)
	if err != nil {
		return entity.Null, err
	}
	if h := p.find(bd.VertexSets, name); !h.IsNull() {
		return h, nil
	}
	return entity.Null, errs.New(errs.NotFound, "bound %q has no vertex set %q", bound, name)
}

// DataSet resolves "bound.vertexset.dataset".
func (p *Problem) DataSet(path string) (entity.Handle, error) {
	parts := strings.Split(path, ".")
	if len(parts) != 3 {
		return entity.Null, errs.New(errs.RangeError, "data set path %q is not bound.vertexset.dataset", path)
	}
	vsH, err := p.VertexSet(parts[0], parts[1])
	if err != nil {
		return entity.Null, err
	}
	vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
	if err != nil {
		return entity.Null, err
	}
	if h := p.find(vs.DataSets, parts[2]); !h.IsNull() {
		return h, nil
	}
	return entity.Null, errs.New(errs.NotFound, "no data set %q", path)
}

// NumPoints returns the number of points of a vertex set, 0 before its
// bound is closed.
func (p *Problem) NumPoints(h entity.Handle) (int, error) {
	vs, _, err := lookup[*VertexSet](p, h, entity.KindVertexSet)
	if err != nil {
		return 0, err
	}
	if vs.Disc == nil {
		return 0, nil
	}
	return len(vs.Disc.Points), nil
}

func (p *Problem) names(hs []entity.Handle) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, p.name(h))
	}
	return out
}
