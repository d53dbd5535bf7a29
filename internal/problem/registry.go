package problem

import (
	"context"
	"slices"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
)

// DataSetConfig declares a field on a vertex set.
type DataSetConfig struct {
	Name   string
	Kind   string
	Rank   int
	Method string
	Units  string
}

// MakeVertexSet adds a discretization to an open bound. A connected vertex
// set is discretized by its analysis when the bound closes; an unconnected
// one (null analysis) carries the given points.
func (p *Problem) MakeVertexSet(ctx context.Context, b entity.Handle, name string, analysis entity.Handle, points [][3]float64) (entity.Handle, error) {
	flat := make([]float64, 0, 3*len(points))
	for _, pt := range points {
		flat = append(flat, pt[:]...)
	}
	inputs := []ir.Arg{ir.StringArg(name), ir.RefArg(refOf(analysis)), ir.ArrayArg(flat)}
	return handleResult(p.call(ctx, journal.OpMakeVertexSet, b, inputs, func() ([]ir.Arg, error) {
		bd, err := p.openBound(b)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, errs.New(errs.EmptyPayload, "vertex set name is required")
		}
		if p.child(bd.VertexSets, name) {
			return nil, errs.New(errs.IllegalState, "%s already has vertex set %q", p.label(b), name)
		}
		vs := &VertexSet{Analysis: analysis, DataSets: []entity.Handle{}}
		if analysis.IsNull() {
			if len(points) == 0 {
				return nil, errs.New(errs.EmptyPayload, "unconnected vertex set %q has no points", name)
			}
			hdr, _ := p.arena.Header(b)
			vs.Disc = &aim.Discretization{
				Bound:  hdr.Name,
				Dim:    bd.Dim,
				Points: slices.Clone(points),
				Params: make([][2]float64, len(points)),
			}
		} else {
			if _, _, err := lookup[*Analysis](p, analysis, entity.KindAnalysis); err != nil {
				return nil, err
			}
			if len(points) > 0 {
				return nil, errs.New(errs.IllegalState, "connected vertex set %q takes its points from %s", name, p.label(analysis))
			}
		}

		h := p.create(entity.KindVertexSet, b, name, vs, "makeVertexSet")
		bd.VertexSets = append(bd.VertexSets, h)
		for _, bi := range []struct {
			name string
			rank int
		}{{BuiltInXYZ, 3}, {BuiltInParamD, bd.Dim}} {
			ds := p.create(entity.KindDataSet, h, bi.name, &DataSet{Kind: ir.KindBuiltIn, Rank: bi.rank}, "makeVertexSet")
			vs.DataSets = append(vs.DataSets, ds)
		}
		p.touch(b, "makeVertexSet")
		return []ir.Arg{ir.RefArg(refOf(h))}, nil
	}))
}

// MakeDataSet declares a field on a vertex set of an open bound.
func (p *Problem) MakeDataSet(ctx context.Context, vsH entity.Handle, cfg DataSetConfig) (entity.Handle, error) {
	inputs := []ir.Arg{
		ir.StringArg(cfg.Name),
		ir.StringArg(cfg.Kind),
		ir.IntArg(int64(cfg.Rank)),
		ir.StringArg(cfg.Method),
		ir.StringArg(cfg.Units),
	}
	return handleResult(p.call(ctx, journal.OpMakeDataSet, vsH, inputs, func() ([]ir.Arg, error) {
		vs, hdr, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
		if err != nil {
			return nil, err
		}
		if _, err := p.openBound(hdr.Parent); err != nil {
			return nil, err
		}
		if err := p.checkDataSet(vs, &cfg); err != nil {
			return nil, err
		}
		if p.child(vs.DataSets, cfg.Name) {
			return nil, errs.New(errs.IllegalState, "%s already has data set %q", p.label(vsH), cfg.Name)
		}
		ds := &DataSet{Kind: cfg.Kind, Rank: cfg.Rank, Method: cfg.Method, Units: cfg.Units}
		h := p.create(entity.KindDataSet, vsH, cfg.Name, ds, "makeDataSet")
		vs.DataSets = append(vs.DataSets, h)
		p.touch(vsH, "makeDataSet")
		return []ir.Arg{ir.RefArg(refOf(h))}, nil
	}))
}

func (p *Problem) checkDataSet(vs *VertexSet, cfg *DataSetConfig) error {
	switch {
	case cfg.Name == "":
		return errs.New(errs.EmptyPayload, "data set name is required")
	case cfg.Name == BuiltInXYZ || cfg.Name == BuiltInParamD:
		return errs.New(errs.IllegalState, "%q is a built-in data set", cfg.Name)
	case !ir.ValidDataSetKinds[cfg.Kind]:
		return errs.New(errs.RangeError, "unknown data set kind %q", cfg.Kind)
	case cfg.Rank < 1:
		return errs.New(errs.RangeError, "data set %q has rank %d", cfg.Name, cfg.Rank)
	}
	switch cfg.Kind {
	case ir.KindFieldIn:
		if cfg.Method == "" {
			cfg.Method = ir.MethodInterpolate
		}
		if cfg.Method != ir.MethodInterpolate && cfg.Method != ir.MethodConserve {
			return errs.New(errs.RangeError, "data set %q: method %q is not a transfer method", cfg.Name, cfg.Method)
		}
	case ir.KindFieldOut:
		if !vs.Connected() {
			return errs.New(errs.IllegalState, "field output %q needs a connected vertex set", cfg.Name)
		}
	case ir.KindGeomSens, ir.KindTessSens:
		if cfg.Rank != 3 {
			return errs.New(errs.RangeError, "sensitivity %q has rank %d, want 3", cfg.Name, cfg.Rank)
		}
	}
	if cfg.Kind != ir.KindFieldIn && cfg.Method != "" {
		return errs.New(errs.RangeError, "data set %q: only field inputs take a method", cfg.Name)
	}
	return nil
}

// LinkDataSet makes a FieldIn data set take its data from a FieldOut or
// User data set on another vertex set of the same bound. Sources never
// link onward, so data set links cannot form a cycle.
func (p *Problem) LinkDataSet(ctx context.Context, target, source entity.Handle) error {
	_, err := p.call(ctx, journal.OpLinkDataSet, target, []ir.Arg{ir.RefArg(refOf(source))}, func() ([]ir.Arg, error) {
		ds, hdr, err := lookup[*DataSet](p, target, entity.KindDataSet)
		if err != nil {
			return nil, err
		}
		src, srcHdr, err := lookup[*DataSet](p, source, entity.KindDataSet)
		if err != nil {
			return nil, err
		}
		if ds.Kind != ir.KindFieldIn {
			return nil, errs.New(errs.IllegalState, "%s is not a field input", p.label(target)).On(p.label(target))
		}
		vsHdr, err := p.arena.Header(hdr.Parent)
		if err != nil {
			return nil, err
		}
		if _, err := p.openBound(vsHdr.Parent); err != nil {
			return nil, err
		}
		srcVS, err := p.arena.Header(srcHdr.Parent)
		if err != nil {
			return nil, err
		}
		switch {
		case src.Kind != ir.KindFieldOut && src.Kind != ir.KindUser:
			return nil, errs.New(errs.IllegalState, "%s is a %s data set, field inputs link to field outputs or user data", p.label(source), src.Kind).On(p.label(target))
		case srcVS.Parent != vsHdr.Parent:
			return nil, errs.New(errs.IllegalState, "%s is on another bound", p.label(source))
		case srcHdr.Parent == hdr.Parent:
			return nil, errs.New(errs.IllegalState, "%s is on the same vertex set", p.label(source))
		case src.Rank != ds.Rank:
			return nil, errs.New(errs.RangeError, "rank %d of %s does not match rank %d", src.Rank, p.label(source), ds.Rank)
		}
		if err := p.unitsCompatible(src.Units, ds.Units); err != nil {
			return nil, err
		}
		ds.Link = source
		ds.Data, ds.Filled = nil, 0
		p.touch(target, "linkDataSet")
		return nil, nil
	})
	return err
}

// SetData stores the data of a User data set on a closed bound.
func (p *Problem) SetData(ctx context.Context, h entity.Handle, data []float64) error {
	_, err := p.call(ctx, journal.OpSetData, h, []ir.Arg{ir.ArrayArg(data)}, func() ([]ir.Arg, error) {
		ds, hdr, err := lookup[*DataSet](p, h, entity.KindDataSet)
		if err != nil {
			return nil, err
		}
		if ds.Kind != ir.KindUser {
			return nil, errs.New(errs.IllegalState, "%s is a %s data set", p.label(h), ds.Kind).On(p.label(h))
		}
		if len(data) == 0 {
			return nil, errs.New(errs.EmptyPayload, "no data for %s", p.label(h))
		}
		vs, vsHdr, err := lookup[*VertexSet](p, hdr.Parent, entity.KindVertexSet)
		if err != nil {
			return nil, err
		}
		bd, _, err := lookup[*Bound](p, vsHdr.Parent, entity.KindBound)
		if err != nil {
			return nil, err
		}
		if bd.State == BoundOpen {
			return nil, errs.New(errs.IllegalState, "%s is open", p.label(vsHdr.Parent))
		}
		n := 0
		if vs.Disc != nil {
			n = len(vs.Disc.Points)
		}
		if len(data) != ds.Rank*n {
			return nil, errs.New(errs.RangeError, "%d values for rank %d over %d points", len(data), ds.Rank, n)
		}
		if err := finite(p.label(h), data...); err != nil {
			return nil, err
		}
		ds.Data = slices.Clone(data)
		ds.Filled = p.touch(h, "setData")
		return nil, nil
	})
	return err
}

// openBound returns a bound that still accepts registry mutations.
func (p *Problem) openBound(h entity.Handle) (*Bound, error) {
	bd, _, err := lookup[*Bound](p, h, entity.KindBound)
	if err != nil {
		return nil, err
	}
	if bd.State != BoundOpen {
		return nil, errs.New(errs.IllegalState, "%s is %s", p.label(h), bd.State).On(p.label(h))
	}
	return bd, nil
}

// child reports whether one of hs is named name.
func (p *Problem) child(hs []entity.Handle, name string) bool {
	return p.find(hs, name) != entity.Null
}

func (p *Problem) find(hs []entity.Handle, name string) entity.Handle {
	for _, h := range hs {
		if hdr, err := p.arena.Header(h); err == nil && hdr.Name == name {
			return h
		}
	}
	return entity.Null
}
