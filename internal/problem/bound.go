package problem

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
	"github.com/roach88/caps/internal/metrics"
	"github.com/roach88/caps/internal/quilt"
)

// Built-in data sets created on every vertex set.
const (
	BuiltInXYZ    = "xyz"
	BuiltInParamD = "paramd"
)

// MakeBound creates an open coupling surface of dimension 1, 2 or 3.
func (p *Problem) MakeBound(ctx context.Context, name string, dim int) (entity.Handle, error) {
	inputs := []ir.Arg{ir.StringArg(name), ir.IntArg(int64(dim))}
	return handleResult(p.call(ctx, journal.OpMakeBound, p.root, inputs, func() ([]ir.Arg, error) {
		if name == "" {
			return nil, errs.New(errs.EmptyPayload, "bound name is required")
		}
		if dim < 1 || dim > 3 {
			return nil, errs.New(errs.RangeError, "bound dimension %d outside 1..3", dim)
		}
		if _, err := p.Bound(name); err == nil {
			return nil, errs.New(errs.IllegalState, "bound %q already exists", name)
		}
		h := p.create(entity.KindBound, p.root, name, &Bound{Dim: dim, State: BoundOpen, VertexSets: []entity.Handle{}}, "makeBound")
		root := p.rootObj()
		root.Bounds = append(root.Bounds, h)
		p.touch(p.root, "makeBound")
		metrics.BoundTransitions.WithLabelValues(string(BoundOpen)).Inc()
		return []ir.Arg{ir.RefArg(refOf(h))}, nil
	}))
}

// CloseBound discretizes every connected vertex set and classifies the
// bound. Every FieldIn data set must already be linked.
func (p *Problem) CloseBound(ctx context.Context, h entity.Handle) error {
	_, err := p.call(ctx, journal.OpCloseBound, h, nil, func() ([]ir.Arg, error) {
		bd, _, err := lookup[*Bound](p, h, entity.KindBound)
		if err != nil {
			return nil, err
		}
		if bd.State != BoundOpen {
			return nil, errs.New(errs.IllegalState, "%s is already %s", p.label(h), bd.State).On(p.label(h))
		}
		if err := p.requireLinks(h, bd); err != nil {
			return nil, err
		}
		lay, err := p.discretize(ctx, h, bd)
		if err != nil {
			return nil, err
		}
		return nil, p.commit(h, bd, lay, "closeBound")
	})
	return err
}

// RebuildBound re-discretizes a closed bound after a geometry change.
func (p *Problem) RebuildBound(ctx context.Context, h entity.Handle) error {
	_, err := p.call(ctx, journal.OpRebuildBound, h, nil, func() ([]ir.Arg, error) {
		bd, _, err := lookup[*Bound](p, h, entity.KindBound)
		if err != nil {
			return nil, err
		}
		if bd.State == BoundOpen {
			return nil, errs.New(errs.IllegalState, "%s is open", p.label(h)).On(p.label(h))
		}
		return nil, p.rebuild(ctx, h, bd)
	})
	return err
}

// DestroyBound tears a bound down with its vertex sets and data sets.
// Links into its data sets are left dangling and fail on resolution.
func (p *Problem) DestroyBound(ctx context.Context, h entity.Handle) error {
	_, err := p.call(ctx, journal.OpDestroyBound, h, nil, func() ([]ir.Arg, error) {
		bd, _, err := lookup[*Bound](p, h, entity.KindBound)
		if err != nil {
			return nil, err
		}
		for _, vsH := range bd.VertexSets {
			if vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet); err == nil {
				for _, dsH := range vs.DataSets {
					_ = p.arena.Destroy(dsH)
				}
			}
			_ = p.arena.Destroy(vsH)
		}
		_ = p.arena.Destroy(h)
		root := p.rootObj()
		root.Bounds = slices.DeleteFunc(root.Bounds, func(b entity.Handle) bool { return b == h })
		p.touch(p.root, "destroyBound")
		return nil, nil
	})
	return err
}

func (p *Problem) requireLinks(h entity.Handle, bd *Bound) error {
	var missing []string
	for _, vsH := range bd.VertexSets {
		vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
		if err != nil {
			return err
		}
		for _, dsH := range vs.DataSets {
			ds, _, err := lookup[*DataSet](p, dsH, entity.KindDataSet)
			if err != nil {
				return err
			}
			if ds.Kind == ir.KindFieldIn && ds.Link.IsNull() {
				missing = append(missing, fmt.Sprintf("%s on %s has no link", p.label(dsH), p.label(vsH)))
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	label := p.label(h)
	p.diags.Add(errs.SourceUnavailable, label, missing...)
	return errs.New(errs.SourceUnavailable, "%s has %d unlinked FieldIn data sets", label, len(missing)).
		On(label).With(missing...)
}

// layout is a staged discretization of a bound, committed only when the
// whole classification succeeded.
type layout struct {
	discs      []*aim.Discretization
	state      BoundState
	fit        *quilt.Fit
	members    []entity.Handle
	quiltError string
}

func (p *Problem) discretize(ctx context.Context, h entity.Handle, bd *Bound) (*layout, error) {
	hdr, err := p.arena.Header(h)
	if err != nil {
		return nil, err
	}
	lay := &layout{discs: make([]*aim.Discretization, len(bd.VertexSets))}
	var geom aim.Geometry
	var memberIdx []int

	for i, vsH := range bd.VertexSets {
		vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
		if err != nil {
			return nil, err
		}
		if !vs.Connected() {
			lay.discs[i] = vs.Disc
			continue
		}
		if geom == nil {
			if geom, err = p.geometry(ctx); err != nil {
				return nil, err
			}
		}
		inst, err := p.instance(ctx, vs.Analysis)
		if err != nil {
			return nil, err
		}
		d, err := inst.Discretize(ctx, geom, hdr.Name)
		if err != nil {
			return nil, collaborator(err, "discretize %s for %s", p.label(vsH), hdr.Name)
		}
		if d == nil {
			d = &aim.Discretization{}
		}
		d.Bound = hdr.Name
		if d.Dim == 0 {
			d.Dim = bd.Dim
		}
		if err := d.Validate(); err != nil {
			return nil, errs.Wrap(errs.RangeError, err, "discretization of %s", p.label(vsH))
		}
		lay.discs[i] = d
		if len(d.Elements) > 0 {
			memberIdx = append(memberIdx, i)
		}
	}

	var ents []aim.EntityID
	var bodies []aim.Body
	for _, i := range memberIdx {
		bodies = append(bodies, lay.discs[i].Bodies...)
		for _, e := range lay.discs[i].Entities() {
			if !slices.ContainsFunc(ents, func(o aim.EntityID) bool { return geom.SameEntity(o, e) }) {
				ents = append(ents, e)
			}
		}
	}

	switch {
	case len(ents) == 0:
		lay.state = BoundEmpty
	case len(ents) == 1:
		lay.state = BoundSingle
	default:
		if err := p.bodyUnits(geom, bodies); err != nil {
			return nil, errs.Wrap(errs.UnitMismatch, err, "%s spans entities in incompatible units", p.label(h)).On(p.label(h))
		}
		members := make([]*aim.Discretization, len(memberIdx))
		for k, i := range memberIdx {
			members[k] = lay.discs[i]
			lay.members = append(lay.members, bd.VertexSets[i])
		}
		fit, err := quilt.Build(members, p.quilt)
		if err != nil {
			lay.state = BoundMultipleError
			lay.quiltError = err.Error()
			lay.members = nil
			p.diags.AddError(err)
		} else {
			lay.state = BoundMultiple
			lay.fit = fit
		}
	}
	return lay, nil
}

func (p *Problem) bodyUnits(geom aim.Geometry, bodies []aim.Body) error {
	var first string
	for _, b := range bodies {
		u := b.Units
		if u == "" && geom != nil {
			var err error
			if u, err = geom.LengthUnits(b.Entity.Name); err != nil {
				return collaborator(err, "units of %s", b.Entity)
			}
		}
		if u == "" {
			continue
		}
		if first == "" {
			first = u
			continue
		}
		if err := p.unitsCompatible(first, u); err != nil {
			return err
		}
	}
	return nil
}

// commit installs a staged layout: discretizations, classification and
// built-in data. Derived field data is invalidated.
func (p *Problem) commit(h entity.Handle, bd *Bound, lay *layout, phase string) error {
	s := p.touch(h, phase)
	from := bd.State
	bd.State = lay.state
	bd.Quilt = lay.fit
	bd.QuiltMembers = lay.members
	bd.QuiltError = lay.quiltError
	bd.GeomSNum = p.rootObj().GeomSNum

	for i, vsH := range bd.VertexSets {
		vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
		if err != nil {
			return err
		}
		vs.Disc = lay.discs[i]
		p.arena.Mark(vsH)
		n := 0
		if vs.Disc != nil {
			n = len(vs.Disc.Points)
		}
		space := p.space(bd, vsH, vs)
		for _, dsH := range vs.DataSets {
			ds, hdr, err := lookup[*DataSet](p, dsH, entity.KindDataSet)
			if err != nil {
				return err
			}
			switch ds.Kind {
			case ir.KindUser:
				if len(ds.Data) == ds.Rank*n {
					continue
				}
				ds.Data, ds.Filled = nil, 0
			case ir.KindBuiltIn:
				ds.Data = builtin(hdr.Name, ds.Rank, vs.Disc, space)
				ds.Filled = s
			case ir.KindGeomSens, ir.KindTessSens:
				ds.Data, ds.Filled = nil, 0
			default:
				// Field data is stamped by its producer, not the layout.
				ds.Data, ds.Filled = nil, 0
				p.arena.Mark(dsH)
				continue
			}
			p.touch(dsH, phase)
		}
	}

	metrics.BoundTransitions.WithLabelValues(string(bd.State)).Inc()
	attrs := []any{"bound", p.label(h), "from", from, "to", bd.State}
	if bd.Quilt != nil {
		attrs = append(attrs, "rms", bd.Quilt.RMS, "cells", bd.Quilt.Cells)
	}
	p.logger.Info("bound classified", attrs...)
	return nil
}

func builtin(name string, rank int, d *aim.Discretization, space [][3]float64) []float64 {
	if d == nil {
		return nil
	}
	src := d.Points
	if name == BuiltInParamD {
		src = space
	}
	out := make([]float64, 0, rank*len(src))
	for _, pt := range src {
		out = append(out, pt[:rank]...)
	}
	return out
}

// rebuild re-discretizes a closed bound. Connected analyses must have been
// pre-processed against the current geometry.
func (p *Problem) rebuild(ctx context.Context, h entity.Handle, bd *Bound) error {
	for _, vsH := range bd.VertexSets {
		vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
		if err != nil {
			return err
		}
		if !vs.Connected() {
			continue
		}
		st, err := p.status(vs.Analysis)
		if err != nil {
			return err
		}
		if st&GeometryDirty != 0 {
			return p.stillDirty(vs.Analysis, st)
		}
	}
	lay, err := p.discretize(ctx, h, bd)
	if err != nil {
		return err
	}
	return p.commit(h, bd, lay, "rebuildBound")
}

// ensureBoundCurrent rebuilds a closed bound whose discretizations predate
// the latest geometry change.
func (p *Problem) ensureBoundCurrent(ctx context.Context, h entity.Handle, bd *Bound) error {
	if bd.State == BoundOpen {
		return errs.New(errs.IllegalState, "%s is open", p.label(h)).On(p.label(h))
	}
	if bd.GeomSNum >= p.rootObj().GeomSNum {
		return nil
	}
	return p.rebuild(ctx, h, bd)
}

// space returns the coordinates a vertex set's points are located by:
// native parameters on a Single bound, quilt parameters on a Multiple
// bound, physical coordinates otherwise.
func (p *Problem) space(bd *Bound, vsH entity.Handle, vs *VertexSet) [][3]float64 {
	d := vs.Disc
	if d == nil {
		return nil
	}
	if !vs.Connected() {
		return d.Points
	}
	switch bd.State {
	case BoundSingle:
		return d.ParamSpace()
	case BoundMultiple:
		k := slices.Index(bd.QuiltMembers, vsH)
		if k >= 0 && bd.Quilt != nil && k < len(bd.Quilt.UV) {
			out := make([][3]float64, len(bd.Quilt.UV[k]))
			for i, uv := range bd.Quilt.UV[k] {
				out[i] = [3]float64{uv[0], uv[1], 0}
			}
			return out
		}
	}
	return d.Points
}

// spaces returns the location spaces of a transfer pair. A pair with an
// unconnected side is matched in physical coordinates.
func (p *Problem) spaces(bd *Bound, srcH entity.Handle, src *VertexSet, tgtH entity.Handle, tgt *VertexSet) ([][3]float64, [][3]float64) {
	if !src.Connected() || !tgt.Connected() {
		return src.Disc.Points, tgt.Disc.Points
	}
	return p.space(bd, srcH, src), p.space(bd, tgtH, tgt)
}
