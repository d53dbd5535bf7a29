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
	"github.com/roach88/caps/internal/transfer"
)

// GetData returns the field data of a data set, rank values per point,
// producing it from its source when the cached copy is out of date.
func (p *Problem) GetData(ctx context.Context, h entity.Handle) (int, []float64, error) {
	out, err := p.call(ctx, journal.OpGetData, h, nil, func() ([]ir.Arg, error) {
		rank, data, err := p.getData(ctx, h)
		if err != nil {
			return nil, err
		}
		return []ir.Arg{ir.IntArg(int64(rank)), ir.ArrayArg(data)}, nil
	})
	data, err := arrayResult(out, err, 1)
	if err != nil {
		return 0, nil, err
	}
	rank, err := out[0].AsInt()
	if err != nil {
		return 0, nil, errs.Wrap(errs.Internal, err, "data set rank")
	}
	return int(rank), data, nil
}

// dataSetScope is a data set with its vertex set and bound.
type dataSetScope struct {
	h    entity.Handle
	ds   *DataSet
	name string
	vsH  entity.Handle
	vs   *VertexSet
	bH   entity.Handle
	bd   *Bound
}

func (p *Problem) scope(h entity.Handle) (*dataSetScope, error) {
	ds, hdr, err := lookup[*DataSet](p, h, entity.KindDataSet)
	if err != nil {
		return nil, err
	}
	vs, vsHdr, err := lookup[*VertexSet](p, hdr.Parent, entity.KindVertexSet)
	if err != nil {
		return nil, err
	}
	bd, _, err := lookup[*Bound](p, vsHdr.Parent, entity.KindBound)
	if err != nil {
		return nil, err
	}
	return &dataSetScope{h: h, ds: ds, name: hdr.Name, vsH: hdr.Parent, vs: vs, bH: vsHdr.Parent, bd: bd}, nil
}

func (p *Problem) getData(ctx context.Context, h entity.Handle) (int, []float64, error) {
	sc, err := p.scope(h)
	if err != nil {
		return 0, nil, err
	}
	if sc.bd.State == BoundOpen {
		return 0, nil, errs.New(errs.IllegalState, "%s is open", p.label(sc.bH)).On(p.label(sc.bH))
	}

	var data []float64
	switch sc.ds.Kind {
	case ir.KindUser:
		if sc.ds.Data == nil {
			return 0, nil, errs.New(errs.EmptyPayload, "%s has no data", p.label(h)).On(p.label(h))
		}
		data = sc.ds.Data
	case ir.KindBuiltIn:
		if err := p.ensureBoundCurrent(ctx, sc.bH, sc.bd); err != nil {
			return 0, nil, err
		}
		data = sc.ds.Data
	case ir.KindGeomSens, ir.KindTessSens:
		data, err = p.sensitivityData(ctx, sc)
	case ir.KindFieldOut:
		data, err = p.fieldOut(ctx, sc)
	case ir.KindFieldIn:
		data, err = p.fieldIn(ctx, sc)
	default:
		err = errs.New(errs.IllegalState, "%s has unknown kind %q", p.label(h), sc.ds.Kind)
	}
	if err != nil {
		return 0, nil, err
	}
	return sc.ds.Rank, slices.Clone(data), nil
}

// sensitivityData samples the derivative of every point with respect to
// the design parameter the data set is named after.
func (p *Problem) sensitivityData(ctx context.Context, sc *dataSetScope) ([]float64, error) {
	if err := p.ensureBoundCurrent(ctx, sc.bH, sc.bd); err != nil {
		return nil, err
	}
	if sc.ds.Data != nil {
		return sc.ds.Data, nil
	}
	if !sc.vs.Connected() {
		return nil, errs.New(errs.SourceUnavailable, "%s has no geometry", p.label(sc.vsH)).On(p.label(sc.h))
	}
	d := sc.vs.Disc
	if d == nil {
		return nil, errs.New(errs.SourceUnavailable, "%s is not discretized", p.label(sc.vsH))
	}
	owner := pointBodies(d)
	data := make([]float64, 3*len(d.Points))
	for i := range d.Points {
		if owner[i] < 0 {
			return nil, errs.New(errs.RangeError, "point %d of %s is on no element", i, p.label(sc.vsH))
		}
		v, err := p.sensitivity(ctx, sc.name, d.Bodies[owner[i]].Entity.Name, d.Params[i])
		if err != nil {
			return nil, err
		}
		copy(data[3*i:], v[:])
	}
	if err := finite(p.label(sc.h), data...); err != nil {
		return nil, err
	}
	hdr, err := p.arena.Header(sc.h)
	if err != nil {
		return nil, err
	}
	sc.ds.Data = data
	sc.ds.Filled = hdr.Last.SNum
	p.fill(sc.h, hdr.Last.SNum, "sensitivity")
	return data, nil
}

// pointBodies maps every point to the body of the first element using it,
// or -1.
func pointBodies(d *aim.Discretization) []int {
	owner := make([]int, len(d.Points))
	for i := range owner {
		owner[i] = -1
	}
	for _, e := range d.Elements {
		for _, n := range e.Nodes {
			if owner[n] < 0 {
				owner[n] = e.Body
			}
		}
	}
	return owner
}

// fieldOut samples an analysis field on its vertex set. The analysis must
// be clean; an Auto analysis is brought up to date when it can be.
func (p *Problem) fieldOut(ctx context.Context, sc *dataSetScope) ([]float64, error) {
	anH := sc.vs.Analysis
	if err := p.ensureClean(ctx, anH); err != nil {
		return nil, err
	}
	if err := p.ensureBoundCurrent(ctx, sc.bH, sc.bd); err != nil {
		return nil, err
	}
	an, _, err := lookup[*Analysis](p, anH, entity.KindAnalysis)
	if err != nil {
		return nil, err
	}
	prod := production(an)
	if sc.ds.Data != nil && sc.ds.Filled >= prod {
		return sc.ds.Data, nil
	}
	if sc.vs.Disc == nil {
		return nil, errs.New(errs.SourceUnavailable, "%s is not discretized", p.label(sc.vsH))
	}
	inst, err := p.instance(ctx, anH)
	if err != nil {
		return nil, err
	}
	in, err := p.inputs(ctx, an)
	if err != nil {
		return nil, err
	}
	rank, data, err := inst.TransferField(ctx, sc.name, sc.vs.Disc, in)
	if err != nil {
		return nil, collaborator(err, "field %s of %s", sc.name, p.label(anH))
	}
	if rank != sc.ds.Rank || len(data) != rank*len(sc.vs.Disc.Points) {
		return nil, errs.New(errs.RangeError, "field %s has rank %d and %d values, want rank %d over %d points",
			sc.name, rank, len(data), sc.ds.Rank, len(sc.vs.Disc.Points))
	}
	if err := finite(p.label(sc.h), data...); err != nil {
		return nil, err
	}
	sc.ds.Data = data
	sc.ds.Filled = prod
	p.fill(sc.h, prod, "transferField")
	return data, nil
}

// fieldIn fills a field input from its linked source by interpolation or
// conservative transfer. Points the source does not cover are reported as
// diagnostics and left at zero.
func (p *Problem) fieldIn(ctx context.Context, sc *dataSetScope) ([]float64, error) {
	if sc.ds.Link.IsNull() {
		return nil, errs.New(errs.SourceUnavailable, "%s has no link", p.label(sc.h)).On(p.label(sc.h))
	}
	leave, err := p.enter(sc.h)
	if err != nil {
		return nil, err
	}
	defer leave()

	if err := p.ensureBoundCurrent(ctx, sc.bH, sc.bd); err != nil {
		return nil, err
	}
	src, err := p.scope(sc.ds.Link)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, err, "source of %s", p.label(sc.h))
	}
	rank, srcData, err := p.getData(ctx, src.h)
	if err != nil {
		return nil, err
	}
	stamp, err := p.dataSetStamp(src.h)
	if err != nil {
		return nil, err
	}
	if sc.ds.Data != nil && sc.ds.Filled >= stamp {
		return sc.ds.Data, nil
	}
	if srcData, err = p.convert(srcData, src.ds.Units, sc.ds.Units); err != nil {
		return nil, err
	}

	srcSpace, tgtSpace := p.spaces(sc.bd, src.vsH, src.vs, sc.vsH, sc.vs)
	srcSide := transfer.Side{Disc: src.vs.Disc, Space: srcSpace}
	tgtSide := transfer.Side{Disc: sc.vs.Disc, Space: tgtSpace}
	if src.vs.Connected() {
		if srcSide.Prim, err = p.instance(ctx, src.vs.Analysis); err != nil {
			return nil, err
		}
	}
	if sc.vs.Connected() {
		if tgtSide.Prim, err = p.instance(ctx, sc.vs.Analysis); err != nil {
			return nil, err
		}
	}

	label := p.label(sc.h)
	var res *transfer.Result
	switch sc.ds.Method {
	case ir.MethodConserve:
		cr, cerr := transfer.Conserve(srcSide, srcData, rank, tgtSide, p.conserve)
		if cr == nil {
			return nil, cerr
		}
		if cerr != nil {
			p.diags.AddError(errs.Wrap(errs.CodeOf(cerr), cerr, "conserve %s", label).On(label))
		}
		p.logger.Debug("conserved", "data_set", label, "iterations", cr.Iterations, "mismatch", cr.Mismatch)
		res = &cr.Result
	default:
		if res, err = transfer.Interpolate(srcSide, srcData, rank, tgtSide); err != nil {
			return nil, err
		}
	}
	if len(res.Missing) > 0 {
		lines := make([]string, len(res.Missing))
		for i, m := range res.Missing {
			lines[i] = fmt.Sprintf("point %d not located on %s", m, p.label(src.vsH))
		}
		p.diags.Add(errs.NotFound, label, lines...)
	}
	if err := finite(label, res.Data...); err != nil {
		return nil, err
	}

	sc.ds.Data = res.Data
	sc.ds.Filled = stamp
	p.fill(sc.h, stamp, "transfer")
	return res.Data, nil
}
