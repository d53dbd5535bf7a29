package problem

import (
	"context"
	"fmt"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
	"github.com/roach88/caps/internal/metrics"
)

// Status is the staleness of an analysis. AnalysisDirty and GeometryDirty
// are independent bits; Both is their union.
type Status int

const (
	Clean                Status = 0
	AnalysisDirty        Status = 1
	GeometryDirty        Status = 2
	Both                 Status = AnalysisDirty | GeometryDirty
	PostRequired         Status = 4
	PostRequiredAutoExec Status = 5
)

var statusNames = map[Status]string{
	Clean:                "Clean",
	AnalysisDirty:        "AnalysisDirty",
	GeometryDirty:        "GeometryDirty",
	Both:                 "Both",
	PostRequired:         "PostRequired",
	PostRequiredAutoExec: "PostRequiredAutoExec",
}

// String returns the status name.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Dirty reports whether pre-processing is required.
func (s Status) Dirty() bool {
	return s == AnalysisDirty || s == GeometryDirty || s == Both
}

// AnalysisStatus reports whether an analysis must be recomputed.
// It never advances the clock or changes a stamp.
func (p *Problem) AnalysisStatus(ctx context.Context, h entity.Handle) (Status, error) {
	out, err := p.call(ctx, journal.OpAnalysisStatus, h, nil, func() ([]ir.Arg, error) {
		st, err := p.status(h)
		if err != nil {
			return nil, err
		}
		return []ir.Arg{ir.IntArg(int64(st))}, nil
	})
	if err != nil {
		return 0, err
	}
	n, err := out[0].AsInt()
	if err != nil {
		return 0, errs.Wrap(errs.Internal, err, "status result")
	}
	return Status(n), nil
}

// status computes an analysis' staleness from stamps alone.
func (p *Problem) status(h entity.Handle) (Status, error) {
	an, _, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return 0, err
	}
	st, err := p.staleness(h, an)
	if err != nil {
		return 0, err
	}
	metrics.OracleQueries.WithLabelValues(st.String()).Inc()
	return st, nil
}

func (p *Problem) staleness(h entity.Handle, an *Analysis) (Status, error) {
	if an.Pre.SNum == 0 {
		return AnalysisDirty, nil
	}
	var st Status

	for _, in := range an.Inputs {
		s, err := p.valueStamp(in)
		if err != nil {
			return 0, err
		}
		if s > an.Pre.SNum {
			st |= AnalysisDirty
			break
		}
	}

	if st == Clean {
		dirty, err := p.fieldInputsDirty(h, an)
		if err != nil {
			return 0, err
		}
		if dirty {
			st |= AnalysisDirty
		}
	}

	if p.rootObj().GeomSNum > an.Pre.SNum {
		st |= GeometryDirty
	}

	if st == Clean && an.Exec.SNum > an.Post.SNum {
		if an.Mode == ir.ModeAuto {
			return PostRequiredAutoExec, nil
		}
		return PostRequired, nil
	}
	return st, nil
}

// fieldInputsDirty reports whether a linked FieldIn data set on one of the
// analysis' vertex sets has a source newer than both the data set's last
// fill and the analysis' last pre-processing.
func (p *Problem) fieldInputsDirty(h entity.Handle, an *Analysis) (bool, error) {
	for _, vsH := range p.vertexSetsOf(h) {
		vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
		if err != nil {
			return false, err
		}
		for _, dsH := range vs.DataSets {
			ds, hdr, err := lookup[*DataSet](p, dsH, entity.KindDataSet)
			if err != nil {
				return false, err
			}
			if ds.Kind != ir.KindFieldIn || ds.Link.IsNull() {
				continue
			}
			s, err := p.dataSetStamp(ds.Link)
			if err != nil {
				return false, err
			}
			if s > max(hdr.Last.SNum, an.Pre.SNum) {
				return true, nil
			}
		}
	}
	return false, nil
}

// vertexSetsOf lists the vertex sets connected to an analysis, in bound
// then vertex set order.
func (p *Problem) vertexSetsOf(an entity.Handle) []entity.Handle {
	var out []entity.Handle
	for _, bH := range p.rootObj().Bounds {
		bd, _, err := lookup[*Bound](p, bH, entity.KindBound)
		if err != nil {
			continue
		}
		for _, vsH := range bd.VertexSets {
			vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
			if err == nil && vs.Analysis == an {
				out = append(out, vsH)
			}
		}
	}
	return out
}

// production is the serial number of an analysis' latest result.
func production(an *Analysis) int64 {
	return max(an.Pre.SNum, an.Exec.SNum, an.Post.SNum)
}

// valueStamp is the effective serial number of a value: the stamp of the
// ultimate source of its link chain.
func (p *Problem) valueStamp(h entity.Handle) (int64, error) {
	src, err := p.valueSource(h)
	if err != nil {
		return 0, err
	}
	hdr, err := p.arena.Header(src)
	if err != nil {
		return 0, errs.Wrap(errs.SourceUnavailable, err, "link source of %s", p.label(h))
	}
	if hdr.Kind == entity.KindDataSet {
		return p.dataSetStamp(src)
	}
	v, _, err := lookup[*Value](p, src, entity.KindValue)
	if err != nil {
		return 0, err
	}
	if !v.Output {
		return hdr.Last.SNum, nil
	}
	an, _, err := lookup[*Analysis](p, hdr.Parent, entity.KindAnalysis)
	if err != nil {
		return 0, err
	}
	return max(hdr.Last.SNum, production(an)), nil
}

// valueSource follows a value's link chain to its ultimate, non-linked
// source: a Value or a DataSet. The walk is bounded by the arena size.
func (p *Problem) valueSource(h entity.Handle) (entity.Handle, error) {
	limit := p.arena.Capacity()
	cur := h
	for steps := 0; ; steps++ {
		if steps > limit {
			return entity.Null, errs.New(errs.CircularLink, "link chain from %s does not terminate", p.label(h)).On(p.label(h))
		}
		hdr, err := p.arena.Header(cur)
		if err != nil {
			return entity.Null, errs.Wrap(errs.SourceUnavailable, err, "link chain from %s", p.label(h))
		}
		if hdr.Kind != entity.KindValue {
			return cur, nil
		}
		v, _, err := lookup[*Value](p, cur, entity.KindValue)
		if err != nil {
			return entity.Null, err
		}
		if v.Link.IsNull() {
			return cur, nil
		}
		cur = v.Link
	}
}

// dataSetStamp is the effective serial number of a data set.
func (p *Problem) dataSetStamp(h entity.Handle) (int64, error) {
	limit := p.arena.Capacity()
	var best int64
	cur := h
	for steps := 0; ; steps++ {
		if steps > limit {
			return 0, errs.New(errs.CircularLink, "data set links from %s do not terminate", p.label(h))
		}
		ds, hdr, err := lookup[*DataSet](p, cur, entity.KindDataSet)
		if err != nil {
			return 0, errs.Wrap(errs.SourceUnavailable, err, "data set chain from %s", p.label(h))
		}
		best = max(best, hdr.Last.SNum)
		switch ds.Kind {
		case ir.KindFieldIn:
			if ds.Link.IsNull() {
				return best, nil
			}
			cur = ds.Link
		case ir.KindFieldOut:
			vs, _, err := lookup[*VertexSet](p, hdr.Parent, entity.KindVertexSet)
			if err != nil {
				return 0, err
			}
			an, _, err := lookup[*Analysis](p, vs.Analysis, entity.KindAnalysis)
			if err != nil {
				return 0, err
			}
			return max(best, production(an)), nil
		case ir.KindBuiltIn, ir.KindGeomSens, ir.KindTessSens:
			return max(best, p.rootObj().GeomSNum), nil
		default:
			return best, nil
		}
	}
}
