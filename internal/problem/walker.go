package problem

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
)

// WalkEntry is one analysis in dependency order.
type WalkEntry struct {
	Analysis entity.Handle `json:"analysis"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	// Upstream is set when some analysis this one depends on, directly or
	// transitively, needs work; its own status may still be Clean.
	Upstream  bool     `json:"upstream,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// NeedsWork reports whether the analysis or something upstream of it is
// out of date.
func (e WalkEntry) NeedsWork() bool {
	return e.Status != Clean || e.Upstream
}

// Walk orders every analysis after the analyses it takes values or fields
// from and reports each one's staleness. Analyses that depend on each
// other fail with CircularLink. Walk never changes a stamp.
func (p *Problem) Walk(ctx context.Context) ([]WalkEntry, error) {
	out, err := p.call(ctx, journal.OpWalk, p.root, nil, func() ([]ir.Arg, error) {
		entries, err := p.walk()
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "encode walk")
		}
		return []ir.Arg{ir.OpaqueArg(b)}, nil
	})
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]WalkEntry](out, 0)
}

// Sync brings every analysis up to date in dependency order: dirty
// analyses are pre-processed and executed, pending post-processing is run.
// It returns the names of the analyses it ran.
func (p *Problem) Sync(ctx context.Context) ([]string, error) {
	out, err := p.call(ctx, journal.OpSync, p.root, nil, func() ([]ir.Arg, error) {
		ran, err := p.sync(ctx)
		b, jerr := json.Marshal(ran)
		if jerr != nil {
			return nil, errs.Wrap(errs.Internal, jerr, "encode sync")
		}
		return []ir.Arg{ir.OpaqueArg(b)}, err
	})
	if len(out) == 0 {
		return nil, err
	}
	ran, derr := decodeJSON[[]string](out, 0)
	if err != nil {
		return ran, err
	}
	return ran, derr
}

func decodeJSON[T any](out []ir.Arg, idx int) (T, error) {
	var v T
	if len(out) <= idx {
		return v, errs.New(errs.Internal, "operation returned %d results", len(out))
	}
	b, err := out[idx].AsOpaque()
	if err != nil {
		return v, errs.Wrap(errs.Internal, err, "operation result")
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, errs.Wrap(errs.Internal, err, "decode operation result")
	}
	return v, nil
}

func (p *Problem) walk() ([]WalkEntry, error) {
	order, deps, err := p.order()
	if err != nil {
		return nil, err
	}
	entries := make([]WalkEntry, 0, len(order))
	needs := make(map[entity.Handle]bool, len(order))
	for _, h := range order {
		st, err := p.status(h)
		if err != nil {
			return nil, err
		}
		e := WalkEntry{Analysis: h, Name: p.name(h), Status: st}
		var blame []string
		for _, d := range deps[h] {
			e.DependsOn = append(e.DependsOn, p.name(d))
			if needs[d] {
				e.Upstream = true
				blame = append(blame, "upstream "+p.name(d)+" is out of date")
			}
		}
		if e.Upstream && st == Clean {
			p.diags.Add(errs.StillDirty, p.label(h), blame...)
		}
		needs[h] = e.NeedsWork()
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *Problem) sync(ctx context.Context) ([]string, error) {
	order, _, err := p.order()
	if err != nil {
		return nil, err
	}
	ran := []string{}
	for _, h := range order {
		st, err := p.status(h)
		if err != nil {
			return ran, err
		}
		if st == Clean {
			continue
		}
		an, _, err := lookup[*Analysis](p, h, entity.KindAnalysis)
		if err != nil {
			return ran, err
		}
		if st.Dirty() {
			if err := p.runPre(ctx, h); err != nil {
				return ran, err
			}
			if an.Mode != ir.ModeAuto {
				if err := p.runExecute(ctx, h); err != nil {
					return ran, err
				}
			}
		}
		if err := p.runPost(ctx, h); err != nil {
			return ran, err
		}
		ran = append(ran, p.name(h))
		p.logger.Debug("synced", "analysis", p.name(h), "was", st)
	}
	return ran, nil
}

// order sorts the analyses topologically, keeping creation order among
// independent ones.
func (p *Problem) order() ([]entity.Handle, map[entity.Handle][]entity.Handle, error) {
	all := p.rootObj().Analyses
	deps := make(map[entity.Handle][]entity.Handle, len(all))
	indeg := make(map[entity.Handle]int, len(all))
	for _, h := range all {
		ds, err := p.dependencies(h)
		if err != nil {
			return nil, nil, err
		}
		deps[h] = ds
		indeg[h] = len(ds)
	}

	order := make([]entity.Handle, 0, len(all))
	done := make(map[entity.Handle]bool, len(all))
	for len(order) < len(all) {
		progressed := false
		for _, h := range all {
			if done[h] || indeg[h] > 0 {
				continue
			}
			done[h] = true
			order = append(order, h)
			progressed = true
			for _, o := range all {
				if slices.Contains(deps[o], h) {
					indeg[o]--
				}
			}
		}
		if !progressed {
			var stuck []string
			for _, h := range all {
				if !done[h] {
					stuck = append(stuck, p.name(h))
				}
			}
			label := p.label(p.root)
			p.diags.Add(errs.CircularLink, label, stuck...)
			return nil, nil, errs.New(errs.CircularLink, "analyses depend on each other").On(label).With(stuck...)
		}
	}
	return order, deps, nil
}

// dependencies lists the analyses an analysis takes data from through its
// input links or its FieldIn data sets, in first-seen order.
func (p *Problem) dependencies(h entity.Handle) ([]entity.Handle, error) {
	an, _, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return nil, err
	}
	var out []entity.Handle
	add := func(o entity.Handle) {
		if !o.IsNull() && o != h && !slices.Contains(out, o) {
			out = append(out, o)
		}
	}
	for _, in := range an.Inputs {
		v, _, err := lookup[*Value](p, in, entity.KindValue)
		if err != nil {
			return nil, err
		}
		if v.Link.IsNull() {
			continue
		}
		src, err := p.valueSource(in)
		if err != nil {
			return nil, err
		}
		o, err := p.producer(src)
		if err != nil {
			return nil, err
		}
		add(o)
	}
	for _, vsH := range p.vertexSetsOf(h) {
		vs, _, err := lookup[*VertexSet](p, vsH, entity.KindVertexSet)
		if err != nil {
			return nil, err
		}
		for _, dsH := range vs.DataSets {
			ds, _, err := lookup[*DataSet](p, dsH, entity.KindDataSet)
			if err != nil {
				return nil, err
			}
			if ds.Kind != ir.KindFieldIn || ds.Link.IsNull() {
				continue
			}
			o, err := p.producer(ds.Link)
			if err != nil {
				return nil, err
			}
			add(o)
		}
	}
	return out, nil
}

// producer returns the analysis whose results a value or data set carries,
// or the null handle for user data and geometry.
func (p *Problem) producer(h entity.Handle) (entity.Handle, error) {
	limit := p.arena.Capacity()
	cur := h
	for steps := 0; steps <= limit; steps++ {
		hdr, err := p.arena.Header(cur)
		if err != nil {
			return entity.Null, errs.Wrap(errs.SourceUnavailable, err, "source of %s", p.label(h))
		}
		switch hdr.Kind {
		case entity.KindValue:
			v, _, err := lookup[*Value](p, cur, entity.KindValue)
			if err != nil {
				return entity.Null, err
			}
			if v.Output {
				return hdr.Parent, nil
			}
			return entity.Null, nil
		case entity.KindDataSet:
			ds, _, err := lookup[*DataSet](p, cur, entity.KindDataSet)
			if err != nil {
				return entity.Null, err
			}
			switch ds.Kind {
			case ir.KindFieldOut:
				vs, _, err := lookup[*VertexSet](p, hdr.Parent, entity.KindVertexSet)
				if err != nil {
					return entity.Null, err
				}
				return vs.Analysis, nil
			case ir.KindFieldIn:
				if ds.Link.IsNull() {
					return entity.Null, nil
				}
				cur = ds.Link
				continue
			}
			return entity.Null, nil
		default:
			return entity.Null, nil
		}
	}
	return entity.Null, errs.New(errs.CircularLink, "sources of %s do not terminate", p.label(h))
}

func (p *Problem) name(h entity.Handle) string {
	if hdr, err := p.arena.Header(h); err == nil {
		return hdr.Name
	}
	return h.String()
}
