package problem

import (
	"context"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
)

// LinkValue links an analysis input to another value. Values only link by
// Copy; the source data is converted to the target's units.
func (p *Problem) LinkValue(ctx context.Context, target, source entity.Handle, method string) error {
	inputs := []ir.Arg{ir.RefArg(refOf(source)), ir.StringArg(method)}
	_, err := p.call(ctx, journal.OpLinkValue, target, inputs, func() ([]ir.Arg, error) {
		if method != "" && method != ir.MethodCopy {
			return nil, errs.New(errs.RangeError, "values link by %s only, not %s", ir.MethodCopy, method)
		}
		src, _, err := lookup[*Value](p, source, entity.KindValue)
		if err != nil {
			return nil, err
		}
		return nil, p.link(target, source, src.Units)
	})
	return err
}

// LinkValueToDataSet links an analysis input to a data set; the input takes
// the data set's field data.
func (p *Problem) LinkValueToDataSet(ctx context.Context, target, source entity.Handle) error {
	inputs := []ir.Arg{ir.RefArg(refOf(source))}
	_, err := p.call(ctx, journal.OpLinkValueToDataSet, target, inputs, func() ([]ir.Arg, error) {
		ds, _, err := lookup[*DataSet](p, source, entity.KindDataSet)
		if err != nil {
			return nil, err
		}
		return nil, p.link(target, source, ds.Units)
	})
	return err
}

func (p *Problem) link(target, source entity.Handle, srcUnits string) error {
	v, _, err := lookup[*Value](p, target, entity.KindValue)
	if err != nil {
		return err
	}
	if v.Output {
		return errs.New(errs.IllegalState, "%s is an output and cannot be linked", p.label(target)).On(p.label(target))
	}
	if err := p.unitsCompatible(srcUnits, v.Units); err != nil {
		return err
	}
	if err := p.checkCycle(target, source); err != nil {
		return err
	}
	v.Link = source
	v.Method = ir.MethodCopy
	p.touch(target, "link")
	return nil
}

// UnlinkValue removes an input's link. The input keeps the data it last
// resolved.
func (p *Problem) UnlinkValue(ctx context.Context, target entity.Handle) error {
	_, err := p.call(ctx, journal.OpUnlinkValue, target, nil, func() ([]ir.Arg, error) {
		v, _, err := lookup[*Value](p, target, entity.KindValue)
		if err != nil {
			return nil, err
		}
		if v.Link.IsNull() {
			return nil, errs.New(errs.SourceUnavailable, "%s is not linked", p.label(target))
		}
		v.Link = entity.Null
		v.Method = ""
		p.touch(target, "unlink")
		return nil, nil
	})
	return err
}

// checkCycle rejects a link from origin to next when following links from
// next would revisit origin. The walk visits at most one step per slot.
func (p *Problem) checkCycle(origin, next entity.Handle) error {
	limit := p.arena.Capacity()
	chain := []string{p.label(origin)}
	cur := next
	for steps := 0; !cur.IsNull(); steps++ {
		chain = append(chain, p.label(cur))
		if cur == origin {
			return errs.New(errs.CircularLink, "linking %s would close a cycle", p.label(origin)).
				On(p.label(origin)).With(chain...)
		}
		if steps >= limit {
			return errs.New(errs.CircularLink, "link chain from %s exceeds %d entities", p.label(origin), limit).
				On(p.label(origin))
		}
		var err error
		if cur, err = p.linkOf(cur); err != nil {
			return err
		}
	}
	return nil
}

func (p *Problem) linkOf(h entity.Handle) (entity.Handle, error) {
	hdr, err := p.arena.Header(h)
	if err != nil {
		return entity.Null, errs.Wrap(errs.SourceUnavailable, err, "link target")
	}
	switch hdr.Kind {
	case entity.KindValue:
		v, _, err := lookup[*Value](p, h, entity.KindValue)
		if err != nil {
			return entity.Null, err
		}
		return v.Link, nil
	case entity.KindDataSet:
		ds, _, err := lookup[*DataSet](p, h, entity.KindDataSet)
		if err != nil {
			return entity.Null, err
		}
		return ds.Link, nil
	}
	return entity.Null, errs.New(errs.WrongKind, "%s cannot be a link source", hdr.Label())
}

func (p *Problem) unitsCompatible(a, b string) error {
	if a == "" || b == "" {
		return nil
	}
	ok, err := p.units.Compatible(a, b)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.UnitMismatch, "%s is not compatible with %s", a, b)
	}
	return nil
}
