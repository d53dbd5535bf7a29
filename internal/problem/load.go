package problem

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
)

// Load creates the description's analyses, bounds and links through the
// journaled operations and closes every bound. Each step is recorded, so a
// replayed Load restores the same graph without collaborator calls.
func (p *Problem) Load(ctx context.Context) error {
	for _, as := range p.spec.Analyses {
		if err := p.loadAnalysis(ctx, as); err != nil {
			return fmt.Errorf("load analysis %s: %w", as.Name, err)
		}
	}
	var bounds []entity.Handle
	for _, bs := range p.spec.Bounds {
		h, err := p.loadBound(ctx, bs)
		if err != nil {
			return fmt.Errorf("load bound %s: %w", bs.Name, err)
		}
		bounds = append(bounds, h)
	}
	for _, ls := range p.spec.Links {
		if err := p.loadLink(ctx, ls); err != nil {
			return fmt.Errorf("load link %s: %w", ls.Target, err)
		}
	}
	for i, h := range bounds {
		if err := p.CloseBound(ctx, h); err != nil {
			return fmt.Errorf("close bound %s: %w", p.spec.Bounds[i].Name, err)
		}
	}
	p.logger.Info("problem loaded",
		"analyses", len(p.spec.Analyses), "bounds", len(p.spec.Bounds), "links", len(p.spec.Links), "s_num", p.SNum())
	return nil
}

func (p *Problem) loadAnalysis(ctx context.Context, as ir.AnalysisSpec) error {
	cfg := AnalysisConfig{Name: as.Name, AIM: as.AIM, Mode: as.Mode, Resolution: as.Resolution}
	if len(as.Exports) > 0 {
		cfg.Exports = make(map[string][]string, len(as.Exports))
		for _, e := range as.Exports {
			cfg.Exports[e.Bound] = append(cfg.Exports[e.Bound], e.Faces...)
		}
	}
	if _, err := p.MakeAnalysis(ctx, cfg); err != nil {
		return err
	}
	for _, in := range as.Inputs {
		h, err := p.Input(as.Name, in.Name)
		if err != nil {
			return err
		}
		if err := p.SetValue(ctx, h, in.Value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Problem) loadBound(ctx context.Context, bs ir.BoundSpec) (entity.Handle, error) {
	b, err := p.MakeBound(ctx, bs.Name, bs.Dim)
	if err != nil {
		return entity.Null, err
	}
	for _, vss := range bs.VertexSets {
		an := entity.Null
		if vss.Analysis != "" {
			if an, err = p.Analysis(vss.Analysis); err != nil {
				return entity.Null, err
			}
		}
		vs, err := p.MakeVertexSet(ctx, b, vss.Name, an, vss.Points)
		if err != nil {
			return entity.Null, err
		}
		for _, ds := range vss.DataSets {
			cfg := DataSetConfig{Name: ds.Name, Kind: ds.Kind, Rank: ds.Rank, Method: ds.Method, Units: ds.Units}
			if _, err := p.MakeDataSet(ctx, vs, cfg); err != nil {
				return entity.Null, err
			}
		}
	}
	for _, vss := range bs.VertexSets {
		for _, ds := range vss.DataSets {
			if ds.Source == "" {
				continue
			}
			target, err := p.DataSet(bs.Name + "." + vss.Name + "." + ds.Name)
			if err != nil {
				return entity.Null, err
			}
			source, err := p.DataSet(bs.Name + "." + ds.Source)
			if err != nil {
				return entity.Null, err
			}
			if err := p.LinkDataSet(ctx, target, source); err != nil {
				return entity.Null, err
			}
		}
	}
	return b, nil
}

func (p *Problem) loadLink(ctx context.Context, ls ir.LinkSpec) error {
	tparts := strings.Split(ls.Target, ".")
	if len(tparts) != 2 {
		return errs.New(errs.RangeError, "link target %q is not analysis.input", ls.Target)
	}
	target, err := p.Input(tparts[0], tparts[1])
	if err != nil {
		return err
	}
	sparts := strings.Split(ls.Source, ".")
	switch len(sparts) {
	case 2:
		source, err := p.Output(sparts[0], sparts[1])
		if err != nil {
			return err
		}
		return p.LinkValue(ctx, target, source, ls.Method)
	case 3:
		source, err := p.DataSet(ls.Source)
		if err != nil {
			return err
		}
		return p.LinkValueToDataSet(ctx, target, source)
	}
	return errs.New(errs.RangeError, "link source %q is neither analysis.output nor bound.vertexset.dataset", ls.Source)
}
