package problem

import (
	"context"
	"encoding/json"
	"math"
	"slices"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
)

// AnalysisConfig declares an analysis.
type AnalysisConfig struct {
	Name       string
	AIM        string
	Mode       string
	Resolution int
	// Exports maps bound names to the faces the analysis discretizes for
	// them.
	Exports map[string][]string
}

// MakeAnalysis creates an analysis and its input and output values.
func (p *Problem) MakeAnalysis(ctx context.Context, cfg AnalysisConfig) (entity.Handle, error) {
	exports, err := json.Marshal(cfg.Exports)
	if err != nil {
		return entity.Null, errs.Wrap(errs.RangeError, err, "exports of %s", cfg.Name)
	}
	inputs := []ir.Arg{
		ir.StringArg(cfg.Name),
		ir.StringArg(cfg.AIM),
		ir.StringArg(cfg.Mode),
		ir.IntArg(int64(cfg.Resolution)),
		ir.OpaqueArg(exports),
	}
	return handleResult(p.call(ctx, journal.OpMakeAnalysis, p.root, inputs, func() ([]ir.Arg, error) {
		h, err := p.makeAnalysis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return []ir.Arg{ir.RefArg(refOf(h))}, nil
	}))
}

func (p *Problem) makeAnalysis(ctx context.Context, cfg AnalysisConfig) (entity.Handle, error) {
	if cfg.Name == "" {
		return entity.Null, errs.New(errs.EmptyPayload, "analysis name is required")
	}
	if _, err := p.Analysis(cfg.Name); err == nil {
		return entity.Null, errs.New(errs.IllegalState, "analysis %q already exists", cfg.Name)
	}
	if cfg.Mode == "" {
		cfg.Mode = ir.ModeManual
	}
	if !ir.ValidModes[cfg.Mode] {
		return entity.Null, errs.New(errs.RangeError, "unknown execution mode %q", cfg.Mode)
	}
	if cfg.Resolution < 0 {
		return entity.Null, errs.New(errs.RangeError, "resolution %d is negative", cfg.Resolution)
	}

	an := &Analysis{
		AIM:        cfg.AIM,
		Mode:       cfg.Mode,
		Resolution: cfg.Resolution,
		Exports:    cfg.Exports,
		Inputs:     []entity.Handle{},
		Outputs:    []entity.Handle{},
	}
	inst, err := p.newInstance(ctx, cfg.Name, an)
	if err != nil {
		return entity.Null, err
	}

	h := p.create(entity.KindAnalysis, p.root, cfg.Name, an, "makeAnalysis")
	for _, v := range inst.ListInputs() {
		vh := p.create(entity.KindValue, h, v.Name, &Value{Data: slices.Clone(v.Default), Units: v.Units}, "makeAnalysis")
		an.Inputs = append(an.Inputs, vh)
	}
	for _, v := range inst.ListOutputs() {
		vh := p.create(entity.KindValue, h, v.Name, &Value{Units: v.Units, Output: true}, "makeAnalysis")
		an.Outputs = append(an.Outputs, vh)
	}
	root := p.rootObj()
	root.Analyses = append(root.Analyses, h)
	p.touch(p.root, "makeAnalysis")
	p.instances[h] = inst
	p.logger.Debug("analysis created", "analysis", cfg.Name, "aim", cfg.AIM, "mode", cfg.Mode)
	return h, nil
}

func (p *Problem) newInstance(ctx context.Context, name string, an *Analysis) (aim.AIM, error) {
	inst, err := p.registry.New(an.AIM)
	if err != nil {
		return nil, err
	}
	cfg := aim.Config{Analysis: name, Resolution: an.Resolution, Exports: an.Exports}
	if err := inst.Initialize(ctx, cfg); err != nil {
		return nil, collaborator(err, "initialize %s", name)
	}
	return inst, nil
}

// instance returns the analysis' AIM, creating it on first use.
func (p *Problem) instance(ctx context.Context, h entity.Handle) (aim.AIM, error) {
	if inst, ok := p.instances[h]; ok {
		return inst, nil
	}
	an, hdr, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return nil, err
	}
	inst, err := p.newInstance(ctx, hdr.Name, an)
	if err != nil {
		return nil, err
	}
	p.instances[h] = inst
	return inst, nil
}

// collaborator classifies an error returned by an AIM, geometry or modeler.
func collaborator(err error, format string, args ...any) error {
	if errs.CodeOf(err) != errs.Internal {
		return err
	}
	return errs.Wrap(errs.Internal, err, format, args...)
}

// finite rejects NaN and infinite reals. Stored data must be finite so
// every operation's arena delta can be journaled.
func finite(what string, data ...float64) error {
	for i, x := range data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errs.New(errs.RangeError, "%s: element %d is %v", what, i, x)
		}
	}
	return nil
}

// SetValue sets an analysis input. Data must be finite.
func (p *Problem) SetValue(ctx context.Context, h entity.Handle, data []float64) error {
	_, err := p.call(ctx, journal.OpSetValue, h, []ir.Arg{ir.ArrayArg(data)}, func() ([]ir.Arg, error) {
		v, _, err := lookup[*Value](p, h, entity.KindValue)
		if err != nil {
			return nil, err
		}
		switch {
		case v.Output:
			return nil, errs.New(errs.IllegalState, "%s is an output", p.label(h)).On(p.label(h))
		case !v.Link.IsNull():
			return nil, errs.New(errs.IllegalState, "%s is linked to %s", p.label(h), p.label(v.Link)).On(p.label(h))
		case len(data) == 0:
			return nil, errs.New(errs.EmptyPayload, "no data for %s", p.label(h))
		}
		if err := finite(p.label(h), data...); err != nil {
			return nil, err
		}
		v.Data = slices.Clone(data)
		p.touch(h, "setValue")
		return nil, nil
	})
	return err
}

// PreAnalysis pre-processes an analysis against the current geometry and
// inputs. Auto analyses are executed as part of pre-processing.
func (p *Problem) PreAnalysis(ctx context.Context, h entity.Handle) error {
	_, err := p.call(ctx, journal.OpPreAnalysis, h, nil, func() ([]ir.Arg, error) {
		return nil, p.runPre(ctx, h)
	})
	return err
}

// Execute runs a pre-processed analysis.
func (p *Problem) Execute(ctx context.Context, h entity.Handle) error {
	_, err := p.call(ctx, journal.OpExecute, h, nil, func() ([]ir.Arg, error) {
		if err := p.requireFresh(h); err != nil {
			return nil, err
		}
		return nil, p.runExecute(ctx, h)
	})
	return err
}

// PostAnalysis post-processes an analysis.
func (p *Problem) PostAnalysis(ctx context.Context, h entity.Handle) error {
	_, err := p.call(ctx, journal.OpPostAnalysis, h, nil, func() ([]ir.Arg, error) {
		if err := p.requireFresh(h); err != nil {
			return nil, err
		}
		return nil, p.runPost(ctx, h)
	})
	return err
}

// GetOutput returns an analysis output, computing it if needed. An Auto
// analysis that is only mildly dirty is brought up to date first.
func (p *Problem) GetOutput(ctx context.Context, h entity.Handle) ([]float64, error) {
	out, err := p.call(ctx, journal.OpGetOutput, h, nil, func() ([]ir.Arg, error) {
		data, err := p.output(ctx, h)
		if err != nil {
			return nil, err
		}
		return []ir.Arg{ir.ArrayArg(data)}, nil
	})
	return arrayResult(out, err, 0)
}

// requireFresh rejects execution and post-processing of an analysis whose
// pre-processing is out of date.
func (p *Problem) requireFresh(h entity.Handle) error {
	st, err := p.status(h)
	if err != nil {
		return err
	}
	if st.Dirty() {
		return p.stillDirty(h, st)
	}
	return nil
}

func (p *Problem) stillDirty(h entity.Handle, st Status) error {
	label := p.label(h)
	p.diags.Addf(errs.StillDirty, label, "status %s", st)
	return errs.New(errs.StillDirty, "%s is %s", label, st).On(label)
}

// enter guards an analysis against re-entrant bring-up through its own
// link chains.
func (p *Problem) enter(h entity.Handle) (func(), error) {
	if p.active[h] {
		return nil, errs.New(errs.CircularLink, "%s depends on itself", p.label(h)).On(p.label(h))
	}
	p.active[h] = true
	return func() { delete(p.active, h) }, nil
}

func (p *Problem) runPre(ctx context.Context, h entity.Handle) error {
	leave, err := p.enter(h)
	if err != nil {
		return err
	}
	defer leave()

	an, hdr, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return err
	}
	inst, err := p.instance(ctx, h)
	if err != nil {
		return err
	}
	geom, err := p.geometry(ctx)
	if err != nil {
		return err
	}
	in, err := p.inputs(ctx, an)
	if err != nil {
		return err
	}
	if err := inst.PreAnalysis(ctx, geom, in); err != nil {
		return collaborator(err, "pre-analysis of %s", hdr.Name)
	}
	an.Pre = p.stamp("preAnalysis")
	hdr.Touch(an.Pre)
	p.arena.Mark(h)

	if an.Mode == ir.ModeAuto {
		return p.runExecute(ctx, h)
	}
	return nil
}

func (p *Problem) runExecute(ctx context.Context, h entity.Handle) error {
	an, hdr, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return err
	}
	inst, err := p.instance(ctx, h)
	if err != nil {
		return err
	}
	in, err := p.inputs(ctx, an)
	if err != nil {
		return err
	}
	if err := inst.Execute(ctx, in); err != nil {
		return collaborator(err, "execute %s", hdr.Name)
	}
	an.Exec = p.stamp("execute")
	hdr.Touch(an.Exec)
	p.arena.Mark(h)
	return nil
}

func (p *Problem) runPost(ctx context.Context, h entity.Handle) error {
	an, hdr, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return err
	}
	inst, err := p.instance(ctx, h)
	if err != nil {
		return err
	}
	in, err := p.inputs(ctx, an)
	if err != nil {
		return err
	}
	if err := inst.PostAnalysis(ctx, in); err != nil {
		return collaborator(err, "post-analysis of %s", hdr.Name)
	}
	an.Post = p.stamp("postAnalysis")
	hdr.Touch(an.Post)
	p.arena.Mark(h)
	return nil
}

// ensureClean brings an analysis up to date when it may do so on its own
// (Auto mode, not geometry-dirty), or fails with StillDirty.
func (p *Problem) ensureClean(ctx context.Context, h entity.Handle) error {
	st, err := p.status(h)
	if err != nil {
		return err
	}
	if st == Clean {
		return nil
	}
	an, _, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return err
	}
	if an.Mode != ir.ModeAuto || (st != AnalysisDirty && st != PostRequiredAutoExec) {
		return p.stillDirty(h, st)
	}
	if st == AnalysisDirty {
		if err := p.runPre(ctx, h); err != nil {
			return err
		}
	}
	p.logger.Debug("auto-executed", "analysis", p.label(h), "was", st)
	return p.runPost(ctx, h)
}

// output returns an output value, computing it when its cache is older
// than the analysis' latest result.
func (p *Problem) output(ctx context.Context, h entity.Handle) ([]float64, error) {
	v, hdr, err := lookup[*Value](p, h, entity.KindValue)
	if err != nil {
		return nil, err
	}
	if !v.Output {
		return nil, errs.New(errs.IllegalState, "%s is not an output", p.label(h))
	}
	anH := hdr.Parent
	if err := p.ensureClean(ctx, anH); err != nil {
		return nil, err
	}
	an, _, err := lookup[*Analysis](p, anH, entity.KindAnalysis)
	if err != nil {
		return nil, err
	}
	prod := production(an)
	if v.Data != nil && v.Computed >= prod {
		return slices.Clone(v.Data), nil
	}
	inst, err := p.instance(ctx, anH)
	if err != nil {
		return nil, err
	}
	in, err := p.inputs(ctx, an)
	if err != nil {
		return nil, err
	}
	data, err := inst.CalcOutput(ctx, hdr.Name, in)
	if err != nil {
		return nil, collaborator(err, "output %s", p.label(h))
	}
	if err := finite(p.label(h), data...); err != nil {
		return nil, err
	}
	v.Data = slices.Clone(data)
	v.Computed = prod
	p.fill(h, prod, "calcOutput")
	return data, nil
}

// inputs resolves every input of an analysis. Linked inputs take their
// source's data, converted to the input's units, and keep a copy of it.
func (p *Problem) inputs(ctx context.Context, an *Analysis) (aim.Inputs, error) {
	in := make(aim.Inputs, len(an.Inputs))
	for _, h := range an.Inputs {
		v, hdr, err := lookup[*Value](p, h, entity.KindValue)
		if err != nil {
			return nil, err
		}
		if v.Link.IsNull() {
			in[hdr.Name] = slices.Clone(v.Data)
			continue
		}
		data, err := p.resolve(ctx, h)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(v.Data, data) {
			v.Data = slices.Clone(data)
			p.arena.Mark(h)
		}
		in[hdr.Name] = data
	}
	return in, nil
}

// resolve returns a value's data in its own units, following its link.
func (p *Problem) resolve(ctx context.Context, h entity.Handle) ([]float64, error) {
	src, err := p.valueSource(h)
	if err != nil {
		return nil, err
	}
	v, _, err := lookup[*Value](p, h, entity.KindValue)
	if err != nil {
		return nil, err
	}
	srcHdr, err := p.arena.Header(src)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, err, "source of %s", p.label(h))
	}

	var data []float64
	var from string
	switch srcHdr.Kind {
	case entity.KindDataSet:
		ds, _, err := lookup[*DataSet](p, src, entity.KindDataSet)
		if err != nil {
			return nil, err
		}
		if _, data, err = p.getData(ctx, src); err != nil {
			return nil, err
		}
		from = ds.Units
	default:
		sv, _, err := lookup[*Value](p, src, entity.KindValue)
		if err != nil {
			return nil, err
		}
		if sv.Output {
			if data, err = p.output(ctx, src); err != nil {
				return nil, err
			}
		} else {
			data = slices.Clone(sv.Data)
		}
		from = sv.Units
	}
	if data == nil {
		return nil, errs.New(errs.EmptyPayload, "source of %s has no data", p.label(h)).On(p.label(h))
	}
	return p.convert(data, from, v.Units)
}

func (p *Problem) convert(data []float64, from, to string) ([]float64, error) {
	if from == "" || to == "" || from == to {
		return data, nil
	}
	return p.units.ConvertSlice(data, from, to)
}
