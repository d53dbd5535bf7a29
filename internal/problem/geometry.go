package problem

import (
	"context"
	"slices"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
)

// SetGeometryParam changes a design parameter. Every analysis
// pre-processed before the change becomes geometry-dirty.
func (p *Problem) SetGeometryParam(ctx context.Context, name string, value float64) error {
	inputs := []ir.Arg{ir.StringArg(name), ir.RealArg(value)}
	_, err := p.call(ctx, journal.OpSetGeometryParam, p.root, inputs, func() ([]ir.Arg, error) {
		root := p.rootObj()
		i := slices.IndexFunc(root.Params, func(prm Param) bool { return prm.Name == name })
		if i < 0 {
			return nil, errs.New(errs.NotFound, "no design parameter %q", name)
		}
		if err := finite("design parameter "+name, value); err != nil {
			return nil, err
		}
		root.Params[i].Value = value
		root.GeomSNum = p.touch(p.root, "setGeometryParam")
		p.logger.Debug("geometry changed", "param", name, "value", value, "s_num", root.GeomSNum)
		return nil, nil
	})
	return err
}

// GeometryParam returns a design parameter value.
func (p *Problem) GeometryParam(name string) (float64, error) {
	for _, prm := range p.rootObj().Params {
		if prm.Name == name {
			return prm.Value, nil
		}
	}
	return 0, errs.New(errs.NotFound, "no design parameter %q", name)
}

// RegisterSensitivity enables geometric derivatives for a parameter.
func (p *Problem) RegisterSensitivity(ctx context.Context, name string) error {
	_, err := p.call(ctx, journal.OpRegisterSensitivity, p.root, []ir.Arg{ir.StringArg(name)}, func() ([]ir.Arg, error) {
		root := p.rootObj()
		if !slices.ContainsFunc(root.Params, func(prm Param) bool { return prm.Name == name }) {
			return nil, errs.New(errs.NotFound, "no design parameter %q", name)
		}
		if slices.Contains(root.Sensitivities, name) {
			return nil, nil
		}
		root.Sensitivities = append(root.Sensitivities, name)
		p.touch(p.root, "registerSensitivity")
		return nil, nil
	})
	return err
}

// GeometrySensitivity returns d(point)/d(param) on a face at native
// parameters. The parameter must have been registered.
func (p *Problem) GeometrySensitivity(ctx context.Context, param, face string, uv [2]float64) ([3]float64, error) {
	inputs := []ir.Arg{ir.StringArg(param), ir.StringArg(face), ir.ArrayArg(uv[:])}
	out, err := p.call(ctx, journal.OpGeometrySensitivity, p.root, inputs, func() ([]ir.Arg, error) {
		v, err := p.sensitivity(ctx, param, face, uv)
		if err != nil {
			return nil, err
		}
		return []ir.Arg{ir.ArrayArg(v[:])}, nil
	})
	data, err := arrayResult(out, err, 0)
	if err != nil {
		return [3]float64{}, err
	}
	var v [3]float64
	copy(v[:], data)
	return v, nil
}

func (p *Problem) sensitivity(ctx context.Context, param, face string, uv [2]float64) ([3]float64, error) {
	if !slices.Contains(p.rootObj().Sensitivities, param) {
		return [3]float64{}, errs.New(errs.NotFound, "no sensitivity registered for %q", param)
	}
	if _, err := p.geometry(ctx); err != nil {
		return [3]float64{}, err
	}
	v, err := p.modeler.Sensitivity(param, face, uv)
	if err != nil {
		return [3]float64{}, collaborator(err, "sensitivity of %s on %s", param, face)
	}
	return v, nil
}

// geometry returns the built geometry for the current design parameters,
// rebuilding it when parameters changed since the last build.
func (p *Problem) geometry(ctx context.Context) (aim.Geometry, error) {
	root := p.rootObj()
	if p.geom != nil && p.geomBuilt == root.GeomSNum {
		return p.geom, nil
	}
	for _, prm := range root.Params {
		if err := p.modeler.SetParam(prm.Name, prm.Value); err != nil {
			return nil, collaborator(err, "set %s", prm.Name)
		}
	}
	g, err := p.modeler.Rebuild(ctx)
	if err != nil {
		return nil, collaborator(err, "rebuild geometry")
	}
	p.geom = g
	p.geomBuilt = root.GeomSNum
	p.logger.Debug("geometry built", "geom_s_num", root.GeomSNum)
	return g, nil
}
