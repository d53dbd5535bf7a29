package planar

import (
	"context"
	"math"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/errs"
)

// Name is the registry name of the planar AIM.
const Name = "planar"

const defaultResolution = 4

// Inputs and outputs.
const (
	InputScale  = "Scale"
	InputAlpha  = "Alpha"
	OutputLift  = "Lift"
	OutputDrag  = "Drag"
	OutputScale = "ScaleOut"
)

// Fields served by TransferField.
const (
	FieldPressure     = "pressure"
	FieldHeatFlux     = "heatflux"
	FieldDisplacement = "displacement"
)

// AIM is the planar analysis plugin. It holds only its configuration;
// every call receives the current inputs.
type AIM struct {
	aim.Linear

	cfg   aim.Config
	calls *Calls
}

var _ aim.AIM = (*AIM)(nil)

// NewFactory returns a factory whose instances count into calls.
func NewFactory(calls *Calls) aim.Factory {
	return func() aim.AIM { return &AIM{calls: calls} }
}

// Register adds the planar AIM to a registry.
func Register(r *aim.Registry, calls *Calls) {
	r.Register(Name, NewFactory(calls))
}

// Initialize stores the configuration.
func (a *AIM) Initialize(_ context.Context, cfg aim.Config) error {
	a.calls.add("AIM.Initialize")
	if cfg.Resolution == 0 {
		cfg.Resolution = defaultResolution
	}
	if cfg.Resolution < 1 {
		return errs.New(errs.RangeError, "resolution %d is not positive", cfg.Resolution)
	}
	a.cfg = cfg
	return nil
}

// ListInputs returns the declared inputs.
func (a *AIM) ListInputs() []aim.Variable {
	return []aim.Variable{
		{Name: InputScale, Default: []float64{1}},
		{Name: InputAlpha, Units: "deg", Default: []float64{0}},
	}
}

// ListOutputs returns the declared outputs.
func (a *AIM) ListOutputs() []aim.Variable {
	return []aim.Variable{
		{Name: OutputLift},
		{Name: OutputDrag},
		{Name: OutputScale},
	}
}

// PreAnalysis checks the inputs against the geometry.
func (a *AIM) PreAnalysis(ctx context.Context, geom aim.Geometry, in aim.Inputs) error {
	a.calls.add("AIM.PreAnalysis")
	if err := ctx.Err(); err != nil {
		return err
	}
	if geom == nil {
		return errs.New(errs.SourceUnavailable, "no geometry")
	}
	if _, err := scalar(in, InputScale); err != nil {
		return err
	}
	return nil
}

// Execute is a no-op solve; outputs are closed-form.
func (a *AIM) Execute(ctx context.Context, _ aim.Inputs) error {
	a.calls.add("AIM.Execute")
	return ctx.Err()
}

// PostAnalysis is a no-op.
func (a *AIM) PostAnalysis(ctx context.Context, _ aim.Inputs) error {
	a.calls.add("AIM.PostAnalysis")
	return ctx.Err()
}

// CalcOutput evaluates a closed-form output from the inputs.
func (a *AIM) CalcOutput(_ context.Context, name string, in aim.Inputs) ([]float64, error) {
	a.calls.add("AIM.CalcOutput")
	scale, err := scalar(in, InputScale)
	if err != nil {
		return nil, err
	}
	alpha, err := scalar(in, InputAlpha)
	if err != nil {
		return nil, err
	}
	rad := alpha * math.Pi / 180
	switch name {
	case OutputLift:
		return []float64{2 * math.Pi * rad * scale}, nil
	case OutputDrag:
		return []float64{scale * (0.01 + rad*rad)}, nil
	case OutputScale:
		return []float64{scale}, nil
	}
	return nil, errs.New(errs.NotFound, "no output %q", name)
}

// Discretize tessellates the faces exported for a bound. An analysis
// exporting nothing for the bound returns an empty discretization.
func (a *AIM) Discretize(ctx context.Context, geom aim.Geometry, bound string) (*aim.Discretization, error) {
	a.calls.add("AIM.Discretize")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := &aim.Discretization{Bound: bound, Dim: 2}
	for _, face := range a.cfg.Exports[bound] {
		fd, err := geom.Tessellate(face, a.cfg.Resolution)
		if err != nil {
			return nil, err
		}
		d.Append(fd)
	}
	return d, nil
}

// TransferField samples a closed-form field at every point. Component k
// of a field is Scale*(k+1)*f(x, y).
func (a *AIM) TransferField(_ context.Context, name string, d *aim.Discretization, in aim.Inputs) (int, []float64, error) {
	a.calls.add("AIM.TransferField")
	scale, err := scalar(in, InputScale)
	if err != nil {
		return 0, nil, err
	}
	var (
		rank int
		f    func(x, y float64) float64
	)
	switch name {
	case FieldPressure:
		rank, f = 1, LinearProfile
	case FieldHeatFlux:
		rank, f = 1, QuadraticProfile
	case FieldDisplacement:
		rank, f = 3, LinearProfile
	default:
		return 0, nil, errs.New(errs.NotFound, "no field %q", name)
	}
	data := make([]float64, len(d.Points)*rank)
	for i, p := range d.Points {
		for k := 0; k < rank; k++ {
			data[i*rank+k] = scale * float64(k+1) * f(p[0], p[1])
		}
	}
	return rank, data, nil
}

// LinearProfile is the profile of the pressure and displacement fields.
func LinearProfile(x, y float64) float64 { return 1 + x + 0.5*y }

// QuadraticProfile is the profile of the heat flux field.
func QuadraticProfile(x, y float64) float64 { return 1 + x*y + x*x }

func scalar(in aim.Inputs, name string) (float64, error) {
	v, ok := in[name]
	if !ok || len(v) == 0 {
		return 0, errs.New(errs.SourceUnavailable, "input %q has no value", name)
	}
	return v[0], nil
}
