package aim

import (
	"context"
)

// EntityID identifies one geometric entity (a face) of a model.
type EntityID struct {
	Model string `json:"model"`
	Name  string `json:"name"`
}

// String renders the id as model:name.
func (e EntityID) String() string {
	return e.Model + ":" + e.Name
}

// Variable describes one AIM input or output.
type Variable struct {
	Name    string    `json:"name"`
	Units   string    `json:"units,omitempty"`
	Default []float64 `json:"default,omitempty"`
}

// Inputs is the snapshot of an analysis' input values handed to every AIM
// call. AIMs keep no input state of their own.
type Inputs map[string][]float64

// Config is what an AIM is initialized with.
type Config struct {
	Analysis   string
	Resolution int
	// Exports maps each bound the analysis can discretize to the faces it
	// contributes.
	Exports map[string][]string
}

// Primitives are the per-element operations on a Discretization. Local
// coordinates are the barycentric (s, t) of a triangle; node weights are
// (1-s-t, s, t).
type Primitives interface {
	// LocateElement finds the element containing p, where space gives each
	// point's coordinates in the location space being searched.
	LocateElement(d *Discretization, space [][3]float64, p [3]float64) (elem int, local [2]float64, err error)
	Interpolate(d *Discretization, elem int, local [2]float64, rank int, data []float64, out []float64)
	InterpolateBar(d *Discretization, elem int, local [2]float64, rank int, outBar []float64, dataBar []float64)
	Integrate(d *Discretization, elem int, rank int, data []float64, out []float64)
	IntegrateBar(d *Discretization, elem int, rank int, outBar []float64, dataBar []float64)
}

// AIM is an analysis plugin.
type AIM interface {
	Primitives

	Initialize(ctx context.Context, cfg Config) error
	ListInputs() []Variable
	ListOutputs() []Variable
	PreAnalysis(ctx context.Context, geom Geometry, in Inputs) error
	Execute(ctx context.Context, in Inputs) error
	PostAnalysis(ctx context.Context, in Inputs) error
	CalcOutput(ctx context.Context, name string, in Inputs) ([]float64, error)
	Discretize(ctx context.Context, geom Geometry, bound string) (*Discretization, error)
	// TransferField samples the named field at every point of d.
	TransferField(ctx context.Context, name string, d *Discretization, in Inputs) (rank int, data []float64, err error)
}

// Factory creates a fresh AIM instance.
type Factory func() AIM

// Geometry is a built model.
type Geometry interface {
	// Faces lists the model's geometric entities.
	Faces() []EntityID
	// Tessellate returns a structured triangulation of a face with n
	// divisions per side.
	Tessellate(face string, n int) (*Discretization, error)
	// Evaluate maps native face parameters to a point.
	Evaluate(face string, uv [2]float64) ([3]float64, error)
	SameEntity(a, b EntityID) bool
	LengthUnits(face string) (string, error)
}

// Modeler owns the design parameters and rebuilds the Geometry.
type Modeler interface {
	Params() []string
	Param(name string) (float64, error)
	SetParam(name string, v float64) error
	Rebuild(ctx context.Context) (Geometry, error)
	// Sensitivity returns d(point)/d(param) at native face parameters.
	Sensitivity(param, face string, uv [2]float64) ([3]float64, error)
}
