package ir

// ProblemSpec is a compiled problem description: the geometry the
// reference modeler builds, the analyses, the coupling bounds and the
// value links between analyses.
type ProblemSpec struct {
	Name     string         `json:"name"`
	Geometry GeometrySpec   `json:"geometry"`
	Analyses []AnalysisSpec `json:"analyses"`
	Bounds   []BoundSpec    `json:"bounds,omitempty"`
	Links    []LinkSpec     `json:"links,omitempty"`
}

// GeometrySpec describes a planar model: rectangular faces in a reference
// plane, scaled by design parameters.
type GeometrySpec struct {
	Units         string      `json:"units"`
	Params        []ParamSpec `json:"params,omitempty"`
	Faces         []FaceSpec  `json:"faces"`
	Sensitivities []string    `json:"sensitivities,omitempty"`
}

// ParamSpec is a named design parameter with its initial value.
type ParamSpec struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FaceSpec is one geometric entity. Faces may overlap; two faces covering
// the same region are still different entities.
type FaceSpec struct {
	Name  string     `json:"name"`
	Units string     `json:"units,omitempty"` // defaults to the geometry units
	Min   [2]float64 `json:"min"`
	Max   [2]float64 `json:"max"`
}

// AnalysisSpec declares one analysis and the AIM that serves it.
type AnalysisSpec struct {
	Name       string       `json:"name"`
	AIM        string       `json:"aim"`
	Mode       string       `json:"mode"`
	Resolution int          `json:"resolution,omitempty"`
	Exports    []ExportSpec `json:"exports,omitempty"`
	Inputs     []InputSpec  `json:"inputs,omitempty"`
}

// ExportSpec lists the faces an analysis discretizes for a bound.
type ExportSpec struct {
	Bound string   `json:"bound"`
	Faces []string `json:"faces"`
}

// InputSpec sets the initial value of an analysis input.
type InputSpec struct {
	Name  string    `json:"name"`
	Value []float64 `json:"value"`
}

// BoundSpec declares a coupling surface.
type BoundSpec struct {
	Name       string          `json:"name"`
	Dim        int             `json:"dim"`
	VertexSets []VertexSetSpec `json:"vertex_sets"`
}

// VertexSetSpec declares a discretization of a bound. A vertex set without
// an analysis is unconnected and carries its own point cloud.
type VertexSetSpec struct {
	Name     string        `json:"name"`
	Analysis string        `json:"analysis,omitempty"`
	Points   [][3]float64  `json:"points,omitempty"`
	DataSets []DataSetSpec `json:"data_sets,omitempty"`
}

// DataSetSpec declares a field on a vertex set. Source names the linked
// data set as "vertexset.dataset" within the same bound.
type DataSetSpec struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Rank   int    `json:"rank"`
	Method string `json:"method,omitempty"`
	Source string `json:"source,omitempty"`
	Units  string `json:"units,omitempty"`
}

// LinkSpec links an analysis input to a source. Target is "analysis.input";
// Source is "analysis.output" or "bound.vertexset.dataset".
type LinkSpec struct {
	Target string `json:"target"`
	Source string `json:"source"`
	Method string `json:"method,omitempty"`
}

// Execution modes.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

// ValidModes are the accepted analysis execution modes.
var ValidModes = map[string]bool{
	ModeManual: true,
	ModeAuto:   true,
}

// Data set kinds.
const (
	KindBuiltIn  = "builtin"
	KindFieldIn  = "field_in"
	KindFieldOut = "field_out"
	KindUser     = "user"
	KindGeomSens = "geom_sens"
	KindTessSens = "tess_sens"
)

// ValidDataSetKinds are the kinds a description may declare. Built-in data
// sets are created by the bound itself.
var ValidDataSetKinds = map[string]bool{
	KindFieldIn:  true,
	KindFieldOut: true,
	KindUser:     true,
	KindGeomSens: true,
	KindTessSens: true,
}

// Transfer methods.
const (
	MethodCopy        = "copy"
	MethodInterpolate = "interpolate"
	MethodConserve    = "conserve"
)

// ValidMethods are the accepted transfer methods.
var ValidMethods = map[string]bool{
	MethodCopy:        true,
	MethodInterpolate: true,
	MethodConserve:    true,
}

// ToIR converts the description to canonical content. Reals are encoded
// with RealBits.
func (s *ProblemSpec) ToIR() IRObject {
	analyses := make(IRArray, len(s.Analyses))
	for i, a := range s.Analyses {
		exports := make(IRArray, len(a.Exports))
		for j, e := range a.Exports {
			exports[j] = IRObject{"bound": IRString(e.Bound), "faces": stringArray(e.Faces)}
		}
		inputs := make(IRArray, len(a.Inputs))
		for j, in := range a.Inputs {
			inputs[j] = IRObject{"name": IRString(in.Name), "value": Reals(in.Value)}
		}
		analyses[i] = IRObject{
			"name":       IRString(a.Name),
			"aim":        IRString(a.AIM),
			"mode":       IRString(a.Mode),
			"resolution": IRInt(a.Resolution),
			"exports":    exports,
			"inputs":     inputs,
		}
	}

	bounds := make(IRArray, len(s.Bounds))
	for i, b := range s.Bounds {
		sets := make(IRArray, len(b.VertexSets))
		for j, vs := range b.VertexSets {
			points := make(IRArray, len(vs.Points))
			for k, p := range vs.Points {
				points[k] = Reals(p[:])
			}
			dss := make(IRArray, len(vs.DataSets))
			for k, ds := range vs.DataSets {
				dss[k] = IRObject{
					"name":   IRString(ds.Name),
					"kind":   IRString(ds.Kind),
					"rank":   IRInt(ds.Rank),
					"method": IRString(ds.Method),
					"source": IRString(ds.Source),
					"units":  IRString(ds.Units),
				}
			}
			sets[j] = IRObject{
				"name":      IRString(vs.Name),
				"analysis":  IRString(vs.Analysis),
				"points":    points,
				"data_sets": dss,
			}
		}
		bounds[i] = IRObject{"name": IRString(b.Name), "dim": IRInt(b.Dim), "vertex_sets": sets}
	}

	links := make(IRArray, len(s.Links))
	for i, l := range s.Links {
		links[i] = IRObject{"target": IRString(l.Target), "source": IRString(l.Source), "method": IRString(l.Method)}
	}

	params := make(IRArray, len(s.Geometry.Params))
	for i, p := range s.Geometry.Params {
		params[i] = IRObject{"name": IRString(p.Name), "value": RealBits(p.Value)}
	}
	faces := make(IRArray, len(s.Geometry.Faces))
	for i, f := range s.Geometry.Faces {
		faces[i] = IRObject{
			"name":  IRString(f.Name),
			"units": IRString(f.Units),
			"min":   Reals(f.Min[:]),
			"max":   Reals(f.Max[:]),
		}
	}

	return IRObject{
		"name": IRString(s.Name),
		"geometry": IRObject{
			"units":         IRString(s.Geometry.Units),
			"params":        params,
			"faces":         faces,
			"sensitivities": stringArray(s.Geometry.Sensitivities),
		},
		"analyses": analyses,
		"bounds":   bounds,
		"links":    links,
	}
}

func stringArray(ss []string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}

// Analysis returns the named analysis spec.
func (s *ProblemSpec) Analysis(name string) (*AnalysisSpec, bool) {
	for i := range s.Analyses {
		if s.Analyses[i].Name == name {
			return &s.Analyses[i], true
		}
	}
	return nil, false
}
