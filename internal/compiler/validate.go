package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/caps/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Geometry errors (E101-E109)
	ErrNoFaces           = "E101" // at least one face required
	ErrNoAnalyses        = "E102" // at least one analysis required
	ErrDuplicateName     = "E103" // duplicate name within a scope
	ErrInvalidMode       = "E104" // invalid analysis execution mode
	ErrDegenerateFace    = "E105" // face min must be below max
	ErrUnknownFace       = "E106" // export names an undeclared face
	ErrUnknownParam      = "E107" // sensitivity names an undeclared parameter
	ErrEmptyName         = "E108" // names must be non-empty
	ErrInvalidResolution = "E109" // resolution must be positive

	// Coupling errors (E110-E119)
	ErrInvalidRef        = "E110" // malformed reference
	ErrUnknownAnalysis   = "E111" // reference names an undeclared analysis
	ErrUnknownSource     = "E112" // link or data set source not declared
	ErrInvalidMethod     = "E113" // invalid transfer method
	ErrInvalidKind       = "E114" // invalid data set kind
	ErrMissingSource     = "E115" // FieldIn data set without source
	ErrInvalidRank       = "E116" // rank must be positive
	ErrUnconnectedPoints = "E117" // unconnected vertex set needs points
	ErrInvalidDim        = "E118" // bound dimension must be 1, 2 or 3
	ErrDuplicateLink     = "E119" // input linked more than once
	ErrInvalidSourceKind = "E121" // FieldIn source is not a FieldOut or User data set
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled problem description.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.ProblemSpec:
		return validateProblemSpec(spec)
	case ir.ProblemSpec:
		return validateProblemSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// validator accumulates errors.
type validator struct {
	errs []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

// name checks a name for emptiness and duplicates within seen.
func (v *validator) name(field, kind, name string, seen map[string]bool) {
	if strings.TrimSpace(name) == "" {
		v.add(field, ErrEmptyName, "%s name is required", kind)
		return
	}
	if seen[name] {
		v.add(field, ErrDuplicateName, "duplicate %s name: %q", kind, name)
	}
	seen[name] = true
}

func validateProblemSpec(spec *ir.ProblemSpec) []ValidationError {
	v := &validator{}

	params := make(map[string]bool)
	for i, p := range spec.Geometry.Params {
		v.name(fmt.Sprintf("geometry.params[%d]", i), "parameter", p.Name, params)
	}

	// E101: at least one face
	if len(spec.Geometry.Faces) == 0 {
		v.add("geometry.faces", ErrNoFaces, "at least one face is required")
	}
	faces := make(map[string]bool)
	for i, f := range spec.Geometry.Faces {
		field := fmt.Sprintf("geometry.faces[%d]", i)
		v.name(field+".name", "face", f.Name, faces)
		// E105: non-degenerate parameter rectangle
		if f.Min[0] >= f.Max[0] || f.Min[1] >= f.Max[1] {
			v.add(field, ErrDegenerateFace, "face %q min %v must be below max %v", f.Name, f.Min, f.Max)
		}
	}

	// E107: sensitivities name declared parameters
	for i, s := range spec.Geometry.Sensitivities {
		if !params[s] {
			v.add(fmt.Sprintf("geometry.sensitivities[%d]", i), ErrUnknownParam, "undeclared design parameter %q", s)
		}
	}

	// E102: at least one analysis
	if len(spec.Analyses) == 0 {
		v.add("analyses", ErrNoAnalyses, "at least one analysis is required")
	}
	analyses := make(map[string]bool)
	for i, a := range spec.Analyses {
		field := fmt.Sprintf("analyses[%d]", i)
		v.name(field+".name", "analysis", a.Name, analyses)
		if strings.TrimSpace(a.AIM) == "" {
			v.add(field+".aim", ErrEmptyName, "analysis %q has no aim", a.Name)
		}
		// E104: execution mode
		if !ir.ValidModes[a.Mode] {
			v.add(field+".mode", ErrInvalidMode, "invalid mode %q, must be \"manual\" or \"auto\"", a.Mode)
		}
		if a.Resolution < 0 {
			v.add(field+".resolution", ErrInvalidResolution, "resolution must be positive, got %d", a.Resolution)
		}
		for j, e := range a.Exports {
			for k, face := range e.Faces {
				if !faces[face] {
					v.add(fmt.Sprintf("%s.exports[%d].faces[%d]", field, j, k), ErrUnknownFace, "undeclared face %q", face)
				}
			}
		}
		inputs := make(map[string]bool)
		for j, in := range a.Inputs {
			v.name(fmt.Sprintf("%s.inputs[%d]", field, j), "input", in.Name, inputs)
		}
	}

	// bound.vertexset.dataset → kind
	dataSets := make(map[string]string)
	bounds := make(map[string]bool)
	for i, b := range spec.Bounds {
		field := fmt.Sprintf("bounds[%d]", i)
		v.name(field+".name", "bound", b.Name, bounds)
		// E118: bound dimension
		if b.Dim < 1 || b.Dim > 3 {
			v.add(field+".dim", ErrInvalidDim, "bound %q dimension %d must be 1, 2 or 3", b.Name, b.Dim)
		}
		sets := make(map[string]bool)
		for j, vs := range b.VertexSets {
			vsField := fmt.Sprintf("%s.vertex_sets[%d]", field, j)
			v.name(vsField+".name", "vertex set", vs.Name, sets)
			if vs.Analysis == "" {
				// E117: unconnected sets carry their own points
				if len(vs.Points) == 0 {
					v.add(vsField+".points", ErrUnconnectedPoints, "unconnected vertex set %q needs points", vs.Name)
				}
			} else if !analyses[vs.Analysis] {
				v.add(vsField+".analysis", ErrUnknownAnalysis, "undeclared analysis %q", vs.Analysis)
			}
			dsNames := make(map[string]bool)
			for k, ds := range vs.DataSets {
				dsField := fmt.Sprintf("%s.data_sets[%d]", vsField, k)
				v.name(dsField+".name", "data set", ds.Name, dsNames)
				dataSets[b.Name+"."+vs.Name+"."+ds.Name] = ds.Kind
				validateDataSet(v, dsField, ds)
			}
		}
	}

	// FieldIn sources resolve within the bound, once all sets are known.
	for i, b := range spec.Bounds {
		for j, vs := range b.VertexSets {
			for k, ds := range vs.DataSets {
				if ds.Kind != ir.KindFieldIn || ds.Source == "" {
					continue
				}
				field := fmt.Sprintf("bounds[%d].vertex_sets[%d].data_sets[%d].source", i, j, k)
				if len(splitRef(ds.Source)) != 2 || !IsValueRef(ds.Source) {
					v.add(field, ErrInvalidRef, "source %q must be vertexset.dataset", ds.Source)
					continue
				}
				kind, ok := dataSets[b.Name+"."+ds.Source]
				switch {
				case !ok:
					v.add(field, ErrUnknownSource, "undeclared source %q in bound %q", ds.Source, b.Name)
				// E121: field inputs take field outputs or user data
				case kind != ir.KindFieldOut && kind != ir.KindUser:
					v.add(field, ErrInvalidSourceKind, "source %q is a %s data set, want %s or %s", ds.Source, kind, ir.KindFieldOut, ir.KindUser)
				}
			}
		}
	}

	linked := make(map[string]bool)
	for i, l := range spec.Links {
		field := fmt.Sprintf("links[%d]", i)
		if !IsValueRef(l.Target) {
			v.add(field+".target", ErrInvalidRef, "target %q must be analysis.input", l.Target)
		} else {
			if !analyses[splitRef(l.Target)[0]] {
				v.add(field+".target", ErrUnknownAnalysis, "undeclared analysis in %q", l.Target)
			}
			// E119: one link per input
			if linked[l.Target] {
				v.add(field+".target", ErrDuplicateLink, "input %q is linked more than once", l.Target)
			}
			linked[l.Target] = true
		}
		switch {
		case IsValueRef(l.Source):
			if !analyses[splitRef(l.Source)[0]] {
				v.add(field+".source", ErrUnknownAnalysis, "undeclared analysis in %q", l.Source)
			}
		case IsDataSetRef(l.Source):
			if _, ok := dataSets[l.Source]; !ok {
				v.add(field+".source", ErrUnknownSource, "undeclared data set %q", l.Source)
			}
		default:
			v.add(field+".source", ErrInvalidRef, "source %q must be analysis.output or bound.vertexset.dataset", l.Source)
		}
		if l.Method != "" && !ir.ValidMethods[l.Method] {
			v.add(field+".method", ErrInvalidMethod, "invalid method %q", l.Method)
		}
	}

	return v.errs
}

func validateDataSet(v *validator, field string, ds ir.DataSetSpec) {
	// E114: declarable kinds only
	if !ir.ValidDataSetKinds[ds.Kind] {
		v.add(field+".kind", ErrInvalidKind, "invalid data set kind %q", ds.Kind)
	}
	// E116: rank
	if ds.Rank < 1 {
		v.add(field+".rank", ErrInvalidRank, "rank must be positive, got %d", ds.Rank)
	}
	if ds.Method != "" && !ir.ValidMethods[ds.Method] {
		v.add(field+".method", ErrInvalidMethod, "invalid method %q", ds.Method)
	}
	// E115: FieldIn needs a source
	if ds.Kind == ir.KindFieldIn && strings.TrimSpace(ds.Source) == "" {
		v.add(field+".source", ErrMissingSource, "field_in data set %q needs a source", ds.Name)
	}
}
