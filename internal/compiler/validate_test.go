package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/aim/planar"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/testutil"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	assert.Empty(t, Validate(testutil.PlateSpec()))
	assert.Empty(t, Validate(*testutil.QuiltSpec()))
}

func TestValidate_UnsupportedType(t *testing.T) {
	errs := Validate("plate")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ir.ProblemSpec)
		code   string
		field  string
	}{
		{
			name:   "no faces",
			mutate: func(s *ir.ProblemSpec) { s.Geometry.Faces = nil; s.Analyses[0].Exports = nil; s.Analyses[1].Exports = nil },
			code:   ErrNoFaces,
			field:  "geometry.faces",
		},
		{
			name:   "no analyses",
			mutate: func(s *ir.ProblemSpec) { s.Analyses = nil; s.Bounds = nil; s.Links = nil },
			code:   ErrNoAnalyses,
			field:  "analyses",
		},
		{
			name:   "duplicate face",
			mutate: func(s *ir.ProblemSpec) { s.Geometry.Faces[1].Name = testutil.Wing },
			code:   ErrDuplicateName,
			field:  "geometry.faces[1].name",
		},
		{
			name:   "duplicate analysis",
			mutate: func(s *ir.ProblemSpec) { s.Analyses = append(s.Analyses, s.Analyses[0]) },
			code:   ErrDuplicateName,
			field:  "analyses[2].name",
		},
		{
			name:   "invalid mode",
			mutate: func(s *ir.ProblemSpec) { s.Analyses[0].Mode = "eager" },
			code:   ErrInvalidMode,
			field:  "analyses[0].mode",
		},
		{
			name:   "degenerate face",
			mutate: func(s *ir.ProblemSpec) { s.Geometry.Faces[0].Max = [2]float64{1, 0} },
			code:   ErrDegenerateFace,
			field:  "geometry.faces[0]",
		},
		{
			name:   "unknown export face",
			mutate: func(s *ir.ProblemSpec) { s.Analyses[0].Exports[0].Faces = []string{"tail"} },
			code:   ErrUnknownFace,
			field:  "analyses[0].exports[0].faces[0]",
		},
		{
			name:   "unknown sensitivity",
			mutate: func(s *ir.ProblemSpec) { s.Geometry.Sensitivities = []string{"span"} },
			code:   ErrUnknownParam,
			field:  "geometry.sensitivities[0]",
		},
		{
			name:   "empty bound name",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].Name = " " },
			code:   ErrEmptyName,
			field:  "bounds[0].name",
		},
		{
			name:   "negative resolution",
			mutate: func(s *ir.ProblemSpec) { s.Analyses[1].Resolution = -1 },
			code:   ErrInvalidResolution,
			field:  "analyses[1].resolution",
		},
		{
			name:   "malformed link target",
			mutate: func(s *ir.ProblemSpec) { s.Links[0].Target = "struct" },
			code:   ErrInvalidRef,
			field:  "links[0].target",
		},
		{
			name:   "unknown link analysis",
			mutate: func(s *ir.ProblemSpec) { s.Links[0].Source = "thermal.ScaleOut" },
			code:   ErrUnknownAnalysis,
			field:  "links[0].source",
		},
		{
			name:   "unknown link data set",
			mutate: func(s *ir.ProblemSpec) { s.Links[0].Source = "surface.aero.heatflux" },
			code:   ErrUnknownSource,
			field:  "links[0].source",
		},
		{
			name:   "invalid link method",
			mutate: func(s *ir.ProblemSpec) { s.Links[0].Method = "average" },
			code:   ErrInvalidMethod,
			field:  "links[0].method",
		},
		{
			name:   "invalid kind",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].VertexSets[0].DataSets[0].Kind = ir.KindBuiltIn },
			code:   ErrInvalidKind,
			field:  "bounds[0].vertex_sets[0].data_sets[0].kind",
		},
		{
			name:   "field in without source",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].VertexSets[1].DataSets[0].Source = "" },
			code:   ErrMissingSource,
			field:  "bounds[0].vertex_sets[1].data_sets[0].source",
		},
		{
			name:   "field in with unknown source",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].VertexSets[1].DataSets[0].Source = "aero.heatflux" },
			code:   ErrUnknownSource,
			field:  "bounds[0].vertex_sets[1].data_sets[0].source",
		},
		{
			name:   "field in with malformed source",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].VertexSets[1].DataSets[0].Source = "surface.aero.pressure" },
			code:   ErrInvalidRef,
			field:  "bounds[0].vertex_sets[1].data_sets[0].source",
		},
		{
			name: "field in sourced from a field in",
			mutate: func(s *ir.ProblemSpec) {
				vs := &s.Bounds[0].VertexSets[0]
				vs.DataSets = append(vs.DataSets, ir.DataSetSpec{
					Name: "echo", Kind: ir.KindFieldIn, Rank: 1, Method: ir.MethodInterpolate,
					Source: testutil.Struct + "." + planar.FieldPressure,
				})
			},
			code:  ErrInvalidSourceKind,
			field: "bounds[0].vertex_sets[0].data_sets[1].source",
		},
		{
			name:   "zero rank",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].VertexSets[0].DataSets[0].Rank = 0 },
			code:   ErrInvalidRank,
			field:  "bounds[0].vertex_sets[0].data_sets[0].rank",
		},
		{
			name:   "unconnected without points",
			mutate: func(s *ir.ProblemSpec) {
				s.Bounds[0].VertexSets = append(s.Bounds[0].VertexSets, ir.VertexSetSpec{Name: "probe"})
			},
			code:  ErrUnconnectedPoints,
			field: "bounds[0].vertex_sets[2].points",
		},
		{
			name:   "vertex set for unknown analysis",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].VertexSets[0].Analysis = "thermal" },
			code:   ErrUnknownAnalysis,
			field:  "bounds[0].vertex_sets[0].analysis",
		},
		{
			name:   "bound dimension",
			mutate: func(s *ir.ProblemSpec) { s.Bounds[0].Dim = 4 },
			code:   ErrInvalidDim,
			field:  "bounds[0].dim",
		},
		{
			name: "input linked twice",
			mutate: func(s *ir.ProblemSpec) {
				s.Links = append(s.Links, ir.LinkSpec{Target: "struct.Scale", Source: "aero.Lift"})
			},
			code:  ErrDuplicateLink,
			field: "links[1].target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testutil.PlateSpec()
			tt.mutate(spec)
			errs := Validate(spec)
			require.Len(t, errs, 1, "errors: %v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

// Validation reports every problem rather than stopping at the first.
func TestValidate_CollectsAll(t *testing.T) {
	spec := testutil.PlateSpec()
	spec.Analyses[0].Mode = "eager"
	spec.Bounds[0].Dim = 0
	spec.Links[0].Method = "average"

	assert.Equal(t, []string{ErrInvalidMode, ErrInvalidDim, ErrInvalidMethod}, codes(Validate(spec)))
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "analyses[0].mode", Message: "bad", Code: ErrInvalidMode}
	assert.Equal(t, "[E104] analyses[0].mode: bad", err.Error())

	err.Line = 12
	assert.Equal(t, "[E104] line 12: analyses[0].mode: bad", err.Error())
}
