package compiler

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/testutil"
)

const twoProblems = `
problem: one: {
	geometry: faces: wing: {min: [0, 0], max: [1, 1]}
	analysis: aero: aim: "planar"
}
problem: two: {
	geometry: faces: wing: {min: [0, 0], max: [1, 1]}
	analysis: aero: {aim: "planar", mode: "auto"}
}
`

func TestCompileSource_SingleProblem(t *testing.T) {
	spec, err := CompileSource("plate.cue", []byte(plateCUE), "")
	require.NoError(t, err)
	assert.Equal(t, testutil.PlateSpec(), spec)
}

func TestCompileSource_SelectsByName(t *testing.T) {
	spec, err := CompileSource("two.cue", []byte(twoProblems), "two")
	require.NoError(t, err)
	assert.Equal(t, "two", spec.Name)
	assert.Equal(t, "auto", spec.Analyses[0].Mode)

	_, err = CompileSource("two.cue", []byte(twoProblems), "")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "declares 2 problems")

	_, err = CompileSource("two.cue", []byte(twoProblems), "three")
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, `"three"`)
}

func TestCompileSource_SyntaxError(t *testing.T) {
	_, err := CompileSource("bad.cue", []byte(`problem: {`), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.cue")
}

func TestCompileProblems_CollectsErrors(t *testing.T) {
	v := cuecontext.New().CompileString(plateCUE + `
problem: broken: analysis: aero: aim: "planar"
`)
	require.NoError(t, v.Err())

	specs, errs := CompileProblems(v)
	require.Len(t, specs, 1)
	assert.Equal(t, "plate", specs[0].Name)
	require.Len(t, errs, 1)
	var ce *CompileError
	require.ErrorAs(t, errs[0], &ce)
	assert.Equal(t, "geometry", ce.Field)

	_, err := CompileSource("plate.cue", []byte(plateCUE+`
problem: broken: analysis: aero: aim: "planar"
`), "plate")
	assert.Error(t, err, "a source with a broken problem does not compile")
}
