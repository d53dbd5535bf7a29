package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/caps/internal/ir"
)

// CompileProblems compiles every problem declared under the top-level
// "problem" field of v, in declaration order. Compilation continues past
// failing problems; their errors are returned alongside the good ones.
func CompileProblems(v cue.Value) ([]*ir.ProblemSpec, []error) {
	problemsVal := v.LookupPath(cue.ParsePath("problem"))
	if !problemsVal.Exists() {
		return nil, []error{&CompileError{Field: "problem", Message: "no problem declared", Pos: v.Pos()}}
	}
	iter, err := problemsVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var specs []*ir.ProblemSpec
	var errs []error
	for iter.Next() {
		spec, err := CompileProblem(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}

// CompileSource compiles a CUE source and returns the named problem. An
// empty name selects the only problem of the source.
func CompileSource(filename string, src []byte, name string) (*ir.ProblemSpec, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	specs, errs := CompileProblems(v)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if name == "" {
		if len(specs) != 1 {
			return nil, &CompileError{
				Field:   "problem",
				Message: fmt.Sprintf("%s declares %d problems, name one", filename, len(specs)),
			}
		}
		return specs[0], nil
	}
	for _, spec := range specs {
		if spec.Name == name {
			return spec, nil
		}
	}
	return nil, &CompileError{
		Field:   "problem",
		Message: fmt.Sprintf("problem %q not declared in %s", name, filename),
	}
}
