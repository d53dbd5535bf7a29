package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/caps/internal/compiler"
	"github.com/roach88/caps/internal/ir"
)

// LoadMode controls how errors are handled during spec loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the problems loaded from a directory or file.
type LoadResult struct {
	Problems  []*ir.ProblemSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Problem returns the named problem. An empty name selects the only one.
func (r *LoadResult) Problem(name string) (*ir.ProblemSpec, error) {
	if name == "" {
		if len(r.Problems) != 1 {
			return nil, &LoadError{Code: ErrCodeProblem, Message: fmt.Sprintf("%d problems declared, select one with --problem", len(r.Problems))}
		}
		return r.Problems[0], nil
	}
	for _, p := range r.Problems {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, &LoadError{Code: ErrCodeProblem, Message: fmt.Sprintf("problem %q not declared", name)}
}

// LoadError represents an error that occurred during spec loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpecs loads and compiles the problem descriptions at path: a
// directory holding one CUE package, or a single .cue file.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadSpecs(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs path: %v", err)}}
	}

	var value cue.Value
	var fileCount int
	if info.IsDir() {
		value, fileCount, err = loadDir(path)
	} else {
		value, err = loadFile(path)
		fileCount = 1
	}
	if err != nil {
		return nil, []error{err}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: fileCount,
	}

	if !value.LookupPath(cue.ParsePath("problem")).Exists() {
		return result, []error{&LoadError{Code: ErrCodeProblem, Message: "no problem declared in specs"}}
	}

	specs, compileErrs := compiler.CompileProblems(value)
	result.Problems = specs
	var errs []error
	for _, ce := range compileErrs {
		errs = append(errs, convertCompileError(ce, "problem"))
		if mode == LoadModeFailFast {
			return result, errs
		}
	}
	return result, errs
}

func loadDir(dir string) (cue.Value, int, error) {
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, len(cueFiles), nil
}

func loadFile(path string) (cue.Value, error) {
	if filepath.Ext(path) != ".cue" {
		return cue.Value{}, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("not a CUE file: %s", path)}
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	value := cuecontext.New().CompileBytes(src, cue.Filename(path))
	if err := value.Err(); err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStore       = "E008" // Journal database error

	// Problem description errors
	ErrCodeProblem  = "E010" // Missing or ambiguous problem
	ErrCodeGeometry = "E011" // Invalid geometry block
	ErrCodeAnalysis = "E012" // Invalid analysis block
	ErrCodeBound    = "E013" // Invalid bound block
	ErrCodeLink     = "E014" // Invalid link list
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "problem":
		return ErrCodeProblem
	case field == "geometry", strings.HasPrefix(field, "geometry."):
		return ErrCodeGeometry
	case field == "analysis", strings.HasPrefix(field, "analysis."):
		return ErrCodeAnalysis
	case field == "bound", strings.HasPrefix(field, "bound."):
		return ErrCodeBound
	case field == "link", strings.HasPrefix(field, "link["):
		return ErrCodeLink
	default:
		return ErrCodeGeneric
	}
}
