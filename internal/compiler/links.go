package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/caps/internal/ir"
)

// refSegment is one component of a dotted reference.
const refSegment = `[A-Za-z_][A-Za-z0-9_-]*`

// valueRefPattern matches "analysis.value".
var valueRefPattern = regexp.MustCompile(`^` + refSegment + `\.` + refSegment + `$`)

// dataSetRefPattern matches "bound.vertexset.dataset".
var dataSetRefPattern = regexp.MustCompile(`^` + refSegment + `\.` + refSegment + `\.` + refSegment + `$`)

// CompileLinks parses a CUE list of value links.
//
//	link: [
//		{target: "struct.Scale", source: "aero.ScaleOut"},
//		{target: "struct.Load", source: "surface.aero.pressure", method: "conserve"},
//	]
func CompileLinks(v cue.Value) ([]ir.LinkSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "link",
			Message: "link must be a list",
			Pos:     v.Pos(),
		}
	}

	var links []ir.LinkSpec
	for i := 0; iter.Next(); i++ {
		link, err := parseLink(i, iter.Value())
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func parseLink(i int, v cue.Value) (ir.LinkSpec, error) {
	var link ir.LinkSpec
	field := fmt.Sprintf("link[%d]", i)

	for _, f := range []struct {
		name string
		dst  *string
	}{{"target", &link.Target}, {"source", &link.Source}} {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			return link, &CompileError{
				Field:   field + "." + f.name,
				Message: f.name + " is required",
				Pos:     v.Pos(),
			}
		}
		s, err := fv.String()
		if err != nil {
			return link, formatCUEError(err)
		}
		*f.dst = s
	}

	if !valueRefPattern.MatchString(link.Target) {
		return link, &CompileError{
			Field:   field + ".target",
			Message: fmt.Sprintf("target %q must be analysis.input", link.Target),
			Pos:     v.Pos(),
		}
	}
	if !IsValueRef(link.Source) && !IsDataSetRef(link.Source) {
		return link, &CompileError{
			Field:   field + ".source",
			Message: fmt.Sprintf("source %q must be analysis.output or bound.vertexset.dataset", link.Source),
			Pos:     v.Pos(),
		}
	}

	method, err := optString(v, "method")
	if err != nil {
		return link, err
	}
	link.Method = method
	return link, nil
}

// IsValueRef reports whether ref has the form "analysis.value".
func IsValueRef(ref string) bool {
	return valueRefPattern.MatchString(ref)
}

// IsDataSetRef reports whether ref has the form "bound.vertexset.dataset".
func IsDataSetRef(ref string) bool {
	return dataSetRefPattern.MatchString(ref)
}

// splitRef splits a dotted reference into its components.
func splitRef(ref string) []string {
	return strings.Split(ref, ".")
}
