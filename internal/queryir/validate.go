package queryir

import (
	"fmt"

	"github.com/roach88/caps/internal/ir"
)

// Validate checks that every predicate names a known field with a value
// of the field's kind. It returns all problems found, or nil.
func Validate(q Query) []error {
	v := &validator{}
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		if query == nil {
			v.add("nil query")
			break
		}
		v.validateSelect(*query)
	case nil:
		v.add("nil query")
	default:
		v.add("unsupported query type %T", q)
	}
	return v.errs
}

type validator struct {
	errs []error
}

func (v *validator) add(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) validateSelect(q Select) {
	if q.Limit < 0 {
		v.add("limit %d is negative", q.Limit)
	}
	v.validatePredicate(q.Filter)
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.validateValue(pred.Field, pred.Value)
	case NotEquals:
		v.validateValue(pred.Field, pred.Value)
	case AtLeast:
		v.validateIntField(pred.Field)
	case AtMost:
		v.validateIntField(pred.Field)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	default:
		v.add("unsupported predicate type %T", p)
	}
}

func (v *validator) validateValue(field string, value ir.IRValue) {
	kind, ok := Fields[field]
	if !ok {
		v.add("unknown field %q", field)
		return
	}
	switch value.(type) {
	case ir.IRInt:
		if kind != KindInt {
			v.add("field %q holds strings, got an integer", field)
		}
	case ir.IRString:
		if kind != KindString {
			v.add("field %q holds integers, got a string", field)
		}
	default:
		v.add("field %q: unsupported value type %T", field, value)
	}
}

func (v *validator) validateIntField(field string) {
	kind, ok := Fields[field]
	if !ok {
		v.add("unknown field %q", field)
		return
	}
	if kind != KindInt {
		v.add("field %q is not ordered", field)
	}
}
