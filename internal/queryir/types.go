package queryir

import "github.com/roach88/caps/internal/ir"

// Query is a journal record query.
//
// This is a sealed interface: only Select implements it.
type Query interface {
	queryNode()
}

// Predicate is a condition on one record.
//
// This is a sealed interface: only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Select picks the records of a session that satisfy Filter, in seq order.
//
//	SELECT <record> FROM records
//	WHERE session_id = ? AND <filter>
//	ORDER BY seq ASC LIMIT <limit>
type Select struct {
	Filter Predicate // nil selects every record
	Limit  int       // 0 means no limit
}

func (Select) queryNode() {}

// Equals holds when the field equals Value.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// NotEquals holds when the field differs from Value.
type NotEquals struct {
	Field string
	Value ir.IRValue
}

func (NotEquals) predicateNode() {}

// AtLeast holds when an integer field is >= Value.
type AtLeast struct {
	Field string
	Value int64
}

func (AtLeast) predicateNode() {}

// AtMost holds when an integer field is <= Value.
type AtMost struct {
	Field string
	Value int64
}

func (AtMost) predicateNode() {}

// And holds when every predicate holds. An empty And always holds.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Record column names a query may filter on.
const (
	FieldSeq         = "seq"
	FieldOpName      = "op_name"
	FieldStatus      = "status"
	FieldEntityIndex = "entity_index"
	FieldEntityGen   = "entity_gen"
	FieldOrdinal     = "ordinal"
	FieldSNumBefore  = "s_num_before"
	FieldSNumAfter   = "s_num_after"
)

// Kind is the value type of a field.
type Kind int

const (
	KindInt Kind = iota
	KindString
)

// Fields maps every queryable column to its kind.
var Fields = map[string]Kind{
	FieldSeq:         KindInt,
	FieldOpName:      KindString,
	FieldStatus:      KindString,
	FieldEntityIndex: KindInt,
	FieldEntityGen:   KindInt,
	FieldOrdinal:     KindInt,
	FieldSNumBefore:  KindInt,
	FieldSNumAfter:   KindInt,
}

// fieldValue reads a column from a record.
func fieldValue(rec *ir.Record, field string) (ir.IRValue, bool) {
	switch field {
	case FieldSeq:
		return ir.IRInt(rec.Seq), true
	case FieldOpName:
		return ir.IRString(rec.OpName), true
	case FieldStatus:
		return ir.IRString(rec.Status), true
	case FieldEntityIndex:
		return ir.IRInt(rec.Entity.Index), true
	case FieldEntityGen:
		return ir.IRInt(rec.Entity.Gen), true
	case FieldOrdinal:
		return ir.IRInt(rec.Ordinal), true
	case FieldSNumBefore:
		return ir.IRInt(rec.Before), true
	case FieldSNumAfter:
		return ir.IRInt(rec.After), true
	default:
		return nil, false
	}
}

// Match reports whether rec satisfies p. Unknown fields never match.
func Match(p Predicate, rec *ir.Record) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		v, ok := fieldValue(rec, pred.Field)
		return ok && sameKind(v, pred.Value) && v == pred.Value
	case NotEquals:
		v, ok := fieldValue(rec, pred.Field)
		return ok && sameKind(v, pred.Value) && v != pred.Value
	case AtLeast:
		v, ok := fieldValue(rec, pred.Field)
		n, isInt := v.(ir.IRInt)
		return ok && isInt && int64(n) >= pred.Value
	case AtMost:
		v, ok := fieldValue(rec, pred.Field)
		n, isInt := v.(ir.IRInt)
		return ok && isInt && int64(n) <= pred.Value
	case And:
		for _, sub := range pred.Predicates {
			if !Match(sub, rec) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// sameKind reports whether a and b are both integers or both strings.
func sameKind(a, b ir.IRValue) bool {
	switch a.(type) {
	case ir.IRInt:
		_, ok := b.(ir.IRInt)
		return ok
	case ir.IRString:
		_, ok := b.(ir.IRString)
		return ok
	}
	return false
}

// Filter returns the records that satisfy q, keeping their order.
func Filter(q Select, records []ir.Record) []ir.Record {
	out := []ir.Record{}
	for i := range records {
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
		if Match(q.Filter, &records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}
