package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/queryir"
)

// RecordColumns lists the records columns in the order the store scans
// them.
const RecordColumns = `session_id, seq, id, op, op_name, entity_index, entity_gen, ordinal,
       status, message, s_num_before, s_num_after, inputs, outputs, crc`

// Compile converts a record query for one session into parameterized
// SQLite SQL. Returns (sql, params, error).
//
// Every query is ordered by seq. Values are always bound as parameters,
// never interpolated; field names come from queryir.Fields only.
func Compile(sessionID string, q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if verrs := queryir.Validate(q); len(verrs) > 0 {
		return "", nil, fmt.Errorf("invalid query: %w", errors.Join(verrs...))
	}

	var sel queryir.Select
	switch query := q.(type) {
	case queryir.Select:
		sel = query
	case *queryir.Select:
		sel = *query
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}

	where := "session_id = ?"
	params := []any{sessionID}
	if sel.Filter != nil {
		filterSQL, filterParams, err := compilePredicate(sel.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where += " AND " + filterSQL
		params = append(params, filterParams...)
	}

	sql := fmt.Sprintf("SELECT %s FROM records WHERE %s ORDER BY seq ASC", RecordColumns, where)
	if sel.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, sel.Limit)
	}
	return sql, params, nil
}

// compilePredicate compiles a predicate to a WHERE fragment.
func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return compareValue(pred.Field, "=", pred.Value)
	case queryir.NotEquals:
		return compareValue(pred.Field, "!=", pred.Value)
	case queryir.AtLeast:
		return fmt.Sprintf("%s >= ?", pred.Field), []any{pred.Value}, nil
	case queryir.AtMost:
		return fmt.Sprintf("%s <= ?", pred.Field), []any{pred.Value}, nil
	case queryir.And:
		return compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compareValue(field, op string, v ir.IRValue) (string, []any, error) {
	param, err := irValueToParam(v)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}
	return fmt.Sprintf("%s %s ?", field, op), []any{param}, nil
}

// compileAnd joins the conjuncts with AND. An empty And is always true.
func compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, ps, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

// irValueToParam converts an ir.IRValue to a Go native SQL parameter.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
