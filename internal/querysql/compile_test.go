package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/queryir"
)

func TestCompile_AllRecords(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT "+RecordColumns+" FROM records WHERE session_id = ? ORDER BY seq ASC", sql)
	assert.Equal(t, []any{"s1"}, params)
}

func TestCompile_Equals(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{
		Filter: queryir.Equals{Field: queryir.FieldOpName, Value: ir.IRString("Execute")},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE session_id = ? AND op_name = ?")
	assert.NotContains(t, sql, "Execute", "values are never interpolated")
	assert.Equal(t, []any{"s1", "Execute"}, params)
}

func TestCompile_PointerSelect(t *testing.T) {
	sql, params, err := Compile("s1", &queryir.Select{
		Filter: queryir.NotEquals{Field: queryir.FieldStatus, Value: ir.IRString("OK")},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "status != ?")
	assert.Equal(t, []any{"s1", "OK"}, params)
}

func TestCompile_AndRangeLimit(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.AtLeast{Field: queryir.FieldSeq, Value: 3},
			queryir.AtMost{Field: queryir.FieldSNumAfter, Value: 10},
			queryir.Equals{Field: queryir.FieldEntityIndex, Value: ir.IRInt(2)},
		}},
		Limit: 5,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "AND (seq >= ? AND s_num_after <= ? AND entity_index = ?)")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY seq ASC LIMIT ?"))
	assert.Equal(t, []any{"s1", int64(3), int64(10), int64(2), 5}, params)
}

func TestCompile_EmptyAnd(t *testing.T) {
	sql, params, err := Compile("s1", queryir.Select{Filter: queryir.And{}})
	require.NoError(t, err)
	assert.Contains(t, sql, "AND 1 = 1")
	assert.Equal(t, []any{"s1"}, params)
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		query queryir.Query
		want  string
	}{
		{"nil query", nil, "nil query"},
		{"unknown field", queryir.Select{Filter: queryir.Equals{Field: "crc; DROP TABLE records", Value: ir.IRInt(1)}}, "unknown field"},
		{"string on int field", queryir.Select{Filter: queryir.Equals{Field: queryir.FieldSeq, Value: ir.IRString("1")}}, "holds integers"},
		{"range on string field", queryir.Select{Filter: queryir.AtLeast{Field: queryir.FieldStatus, Value: 1}}, "not ordered"},
		{"negative limit", queryir.Select{Limit: -1}, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compile("s1", tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
