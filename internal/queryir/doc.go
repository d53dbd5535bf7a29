// Package queryir describes filters over journal records.
//
// A query selects records of one session by column predicates. It is
// independent of storage: the querysql package compiles it to SQLite, and
// Match evaluates it against records already in memory, so the two paths
// can be checked against each other.
//
//	q := queryir.Select{
//		Filter: queryir.And{Predicates: []queryir.Predicate{
//			queryir.Equals{Field: queryir.FieldOpName, Value: ir.IRString("Execute")},
//			queryir.NotEquals{Field: queryir.FieldStatus, Value: ir.IRString("OK")},
//		}},
//	}
//
// Fields are limited to the record columns listed in Fields. Results are
// always ordered by seq; a query can only narrow the journal, never
// reorder it.
package queryir
