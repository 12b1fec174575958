// Package statement is the contract between the distributed-execution core and
// the local SQL engine. Statements arrive pre-parsed; the router only needs the
// capability surface below to decide where each one runs.
package statement

import (
	"github.com/sqlring/sqlring/pkg/partition"
	"github.com/sqlring/sqlring/pkg/topology"
	"github.com/sqlring/sqlring/pkg/value"
)

type Kind int

const (
	KindDefine = Kind(0)
	KindInsert = Kind(1)
	KindMerge  = Kind(2)
	KindUpdate = Kind(3)
	KindDelete = Kind(4)
	KindSelect = Kind(5)
)

// Statement is the common capability set of every parsed statement.
type Statement interface {
	Kind() Kind
	IsLocal() bool
	SetLocal(local bool)
	SQL() string
	Parameters() []Parameter
	FetchSize() int
	SetFetchSize(fetchSize int)
	Session() Session
	// UpdateLocal executes the statement on the local engine.
	UpdateLocal() (int, error)
}

// Define is a DDL statement; it carries no capabilities beyond the common set
// but keeps dispatch explicit.
type Define interface {
	Statement
}

// InsertOrMerge carries the rows of a direct INSERT or MERGE, or the source
// query of an INSERT ... SELECT.
type InsertOrMerge interface {
	Statement
	Schema() *partition.Schema
	Rows() []*Row
	SetRows(rows []*Row)
	// RowPlanSQL renders the statement's SQL with only the given rows inlined.
	RowPlanSQL(rows []*Row) string
	// Query is non-nil for the insert-from-query form.
	Query() Select
}

// Conditional is an UPDATE or DELETE with its primary table filter.
type Conditional interface {
	Statement
	TableFilter() *TableFilter
}

type Select interface {
	Statement
	QueryLocal(maxRows int) (Result, error)
	// QueryLocalOver evaluates the select over the supplied row source instead
	// of its own table; the reducer pass of merged results runs through here.
	QueryLocalOver(source Result, maxRows int) (Result, error)
	// PlanSQL rewrites the select for distributed execution; with reducer set
	// it produces the final-aggregation form applied locally over peer rows.
	PlanSQL(distributed bool, reducer bool) string
	IsGroupQuery() bool
	SortOrder() *SortOrder
	HasLimitOrOffset() bool
	// LimitRows is the select's LIMIT, or <= 0 when absent.
	LimitRows() int
	TopFilter() *TableFilter
}

// Parameter is an engine-side bound parameter.
type Parameter interface {
	// Value returns nil while unbound.
	Value() *value.Value
	SetValue(v value.Value)
}

// Session is the local transactional context owning a statement.
type Session interface {
	URL(e topology.Endpoint) string
	PrepareStatement(sql string) (Statement, error)
	// DDLSerialized marks a session already inside a forwarded DDL chain; the
	// router then relies on the outer serializer instead of its own mutex.
	DDLSerialized() bool
	SetDDLSerialized(serialized bool)
}

// Row is a table row in routing position. A nil Key is replaced by a freshly
// generated random UUID before the row is hashed or shipped.
type Row struct {
	Key     *value.Value
	Columns []value.Value
}

// TableFilter is the filter view the partition resolver consumes: the schema
// and, when the filter pins the partition key to a single literal, that value.
type TableFilter struct {
	Schema *partition.Schema
	Key    *value.Value
}

// Result is the iterator shared by local, remote and composed results.
type Result interface {
	// Next returns the next row, or nil when the result is exhausted.
	Next() (*Row, error)
	ColumnCount() int
	Close() error
}

// Command is the executable handle the router fans out on: either a remote
// client command or a local statement adapted in place.
type Command interface {
	ExecuteUpdate() (int, error)
	ExecuteQuery(maxRows int, scrollable bool) (Result, error)
	Close()
}

type SortColumn struct {
	// Index selects the column within the row.
	Index      int
	Descending bool
	NullsLast  bool
}

type SortOrder struct {
	Columns []SortColumn
}

// Compare orders two rows by the sort columns. NULLs sort first unless the
// column says otherwise.
func (s *SortOrder) Compare(a, b *Row) int {
	for _, sc := range s.Columns {
		av, bv := a.Columns[sc.Index], b.Columns[sc.Index]
		if av.IsNull() != bv.IsNull() {
			less := av.IsNull()
			if sc.NullsLast {
				less = !less
			}
			if less {
				return -1
			}
			return 1
		}
		cmp := av.Compare(bv)
		if cmp == 0 {
			continue
		}
		if sc.Descending {
			return -cmp
		}
		return cmp
	}
	return 0
}
