package execution

import (
	"fmt"

	"graindb/pkg/tuple"
	"graindb/pkg/types"
)

// ScanPredicate filters scanned rows: column op constant.
type ScanPredicate struct {
	ColIdx int
	Op     types.Op
	Value  types.Field
}

// Evaluate applies the predicate to a row.
func (p *ScanPredicate) Evaluate(t *tuple.Tuple) (bool, error) {
	field, err := t.GetField(p.ColIdx)
	if err != nil {
		return false, err
	}
	return field.Compare(p.Op, p.Value)
}

// SeqScanPlan scans one table, optionally filtering and projecting.
// A nil OutputColumns, or one as long as the table schema, keeps the table
// schema.
type SeqScanPlan struct {
	TableOID      uint32
	Predicate     *ScanPredicate
	OutputColumns []int
}

// InsertPlan inserts either literal rows (raw mode) or its child's output.
type InsertPlan struct {
	TableOID  uint32
	RawValues [][]types.Field
}

// IsRawInsert reports whether the plan carries literal rows.
func (p *InsertPlan) IsRawInsert() bool {
	return p.RawValues != nil
}

// DeletePlan deletes every row its child produces.
type DeletePlan struct {
	TableOID uint32
}

// UpdateType selects how an updated column derives its new value.
type UpdateType int

const (
	// UpdateAdd adds the operand to the column's current value.
	UpdateAdd UpdateType = iota
	// UpdateSet replaces the column's value with the operand.
	UpdateSet
)

// UpdateInfo describes the change to one column.
type UpdateInfo struct {
	Type  UpdateType
	Value int32
}

// UpdatePlan rewrites columns of every row its child produces.
type UpdatePlan struct {
	TableOID    uint32
	UpdateAttrs map[int]UpdateInfo
}

// AggregationType selects the combining function for one aggregate column.
type AggregationType int

const (
	CountAggregate AggregationType = iota
	SumAggregate
	MinAggregate
	MaxAggregate
)

func (t AggregationType) String() string {
	switch t {
	case CountAggregate:
		return "count"
	case SumAggregate:
		return "sum"
	case MinAggregate:
		return "min"
	case MaxAggregate:
		return "max"
	default:
		return "unknown"
	}
}

// AggregateExpr aggregates one integer column of the child.
type AggregateExpr struct {
	ColIdx int
	Type   AggregationType
}

// HavingClause filters groups on one aggregate's value.
type HavingClause struct {
	AggIdx int
	Op     types.Op
	Value  int32
}

// AggregationPlan groups the child's rows and folds aggregates per group.
// Output rows are the group-by fields followed by the aggregate values.
type AggregationPlan struct {
	GroupBys   []int
	Aggregates []AggregateExpr
	Having     *HavingClause
}

// JoinPredicate compares one left column against one right column.
type JoinPredicate struct {
	LeftCol  int
	Op       types.Op
	RightCol int
}

// Evaluate applies the predicate across an outer/inner row pair.
func (p *JoinPredicate) Evaluate(left, right *tuple.Tuple) (bool, error) {
	leftField, err := left.GetField(p.LeftCol)
	if err != nil {
		return false, err
	}
	rightField, err := right.GetField(p.RightCol)
	if err != nil {
		return false, err
	}
	return leftField.Compare(p.Op, rightField)
}

// NestedLoopJoinPlan joins via outer/inner loops. A nil predicate yields
// the cross product.
type NestedLoopJoinPlan struct {
	Predicate *JoinPredicate
}

// ColumnRef names a column of one side of a join: which input (0 = left,
// 1 = right) and which column of it.
type ColumnRef struct {
	TupleIdx int
	ColIdx   int
}

// HashJoinPlan equi-joins on a single key column from each side. A nil
// OutputColumns emits left columns then right columns.
type HashJoinPlan struct {
	LeftKeyCol    int
	RightKeyCol   int
	OutputColumns []ColumnRef
}

// fieldKey renders a field's serialized bytes as a map key, giving exact
// value equality.
func fieldKey(f types.Field) (string, error) {
	var buf []byte
	w := &appendWriter{buf: &buf}
	if err := f.Serialize(w); err != nil {
		return "", err
	}
	return string(buf), nil
}

// tupleKey renders a whole tuple's bytes as a map key.
func tupleKey(t *tuple.Tuple) (string, error) {
	data, err := t.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to build tuple key: %v", err)
	}
	return string(data), nil
}

type appendWriter struct {
	buf *[]byte
}

func (w *appendWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
