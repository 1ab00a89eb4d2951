package execution

import (
	"fmt"

	"graindb/pkg/tuple"
	"graindb/pkg/types"
)

// aggregateValues holds one group's running aggregates, parallel to the
// plan's aggregate expressions.
type aggregateValues struct {
	groupBys []types.Field
	values   []int32
	seen     []bool // min/max need to know whether any row arrived
}

// AggregationExecutor drains its child at Init into a hash aggregation
// table keyed by the group-by columns, then yields one row per group:
// the group-by fields followed by the aggregate values. Groups failing the
// HAVING clause are skipped.
type AggregationExecutor struct {
	ctx   *ExecutorContext
	plan  *AggregationPlan
	child Executor

	groups    map[string]*aggregateValues
	order     []string
	pos       int
	outSchema *tuple.Schema
}

func NewAggregationExecutor(ctx *ExecutorContext, plan *AggregationPlan, child Executor) *AggregationExecutor {
	return &AggregationExecutor{ctx: ctx, plan: plan, child: child}
}

func (e *AggregationExecutor) Init() error {
	if err := e.child.Init(); err != nil {
		return err
	}

	e.groups = make(map[string]*aggregateValues)
	e.order = e.order[:0]
	e.pos = 0

	for {
		t, ok, err := e.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := e.combine(t); err != nil {
			return err
		}
		if e.outSchema == nil {
			if err := e.buildOutputSchema(t.Schema()); err != nil {
				return err
			}
		}
	}
	return nil
}

// combine folds one child row into its group.
func (e *AggregationExecutor) combine(t *tuple.Tuple) error {
	key, groupBys, err := e.groupKey(t)
	if err != nil {
		return err
	}

	group, exists := e.groups[key]
	if !exists {
		group = &aggregateValues{
			groupBys: groupBys,
			values:   make([]int32, len(e.plan.Aggregates)),
			seen:     make([]bool, len(e.plan.Aggregates)),
		}
		e.groups[key] = group
		e.order = append(e.order, key)
	}

	for i, agg := range e.plan.Aggregates {
		if agg.Type == CountAggregate {
			group.values[i]++
			group.seen[i] = true
			continue
		}

		field, err := t.GetField(agg.ColIdx)
		if err != nil {
			return err
		}
		intField, ok := field.(*types.Int32Field)
		if !ok {
			return fmt.Errorf("aggregate %s over non-integer column %d", agg.Type, agg.ColIdx)
		}
		v := intField.Value

		switch agg.Type {
		case SumAggregate:
			group.values[i] += v
		case MinAggregate:
			if !group.seen[i] || v < group.values[i] {
				group.values[i] = v
			}
		case MaxAggregate:
			if !group.seen[i] || v > group.values[i] {
				group.values[i] = v
			}
		}
		group.seen[i] = true
	}
	return nil
}

func (e *AggregationExecutor) Next() (*tuple.Tuple, bool, error) {
	for e.pos < len(e.order) {
		group := e.groups[e.order[e.pos]]
		e.pos++

		if e.plan.Having != nil {
			aggValue := group.values[e.plan.Having.AggIdx]
			keep := compareHaving(aggValue, e.plan.Having.Op, e.plan.Having.Value)
			if !keep {
				continue
			}
		}

		fields := make([]types.Field, 0, len(group.groupBys)+len(group.values))
		fields = append(fields, group.groupBys...)
		for _, v := range group.values {
			fields = append(fields, types.NewInt32Field(v))
		}
		out, err := tuple.NewTupleFromFields(e.outSchema, fields)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
	return nil, false, nil
}

// groupKey extracts the group-by fields and a map key for them.
func (e *AggregationExecutor) groupKey(t *tuple.Tuple) (string, []types.Field, error) {
	groupBys := make([]types.Field, 0, len(e.plan.GroupBys))
	key := ""
	for _, col := range e.plan.GroupBys {
		field, err := t.GetField(col)
		if err != nil {
			return "", nil, err
		}
		groupBys = append(groupBys, field)
		fk, err := fieldKey(field)
		if err != nil {
			return "", nil, err
		}
		key += fk + "\x00"
	}
	return key, groupBys, nil
}

func (e *AggregationExecutor) buildOutputSchema(childSchema *tuple.Schema) error {
	columns := make([]tuple.Column, 0, len(e.plan.GroupBys)+len(e.plan.Aggregates))
	for _, col := range e.plan.GroupBys {
		c, err := childSchema.ColumnAt(col)
		if err != nil {
			return err
		}
		columns = append(columns, c)
	}
	for _, agg := range e.plan.Aggregates {
		c, err := childSchema.ColumnAt(agg.ColIdx)
		if err != nil {
			return err
		}
		columns = append(columns, tuple.Column{
			Name: fmt.Sprintf("%s_%s", agg.Type, c.Name),
			Type: types.Int32Type,
		})
	}
	e.outSchema = tuple.NewSchema(columns)
	return nil
}

func compareHaving(value int32, op types.Op, operand int32) bool {
	match, _ := types.NewInt32Field(value).Compare(op, types.NewInt32Field(operand))
	return match
}
