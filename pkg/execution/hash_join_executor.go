package execution

import (
	"graindb/pkg/tuple"
	"graindb/pkg/types"
)

// HashJoinExecutor equi-joins on one key column per side. Init drains the
// left child into an in-memory hash table keyed by the left join column;
// Next streams the right child, probing the table and emitting one
// combined row per left match. Output columns follow the plan's column
// references, or left-then-right when none are given.
type HashJoinExecutor struct {
	ctx   *ExecutorContext
	plan  *HashJoinPlan
	left  Executor
	right Executor

	table map[string][]*tuple.Tuple

	// probe state: the current right row and its pending left matches
	rightTuple *tuple.Tuple
	matches    []*tuple.Tuple
	matchIdx   int
}

func NewHashJoinExecutor(ctx *ExecutorContext, plan *HashJoinPlan, left, right Executor) *HashJoinExecutor {
	return &HashJoinExecutor{ctx: ctx, plan: plan, left: left, right: right}
}

func (e *HashJoinExecutor) Init() error {
	if err := e.left.Init(); err != nil {
		return err
	}
	if err := e.right.Init(); err != nil {
		return err
	}

	e.table = make(map[string][]*tuple.Tuple)
	e.matches = nil
	e.matchIdx = 0
	e.rightTuple = nil

	for {
		t, ok, err := e.left.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key, err := e.joinKey(t, e.plan.LeftKeyCol)
		if err != nil {
			return err
		}
		e.table[key] = append(e.table[key], t)
	}
	return nil
}

func (e *HashJoinExecutor) Next() (*tuple.Tuple, bool, error) {
	for {
		if e.matchIdx < len(e.matches) {
			left := e.matches[e.matchIdx]
			e.matchIdx++
			out, err := e.buildOutput(left, e.rightTuple)
			if err != nil {
				return nil, false, err
			}
			return out, true, nil
		}

		right, ok, err := e.right.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		key, err := e.joinKey(right, e.plan.RightKeyCol)
		if err != nil {
			return nil, false, err
		}
		e.rightTuple = right
		e.matches = e.table[key]
		e.matchIdx = 0
	}
}

func (e *HashJoinExecutor) joinKey(t *tuple.Tuple, col int) (string, error) {
	field, err := t.GetField(col)
	if err != nil {
		return "", err
	}
	return fieldKey(field)
}

func (e *HashJoinExecutor) buildOutput(left, right *tuple.Tuple) (*tuple.Tuple, error) {
	if e.plan.OutputColumns == nil {
		return tuple.CombineTuples(left, right)
	}

	columns := make([]tuple.Column, 0, len(e.plan.OutputColumns))
	fields := make([]types.Field, 0, len(e.plan.OutputColumns))
	for _, ref := range e.plan.OutputColumns {
		src := left
		if ref.TupleIdx != 0 {
			src = right
		}
		col, err := src.Schema().ColumnAt(ref.ColIdx)
		if err != nil {
			return nil, err
		}
		field, err := src.GetField(ref.ColIdx)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
		fields = append(fields, field)
	}
	return tuple.NewTupleFromFields(tuple.NewSchema(columns), fields)
}
