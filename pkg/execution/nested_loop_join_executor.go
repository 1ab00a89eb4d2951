package execution

import "graindb/pkg/tuple"

// NestedLoopJoinExecutor joins by re-running its inner child once per
// outer row. A nil predicate yields the cross product. Output rows are the
// outer and inner tuples combined, left columns first.
type NestedLoopJoinExecutor struct {
	ctx   *ExecutorContext
	plan  *NestedLoopJoinPlan
	outer Executor
	inner Executor

	outerTuple *tuple.Tuple
	outerDone  bool
}

func NewNestedLoopJoinExecutor(ctx *ExecutorContext, plan *NestedLoopJoinPlan, outer, inner Executor) *NestedLoopJoinExecutor {
	return &NestedLoopJoinExecutor{ctx: ctx, plan: plan, outer: outer, inner: inner}
}

func (e *NestedLoopJoinExecutor) Init() error {
	if err := e.outer.Init(); err != nil {
		return err
	}
	if err := e.inner.Init(); err != nil {
		return err
	}

	t, ok, err := e.outer.Next()
	if err != nil {
		return err
	}
	e.outerTuple = t
	e.outerDone = !ok
	return nil
}

func (e *NestedLoopJoinExecutor) Next() (*tuple.Tuple, bool, error) {
	for !e.outerDone {
		inner, ok, err := e.inner.Next()
		if err != nil {
			return nil, false, err
		}
		if ok {
			match := true
			if e.plan.Predicate != nil {
				match, err = e.plan.Predicate.Evaluate(e.outerTuple, inner)
				if err != nil {
					return nil, false, err
				}
			}
			if !match {
				continue
			}
			combined, err := tuple.CombineTuples(e.outerTuple, inner)
			if err != nil {
				return nil, false, err
			}
			return combined, true, nil
		}

		// Inner exhausted: restart it against the next outer row.
		if err := e.inner.Init(); err != nil {
			return nil, false, err
		}
		outer, ok, err := e.outer.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			e.outerDone = true
			break
		}
		e.outerTuple = outer
	}
	return nil, false, nil
}
