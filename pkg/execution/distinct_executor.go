package execution

import "graindb/pkg/tuple"

// DistinctExecutor suppresses duplicate rows from its child. The seen-set
// fills lazily as Next pulls rows.
type DistinctExecutor struct {
	ctx   *ExecutorContext
	child Executor
	seen  map[string]struct{}
}

func NewDistinctExecutor(ctx *ExecutorContext, child Executor) *DistinctExecutor {
	return &DistinctExecutor{ctx: ctx, child: child}
}

func (e *DistinctExecutor) Init() error {
	e.seen = make(map[string]struct{})
	return e.child.Init()
}

func (e *DistinctExecutor) Next() (*tuple.Tuple, bool, error) {
	for {
		t, ok, err := e.child.Next()
		if err != nil || !ok {
			return nil, false, err
		}

		key, err := tupleKey(t)
		if err != nil {
			return nil, false, err
		}
		if _, dup := e.seen[key]; dup {
			continue
		}
		e.seen[key] = struct{}{}
		return t, true, nil
	}
}
