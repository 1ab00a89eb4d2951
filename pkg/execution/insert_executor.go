package execution

import (
	"fmt"

	"graindb/pkg/catalog"
	"graindb/pkg/concurrency"
	"graindb/pkg/tuple"
)

// InsertExecutor inserts rows into a table: either the plan's literal rows
// (raw mode) or everything its child produces. Each inserted row is
// exclusively locked, added to every index of the table, and journaled for
// rollback.
type InsertExecutor struct {
	ctx       *ExecutorContext
	plan      *InsertPlan
	child     Executor
	tableInfo *catalog.TableInfo
	indexes   []*catalog.IndexInfo
	rawIndex  int
}

// NewInsertExecutor creates the executor; child may be nil in raw mode.
func NewInsertExecutor(ctx *ExecutorContext, plan *InsertPlan, child Executor) (*InsertExecutor, error) {
	tableInfo, err := ctx.Catalog.GetTable(plan.TableOID)
	if err != nil {
		return nil, err
	}
	return &InsertExecutor{
		ctx:       ctx,
		plan:      plan,
		child:     child,
		tableInfo: tableInfo,
		indexes:   ctx.Catalog.GetTableIndexes(tableInfo.Name),
	}, nil
}

func (e *InsertExecutor) Init() error {
	if e.plan.IsRawInsert() {
		e.rawIndex = 0
		return nil
	}
	if e.child == nil {
		return fmt.Errorf("insert executor needs a child when not in raw mode")
	}
	return e.child.Init()
}

func (e *InsertExecutor) Next() (*tuple.Tuple, bool, error) {
	t, ok, err := e.nextSource()
	if err != nil || !ok {
		return nil, false, err
	}

	rid, err := e.tableInfo.Heap.InsertTuple(t, e.ctx.Txn)
	if err != nil {
		return nil, false, err
	}

	if e.ctx.Txn != nil {
		if err := e.ctx.LockManager.LockExclusive(e.ctx.Txn, rid); err != nil {
			return nil, false, err
		}
	}

	for _, index := range e.indexes {
		key, err := t.KeyFromTuple(index.KeySchema, index.KeyAttrs)
		if err != nil {
			return nil, false, err
		}
		if err := index.Index.InsertEntry(key, rid, e.ctx.Txn); err != nil {
			return nil, false, err
		}
		if e.ctx.Txn != nil {
			e.ctx.Txn.AppendIndexWriteRecord(concurrency.IndexWriteRecord{
				RID:       rid,
				Type:      concurrency.WInsert,
				Tuple:     t,
				KeySchema: index.KeySchema,
				KeyAttrs:  index.KeyAttrs,
				Index:     index.Index,
			})
		}
	}
	return t, true, nil
}

// nextSource yields the next row to insert: a raw literal or a child row.
func (e *InsertExecutor) nextSource() (*tuple.Tuple, bool, error) {
	if e.plan.IsRawInsert() {
		if e.rawIndex >= len(e.plan.RawValues) {
			return nil, false, nil
		}
		t, err := tuple.NewTupleFromFields(e.tableInfo.Schema, e.plan.RawValues[e.rawIndex])
		if err != nil {
			return nil, false, err
		}
		e.rawIndex++
		return t, true, nil
	}
	return e.child.Next()
}
