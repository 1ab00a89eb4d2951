package execution

import (
	"fmt"

	"graindb/pkg/catalog"
	"graindb/pkg/concurrency"
	"graindb/pkg/tuple"
)

// DeleteExecutor mark-deletes every row its child produces, upgrading an
// existing shared lock or taking an exclusive one, removing the row from
// every index, and journaling the index writes for rollback. The heap
// delete itself is journaled by the table heap.
type DeleteExecutor struct {
	ctx       *ExecutorContext
	plan      *DeletePlan
	child     Executor
	tableInfo *catalog.TableInfo
	indexes   []*catalog.IndexInfo
}

func NewDeleteExecutor(ctx *ExecutorContext, plan *DeletePlan, child Executor) (*DeleteExecutor, error) {
	tableInfo, err := ctx.Catalog.GetTable(plan.TableOID)
	if err != nil {
		return nil, err
	}
	return &DeleteExecutor{
		ctx:       ctx,
		plan:      plan,
		child:     child,
		tableInfo: tableInfo,
		indexes:   ctx.Catalog.GetTableIndexes(tableInfo.Name),
	}, nil
}

func (e *DeleteExecutor) Init() error {
	return e.child.Init()
}

func (e *DeleteExecutor) Next() (*tuple.Tuple, bool, error) {
	t, ok, err := e.child.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	rid := t.RID

	if err := e.ctx.lockExclusiveFor(rid); err != nil {
		return nil, false, err
	}

	deleted, err := e.tableInfo.Heap.MarkDelete(rid, e.ctx.Txn)
	if err != nil {
		return nil, false, err
	}
	if !deleted {
		return nil, false, fmt.Errorf("delete: no live tuple at %v", rid)
	}

	for _, index := range e.indexes {
		key, err := t.KeyFromTuple(index.KeySchema, index.KeyAttrs)
		if err != nil {
			return nil, false, err
		}
		if err := index.Index.DeleteEntry(key, rid, e.ctx.Txn); err != nil {
			return nil, false, err
		}
		if e.ctx.Txn != nil {
			e.ctx.Txn.AppendIndexWriteRecord(concurrency.IndexWriteRecord{
				RID:       rid,
				Type:      concurrency.WDelete,
				OldTuple:  t,
				KeySchema: index.KeySchema,
				KeyAttrs:  index.KeyAttrs,
				Index:     index.Index,
			})
		}
	}
	return t, true, nil
}
