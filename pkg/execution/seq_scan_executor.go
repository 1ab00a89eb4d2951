package execution

import (
	"graindb/pkg/catalog"
	"graindb/pkg/concurrency"
	"graindb/pkg/storage/table"
	"graindb/pkg/tuple"
	"graindb/pkg/types"
)

// SeqScanExecutor iterates a table heap, filters with the plan predicate,
// takes per-row shared locks according to the isolation level, and
// projects when the number of output columns differs from the table
// schema's column count (a same-width column list is not applied).
//
// Isolation behavior per row: READ_UNCOMMITTED takes no lock;
// READ_COMMITTED takes a shared lock and releases it as soon as the row is
// produced; REPEATABLE_READ takes a shared lock held to end of transaction.
type SeqScanExecutor struct {
	ctx       *ExecutorContext
	plan      *SeqScanPlan
	tableInfo *catalog.TableInfo
	iter      *table.TableIterator
	outSchema *tuple.Schema
	project   bool
}

func NewSeqScanExecutor(ctx *ExecutorContext, plan *SeqScanPlan) (*SeqScanExecutor, error) {
	tableInfo, err := ctx.Catalog.GetTable(plan.TableOID)
	if err != nil {
		return nil, err
	}
	return &SeqScanExecutor{ctx: ctx, plan: plan, tableInfo: tableInfo}, nil
}

func (e *SeqScanExecutor) Init() error {
	e.project = false
	e.outSchema = e.tableInfo.Schema
	if e.plan.OutputColumns != nil && len(e.plan.OutputColumns) != e.tableInfo.Schema.NumColumns() {
		projected, err := e.tableInfo.Schema.Project(e.plan.OutputColumns)
		if err != nil {
			return err
		}
		e.outSchema = projected
		e.project = true
	}

	iter, err := e.tableInfo.Heap.Iterator(e.ctx.Txn)
	if err != nil {
		return err
	}
	e.iter = iter
	return nil
}

func (e *SeqScanExecutor) Next() (*tuple.Tuple, bool, error) {
	for {
		t, ok, err := e.iter.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}

		if e.plan.Predicate != nil {
			match, err := e.plan.Predicate.Evaluate(t)
			if err != nil {
				return nil, false, err
			}
			if !match {
				continue
			}
		}

		if err := e.lockRow(t.RID); err != nil {
			return nil, false, err
		}

		out := t
		if e.project {
			out, err = e.projectTuple(t)
			if err != nil {
				return nil, false, err
			}
		}

		e.releaseRow(t.RID)
		return out, true, nil
	}
}

// lockRow takes the isolation level's shared lock before the row escapes.
func (e *SeqScanExecutor) lockRow(rid tuple.RID) error {
	if e.ctx.Txn == nil {
		return nil
	}
	switch e.ctx.Txn.IsolationLevel() {
	case concurrency.ReadUncommitted:
		return nil
	case concurrency.ReadCommitted, concurrency.RepeatableRead:
		if e.ctx.Txn.IsSharedLocked(rid) || e.ctx.Txn.IsExclusiveLocked(rid) {
			return nil
		}
		return e.ctx.LockManager.LockShared(e.ctx.Txn, rid)
	}
	return nil
}

// releaseRow drops the shared lock immediately under READ_COMMITTED;
// REPEATABLE_READ holds it to end of transaction.
func (e *SeqScanExecutor) releaseRow(rid tuple.RID) {
	if e.ctx.Txn == nil {
		return
	}
	if e.ctx.Txn.IsolationLevel() == concurrency.ReadCommitted && e.ctx.Txn.IsSharedLocked(rid) {
		e.ctx.LockManager.Unlock(e.ctx.Txn, rid)
	}
}

func (e *SeqScanExecutor) projectTuple(t *tuple.Tuple) (*tuple.Tuple, error) {
	fields := make([]types.Field, 0, len(e.plan.OutputColumns))
	for _, i := range e.plan.OutputColumns {
		f, err := t.GetField(i)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	out, err := tuple.NewTupleFromFields(e.outSchema, fields)
	if err != nil {
		return nil, err
	}
	out.RID = t.RID
	return out, nil
}
