package execution

import (
	"fmt"

	"graindb/pkg/catalog"
	"graindb/pkg/concurrency"
	"graindb/pkg/tuple"
	"graindb/pkg/types"
)

// UpdateExecutor rewrites every row its child produces according to the
// plan's per-column update infos, maintaining all indexes (delete old key,
// insert new key) and journaling the index writes.
type UpdateExecutor struct {
	ctx       *ExecutorContext
	plan      *UpdatePlan
	child     Executor
	tableInfo *catalog.TableInfo
	indexes   []*catalog.IndexInfo
}

func NewUpdateExecutor(ctx *ExecutorContext, plan *UpdatePlan, child Executor) (*UpdateExecutor, error) {
	tableInfo, err := ctx.Catalog.GetTable(plan.TableOID)
	if err != nil {
		return nil, err
	}
	return &UpdateExecutor{
		ctx:       ctx,
		plan:      plan,
		child:     child,
		tableInfo: tableInfo,
		indexes:   ctx.Catalog.GetTableIndexes(tableInfo.Name),
	}, nil
}

func (e *UpdateExecutor) Init() error {
	return e.child.Init()
}

func (e *UpdateExecutor) Next() (*tuple.Tuple, bool, error) {
	t, ok, err := e.child.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	rid := t.RID

	if err := e.ctx.lockExclusiveFor(rid); err != nil {
		return nil, false, err
	}

	updated, err := e.generateUpdatedTuple(t)
	if err != nil {
		return nil, false, err
	}

	ok, err = e.tableInfo.Heap.UpdateTuple(updated, rid, e.ctx.Txn)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("update: new tuple does not fit at %v", rid)
	}
	updated.RID = rid

	for _, index := range e.indexes {
		oldKey, err := t.KeyFromTuple(index.KeySchema, index.KeyAttrs)
		if err != nil {
			return nil, false, err
		}
		newKey, err := updated.KeyFromTuple(index.KeySchema, index.KeyAttrs)
		if err != nil {
			return nil, false, err
		}
		if err := index.Index.DeleteEntry(oldKey, rid, e.ctx.Txn); err != nil {
			return nil, false, err
		}
		if err := index.Index.InsertEntry(newKey, rid, e.ctx.Txn); err != nil {
			return nil, false, err
		}
		if e.ctx.Txn != nil {
			e.ctx.Txn.AppendIndexWriteRecord(concurrency.IndexWriteRecord{
				RID:       rid,
				Type:      concurrency.WUpdate,
				Tuple:     updated,
				OldTuple:  t,
				KeySchema: index.KeySchema,
				KeyAttrs:  index.KeyAttrs,
				Index:     index.Index,
			})
		}
	}
	return updated, true, nil
}

// generateUpdatedTuple applies the plan's column updates to a source row.
func (e *UpdateExecutor) generateUpdatedTuple(src *tuple.Tuple) (*tuple.Tuple, error) {
	schema := e.tableInfo.Schema
	fields := make([]types.Field, 0, schema.NumColumns())

	for i := 0; i < schema.NumColumns(); i++ {
		field, err := src.GetField(i)
		if err != nil {
			return nil, err
		}

		info, hasUpdate := e.plan.UpdateAttrs[i]
		if !hasUpdate {
			fields = append(fields, field)
			continue
		}

		intField, ok := field.(*types.Int32Field)
		if !ok {
			return nil, fmt.Errorf("update: column %d is not an integer", i)
		}
		switch info.Type {
		case UpdateAdd:
			fields = append(fields, types.NewInt32Field(intField.Value+info.Value))
		case UpdateSet:
			fields = append(fields, types.NewInt32Field(info.Value))
		}
	}
	return tuple.NewTupleFromFields(schema, fields)
}
