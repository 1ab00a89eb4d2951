package table

import (
	"fmt"

	"graindb/pkg/buffer"
	"graindb/pkg/concurrency"
	"graindb/pkg/log/wal"
	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

// TableHeap is a doubly linked list of table pages holding one table's
// rows. The heap owns the locking/logging collaborators; passing a nil log
// manager runs the table unlogged. Row-level locks are taken by the
// executors, not here.
type TableHeap struct {
	pool        buffer.Pool
	schema      *tuple.Schema
	firstPageID primitives.PageID
	lockManager *concurrency.LockManager
	logManager  *wal.LogManager
}

// NewTableHeap creates a heap with one empty page.
func NewTableHeap(pool buffer.Pool, schema *tuple.Schema, lockManager *concurrency.LockManager, logManager *wal.LogManager, txn *concurrency.Transaction) (*TableHeap, error) {
	page, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate first table page: %v", err)
	}

	tp := AsTablePage(page)
	page.WLatch()
	tp.Init(page.ID(), primitives.InvalidPageID, txn, logManager)
	page.WUnlatch()
	pool.UnpinPage(page.ID(), true)

	return &TableHeap{
		pool:        pool,
		schema:      schema,
		firstPageID: page.ID(),
		lockManager: lockManager,
		logManager:  logManager,
	}, nil
}

// OpenTableHeap attaches to an existing heap rooted at firstPageID.
func OpenTableHeap(pool buffer.Pool, schema *tuple.Schema, firstPageID primitives.PageID, lockManager *concurrency.LockManager, logManager *wal.LogManager) *TableHeap {
	return &TableHeap{
		pool:        pool,
		schema:      schema,
		firstPageID: firstPageID,
		lockManager: lockManager,
		logManager:  logManager,
	}
}

func (h *TableHeap) FirstPageID() primitives.PageID {
	return h.firstPageID
}

func (h *TableHeap) Schema() *tuple.Schema {
	return h.schema
}

// LockManager returns the lock manager rows of this table are locked with.
func (h *TableHeap) LockManager() *concurrency.LockManager {
	return h.lockManager
}

// InsertTuple walks the page chain for space, extending it when every page
// is full, and journals the insert in the transaction's write set. The
// tuple's RID is set on success.
func (h *TableHeap) InsertTuple(t *tuple.Tuple, txn *concurrency.Transaction) (tuple.RID, error) {
	data, err := t.Bytes()
	if err != nil {
		return tuple.InvalidRID, err
	}
	if len(data)+slotSize+headerSize > primitives.PageSize {
		return tuple.InvalidRID, fmt.Errorf("tuple of %d bytes cannot fit on a page", len(data))
	}

	pid := h.firstPageID
	for {
		page, err := h.pool.FetchPage(pid)
		if err != nil {
			return tuple.InvalidRID, err
		}
		tp := AsTablePage(page)

		page.WLatch()
		var rid tuple.RID
		if tp.InsertTuple(data, &rid, txn, h.logManager) {
			page.WUnlatch()
			h.pool.UnpinPage(pid, true)
			t.RID = rid
			if txn != nil {
				txn.AppendWriteRecord(concurrency.TableWriteRecord{
					RID:   rid,
					Type:  concurrency.WInsert,
					Tuple: t,
					Heap:  h,
				})
			}
			return rid, nil
		}

		next := tp.NextPageID()
		if next == primitives.InvalidPageID {
			newPage, err := h.pool.NewPage()
			if err != nil {
				page.WUnlatch()
				h.pool.UnpinPage(pid, false)
				return tuple.InvalidRID, err
			}
			ntp := AsTablePage(newPage)
			newPage.WLatch()
			ntp.Init(newPage.ID(), pid, txn, h.logManager)
			newPage.WUnlatch()
			tp.SetNextPageID(newPage.ID())
			next = newPage.ID()
			h.pool.UnpinPage(newPage.ID(), true)
			page.WUnlatch()
			h.pool.UnpinPage(pid, true)
		} else {
			page.WUnlatch()
			h.pool.UnpinPage(pid, false)
		}
		pid = next
	}
}

// MarkDelete arms the row for deletion; the delete becomes real at commit.
func (h *TableHeap) MarkDelete(rid tuple.RID, txn *concurrency.Transaction) (bool, error) {
	page, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return false, err
	}
	tp := AsTablePage(page)

	page.WLatch()
	old, _ := tp.GetTuple(rid)
	ok := tp.MarkDelete(rid, txn, h.logManager)
	page.WUnlatch()
	h.pool.UnpinPage(rid.PageID, ok)

	if ok && txn != nil {
		oldTuple, err := tuple.Deserialize(h.schema, old)
		if err != nil {
			return false, err
		}
		oldTuple.RID = rid
		txn.AppendWriteRecord(concurrency.TableWriteRecord{
			RID:      rid,
			Type:     concurrency.WDelete,
			OldTuple: oldTuple,
			Heap:     h,
		})
	}
	return ok, nil
}

// ApplyDelete frees the row's slot. Called at commit for journaled deletes
// and when rolling back an insert.
func (h *TableHeap) ApplyDelete(rid tuple.RID, txn *concurrency.Transaction) error {
	page, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	tp := AsTablePage(page)

	page.WLatch()
	err = tp.ApplyDelete(rid, txn, h.logManager)
	page.WUnlatch()
	h.pool.UnpinPage(rid.PageID, err == nil)
	return err
}

// RollbackDelete disarms a mark-deleted row during abort.
func (h *TableHeap) RollbackDelete(rid tuple.RID, txn *concurrency.Transaction) error {
	page, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	tp := AsTablePage(page)

	page.WLatch()
	err = tp.RollbackDelete(rid, txn, h.logManager)
	page.WUnlatch()
	h.pool.UnpinPage(rid.PageID, err == nil)
	return err
}

// UpdateTuple replaces the row at rid, journaling the pre-image.
func (h *TableHeap) UpdateTuple(t *tuple.Tuple, rid tuple.RID, txn *concurrency.Transaction) (bool, error) {
	data, err := t.Bytes()
	if err != nil {
		return false, err
	}

	page, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return false, err
	}
	tp := AsTablePage(page)

	page.WLatch()
	old, _ := tp.GetTuple(rid)
	ok, err := tp.UpdateTuple(data, rid, txn, h.logManager)
	page.WUnlatch()
	h.pool.UnpinPage(rid.PageID, ok)
	if err != nil || !ok {
		return ok, err
	}

	if txn != nil {
		oldTuple, err := tuple.Deserialize(h.schema, old)
		if err != nil {
			return false, err
		}
		oldTuple.RID = rid
		txn.AppendWriteRecord(concurrency.TableWriteRecord{
			RID:      rid,
			Type:     concurrency.WUpdate,
			Tuple:    t,
			OldTuple: oldTuple,
			Heap:     h,
		})
	}
	return true, nil
}

// GetTuple reads the row at rid.
func (h *TableHeap) GetTuple(rid tuple.RID, txn *concurrency.Transaction) (*tuple.Tuple, error) {
	page, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return nil, err
	}
	tp := AsTablePage(page)

	page.RLatch()
	data, ok := tp.GetTuple(rid)
	page.RUnlatch()
	h.pool.UnpinPage(rid.PageID, false)

	if !ok {
		return nil, fmt.Errorf("no tuple at %v", rid)
	}
	t, err := tuple.Deserialize(h.schema, data)
	if err != nil {
		return nil, err
	}
	t.RID = rid
	return t, nil
}
