package table

import (
	"graindb/pkg/concurrency"
	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

// TableIterator walks a heap's live tuples in page order, slot order.
type TableIterator struct {
	heap *TableHeap
	txn  *concurrency.Transaction
	rid  tuple.RID
	done bool
}

// Iterator positions a new iterator at the heap's first live tuple.
func (h *TableHeap) Iterator(txn *concurrency.Transaction) (*TableIterator, error) {
	it := &TableIterator{heap: h, txn: txn}
	rid, ok, err := h.firstRID()
	if err != nil {
		return nil, err
	}
	if !ok {
		it.done = true
		return it, nil
	}
	it.rid = rid
	return it, nil
}

// Next returns the current tuple and advances. The second result is false
// once the heap is exhausted.
func (it *TableIterator) Next() (*tuple.Tuple, bool, error) {
	if it.done {
		return nil, false, nil
	}

	t, err := it.heap.GetTuple(it.rid, it.txn)
	if err != nil {
		return nil, false, err
	}

	next, ok, err := it.heap.nextRID(it.rid)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		it.done = true
	} else {
		it.rid = next
	}
	return t, true, nil
}

// firstRID finds the first live tuple in the page chain.
func (h *TableHeap) firstRID() (tuple.RID, bool, error) {
	pid := h.firstPageID
	for pid != primitives.InvalidPageID {
		page, err := h.pool.FetchPage(pid)
		if err != nil {
			return tuple.InvalidRID, false, err
		}
		tp := AsTablePage(page)

		page.RLatch()
		rid, ok := tp.FirstTupleRID()
		next := tp.NextPageID()
		page.RUnlatch()
		h.pool.UnpinPage(pid, false)

		if ok {
			return rid, true, nil
		}
		pid = next
	}
	return tuple.InvalidRID, false, nil
}

// nextRID finds the live tuple after rid, crossing page boundaries.
func (h *TableHeap) nextRID(rid tuple.RID) (tuple.RID, bool, error) {
	page, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return tuple.InvalidRID, false, err
	}
	tp := AsTablePage(page)

	page.RLatch()
	next, ok := tp.NextTupleRID(rid)
	nextPID := tp.NextPageID()
	page.RUnlatch()
	h.pool.UnpinPage(rid.PageID, false)

	if ok {
		return next, true, nil
	}

	for nextPID != primitives.InvalidPageID {
		page, err := h.pool.FetchPage(nextPID)
		if err != nil {
			return tuple.InvalidRID, false, err
		}
		tp := AsTablePage(page)

		page.RLatch()
		first, ok := tp.FirstTupleRID()
		following := tp.NextPageID()
		page.RUnlatch()
		h.pool.UnpinPage(nextPID, false)

		if ok {
			return first, true, nil
		}
		nextPID = following
	}
	return tuple.InvalidRID, false, nil
}
