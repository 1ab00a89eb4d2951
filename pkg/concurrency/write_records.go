package concurrency

import "graindb/pkg/tuple"

// WType distinguishes the kinds of journaled mutations.
type WType int

const (
	WInsert WType = iota
	WDelete
	WUpdate
)

// WriteHeap is the slice of the table heap the transaction manager needs to
// undo journaled table mutations (and to apply deferred deletes at commit).
type WriteHeap interface {
	ApplyDelete(rid tuple.RID, txn *Transaction) error
	RollbackDelete(rid tuple.RID, txn *Transaction) error
	UpdateTuple(t *tuple.Tuple, rid tuple.RID, txn *Transaction) (bool, error)
}

// RollbackIndex is the slice of an index the transaction manager needs to
// undo journaled index mutations.
type RollbackIndex interface {
	InsertEntry(key *tuple.Tuple, rid tuple.RID, txn *Transaction) error
	DeleteEntry(key *tuple.Tuple, rid tuple.RID, txn *Transaction) error
}

// TableWriteRecord journals one table-heap mutation.
// For WInsert, Tuple is the inserted row. For WDelete the row was only
// mark-deleted, so rollback re-arms the slot and commit applies the delete.
// For WUpdate, OldTuple is the pre-image to restore.
type TableWriteRecord struct {
	RID      tuple.RID
	Type     WType
	Tuple    *tuple.Tuple
	OldTuple *tuple.Tuple
	Heap     WriteHeap
}

// IndexWriteRecord journals one index mutation. KeySchema and KeyAttrs
// rebuild the index key from the journaled rows during rollback.
type IndexWriteRecord struct {
	RID       tuple.RID
	Type      WType
	Tuple     *tuple.Tuple // the new row (insert, update)
	OldTuple  *tuple.Tuple // the old row (delete, update)
	KeySchema *tuple.Schema
	KeyAttrs  []int
	Index     RollbackIndex
}
