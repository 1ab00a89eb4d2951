package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"

	"graindb/pkg/log/record"
	"graindb/pkg/log/wal"
	"graindb/pkg/primitives"
)

// TransactionManager creates transactions and drives their commit and
// abort protocols: logging the transaction boundary records, applying
// deferred deletes at commit, rolling the journals back at abort, and
// releasing all locks at the end either way (strict 2PL).
type TransactionManager struct {
	nextTxnID   atomic.Int32
	lockManager *LockManager
	logManager  *wal.LogManager // nil disables logging

	mutex sync.Mutex
	txns  map[primitives.TxnID]*Transaction
}

// NewTransactionManager creates a manager. logManager may be nil, in which
// case transactions run unlogged.
func NewTransactionManager(lockManager *LockManager, logManager *wal.LogManager) *TransactionManager {
	return &TransactionManager{
		lockManager: lockManager,
		logManager:  logManager,
		txns:        make(map[primitives.TxnID]*Transaction),
	}
}

// Begin starts a new transaction at the given isolation level.
func (tm *TransactionManager) Begin(isolation IsolationLevel) *Transaction {
	id := primitives.TxnID(tm.nextTxnID.Add(1))
	txn := NewTransaction(id, isolation)

	if tm.logManager != nil {
		r := record.NewTxnRecord(record.BeginRecord, txn.ID(), txn.PrevLSN())
		txn.SetPrevLSN(tm.logManager.AppendLogRecord(r))
	}

	tm.mutex.Lock()
	tm.txns[id] = txn
	tm.mutex.Unlock()
	return txn
}

// Get returns a running transaction by id.
func (tm *TransactionManager) Get(id primitives.TxnID) (*Transaction, error) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	txn, exists := tm.txns[id]
	if !exists {
		return nil, fmt.Errorf("transaction %d not found", id)
	}
	return txn, nil
}

// Commit finishes the transaction: mark-deleted rows become real deletes,
// the COMMIT record is forced to disk, and every lock is released.
func (tm *TransactionManager) Commit(txn *Transaction) error {
	txn.SetState(Committed)

	// Deletes are deferred until commit so an abort can simply re-arm the
	// slot. Apply them now.
	for _, w := range txn.WriteSet() {
		if w.Type == WDelete {
			if err := w.Heap.ApplyDelete(w.RID, txn); err != nil {
				return fmt.Errorf("failed to apply delete at commit: %v", err)
			}
		}
	}

	if tm.logManager != nil {
		r := record.NewTxnRecord(record.CommitRecord, txn.ID(), txn.PrevLSN())
		txn.SetPrevLSN(tm.logManager.AppendLogRecord(r))
		tm.logManager.Flush(true)
	}

	tm.release(txn)
	return nil
}

// Abort undoes the transaction: table writes are rolled back newest first,
// then index writes, then the ABORT record is logged and locks released.
func (tm *TransactionManager) Abort(txn *Transaction) error {
	txn.SetState(Aborted)

	writes := txn.WriteSet()
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		switch w.Type {
		case WInsert:
			if err := w.Heap.ApplyDelete(w.RID, txn); err != nil {
				return fmt.Errorf("failed to undo insert: %v", err)
			}
		case WDelete:
			if err := w.Heap.RollbackDelete(w.RID, txn); err != nil {
				return fmt.Errorf("failed to undo delete: %v", err)
			}
		case WUpdate:
			if _, err := w.Heap.UpdateTuple(w.OldTuple, w.RID, txn); err != nil {
				return fmt.Errorf("failed to undo update: %v", err)
			}
		}
	}

	indexWrites := txn.IndexWriteSet()
	for i := len(indexWrites) - 1; i >= 0; i-- {
		if err := rollbackIndexWrite(indexWrites[i], txn); err != nil {
			return err
		}
	}

	if tm.logManager != nil {
		r := record.NewTxnRecord(record.AbortRecord, txn.ID(), txn.PrevLSN())
		txn.SetPrevLSN(tm.logManager.AppendLogRecord(r))
	}

	tm.release(txn)
	return nil
}

func rollbackIndexWrite(w IndexWriteRecord, txn *Transaction) error {
	switch w.Type {
	case WInsert:
		key, err := w.Tuple.KeyFromTuple(w.KeySchema, w.KeyAttrs)
		if err != nil {
			return err
		}
		return w.Index.DeleteEntry(key, w.RID, txn)
	case WDelete:
		key, err := w.OldTuple.KeyFromTuple(w.KeySchema, w.KeyAttrs)
		if err != nil {
			return err
		}
		return w.Index.InsertEntry(key, w.RID, txn)
	case WUpdate:
		newKey, err := w.Tuple.KeyFromTuple(w.KeySchema, w.KeyAttrs)
		if err != nil {
			return err
		}
		if err := w.Index.DeleteEntry(newKey, w.RID, txn); err != nil {
			return err
		}
		oldKey, err := w.OldTuple.KeyFromTuple(w.KeySchema, w.KeyAttrs)
		if err != nil {
			return err
		}
		return w.Index.InsertEntry(oldKey, w.RID, txn)
	}
	return nil
}

// release drops all of the transaction's locks and forgets it.
func (tm *TransactionManager) release(txn *Transaction) {
	tm.lockManager.UnlockAll(txn)

	tm.mutex.Lock()
	delete(tm.txns, txn.ID())
	tm.mutex.Unlock()
}
