// Package concurrency provides transactions, the strict two-phase-locking
// lock manager with wound-wait deadlock prevention, and the transaction
// manager that drives commit and rollback.
package concurrency

import (
	"sync/atomic"

	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

// TransactionState tracks where a transaction is in its lifecycle.
// A transaction acquires locks only while GROWING; its first lock release
// moves it to SHRINKING, except that releasing a shared lock under
// READ_COMMITTED leaves it GROWING.
type TransactionState int32

const (
	Growing TransactionState = iota
	Shrinking
	Committed
	Aborted
)

func (s TransactionState) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// IsolationLevel selects the locking protocol executors follow for reads.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// Transaction carries a transaction's identity, state, isolation level,
// lock sets, and the journals used to roll its effects back on abort.
//
// The state field is read by the lock manager's wound-wait path from other
// goroutines, so it is atomic. The lock sets are mutated only under the
// lock manager's mutex; the journals only by the owning goroutine.
type Transaction struct {
	id        primitives.TxnID
	state     atomic.Int32
	isolation IsolationLevel
	prevLSN   primitives.LSN

	sharedLocks    map[tuple.RID]struct{}
	exclusiveLocks map[tuple.RID]struct{}

	writeSet      []TableWriteRecord
	indexWriteSet []IndexWriteRecord
}

// NewTransaction creates a transaction with an explicit id. Transaction ids
// order wound-wait decisions: smaller means older.
func NewTransaction(id primitives.TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		isolation:      isolation,
		prevLSN:        primitives.InvalidLSN,
		sharedLocks:    make(map[tuple.RID]struct{}),
		exclusiveLocks: make(map[tuple.RID]struct{}),
	}
}

func (t *Transaction) ID() primitives.TxnID {
	return t.id
}

func (t *Transaction) State() TransactionState {
	return TransactionState(t.state.Load())
}

func (t *Transaction) SetState(s TransactionState) {
	t.state.Store(int32(s))
}

func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolation
}

func (t *Transaction) PrevLSN() primitives.LSN {
	return t.prevLSN
}

func (t *Transaction) SetPrevLSN(lsn primitives.LSN) {
	t.prevLSN = lsn
}

// IsSharedLocked reports whether this transaction holds a shared lock on rid.
func (t *Transaction) IsSharedLocked(rid tuple.RID) bool {
	_, ok := t.sharedLocks[rid]
	return ok
}

// IsExclusiveLocked reports whether this transaction holds an exclusive
// lock on rid.
func (t *Transaction) IsExclusiveLocked(rid tuple.RID) bool {
	_, ok := t.exclusiveLocks[rid]
	return ok
}

// SharedLockSet returns the set of shared-locked record ids.
func (t *Transaction) SharedLockSet() map[tuple.RID]struct{} {
	return t.sharedLocks
}

// ExclusiveLockSet returns the set of exclusive-locked record ids.
func (t *Transaction) ExclusiveLockSet() map[tuple.RID]struct{} {
	return t.exclusiveLocks
}

// AppendWriteRecord journals a table mutation for rollback. Records are not
// journaled once the transaction has left GROWING: commit- and abort-time
// heap calls must not re-journal themselves.
func (t *Transaction) AppendWriteRecord(r TableWriteRecord) {
	if t.State() != Growing {
		return
	}
	t.writeSet = append(t.writeSet, r)
}

// AppendIndexWriteRecord journals an index mutation for rollback.
func (t *Transaction) AppendIndexWriteRecord(r IndexWriteRecord) {
	if t.State() != Growing {
		return
	}
	t.indexWriteSet = append(t.indexWriteSet, r)
}

// WriteSet returns the journaled table mutations in append order.
func (t *Transaction) WriteSet() []TableWriteRecord {
	return t.writeSet
}

// IndexWriteSet returns the journaled index mutations in append order.
func (t *Transaction) IndexWriteSet() []IndexWriteRecord {
	return t.indexWriteSet
}
