package concurrency

import (
	"sync"

	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

// LockMode is the strength of a record lock.
type LockMode int

const (
	SharedMode LockMode = iota
	ExclusiveMode
)

// queueState summarizes the lock mode a request queue currently grants.
type queueState int

const (
	stateNothing queueState = iota
	stateRead
	stateWrite
	stateUpgrade
)

// lockRequest is one granted entry in a record's request queue.
type lockRequest struct {
	txnID primitives.TxnID
	mode  LockMode
}

// requestQueue holds the granted requests for one record id, the summary
// state derived from them, and the condition variable its waiters block on.
type requestQueue struct {
	requests []lockRequest
	state    queueState
	cond     *sync.Cond
}

// LockManager implements strict two-phase locking at record granularity
// with wound-wait deadlock prevention. One global mutex guards the table of
// queues; each queue has its own condition variable for waiters.
//
// Wound-wait keeps the wait-for relation acyclic by allowing only
// younger-waits-for-older edges: when a transaction must wait, every
// younger transaction already in the queue is wounded (flipped to ABORTED
// and evicted). A wounded waiter observes its own ABORTED state when it
// wakes and surfaces a Deadlock abort.
type LockManager struct {
	mutex  sync.Mutex
	queues map[tuple.RID]*requestQueue
	txns   map[primitives.TxnID]*Transaction
}

func NewLockManager() *LockManager {
	return &LockManager{
		queues: make(map[tuple.RID]*requestQueue),
		txns:   make(map[primitives.TxnID]*Transaction),
	}
}

// LockShared takes a shared lock on rid for txn, blocking while a writer
// or an upgrade holds the queue.
func (lm *LockManager) LockShared(txn *Transaction, rid tuple.RID) error {
	if txn.IsolationLevel() == ReadUncommitted {
		txn.SetState(Aborted)
		return &AbortError{TxnID: txn.ID(), Reason: LockSharedOnReadUncommitted}
	}
	if err := lm.checkShrinking(txn); err != nil {
		return err
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.txns[txn.ID()] = txn
	queue := lm.queue(rid)

	if queue.state == stateWrite || queue.state == stateUpgrade {
		lm.wound(txn, queue)
		for txn.State() != Aborted && (queue.state == stateWrite || queue.state == stateUpgrade) {
			queue.cond.Wait()
		}
	}

	if err := lm.checkAborted(txn); err != nil {
		return err
	}

	txn.sharedLocks[rid] = struct{}{}
	queue.requests = append(queue.requests, lockRequest{txnID: txn.ID(), mode: SharedMode})
	queue.state = stateRead
	return nil
}

// LockExclusive takes an exclusive lock on rid for txn, blocking while any
// other request is granted.
func (lm *LockManager) LockExclusive(txn *Transaction, rid tuple.RID) error {
	if err := lm.checkShrinking(txn); err != nil {
		return err
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.txns[txn.ID()] = txn
	queue := lm.queue(rid)

	if queue.state != stateNothing {
		lm.wound(txn, queue)
		for txn.State() != Aborted && queue.state != stateNothing {
			queue.cond.Wait()
		}
	}

	if err := lm.checkAborted(txn); err != nil {
		return err
	}

	txn.exclusiveLocks[rid] = struct{}{}
	queue.requests = append(queue.requests, lockRequest{txnID: txn.ID(), mode: ExclusiveMode})
	queue.state = stateWrite
	return nil
}

// LockUpgrade raises txn's shared lock on rid to exclusive. The shared
// entry leaves the queue first; if another transaction is already in the
// middle of an upgrade the request aborts with UpgradeConflict.
//
// On grant the entire queue is cleared before the exclusive entry is
// re-added, matching the reference behavior (flagged upstream as a likely
// bug: concurrently granted readers lose their entries and must re-request).
func (lm *LockManager) LockUpgrade(txn *Transaction, rid tuple.RID) error {
	if err := lm.checkShrinking(txn); err != nil {
		return err
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.txns[txn.ID()] = txn
	queue := lm.queue(rid)

	lm.removeRequest(queue, txn.ID())

	if queue.state != stateNothing {
		lm.wound(txn, queue)
		for txn.State() != Aborted && queue.state != stateNothing && queue.state != stateUpgrade {
			queue.cond.Wait()
		}
	}

	if queue.state == stateUpgrade {
		txn.SetState(Aborted)
		return &AbortError{TxnID: txn.ID(), Reason: UpgradeConflict}
	}

	if err := lm.checkAborted(txn); err != nil {
		return err
	}

	queue.state = stateUpgrade
	delete(txn.sharedLocks, rid)
	txn.exclusiveLocks[rid] = struct{}{}
	queue.requests = queue.requests[:0]
	queue.requests = append(queue.requests, lockRequest{txnID: txn.ID(), mode: ExclusiveMode})
	queue.state = stateWrite
	return nil
}

// Unlock releases txn's lock on rid and wakes the queue's waiters. Under
// two-phase locking the release moves the transaction from GROWING to
// SHRINKING, except that READ_COMMITTED may release shared locks early
// without leaving its growing phase.
func (lm *LockManager) Unlock(txn *Transaction, rid tuple.RID) bool {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	delete(txn.sharedLocks, rid)
	delete(txn.exclusiveLocks, rid)

	queue := lm.queue(rid)
	idx := -1
	for i, req := range queue.requests {
		if req.txnID == txn.ID() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	released := queue.requests[idx]
	if txn.State() == Growing &&
		!(txn.IsolationLevel() == ReadCommitted && released.mode == SharedMode) {
		txn.SetState(Shrinking)
	}

	queue.requests = append(queue.requests[:idx], queue.requests[idx+1:]...)
	if len(queue.requests) == 0 {
		queue.state = stateNothing
	}

	queue.cond.Broadcast()
	return true
}

// UnlockAll releases every lock txn still holds. Used at commit and abort.
func (lm *LockManager) UnlockAll(txn *Transaction) {
	rids := make([]tuple.RID, 0, len(txn.sharedLocks)+len(txn.exclusiveLocks))

	lm.mutex.Lock()
	for rid := range txn.sharedLocks {
		rids = append(rids, rid)
	}
	for rid := range txn.exclusiveLocks {
		rids = append(rids, rid)
	}
	lm.mutex.Unlock()

	for _, rid := range rids {
		lm.Unlock(txn, rid)
	}
}

// wound aborts every transaction in the queue younger than txn and evicts
// their entries, then re-derives the queue state from the surviving head.
// The broadcast lets evicted transactions that are blocked on this queue
// observe their ABORTED state. The caller holds the mutex.
func (lm *LockManager) wound(txn *Transaction, queue *requestQueue) {
	survivors := queue.requests[:0]
	wounded := false
	for _, req := range queue.requests {
		if req.txnID > txn.ID() {
			if victim, ok := lm.txns[req.txnID]; ok {
				victim.SetState(Aborted)
			}
			wounded = true
			continue
		}
		survivors = append(survivors, req)
	}
	queue.requests = survivors

	if len(queue.requests) == 0 {
		queue.state = stateNothing
	} else if queue.requests[0].mode == ExclusiveMode {
		queue.state = stateWrite
	} else {
		queue.state = stateRead
	}

	if wounded {
		queue.cond.Broadcast()
	}
}

// removeRequest drops txn's entry from the queue, resetting the state when
// the queue empties. The caller holds the mutex.
func (lm *LockManager) removeRequest(queue *requestQueue, txnID primitives.TxnID) {
	for i, req := range queue.requests {
		if req.txnID == txnID {
			queue.requests = append(queue.requests[:i], queue.requests[i+1:]...)
			break
		}
	}
	if len(queue.requests) == 0 {
		queue.state = stateNothing
	}
}

// queue returns the request queue for rid, creating it on first use.
// The caller holds the mutex.
func (lm *LockManager) queue(rid tuple.RID) *requestQueue {
	q, exists := lm.queues[rid]
	if !exists {
		q = &requestQueue{cond: sync.NewCond(&lm.mutex)}
		lm.queues[rid] = q
	}
	return q
}

// checkShrinking aborts a transaction that requests any lock after it has
// begun releasing: a two-phase-locking violation.
func (lm *LockManager) checkShrinking(txn *Transaction) error {
	if txn.State() == Shrinking {
		txn.SetState(Aborted)
		return &AbortError{TxnID: txn.ID(), Reason: LockOnShrinking}
	}
	return nil
}

// checkAborted surfaces a Deadlock abort when a waiter wakes up wounded.
func (lm *LockManager) checkAborted(txn *Transaction) error {
	if txn.State() == Aborted {
		return &AbortError{TxnID: txn.ID(), Reason: Deadlock}
	}
	return nil
}
