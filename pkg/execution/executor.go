// Package execution provides the pull-based query executors. Every
// operator exposes Init and Next; Next produces one output row at a time
// and reports exhaustion. Transactional failures surface as
// *concurrency.AbortError through the error return.
package execution

import (
	"graindb/pkg/catalog"
	"graindb/pkg/concurrency"
	"graindb/pkg/tuple"
)

// Executor is the iterator interface every operator implements.
type Executor interface {
	// Init prepares the operator for iteration. It may be called again to
	// restart the operator from the beginning.
	Init() error

	// Next produces the next output tuple. The bool result is false once
	// the operator is exhausted.
	Next() (*tuple.Tuple, bool, error)
}

// ExecutorContext carries the collaborators an operator needs: the running
// transaction (nil for unlogged, unlocked execution), the catalog, and the
// lock manager.
type ExecutorContext struct {
	Txn         *concurrency.Transaction
	Catalog     *catalog.Catalog
	LockManager *concurrency.LockManager
}

// lockExclusiveFor takes (or upgrades to) an exclusive lock on rid for the
// context's transaction. A nil transaction skips locking entirely.
func (ctx *ExecutorContext) lockExclusiveFor(rid tuple.RID) error {
	if ctx.Txn == nil {
		return nil
	}
	if ctx.Txn.IsExclusiveLocked(rid) {
		return nil
	}
	if ctx.Txn.IsSharedLocked(rid) {
		return ctx.LockManager.LockUpgrade(ctx.Txn, rid)
	}
	return ctx.LockManager.LockExclusive(ctx.Txn, rid)
}
