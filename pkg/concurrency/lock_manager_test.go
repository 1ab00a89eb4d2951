package concurrency

import (
	"errors"
	"sync"
	"testing"
	"time"

	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

func rid(page, slot int) tuple.RID {
	return tuple.NewRID(primitives.PageID(page), primitives.SlotID(slot))
}

func abortReason(t *testing.T, err error) AbortReason {
	t.Helper()
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("Expected AbortError, got %v", err)
	}
	return abort.Reason
}

func TestLockManager_SharedLocksCoexist(t *testing.T) {
	lm := NewLockManager()
	t1 := NewTransaction(1, RepeatableRead)
	t2 := NewTransaction(2, RepeatableRead)
	r := rid(0, 0)

	if err := lm.LockShared(t1, r); err != nil {
		t.Fatalf("LockShared(t1) failed: %v", err)
	}
	if err := lm.LockShared(t2, r); err != nil {
		t.Fatalf("LockShared(t2) failed: %v", err)
	}

	if !t1.IsSharedLocked(r) || !t2.IsSharedLocked(r) {
		t.Error("Both transactions must hold the shared lock")
	}
}

func TestLockManager_SharedOnReadUncommittedAborts(t *testing.T) {
	lm := NewLockManager()
	txn := NewTransaction(1, ReadUncommitted)

	err := lm.LockShared(txn, rid(0, 0))
	if err == nil {
		t.Fatal("Expected abort")
	}
	if got := abortReason(t, err); got != LockSharedOnReadUncommitted {
		t.Errorf("Expected LOCKSHARED_ON_READ_UNCOMMITTED, got %v", got)
	}
	if txn.State() != Aborted {
		t.Errorf("Expected ABORTED, got %v", txn.State())
	}
}

func TestLockManager_LockOnShrinkingAborts(t *testing.T) {
	lm := NewLockManager()
	txn := NewTransaction(1, RepeatableRead)
	r1, r2 := rid(0, 0), rid(0, 1)

	if err := lm.LockExclusive(txn, r1); err != nil {
		t.Fatalf("LockExclusive failed: %v", err)
	}
	lm.Unlock(txn, r1)
	if txn.State() != Shrinking {
		t.Fatalf("Expected SHRINKING after release, got %v", txn.State())
	}

	err := lm.LockExclusive(txn, r2)
	if err == nil {
		t.Fatal("Expected abort")
	}
	if got := abortReason(t, err); got != LockOnShrinking {
		t.Errorf("Expected LOCK_ON_SHRINKING, got %v", got)
	}
}

func TestLockManager_ReadCommittedSharedReleaseKeepsGrowing(t *testing.T) {
	lm := NewLockManager()
	txn := NewTransaction(1, ReadCommitted)
	r := rid(0, 0)

	if err := lm.LockShared(txn, r); err != nil {
		t.Fatalf("LockShared failed: %v", err)
	}
	lm.Unlock(txn, r)

	if txn.State() != Growing {
		t.Errorf("READ_COMMITTED shared release must keep GROWING, got %v", txn.State())
	}
	if err := lm.LockShared(txn, rid(0, 1)); err != nil {
		t.Errorf("Later shared lock must still succeed: %v", err)
	}
}

func TestLockManager_ExclusiveWaitsForReader(t *testing.T) {
	lm := NewLockManager()
	reader := NewTransaction(1, RepeatableRead)
	writer := NewTransaction(2, RepeatableRead)
	r := rid(0, 0)

	if err := lm.LockShared(reader, r); err != nil {
		t.Fatalf("LockShared failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- lm.LockExclusive(writer, r)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("Writer must wait for the reader, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	lm.Unlock(reader, r)

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Writer should acquire after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Writer never acquired the lock")
	}

	if !writer.IsExclusiveLocked(r) {
		t.Error("Writer must hold the exclusive lock")
	}
}

func TestLockManager_Upgrade(t *testing.T) {
	lm := NewLockManager()
	txn := NewTransaction(1, RepeatableRead)
	r := rid(0, 0)

	if err := lm.LockShared(txn, r); err != nil {
		t.Fatalf("LockShared failed: %v", err)
	}
	if err := lm.LockUpgrade(txn, r); err != nil {
		t.Fatalf("LockUpgrade failed: %v", err)
	}

	if txn.IsSharedLocked(r) {
		t.Error("Upgraded lock must leave the shared set")
	}
	if !txn.IsExclusiveLocked(r) {
		t.Error("Upgraded lock must join the exclusive set")
	}
}

func TestLockManager_WoundWaitAbortsYoungerHolder(t *testing.T) {
	lm := NewLockManager()
	older := NewTransaction(5, RepeatableRead)
	younger := NewTransaction(10, RepeatableRead)
	r := rid(0, 0)

	if err := lm.LockExclusive(younger, r); err != nil {
		t.Fatalf("LockExclusive(younger) failed: %v", err)
	}

	// The older transaction wounds the younger holder instead of waiting
	// behind it.
	if err := lm.LockShared(older, r); err != nil {
		t.Fatalf("LockShared(older) failed: %v", err)
	}

	if younger.State() != Aborted {
		t.Errorf("Younger holder must be wounded, got %v", younger.State())
	}
	if !older.IsSharedLocked(r) {
		t.Error("Older transaction must hold the shared lock")
	}
}

func TestLockManager_OlderHolderMakesYoungerWait(t *testing.T) {
	lm := NewLockManager()
	older := NewTransaction(1, RepeatableRead)
	younger := NewTransaction(2, RepeatableRead)
	r := rid(0, 0)

	if err := lm.LockExclusive(older, r); err != nil {
		t.Fatalf("LockExclusive failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- lm.LockShared(younger, r)
	}()

	select {
	case err := <-acquired:
		t.Fatalf("Younger transaction must wait, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	lm.Unlock(older, r)
	if err := <-acquired; err != nil {
		t.Fatalf("Younger transaction should acquire after release: %v", err)
	}
	if older.State() == Aborted {
		t.Error("Older holder must never be wounded by a younger waiter")
	}
}

func TestLockManager_WoundedWaiterObservesDeadlock(t *testing.T) {
	lm := NewLockManager()
	oldest := NewTransaction(5, RepeatableRead)
	middle := NewTransaction(10, RepeatableRead)
	youngest := NewTransaction(20, RepeatableRead)
	r1, r2 := rid(0, 0), rid(0, 1)

	// middle holds r2; youngest holds r1 and waits for r2.
	if err := lm.LockExclusive(middle, r2); err != nil {
		t.Fatalf("LockExclusive(middle) failed: %v", err)
	}
	if err := lm.LockExclusive(youngest, r1); err != nil {
		t.Fatalf("LockExclusive(youngest) failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	waitErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		waitErr <- lm.LockExclusive(youngest, r2)
	}()
	time.Sleep(50 * time.Millisecond)

	// oldest wounds youngest by requesting r1.
	if err := lm.LockExclusive(oldest, r1); err != nil {
		t.Fatalf("LockExclusive(oldest) failed: %v", err)
	}
	if youngest.State() != Aborted {
		t.Fatalf("Expected youngest wounded, got %v", youngest.State())
	}

	// When the wait on r2 wakes, the victim observes its own abort.
	lm.Unlock(middle, r2)
	wg.Wait()

	err := <-waitErr
	if err == nil {
		t.Fatal("Expected the wounded waiter to fail")
	}
	if got := abortReason(t, err); got != Deadlock {
		t.Errorf("Expected DEADLOCK, got %v", got)
	}
}
