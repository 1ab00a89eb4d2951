// Package recovery replays the write-ahead log after a crash: a redo pass
// reapplies every logged operation whose effects did not reach disk,
// followed by an undo pass that rolls back transactions that never
// committed. Both passes work at table-page granularity with logging and
// locking disabled.
package recovery

import (
	"fmt"

	"graindb/pkg/buffer"
	"graindb/pkg/log/record"
	"graindb/pkg/primitives"
	"graindb/pkg/storage/disk"
	"graindb/pkg/storage/table"
)

// LogRecovery drives the two recovery passes.
type LogRecovery struct {
	diskManager *disk.DiskManager
	pool        buffer.Pool

	// activeTxn maps transactions without a COMMIT/ABORT record to their
	// last seen LSN; undo walks each chain backwards from there.
	activeTxn map[primitives.TxnID]primitives.LSN

	// lsnMapping records each LSN's byte offset in the log file so undo
	// can seek straight to it.
	lsnMapping map[primitives.LSN]int64

	buffer []byte
}

func NewLogRecovery(diskManager *disk.DiskManager, pool buffer.Pool) *LogRecovery {
	return &LogRecovery{
		diskManager: diskManager,
		pool:        pool,
		activeTxn:   make(map[primitives.TxnID]primitives.LSN),
		lsnMapping:  make(map[primitives.LSN]int64),
		buffer:      make([]byte, primitives.LogBufferSize),
	}
}

// Recover runs the redo pass then the undo pass.
func (lr *LogRecovery) Recover() error {
	if err := lr.Redo(); err != nil {
		return err
	}
	return lr.Undo()
}

// Redo scans the log from the beginning, rebuilding the active transaction
// table and the LSN offset map, and replays every record newer than its
// target page.
func (lr *LogRecovery) Redo() error {
	var offset int64
	for lr.diskManager.ReadLog(lr.buffer, offset) {
		bufOffset := 0
		for {
			r, ok := record.Deserialize(lr.buffer[bufOffset:])
			if !ok {
				break
			}
			lr.lsnMapping[r.LSN] = offset + int64(bufOffset)
			lr.activeTxn[r.TxnID] = r.LSN
			bufOffset += int(r.Size)

			if err := lr.redoRecord(r); err != nil {
				return err
			}
		}
		if bufOffset == 0 {
			break
		}
		offset += int64(bufOffset)
	}
	return nil
}

func (lr *LogRecovery) redoRecord(r *record.LogRecord) error {
	switch r.Type {
	case record.BeginRecord:
		return nil
	case record.CommitRecord, record.AbortRecord:
		delete(lr.activeTxn, r.TxnID)
		return nil
	case record.NewPageRecord:
		return lr.redoNewPage(r)
	default:
		return lr.redoDataRecord(r)
	}
}

func (lr *LogRecovery) redoNewPage(r *record.LogRecord) error {
	page, err := lr.pool.FetchPage(r.PageID)
	if err != nil {
		return err
	}
	tp := table.AsTablePage(page)

	needRedo := r.LSN > page.LSN()
	if needRedo {
		tp.Init(r.PageID, r.PrevPageID, nil, nil)
		tp.SetLSN(r.LSN)
		if r.PrevPageID != primitives.InvalidPageID {
			prevPage, err := lr.pool.FetchPage(r.PrevPageID)
			if err != nil {
				lr.pool.UnpinPage(r.PageID, needRedo)
				return err
			}
			prev := table.AsTablePage(prevPage)
			needLink := prev.NextPageID() != r.PageID
			if needLink {
				prev.SetNextPageID(r.PageID)
			}
			lr.pool.UnpinPage(r.PrevPageID, needLink)
		}
	}
	lr.pool.UnpinPage(r.PageID, needRedo)
	return nil
}

func (lr *LogRecovery) redoDataRecord(r *record.LogRecord) error {
	page, err := lr.pool.FetchPage(r.RID.PageID)
	if err != nil {
		return err
	}
	tp := table.AsTablePage(page)

	needRedo := r.LSN > page.LSN()
	if needRedo {
		if err := lr.applyRecord(tp, r); err != nil {
			lr.pool.UnpinPage(r.RID.PageID, false)
			return err
		}
		tp.SetLSN(r.LSN)
	}
	lr.pool.UnpinPage(r.RID.PageID, needRedo)
	return nil
}

// applyRecord replays one data operation forward through the table-page
// API with logging and locking disabled.
func (lr *LogRecovery) applyRecord(tp *table.TablePage, r *record.LogRecord) error {
	switch r.Type {
	case record.InsertRecord:
		rid := r.RID
		if !tp.InsertTuple(r.TupleData, &rid, nil, nil) {
			return fmt.Errorf("redo: insert did not fit on page %d", r.RID.PageID)
		}
	case record.MarkDeleteRecord:
		if !tp.MarkDelete(r.RID, nil, nil) {
			return fmt.Errorf("redo: mark delete failed at %v", r.RID)
		}
	case record.ApplyDeleteRecord:
		if err := tp.ApplyDelete(r.RID, nil, nil); err != nil {
			return fmt.Errorf("redo: %v", err)
		}
	case record.RollbackDeleteRecord:
		if err := tp.RollbackDelete(r.RID, nil, nil); err != nil {
			return fmt.Errorf("redo: %v", err)
		}
	case record.UpdateRecord:
		if _, err := tp.UpdateTuple(r.NewTupleData, r.RID, nil, nil); err != nil {
			return fmt.Errorf("redo: %v", err)
		}
	}
	return nil
}

// Undo rolls back every transaction still active at the end of the log,
// walking each prev-LSN chain newest to oldest and applying the inverse of
// each record.
func (lr *LogRecovery) Undo() error {
	for txnID, lastLSN := range lr.activeTxn {
		lsn := lastLSN
		for lsn != primitives.InvalidLSN {
			fileOffset, ok := lr.lsnMapping[lsn]
			if !ok {
				return fmt.Errorf("undo: no log offset for lsn %d", lsn)
			}
			if !lr.diskManager.ReadLog(lr.buffer, fileOffset) {
				return fmt.Errorf("undo: failed to read log at offset %d", fileOffset)
			}
			r, parsed := record.Deserialize(lr.buffer)
			if !parsed {
				return fmt.Errorf("undo: corrupt record at offset %d", fileOffset)
			}
			if r.TxnID != txnID {
				panic(fmt.Sprintf("undo: lsn %d belongs to txn %d, expected %d", lsn, r.TxnID, txnID))
			}

			if r.Type == record.CommitRecord || r.Type == record.AbortRecord {
				panic("undo: committed or aborted transaction in active set")
			}

			if err := lr.undoRecord(r); err != nil {
				return err
			}
			lsn = r.PrevLSN
		}
	}

	lr.activeTxn = make(map[primitives.TxnID]primitives.LSN)
	lr.lsnMapping = make(map[primitives.LSN]int64)
	return nil
}

// undoRecord applies the inverse of one record.
func (lr *LogRecovery) undoRecord(r *record.LogRecord) error {
	switch r.Type {
	case record.BeginRecord:
		return nil
	case record.NewPageRecord:
		lr.pool.DeletePage(r.PageID)
		if r.PrevPageID != primitives.InvalidPageID {
			prevPage, err := lr.pool.FetchPage(r.PrevPageID)
			if err != nil {
				return err
			}
			prev := table.AsTablePage(prevPage)
			if prev.NextPageID() != r.PageID {
				panic("undo: new-page record does not match page chain")
			}
			prev.SetNextPageID(primitives.InvalidPageID)
			lr.pool.UnpinPage(r.PrevPageID, true)
		}
		return nil
	}

	page, err := lr.pool.FetchPage(r.RID.PageID)
	if err != nil {
		return err
	}
	tp := table.AsTablePage(page)

	switch r.Type {
	case record.InsertRecord:
		err = tp.ApplyDelete(r.RID, nil, nil)
	case record.ApplyDeleteRecord:
		rid := r.RID
		if !tp.InsertTuple(r.TupleData, &rid, nil, nil) {
			err = fmt.Errorf("undo: reinsert did not fit on page %d", r.RID.PageID)
		}
	case record.MarkDeleteRecord:
		err = tp.RollbackDelete(r.RID, nil, nil)
	case record.RollbackDeleteRecord:
		if !tp.MarkDelete(r.RID, nil, nil) {
			err = fmt.Errorf("undo: mark delete failed at %v", r.RID)
		}
	case record.UpdateRecord:
		_, err = tp.UpdateTuple(r.OldTupleData, r.RID, nil, nil)
	default:
		panic(fmt.Sprintf("undo: unexpected record type %v", r.Type))
	}

	lr.pool.UnpinPage(r.RID.PageID, err == nil)
	return err
}
