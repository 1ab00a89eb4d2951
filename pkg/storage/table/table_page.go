// Package table provides the slotted table pages and the page-linked table
// heap that stores rows. Page mutations write ahead to the log when a log
// manager is attached; passing nil collaborators bypasses logging, which is
// how recovery replays operations.
package table

import (
	"encoding/binary"
	"fmt"

	"graindb/pkg/buffer"
	"graindb/pkg/concurrency"
	"graindb/pkg/log/record"
	"graindb/pkg/log/wal"
	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

// Table page layout:
//
//	0:4    LSN
//	4:8    prev page id
//	8:12   next page id
//	12:16  free space pointer (start of the tuple data region)
//	16:20  tuple count (slots ever allocated)
//	20:... slot array, 8 bytes per slot: offset(4) size(4)
//
// Tuple data grows downward from the end of the page; the slot array grows
// upward. The high bit of a slot's size marks the tuple deleted.
const (
	headerSize = 20

	prevPageIDOffset = 4
	nextPageIDOffset = 8
	freeSpaceOffset  = 12
	tupleCountOffset = 16
	slotArrayOffset  = headerSize
	slotSize         = 8
	deleteMask       = uint32(1) << 31
)

// TablePage is a typed view over a buffer page holding table rows. It
// never aliases the page bytes with structs; every access parses or
// serializes explicitly.
type TablePage struct {
	*buffer.Page
}

// AsTablePage wraps a buffer page in the table-page view.
func AsTablePage(p *buffer.Page) *TablePage {
	return &TablePage{Page: p}
}

// Init formats the page as an empty table page linked after prevPageID and
// logs the allocation.
func (tp *TablePage) Init(pid primitives.PageID, prevPageID primitives.PageID, txn *concurrency.Transaction, logManager *wal.LogManager) {
	tp.SetPrevPageID(prevPageID)
	tp.SetNextPageID(primitives.InvalidPageID)
	tp.setFreeSpacePointer(primitives.PageSize)
	tp.setTupleCount(0)

	if logManager != nil && txn != nil {
		r := record.NewNewPageRecord(txn.ID(), txn.PrevLSN(), prevPageID, pid)
		lsn := logManager.AppendLogRecord(r)
		txn.SetPrevLSN(lsn)
		tp.SetLSN(lsn)
	}
}

func (tp *TablePage) PrevPageID() primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(tp.Data()[prevPageIDOffset:]))
}

func (tp *TablePage) SetPrevPageID(pid primitives.PageID) {
	binary.BigEndian.PutUint32(tp.Data()[prevPageIDOffset:], uint32(pid))
}

func (tp *TablePage) NextPageID() primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(tp.Data()[nextPageIDOffset:]))
}

func (tp *TablePage) SetNextPageID(pid primitives.PageID) {
	binary.BigEndian.PutUint32(tp.Data()[nextPageIDOffset:], uint32(pid))
}

func (tp *TablePage) freeSpacePointer() uint32 {
	return binary.BigEndian.Uint32(tp.Data()[freeSpaceOffset:])
}

func (tp *TablePage) setFreeSpacePointer(fsp uint32) {
	binary.BigEndian.PutUint32(tp.Data()[freeSpaceOffset:], fsp)
}

// TupleCount returns the number of slots ever allocated on this page,
// including empty and deleted ones.
func (tp *TablePage) TupleCount() uint32 {
	return binary.BigEndian.Uint32(tp.Data()[tupleCountOffset:])
}

func (tp *TablePage) setTupleCount(count uint32) {
	binary.BigEndian.PutUint32(tp.Data()[tupleCountOffset:], count)
}

func (tp *TablePage) slotOffset(i uint32) uint32 {
	return binary.BigEndian.Uint32(tp.Data()[slotArrayOffset+i*slotSize:])
}

func (tp *TablePage) setSlotOffset(i, offset uint32) {
	binary.BigEndian.PutUint32(tp.Data()[slotArrayOffset+i*slotSize:], offset)
}

func (tp *TablePage) slotSize(i uint32) uint32 {
	return binary.BigEndian.Uint32(tp.Data()[slotArrayOffset+i*slotSize+4:])
}

func (tp *TablePage) setSlotSize(i, size uint32) {
	binary.BigEndian.PutUint32(tp.Data()[slotArrayOffset+i*slotSize+4:], size)
}

func isDeleted(size uint32) bool {
	return size&deleteMask != 0
}

func tupleLength(size uint32) uint32 {
	return size &^ deleteMask
}

// freeSpace is the gap between the slot array and the tuple data region.
func (tp *TablePage) freeSpace() uint32 {
	return tp.freeSpacePointer() - (headerSize + tp.TupleCount()*slotSize)
}

// InsertTuple places the row bytes in the first free slot, extending the
// slot array if none is free. It reports false when the page lacks room.
func (tp *TablePage) InsertTuple(data []byte, rid *tuple.RID, txn *concurrency.Transaction, logManager *wal.LogManager) bool {
	count := tp.TupleCount()

	slot := count
	for i := uint32(0); i < count; i++ {
		if tp.slotSize(i) == 0 {
			slot = i
			break
		}
	}

	needed := uint32(len(data))
	if slot == count {
		needed += slotSize
	}
	if tp.freeSpace() < needed {
		return false
	}

	fsp := tp.freeSpacePointer() - uint32(len(data))
	copy(tp.Data()[fsp:], data)
	tp.setFreeSpacePointer(fsp)
	tp.setSlotOffset(slot, fsp)
	tp.setSlotSize(slot, uint32(len(data)))
	if slot == count {
		tp.setTupleCount(count + 1)
	}

	*rid = tuple.NewRID(tp.ID(), primitives.SlotID(slot))

	if logManager != nil && txn != nil {
		r := record.NewInsertRecord(txn.ID(), txn.PrevLSN(), *rid, data)
		lsn := logManager.AppendLogRecord(r)
		txn.SetPrevLSN(lsn)
		tp.SetLSN(lsn)
	}
	return true
}

// MarkDelete arms a slot for deletion without freeing its bytes, so an
// abort can roll it back. Reports false when the slot holds no live tuple.
func (tp *TablePage) MarkDelete(rid tuple.RID, txn *concurrency.Transaction, logManager *wal.LogManager) bool {
	i := uint32(rid.Slot)
	if i >= tp.TupleCount() {
		return false
	}
	size := tp.slotSize(i)
	if size == 0 || isDeleted(size) {
		return false
	}

	if logManager != nil && txn != nil {
		data := tp.tupleBytes(i)
		r := record.NewDeleteRecord(record.MarkDeleteRecord, txn.ID(), txn.PrevLSN(), rid, data)
		lsn := logManager.AppendLogRecord(r)
		txn.SetPrevLSN(lsn)
		tp.SetLSN(lsn)
	}

	tp.setSlotSize(i, size|deleteMask)
	return true
}

// RollbackDelete disarms a mark-deleted slot.
func (tp *TablePage) RollbackDelete(rid tuple.RID, txn *concurrency.Transaction, logManager *wal.LogManager) error {
	i := uint32(rid.Slot)
	if i >= tp.TupleCount() {
		return fmt.Errorf("rollback delete: slot %d out of range", i)
	}
	size := tp.slotSize(i)
	if size == 0 {
		return fmt.Errorf("rollback delete: slot %d is empty", i)
	}

	if logManager != nil && txn != nil {
		data := tp.tupleBytes(i)
		r := record.NewDeleteRecord(record.RollbackDeleteRecord, txn.ID(), txn.PrevLSN(), rid, data)
		lsn := logManager.AppendLogRecord(r)
		txn.SetPrevLSN(lsn)
		tp.SetLSN(lsn)
	}

	tp.setSlotSize(i, tupleLength(size))
	return nil
}

// ApplyDelete frees a slot and compacts the tuple data region. The slot
// stays allocated (size zero) for reuse by a later insert.
func (tp *TablePage) ApplyDelete(rid tuple.RID, txn *concurrency.Transaction, logManager *wal.LogManager) error {
	i := uint32(rid.Slot)
	if i >= tp.TupleCount() {
		return fmt.Errorf("apply delete: slot %d out of range", i)
	}
	size := tupleLength(tp.slotSize(i))
	if size == 0 {
		return fmt.Errorf("apply delete: slot %d is empty", i)
	}
	offset := tp.slotOffset(i)

	if logManager != nil && txn != nil {
		data := tp.tupleBytes(i)
		r := record.NewDeleteRecord(record.ApplyDeleteRecord, txn.ID(), txn.PrevLSN(), rid, data)
		lsn := logManager.AppendLogRecord(r)
		txn.SetPrevLSN(lsn)
		tp.SetLSN(lsn)
	}

	fsp := tp.freeSpacePointer()
	copy(tp.Data()[fsp+size:offset+size], tp.Data()[fsp:offset])
	tp.setFreeSpacePointer(fsp + size)

	count := tp.TupleCount()
	for j := uint32(0); j < count; j++ {
		jSize := tp.slotSize(j)
		if jSize != 0 && tp.slotOffset(j) < offset {
			tp.setSlotOffset(j, tp.slotOffset(j)+size)
		}
	}
	tp.setSlotOffset(i, 0)
	tp.setSlotSize(i, 0)
	return nil
}

// UpdateTuple replaces a slot's bytes in place, shifting the data region
// to absorb the size difference. Reports false when the new row does not
// fit.
func (tp *TablePage) UpdateTuple(newData []byte, rid tuple.RID, txn *concurrency.Transaction, logManager *wal.LogManager) (bool, error) {
	i := uint32(rid.Slot)
	if i >= tp.TupleCount() {
		return false, fmt.Errorf("update: slot %d out of range", i)
	}
	size := tp.slotSize(i)
	if size == 0 {
		return false, fmt.Errorf("update: slot %d is empty", i)
	}
	if isDeleted(size) {
		return false, fmt.Errorf("update: slot %d is deleted", i)
	}

	oldSize := tupleLength(size)
	if uint32(len(newData)) > tp.freeSpace()+oldSize {
		return false, nil
	}

	if logManager != nil && txn != nil {
		oldData := tp.tupleBytes(i)
		r := record.NewUpdateRecord(txn.ID(), txn.PrevLSN(), rid, oldData, newData)
		lsn := logManager.AppendLogRecord(r)
		txn.SetPrevLSN(lsn)
		tp.SetLSN(lsn)
	}

	offset := tp.slotOffset(i)
	fsp := tp.freeSpacePointer()
	diff := int64(oldSize) - int64(len(newData))

	newFsp := uint32(int64(fsp) + diff)
	copy(tp.Data()[newFsp:uint32(int64(offset)+diff)], tp.Data()[fsp:offset])
	tp.setFreeSpacePointer(newFsp)

	count := tp.TupleCount()
	for j := uint32(0); j < count; j++ {
		jSize := tp.slotSize(j)
		if jSize != 0 && j != i && tp.slotOffset(j) < offset {
			tp.setSlotOffset(j, uint32(int64(tp.slotOffset(j))+diff))
		}
	}

	newOffset := uint32(int64(offset) + diff)
	copy(tp.Data()[newOffset:newOffset+uint32(len(newData))], newData)
	tp.setSlotOffset(i, newOffset)
	tp.setSlotSize(i, uint32(len(newData)))
	return true, nil
}

// GetTuple returns a copy of the slot's row bytes. Reports false for
// empty and mark-deleted slots.
func (tp *TablePage) GetTuple(rid tuple.RID) ([]byte, bool) {
	i := uint32(rid.Slot)
	if i >= tp.TupleCount() {
		return nil, false
	}
	size := tp.slotSize(i)
	if size == 0 || isDeleted(size) {
		return nil, false
	}
	return tp.tupleBytes(i), true
}

// FirstTupleRID returns the first live tuple's rid on this page.
func (tp *TablePage) FirstTupleRID() (tuple.RID, bool) {
	return tp.nextLiveSlot(0)
}

// NextTupleRID returns the first live tuple after rid on this page.
func (tp *TablePage) NextTupleRID(rid tuple.RID) (tuple.RID, bool) {
	return tp.nextLiveSlot(uint32(rid.Slot) + 1)
}

func (tp *TablePage) nextLiveSlot(from uint32) (tuple.RID, bool) {
	count := tp.TupleCount()
	for i := from; i < count; i++ {
		size := tp.slotSize(i)
		if size != 0 && !isDeleted(size) {
			return tuple.NewRID(tp.ID(), primitives.SlotID(i)), true
		}
	}
	return tuple.InvalidRID, false
}

// tupleBytes copies out a slot's bytes regardless of its delete mark.
func (tp *TablePage) tupleBytes(i uint32) []byte {
	offset := tp.slotOffset(i)
	size := tupleLength(tp.slotSize(i))
	data := make([]byte, size)
	copy(data, tp.Data()[offset:offset+size])
	return data
}
