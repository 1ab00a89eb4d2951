package buffer

import (
	"errors"
	"fmt"
	"sync"

	"graindb/pkg/primitives"
	"graindb/pkg/storage/disk"
)

// ErrNoAvailableFrames is returned when every frame is pinned and neither
// the free list nor the replacer can supply a victim.
var ErrNoAvailableFrames = errors.New("buffer pool: all frames are pinned")

// WALFlusher is the slice of the log manager the buffer pool needs to honor
// the write-ahead rule. A nil WALFlusher disables the check (logging as a
// capability: absent means no-op).
type WALFlusher interface {
	// PersistentLSN returns the largest LSN known to be on disk.
	PersistentLSN() primitives.LSN

	// Flush forces the log to disk; with force=true it blocks until the
	// persistent LSN has advanced past all appended records.
	Flush(force bool)
}

// Pool is the page access interface shared by the single-instance and
// parallel buffer pools. Every successful FetchPage/NewPage must be paired
// with exactly one UnpinPage.
type Pool interface {
	FetchPage(pid primitives.PageID) (*Page, error)
	NewPage() (*Page, error)
	UnpinPage(pid primitives.PageID, dirty bool) bool
	FlushPage(pid primitives.PageID) bool
	FlushAllPages() error
	DeletePage(pid primitives.PageID) bool
	PoolSize() int
}

// BufferPool is a single buffer pool instance: poolSize frames, a free
// list, the page table, and an LRU replacer, all guarded by one mutex.
//
// When the pool participates in a parallel pool of N instances, instance i
// allocates page ids i, i+N, i+2N, ... so ids partition cleanly mod N.
type BufferPool struct {
	mutex sync.Mutex

	poolSize      int
	numInstances  int
	instanceIndex int
	nextPageID    primitives.PageID

	frames    []*Page
	pageTable map[primitives.PageID]primitives.FrameID
	freeList  []primitives.FrameID
	replacer  *LRUReplacer

	diskManager *disk.DiskManager
	wal         WALFlusher
}

// NewBufferPool creates a standalone instance (a "parallel pool" of one).
func NewBufferPool(poolSize int, diskManager *disk.DiskManager, wal WALFlusher) *BufferPool {
	return NewBufferPoolInstance(poolSize, 1, 0, diskManager, wal)
}

// NewBufferPoolInstance creates one shard of a parallel buffer pool.
func NewBufferPoolInstance(poolSize, numInstances, instanceIndex int, diskManager *disk.DiskManager, wal WALFlusher) *BufferPool {
	if numInstances <= 0 {
		panic("buffer pool must have at least one instance")
	}
	if instanceIndex < 0 || instanceIndex >= numInstances {
		panic(fmt.Sprintf("instance index %d out of range [0, %d)", instanceIndex, numInstances))
	}

	bp := &BufferPool{
		poolSize:      poolSize,
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
		nextPageID:    primitives.PageID(instanceIndex),
		frames:        make([]*Page, poolSize),
		pageTable:     make(map[primitives.PageID]primitives.FrameID, poolSize),
		freeList:      make([]primitives.FrameID, 0, poolSize),
		replacer:      NewLRUReplacer(poolSize),
		diskManager:   diskManager,
		wal:           wal,
	}

	// Initially every frame is free.
	for i := 0; i < poolSize; i++ {
		bp.frames[i] = newPage()
		bp.freeList = append(bp.freeList, primitives.FrameID(i))
	}
	return bp
}

// FetchPage returns the page pinned, reading it from disk if it is not
// resident. It fails with ErrNoAvailableFrames when the page is absent and
// no frame can be freed.
func (bp *BufferPool) FetchPage(pid primitives.PageID) (*Page, error) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	if frame, exists := bp.pageTable[pid]; exists {
		page := bp.frames[frame]
		page.pinCount++
		bp.replacer.Pin(frame)
		return page, nil
	}

	frame, err := bp.victimFrame()
	if err != nil {
		return nil, err
	}

	page := bp.frames[frame]
	if err := bp.diskManager.ReadPage(pid, page.Data()); err != nil {
		// Put the frame back; the old mapping is already gone.
		page.id = primitives.InvalidPageID
		page.pinCount = 0
		page.dirty = false
		bp.freeList = append(bp.freeList, frame)
		return nil, err
	}
	page.id = pid
	page.pinCount = 1
	page.dirty = false
	bp.pageTable[pid] = frame
	return page, nil
}

// NewPage allocates a fresh page id owned by this instance, installs it in
// a frame with zeroed bytes, and returns it pinned and dirty.
func (bp *BufferPool) NewPage() (*Page, error) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	frame, err := bp.victimFrame()
	if err != nil {
		return nil, err
	}

	pid := bp.allocatePage()
	page := bp.frames[frame]
	page.resetMemory()
	page.id = pid
	page.pinCount = 1
	page.dirty = true
	bp.pageTable[pid] = frame
	return page, nil
}

// UnpinPage drops one pin. The dirty flag is OR-ed in, never cleared. When
// the pin count reaches zero the frame becomes evictable. Returns false
// only when the page is not resident.
func (bp *BufferPool) UnpinPage(pid primitives.PageID, dirty bool) bool {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	frame, exists := bp.pageTable[pid]
	if !exists {
		return false
	}

	page := bp.frames[frame]
	if dirty {
		page.dirty = true
	}
	if page.pinCount > 0 {
		page.pinCount--
	}
	if page.pinCount == 0 {
		bp.replacer.Unpin(frame)
	}
	return true
}

// FlushPage writes the page to disk regardless of dirtiness and clears the
// dirty flag. Returns false when the page is not resident.
func (bp *BufferPool) FlushPage(pid primitives.PageID) bool {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	frame, exists := bp.pageTable[pid]
	if !exists {
		return false
	}

	page := bp.frames[frame]
	bp.forceLogFor(page)
	if err := bp.diskManager.WritePage(pid, page.Data()); err != nil {
		return false
	}
	page.dirty = false
	return true
}

// FlushAllPages flushes every resident page with a valid id.
func (bp *BufferPool) FlushAllPages() error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	for _, page := range bp.frames {
		if page.id == primitives.InvalidPageID {
			continue
		}
		bp.forceLogFor(page)
		if err := bp.diskManager.WritePage(page.id, page.Data()); err != nil {
			return err
		}
		page.dirty = false
	}
	return nil
}

// DeletePage removes a page from the pool. It succeeds when the page is
// absent or resident with pin count zero, and fails when pinned. The freed
// frame returns to the free list.
func (bp *BufferPool) DeletePage(pid primitives.PageID) bool {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	frame, exists := bp.pageTable[pid]
	if !exists {
		return true
	}

	page := bp.frames[frame]
	if page.pinCount > 0 {
		return false
	}

	bp.replacer.Pin(frame)
	delete(bp.pageTable, pid)
	page.resetMemory()
	page.id = primitives.InvalidPageID
	page.pinCount = 0
	page.dirty = false
	bp.freeList = append(bp.freeList, frame)
	return true
}

// PoolSize returns the number of frames this instance owns.
func (bp *BufferPool) PoolSize() int {
	return bp.poolSize
}

// victimFrame picks a frame to receive a page: the free list first, then
// the replacer. A dirty victim is written back first, after forcing the
// log when the write-ahead rule requires it. The caller holds the mutex.
func (bp *BufferPool) victimFrame() (primitives.FrameID, error) {
	if len(bp.freeList) > 0 {
		frame := bp.freeList[0]
		bp.freeList = bp.freeList[1:]
		return frame, nil
	}

	frame, ok := bp.replacer.Victim()
	if !ok {
		return primitives.InvalidFrameID, ErrNoAvailableFrames
	}

	victim := bp.frames[frame]
	if victim.dirty && victim.id != primitives.InvalidPageID {
		bp.forceLogFor(victim)
		if err := bp.diskManager.WritePage(victim.id, victim.Data()); err != nil {
			return primitives.InvalidFrameID, err
		}
	}
	delete(bp.pageTable, victim.id)
	return frame, nil
}

// forceLogFor enforces the write-ahead rule: before this page's bytes may
// reach disk, all log records up to its LSN must be durable.
func (bp *BufferPool) forceLogFor(page *Page) {
	if bp.wal == nil {
		return
	}
	if page.LSN() > bp.wal.PersistentLSN() {
		bp.wal.Flush(true)
	}
}

// allocatePage hands out this instance's next page id. Ids advance by the
// instance count so ids partition by pid mod numInstances.
func (bp *BufferPool) allocatePage() primitives.PageID {
	pid := bp.nextPageID
	bp.nextPageID += primitives.PageID(bp.numInstances)
	return pid
}
