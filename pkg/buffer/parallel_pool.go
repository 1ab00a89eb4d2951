package buffer

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"graindb/pkg/primitives"
	"graindb/pkg/storage/disk"
)

// ParallelBufferPool shards pages across independent BufferPool instances
// by pid mod N. Per-page operations dispatch to the owning instance; page
// allocation probes instances round-robin so new pages spread evenly.
type ParallelBufferPool struct {
	instances []*BufferPool
	poolSize  int // per-instance size

	startMutex    sync.Mutex
	startingIndex int
}

// NewParallelBufferPool creates numInstances pools of poolSize frames each
// over the same disk manager and WAL.
func NewParallelBufferPool(numInstances, poolSize int, diskManager *disk.DiskManager, wal WALFlusher) *ParallelBufferPool {
	instances := make([]*BufferPool, numInstances)
	for i := range instances {
		instances[i] = NewBufferPoolInstance(poolSize, numInstances, i, diskManager, wal)
	}
	return &ParallelBufferPool{
		instances: instances,
		poolSize:  poolSize,
	}
}

// instanceFor returns the pool responsible for a page id.
func (pp *ParallelBufferPool) instanceFor(pid primitives.PageID) *BufferPool {
	return pp.instances[int(pid)%len(pp.instances)]
}

func (pp *ParallelBufferPool) FetchPage(pid primitives.PageID) (*Page, error) {
	return pp.instanceFor(pid).FetchPage(pid)
}

func (pp *ParallelBufferPool) UnpinPage(pid primitives.PageID, dirty bool) bool {
	return pp.instanceFor(pid).UnpinPage(pid, dirty)
}

func (pp *ParallelBufferPool) FlushPage(pid primitives.PageID) bool {
	return pp.instanceFor(pid).FlushPage(pid)
}

func (pp *ParallelBufferPool) DeletePage(pid primitives.PageID) bool {
	return pp.instanceFor(pid).DeletePage(pid)
}

// NewPage asks each instance in turn, starting from a rotating index,
// until one has a frame to give. The index advances every call so
// allocations spread across instances. Returns ErrNoAvailableFrames when
// every instance is fully pinned.
func (pp *ParallelBufferPool) NewPage() (*Page, error) {
	pp.startMutex.Lock()
	start := pp.startingIndex
	pp.startingIndex = (pp.startingIndex + 1) % len(pp.instances)
	pp.startMutex.Unlock()

	for i := 0; i < len(pp.instances); i++ {
		idx := (start + i) % len(pp.instances)
		page, err := pp.instances[idx].NewPage()
		if err == nil {
			return page, nil
		}
	}
	return nil, ErrNoAvailableFrames
}

// FlushAllPages flushes every instance concurrently.
func (pp *ParallelBufferPool) FlushAllPages() error {
	var g errgroup.Group
	for _, instance := range pp.instances {
		instance := instance
		g.Go(instance.FlushAllPages)
	}
	return g.Wait()
}

// PoolSize returns the total frame count across all instances.
func (pp *ParallelBufferPool) PoolSize() int {
	return len(pp.instances) * pp.poolSize
}
