// Package buffer provides the buffer pool: a fixed set of in-memory frames
// caching disk pages, an LRU replacer deciding eviction order, and a
// parallel pool that shards page ids across independent instances.
package buffer

import (
	"encoding/binary"
	"sync"

	"graindb/pkg/primitives"
)

// lsnOffset is where every page kind stores its log sequence number.
// The first four bytes of a page are reserved for it.
const lsnOffset = 0

// Page is a frame's view of one disk page: the backing byte array plus the
// bookkeeping the buffer pool needs. The byte array is reused across
// evictions; identity comes from the page id.
type Page struct {
	data     [primitives.PageSize]byte
	id       primitives.PageID
	pinCount int
	dirty    bool
	latch    sync.RWMutex
}

func newPage() *Page {
	return &Page{id: primitives.InvalidPageID}
}

// Data returns the page's backing bytes. Callers must hold the page latch
// while reading or writing through it.
func (p *Page) Data() []byte {
	return p.data[:]
}

func (p *Page) ID() primitives.PageID {
	return p.id
}

func (p *Page) PinCount() int {
	return p.pinCount
}

func (p *Page) IsDirty() bool {
	return p.dirty
}

// LSN reads the page's log sequence number out of the page bytes.
func (p *Page) LSN() primitives.LSN {
	return primitives.LSN(binary.BigEndian.Uint32(p.data[lsnOffset : lsnOffset+4]))
}

// SetLSN stores the log sequence number into the page bytes.
func (p *Page) SetLSN(lsn primitives.LSN) {
	binary.BigEndian.PutUint32(p.data[lsnOffset:lsnOffset+4], uint32(lsn))
}

// RLatch takes the page's read latch.
func (p *Page) RLatch() { p.latch.RLock() }

// RUnlatch releases the page's read latch.
func (p *Page) RUnlatch() { p.latch.RUnlock() }

// WLatch takes the page's write latch.
func (p *Page) WLatch() { p.latch.Lock() }

// WUnlatch releases the page's write latch.
func (p *Page) WUnlatch() { p.latch.Unlock() }

func (p *Page) resetMemory() {
	for i := range p.data {
		p.data[i] = 0
	}
}
