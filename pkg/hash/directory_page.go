package hash

import (
	"encoding/binary"
	"fmt"

	"graindb/pkg/buffer"
	"graindb/pkg/primitives"
)

// Directory page layout (after the 4-byte LSN prefix):
//
//	4:8     this page's id
//	8:12    global depth
//	12:524  local depths, one byte per directory slot
//	524:... bucket page ids, four bytes per directory slot
const (
	dirPageIDOffset     = pageDataOffset
	globalDepthOffset   = pageDataOffset + 4
	localDepthsOffset   = pageDataOffset + 8
	bucketPageIDsOffset = localDepthsOffset + primitives.DirectoryArraySize
)

// DirectoryPage is a typed view over the extendible hash directory page.
type DirectoryPage struct {
	*buffer.Page
}

func AsDirectoryPage(p *buffer.Page) *DirectoryPage {
	return &DirectoryPage{Page: p}
}

func (dp *DirectoryPage) PageID() primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(dp.Data()[dirPageIDOffset:]))
}

func (dp *DirectoryPage) SetPageID(pid primitives.PageID) {
	binary.BigEndian.PutUint32(dp.Data()[dirPageIDOffset:], uint32(pid))
}

func (dp *DirectoryPage) GlobalDepth() uint32 {
	return binary.BigEndian.Uint32(dp.Data()[globalDepthOffset:])
}

func (dp *DirectoryPage) IncrGlobalDepth() {
	binary.BigEndian.PutUint32(dp.Data()[globalDepthOffset:], dp.GlobalDepth()+1)
}

func (dp *DirectoryPage) DecrGlobalDepth() {
	binary.BigEndian.PutUint32(dp.Data()[globalDepthOffset:], dp.GlobalDepth()-1)
}

// GlobalDepthMask extracts a key hash's directory slot.
func (dp *DirectoryPage) GlobalDepthMask() uint32 {
	return (1 << dp.GlobalDepth()) - 1
}

// Size returns the number of directory slots currently addressable.
func (dp *DirectoryPage) Size() uint32 {
	return 1 << dp.GlobalDepth()
}

func (dp *DirectoryPage) LocalDepth(slot uint32) uint32 {
	return uint32(dp.Data()[localDepthsOffset+slot])
}

func (dp *DirectoryPage) SetLocalDepth(slot, depth uint32) {
	dp.Data()[localDepthsOffset+slot] = byte(depth)
}

func (dp *DirectoryPage) IncrLocalDepth(slot uint32) {
	dp.Data()[localDepthsOffset+slot]++
}

func (dp *DirectoryPage) DecrLocalDepth(slot uint32) {
	dp.Data()[localDepthsOffset+slot]--
}

// LocalDepthMask extracts the bits of a hash that select this slot's bucket.
func (dp *DirectoryPage) LocalDepthMask(slot uint32) uint32 {
	return (1 << dp.LocalDepth(slot)) - 1
}

func (dp *DirectoryPage) BucketPageID(slot uint32) primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(dp.Data()[bucketPageIDsOffset+slot*4:]))
}

func (dp *DirectoryPage) SetBucketPageID(slot uint32, pid primitives.PageID) {
	binary.BigEndian.PutUint32(dp.Data()[bucketPageIDsOffset+slot*4:], uint32(pid))
}

// SplitImageIndex returns the slot that differs from slot only in its
// highest local-depth bit: the sibling a merge would fold into.
func (dp *DirectoryPage) SplitImageIndex(slot uint32) uint32 {
	depth := dp.LocalDepth(slot)
	if depth == 0 {
		return slot
	}
	return slot ^ (1 << (depth - 1))
}

// CanShrink reports whether every slot's local depth is below the global
// depth, so halving the directory loses nothing.
func (dp *DirectoryPage) CanShrink() bool {
	size := dp.Size()
	globalDepth := dp.GlobalDepth()
	for i := uint32(0); i < size; i++ {
		if dp.LocalDepth(i) >= globalDepth {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks the directory invariants: every local depth is
// bounded by the global depth, and all slots agreeing on their low
// local-depth bits point at the same bucket with the same local depth.
func (dp *DirectoryPage) VerifyIntegrity() error {
	size := dp.Size()
	globalDepth := dp.GlobalDepth()

	for i := uint32(0); i < size; i++ {
		if dp.LocalDepth(i) > globalDepth {
			return fmt.Errorf("slot %d: local depth %d exceeds global depth %d",
				i, dp.LocalDepth(i), globalDepth)
		}
	}

	for i := uint32(0); i < size; i++ {
		mask := dp.LocalDepthMask(i)
		for j := uint32(0); j < size; j++ {
			if i&mask != j&mask {
				continue
			}
			if dp.BucketPageID(i) != dp.BucketPageID(j) {
				return fmt.Errorf("slots %d and %d share low bits but point at buckets %d and %d",
					i, j, dp.BucketPageID(i), dp.BucketPageID(j))
			}
			if dp.LocalDepth(i) != dp.LocalDepth(j) {
				return fmt.Errorf("slots %d and %d share a bucket but disagree on local depth (%d vs %d)",
					i, j, dp.LocalDepth(i), dp.LocalDepth(j))
			}
		}
	}
	return nil
}
