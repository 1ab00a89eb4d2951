// Package primitives defines the base identifier types and engine-wide
// constants shared by every storage and concurrency component.
package primitives

// PageID identifies a page in the database file. Page IDs are allocated by
// the buffer pool and partition cleanly across parallel pool instances:
// a page allocated by instance i satisfies pid % numInstances == i.
type PageID int32

// FrameID identifies a slot in a buffer pool instance (0 <= f < poolSize).
type FrameID int32

// TxnID identifies a transaction. Smaller IDs are older transactions, which
// is what the wound-wait policy orders on.
type TxnID int32

// LSN (Log Sequence Number) identifies a log record. LSNs are allocated
// monotonically by the log manager.
type LSN int32

// SlotID identifies a tuple slot within a table page.
type SlotID uint32

const (
	// PageSize is the size of a page in bytes, for both data and index pages.
	PageSize = 4096

	// LogBufferSize is the capacity of each of the log manager's two buffers.
	// A single log record must fit in one buffer.
	LogBufferSize = (PageSize + 40) * 8

	// DirectoryArraySize is the maximum number of extendible hash directory
	// slots, bounding the global depth at 9.
	DirectoryArraySize = 512

	// MaxGlobalDepth is the largest global depth the directory can reach.
	MaxGlobalDepth = 9
)

// Sentinel values for invalid/unset identifiers.
const (
	InvalidPageID  PageID  = -1
	InvalidFrameID FrameID = -1
	InvalidTxnID   TxnID   = -1
	InvalidLSN     LSN     = -1
)
