// Package record defines write-ahead log records and their binary codec.
//
// Every record starts with a fixed 20-byte header:
//
//	offset 0  : uint32 size (total record bytes)
//	offset 4  : int32  lsn
//	offset 8  : int32  txn id
//	offset 12 : int32  prev lsn
//	offset 16 : int32  type
//
// followed by a type-specific payload. Tuple payloads are a 4-byte length
// prefix plus the tuple's raw bytes. All integers are big-endian.
package record

import (
	"encoding/binary"
	"fmt"

	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

// RecordType identifies the kind of log record.
type RecordType int32

const (
	InvalidRecord RecordType = iota
	BeginRecord
	CommitRecord
	AbortRecord
	InsertRecord
	MarkDeleteRecord
	ApplyDeleteRecord
	RollbackDeleteRecord
	UpdateRecord
	NewPageRecord
)

func (t RecordType) String() string {
	switch t {
	case BeginRecord:
		return "BEGIN"
	case CommitRecord:
		return "COMMIT"
	case AbortRecord:
		return "ABORT"
	case InsertRecord:
		return "INSERT"
	case MarkDeleteRecord:
		return "MARKDELETE"
	case ApplyDeleteRecord:
		return "APPLYDELETE"
	case RollbackDeleteRecord:
		return "ROLLBACKDELETE"
	case UpdateRecord:
		return "UPDATE"
	case NewPageRecord:
		return "NEWPAGE"
	default:
		return "INVALID"
	}
}

// HeaderSize is the fixed prefix every record carries.
const HeaderSize = 20

// LogRecord is one entry of the write-ahead log. Which payload fields are
// meaningful depends on Type. The LSN is assigned by the log manager at
// append time.
type LogRecord struct {
	Size    uint32
	LSN     primitives.LSN
	TxnID   primitives.TxnID
	PrevLSN primitives.LSN
	Type    RecordType

	// Insert and the delete family: the affected slot and the row bytes.
	RID       tuple.RID
	TupleData []byte

	// Update: before and after images of the row.
	OldTupleData []byte
	NewTupleData []byte

	// NewPage: the allocated page and its predecessor in the heap chain.
	PrevPageID primitives.PageID
	PageID     primitives.PageID
}

// NewTxnRecord builds a BEGIN, COMMIT, or ABORT record.
func NewTxnRecord(typ RecordType, txnID primitives.TxnID, prevLSN primitives.LSN) *LogRecord {
	return &LogRecord{
		Size:    HeaderSize,
		LSN:     primitives.InvalidLSN,
		TxnID:   txnID,
		PrevLSN: prevLSN,
		Type:    typ,
	}
}

// NewInsertRecord builds an INSERT record for the row bytes placed at rid.
func NewInsertRecord(txnID primitives.TxnID, prevLSN primitives.LSN, rid tuple.RID, tupleData []byte) *LogRecord {
	return &LogRecord{
		Size:      uint32(HeaderSize + tuple.RIDSize + 4 + len(tupleData)),
		LSN:       primitives.InvalidLSN,
		TxnID:     txnID,
		PrevLSN:   prevLSN,
		Type:      InsertRecord,
		RID:       rid,
		TupleData: tupleData,
	}
}

// NewDeleteRecord builds a MARKDELETE, APPLYDELETE, or ROLLBACKDELETE
// record carrying the affected row bytes.
func NewDeleteRecord(typ RecordType, txnID primitives.TxnID, prevLSN primitives.LSN, rid tuple.RID, tupleData []byte) *LogRecord {
	return &LogRecord{
		Size:      uint32(HeaderSize + tuple.RIDSize + 4 + len(tupleData)),
		LSN:       primitives.InvalidLSN,
		TxnID:     txnID,
		PrevLSN:   prevLSN,
		Type:      typ,
		RID:       rid,
		TupleData: tupleData,
	}
}

// NewUpdateRecord builds an UPDATE record with before and after images.
func NewUpdateRecord(txnID primitives.TxnID, prevLSN primitives.LSN, rid tuple.RID, oldData, newData []byte) *LogRecord {
	return &LogRecord{
		Size:         uint32(HeaderSize + tuple.RIDSize + 4 + len(oldData) + 4 + len(newData)),
		LSN:          primitives.InvalidLSN,
		TxnID:        txnID,
		PrevLSN:      prevLSN,
		Type:         UpdateRecord,
		RID:          rid,
		OldTupleData: oldData,
		NewTupleData: newData,
	}
}

// NewNewPageRecord builds a NEWPAGE record linking pageID after prevPageID.
func NewNewPageRecord(txnID primitives.TxnID, prevLSN primitives.LSN, prevPageID, pageID primitives.PageID) *LogRecord {
	return &LogRecord{
		Size:       HeaderSize + 8,
		LSN:        primitives.InvalidLSN,
		TxnID:      txnID,
		PrevLSN:    prevLSN,
		Type:       NewPageRecord,
		PrevPageID: prevPageID,
		PageID:     pageID,
	}
}

// SerializeTo writes the record into buf, which must hold at least Size
// bytes.
func (r *LogRecord) SerializeTo(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], r.Size)
	binary.BigEndian.PutUint32(buf[4:8], uint32(r.LSN))
	binary.BigEndian.PutUint32(buf[8:12], uint32(r.TxnID))
	binary.BigEndian.PutUint32(buf[12:16], uint32(r.PrevLSN))
	binary.BigEndian.PutUint32(buf[16:20], uint32(r.Type))

	pos := HeaderSize
	switch r.Type {
	case InsertRecord, MarkDeleteRecord, ApplyDeleteRecord, RollbackDeleteRecord:
		r.RID.Serialize(buf[pos:])
		pos += tuple.RIDSize
		pos += putImage(buf[pos:], r.TupleData)
	case UpdateRecord:
		r.RID.Serialize(buf[pos:])
		pos += tuple.RIDSize
		pos += putImage(buf[pos:], r.OldTupleData)
		pos += putImage(buf[pos:], r.NewTupleData)
	case NewPageRecord:
		binary.BigEndian.PutUint32(buf[pos:], uint32(r.PrevPageID))
		binary.BigEndian.PutUint32(buf[pos+4:], uint32(r.PageID))
	}
}

// Deserialize parses one record from the front of data. It reports false
// when data does not start with a complete, well-formed record (for
// example, the zeroed tail of a log buffer).
func Deserialize(data []byte) (*LogRecord, bool) {
	if len(data) < HeaderSize {
		return nil, false
	}

	r := &LogRecord{
		Size:    binary.BigEndian.Uint32(data[0:4]),
		LSN:     primitives.LSN(binary.BigEndian.Uint32(data[4:8])),
		TxnID:   primitives.TxnID(binary.BigEndian.Uint32(data[8:12])),
		PrevLSN: primitives.LSN(binary.BigEndian.Uint32(data[12:16])),
		Type:    RecordType(binary.BigEndian.Uint32(data[16:20])),
	}
	if r.Size < HeaderSize || int(r.Size) > len(data) {
		return nil, false
	}
	if r.Type <= InvalidRecord || r.Type > NewPageRecord {
		return nil, false
	}

	payload := data[HeaderSize:r.Size]
	switch r.Type {
	case InsertRecord, MarkDeleteRecord, ApplyDeleteRecord, RollbackDeleteRecord:
		if len(payload) < tuple.RIDSize+4 {
			return nil, false
		}
		r.RID = tuple.DeserializeRID(payload)
		img, _, ok := getImage(payload[tuple.RIDSize:])
		if !ok {
			return nil, false
		}
		r.TupleData = img
	case UpdateRecord:
		if len(payload) < tuple.RIDSize+8 {
			return nil, false
		}
		r.RID = tuple.DeserializeRID(payload)
		rest := payload[tuple.RIDSize:]
		oldImg, n, ok := getImage(rest)
		if !ok {
			return nil, false
		}
		newImg, _, ok := getImage(rest[n:])
		if !ok {
			return nil, false
		}
		r.OldTupleData = oldImg
		r.NewTupleData = newImg
	case NewPageRecord:
		if len(payload) < 8 {
			return nil, false
		}
		r.PrevPageID = primitives.PageID(binary.BigEndian.Uint32(payload[0:4]))
		r.PageID = primitives.PageID(binary.BigEndian.Uint32(payload[4:8]))
	}
	return r, true
}

func (r *LogRecord) String() string {
	return fmt.Sprintf("LogRecord{lsn=%d txn=%d prev=%d type=%s size=%d}",
		r.LSN, r.TxnID, r.PrevLSN, r.Type, r.Size)
}

// putImage writes a length-prefixed byte image, returning bytes written.
func putImage(buf []byte, image []byte) int {
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(image)))
	copy(buf[4:], image)
	return 4 + len(image)
}

// getImage reads a length-prefixed byte image, returning the image, the
// bytes consumed, and whether the image was complete.
func getImage(buf []byte) ([]byte, int, bool) {
	if len(buf) < 4 {
		return nil, 0, false
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if int(length) > len(buf)-4 {
		return nil, 0, false
	}
	image := make([]byte, length)
	copy(image, buf[4:4+length])
	return image, int(4 + length), true
}
