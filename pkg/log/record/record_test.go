package record

import (
	"bytes"
	"testing"

	"graindb/pkg/primitives"
	"graindb/pkg/tuple"
)

func TestTxnRecordRoundTrip(t *testing.T) {
	r := NewTxnRecord(BeginRecord, 42, primitives.InvalidLSN)
	r.LSN = 7

	buf := make([]byte, r.Size)
	r.SerializeTo(buf)

	got, ok := Deserialize(buf)
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if got.Type != BeginRecord || got.TxnID != 42 || got.LSN != 7 || got.PrevLSN != primitives.InvalidLSN {
		t.Errorf("Header mismatch: %+v", got)
	}
	if got.Size != HeaderSize {
		t.Errorf("Expected size %d, got %d", HeaderSize, got.Size)
	}
}

func TestInsertRecordRoundTrip(t *testing.T) {
	rid := tuple.NewRID(5, 3)
	data := []byte("tuple-bytes")
	r := NewInsertRecord(9, 11, rid, data)
	r.LSN = 12

	buf := make([]byte, r.Size)
	r.SerializeTo(buf)

	got, ok := Deserialize(buf)
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if !got.RID.Equals(rid) {
		t.Errorf("Expected rid %v, got %v", rid, got.RID)
	}
	if !bytes.Equal(got.TupleData, data) {
		t.Errorf("Tuple data mismatch: %q", got.TupleData)
	}
	if got.PrevLSN != 11 {
		t.Errorf("Expected prev lsn 11, got %d", got.PrevLSN)
	}
}

func TestUpdateRecordRoundTrip(t *testing.T) {
	rid := tuple.NewRID(5, 1)
	r := NewUpdateRecord(100, 3, rid, []byte("before"), []byte("after-image"))
	r.LSN = 4

	buf := make([]byte, r.Size)
	r.SerializeTo(buf)

	got, ok := Deserialize(buf)
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if !bytes.Equal(got.OldTupleData, []byte("before")) {
		t.Errorf("Old image mismatch: %q", got.OldTupleData)
	}
	if !bytes.Equal(got.NewTupleData, []byte("after-image")) {
		t.Errorf("New image mismatch: %q", got.NewTupleData)
	}
}

func TestNewPageRecordRoundTrip(t *testing.T) {
	r := NewNewPageRecord(1, 2, primitives.InvalidPageID, 8)
	r.LSN = 3

	buf := make([]byte, r.Size)
	r.SerializeTo(buf)

	got, ok := Deserialize(buf)
	if !ok {
		t.Fatal("Deserialize failed")
	}
	if got.PrevPageID != primitives.InvalidPageID {
		t.Errorf("Expected invalid prev page id, got %d", got.PrevPageID)
	}
	if got.PageID != 8 {
		t.Errorf("Expected page id 8, got %d", got.PageID)
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	// A zeroed tail never parses as a record.
	if _, ok := Deserialize(make([]byte, 64)); ok {
		t.Error("Zeroed buffer must not deserialize")
	}

	// A truncated header never parses.
	if _, ok := Deserialize(make([]byte, 10)); ok {
		t.Error("Short buffer must not deserialize")
	}

	// A record whose size overruns the buffer never parses.
	r := NewInsertRecord(1, 1, tuple.NewRID(0, 0), []byte("payload"))
	buf := make([]byte, r.Size)
	r.SerializeTo(buf)
	if _, ok := Deserialize(buf[:len(buf)-4]); ok {
		t.Error("Truncated record must not deserialize")
	}
}

func TestConsecutiveRecordsParseInSequence(t *testing.T) {
	records := []*LogRecord{
		NewTxnRecord(BeginRecord, 1, primitives.InvalidLSN),
		NewInsertRecord(1, 1, tuple.NewRID(0, 0), []byte("row")),
		NewTxnRecord(CommitRecord, 1, 2),
	}

	var buf []byte
	for i, r := range records {
		r.LSN = primitives.LSN(i + 1)
		chunk := make([]byte, r.Size)
		r.SerializeTo(chunk)
		buf = append(buf, chunk...)
	}

	offset := 0
	for i := range records {
		got, ok := Deserialize(buf[offset:])
		if !ok {
			t.Fatalf("Record %d failed to parse", i)
		}
		if got.Type != records[i].Type {
			t.Errorf("Record %d: expected type %v, got %v", i, records[i].Type, got.Type)
		}
		offset += int(got.Size)
	}
	if offset != len(buf) {
		t.Errorf("Expected to consume %d bytes, consumed %d", len(buf), offset)
	}
}
