package wal

import (
	"path/filepath"
	"testing"
	"time"

	"graindb/pkg/log/record"
	"graindb/pkg/primitives"
	"graindb/pkg/storage/disk"
	"graindb/pkg/tuple"
)

func newTestLogManager(t *testing.T) (*LogManager, *disk.DiskManager) {
	t.Helper()
	dm, err := disk.NewDiskManager(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDiskManager failed: %v", err)
	}
	t.Cleanup(dm.ShutDown)
	return NewLogManager(dm, 20*time.Millisecond), dm
}

func TestLogManager_AppendAssignsMonotoneLSNs(t *testing.T) {
	lm, _ := newTestLogManager(t)
	lm.RunFlushThread()
	defer lm.StopFlushThread()

	var last primitives.LSN
	for i := 0; i < 10; i++ {
		r := record.NewTxnRecord(record.BeginRecord, primitives.TxnID(i), primitives.InvalidLSN)
		lsn := lm.AppendLogRecord(r)
		if lsn <= last {
			t.Fatalf("LSN %d not greater than previous %d", lsn, last)
		}
		if r.LSN != lsn {
			t.Errorf("Record LSN %d differs from returned %d", r.LSN, lsn)
		}
		last = lsn
	}
}

func TestLogManager_ForceFlushAdvancesPersistentLSN(t *testing.T) {
	lm, dm := newTestLogManager(t)
	lm.RunFlushThread()
	defer lm.StopFlushThread()

	r := record.NewInsertRecord(1, primitives.InvalidLSN, tuple.NewRID(0, 0), []byte("row"))
	lsn := lm.AppendLogRecord(r)

	lm.Flush(true)

	if lm.PersistentLSN() < lsn {
		t.Errorf("Expected persistent LSN >= %d, got %d", lsn, lm.PersistentLSN())
	}

	buf := make([]byte, primitives.LogBufferSize)
	if !dm.ReadLog(buf, 0) {
		t.Fatal("Expected log bytes on disk")
	}
	got, ok := record.Deserialize(buf)
	if !ok {
		t.Fatal("Flushed record failed to parse")
	}
	if got.LSN != lsn || got.Type != record.InsertRecord {
		t.Errorf("Unexpected record on disk: %v", got)
	}
}

func TestLogManager_TimeoutFlush(t *testing.T) {
	lm, _ := newTestLogManager(t)
	lm.RunFlushThread()
	defer lm.StopFlushThread()

	r := record.NewTxnRecord(record.BeginRecord, 1, primitives.InvalidLSN)
	lsn := lm.AppendLogRecord(r)

	deadline := time.Now().Add(2 * time.Second)
	for lm.PersistentLSN() < lsn {
		if time.Now().After(deadline) {
			t.Fatal("Timeout flush never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogManager_StopFlushesRemaining(t *testing.T) {
	lm, dm := newTestLogManager(t)
	lm.RunFlushThread()

	r := record.NewTxnRecord(record.CommitRecord, 3, 1)
	lm.AppendLogRecord(r)
	lm.StopFlushThread()

	if lm.Enabled() {
		t.Error("Expected logging disabled after stop")
	}
	if dm.LogSize() == 0 {
		t.Error("Expected the final flush to reach disk")
	}
}

func TestLogManager_AppendBlocksUntilBufferDrains(t *testing.T) {
	lm, _ := newTestLogManager(t)
	lm.RunFlushThread()
	defer lm.StopFlushThread()

	// Fill most of the buffer with large records, then append one more;
	// the appender must block until the flusher makes room, not fail.
	payload := make([]byte, primitives.PageSize)
	perRecord := record.NewInsertRecord(1, primitives.InvalidLSN, tuple.NewRID(0, 0), payload).Size
	n := primitives.LogBufferSize/int(perRecord) + 2

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			r := record.NewInsertRecord(1, primitives.InvalidLSN, tuple.NewRID(0, 0), payload)
			lm.AppendLogRecord(r)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Appender deadlocked on a full buffer")
	}
}
