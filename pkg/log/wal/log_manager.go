// Package wal provides the log manager: a double-buffered write-ahead log
// with a background flusher. Appenders fill one buffer while the flusher
// writes the other, swapping under the manager's mutex.
package wal

import (
	"sync"
	"time"

	"graindb/pkg/log/record"
	"graindb/pkg/primitives"
	"graindb/pkg/storage/disk"
)

// DefaultLogTimeout is how long the flusher sleeps before flushing on its
// own, absent any explicit wakeup.
const DefaultLogTimeout = 100 * time.Millisecond

// LogManager assigns LSNs and buffers log records until the flush
// goroutine writes them out. One mutex guards the buffer, its offset, the
// LSN counters, and the buffer swap.
//
// Invariant (WAL rule): the buffer pool calls Flush(true) before writing
// any dirty page whose LSN exceeds PersistentLSN().
type LogManager struct {
	mutex      sync.Mutex
	appendCond *sync.Cond

	diskManager *disk.DiskManager

	logBuffer   []byte
	flushBuffer []byte
	offset      int

	nextLSN       primitives.LSN
	persistentLSN primitives.LSN

	enabled   bool
	needFlush bool
	timeout   time.Duration

	flushSignal chan struct{}
	stop        chan struct{}
	done        chan struct{}
}

// NewLogManager creates a log manager over the disk manager's log file.
// Logging is off until RunFlushThread is called. LSNs start at 1 so a
// freshly zeroed page (LSN 0) always predates the first record.
func NewLogManager(diskManager *disk.DiskManager, timeout time.Duration) *LogManager {
	if timeout <= 0 {
		timeout = DefaultLogTimeout
	}
	lm := &LogManager{
		diskManager:   diskManager,
		logBuffer:     make([]byte, primitives.LogBufferSize),
		flushBuffer:   make([]byte, primitives.LogBufferSize),
		nextLSN:       1,
		persistentLSN: 0,
		timeout:       timeout,
		flushSignal:   make(chan struct{}, 1),
	}
	lm.appendCond = sync.NewCond(&lm.mutex)
	return lm
}

// RunFlushThread enables logging and starts the background flusher. The
// flusher wakes on the timeout, on a buffer-full signal from an appender,
// or on a forced flush, and runs until StopFlushThread.
func (lm *LogManager) RunFlushThread() {
	lm.mutex.Lock()
	if lm.enabled {
		lm.mutex.Unlock()
		return
	}
	lm.enabled = true
	lm.stop = make(chan struct{})
	lm.done = make(chan struct{})
	stop, done := lm.stop, lm.done
	lm.mutex.Unlock()

	go func() {
		defer close(done)
		timer := time.NewTimer(lm.timeout)
		defer timer.Stop()
		for {
			select {
			case <-stop:
				lm.flushOnce()
				return
			case <-lm.flushSignal:
			case <-timer.C:
			}
			lm.flushOnce()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(lm.timeout)
		}
	}()
}

// StopFlushThread disables logging, flushes the remaining buffer, and
// joins the flusher.
func (lm *LogManager) StopFlushThread() {
	lm.mutex.Lock()
	if !lm.enabled {
		lm.mutex.Unlock()
		return
	}
	lm.enabled = false
	stop, done := lm.stop, lm.done
	lm.mutex.Unlock()

	close(stop)
	<-done
}

// AppendLogRecord assigns the record its LSN and copies it into the log
// buffer, blocking while the buffer is too full to hold it. Returns the
// assigned LSN.
func (lm *LogManager) AppendLogRecord(r *record.LogRecord) primitives.LSN {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	for lm.offset+int(r.Size) >= primitives.LogBufferSize {
		lm.needFlush = true
		lm.signalFlusher()
		lm.appendCond.Wait()
	}

	r.LSN = lm.nextLSN
	lm.nextLSN++
	r.SerializeTo(lm.logBuffer[lm.offset:])
	lm.offset += int(r.Size)
	return r.LSN
}

// Flush wakes the flusher. With force it blocks until every record
// appended so far is durable; without it blocks for one flush cycle.
func (lm *LogManager) Flush(force bool) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.enabled {
		return
	}
	if force {
		lm.needFlush = true
		lm.signalFlusher()
		for lm.needFlush {
			lm.appendCond.Wait()
		}
	} else {
		lm.appendCond.Wait()
	}
}

// PersistentLSN returns the largest LSN known to be on disk.
func (lm *LogManager) PersistentLSN() primitives.LSN {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	return lm.persistentLSN
}

// NextLSN returns the LSN the next appended record will receive.
func (lm *LogManager) NextLSN() primitives.LSN {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	return lm.nextLSN
}

// Enabled reports whether the flusher is running.
func (lm *LogManager) Enabled() bool {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	return lm.enabled
}

// flushOnce swaps the buffers, writes the filled one, advances the
// persistent LSN, and wakes blocked appenders. The disk write happens
// under the mutex, serializing appends against the write; the swap keeps
// the window small in the common case.
func (lm *LogManager) flushOnce() {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.offset > 0 {
		lm.logBuffer, lm.flushBuffer = lm.flushBuffer, lm.logBuffer
		n := lm.offset
		flushedUpTo := lm.nextLSN - 1
		lm.offset = 0

		if err := lm.diskManager.WriteLog(lm.flushBuffer[:n]); err == nil {
			lm.persistentLSN = flushedUpTo
		}
	}
	lm.needFlush = false
	lm.appendCond.Broadcast()
}

// signalFlusher delivers a wakeup without blocking; a pending wakeup is
// enough. The caller holds the mutex.
func (lm *LogManager) signalFlusher() {
	select {
	case lm.flushSignal <- struct{}{}:
	default:
	}
}
