// Package walog implements the append-only instruction log: a single
// file that grows only by append, holding the concatenation of
// serialized instructions starting at byte offset 0, with no header,
// no footer, and no record boundary beyond each instruction's own
// length-prefixed fields.
package walog

import (
	"bufio"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// SyncPolicy selects when the write buffer is flushed and fsync'd.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every append. Safest, slowest.
	SyncEveryWrite SyncPolicy = iota

	// SyncInterval fsyncs on a fixed background tick.
	SyncInterval

	// SyncBatch fsyncs once accumulated unsynced bytes cross a
	// threshold.
	SyncBatch
)

// Options configures a Writer's buffering and durability behavior.
// The engine's fsync policy is an open question in the specification
// (§9); this is the knob that resolves it.
type Options struct {
	BufferSize           int
	SyncPolicy           SyncPolicy
	SyncIntervalDuration time.Duration
	SyncBatchBytes       int64
}

// DefaultOptions returns a conservative, always-consistent policy.
func DefaultOptions() Options {
	return Options{
		BufferSize:           64 * 1024,
		SyncPolicy:           SyncEveryWrite,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
	}
}

// Pointer locates an instruction's bytes within the log file.
type Pointer struct {
	Offset int64
	Length int64
}

// Writer is the engine's single append handle on the log file. Writes
// are the single serialization point of the engine; concurrent callers
// must be externally serialized (the engine does this via its request
// goroutine, not via locks in this type — the mutex here only guards
// against Sync and Close racing a concurrent Append from a caller that
// violates that contract).
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	options Options

	pos        int64
	batchBytes int64

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWriter opens path in append mode, creating it if absent, and
// positions the in-process cursor at the file's current size so that
// subsequent appends continue the existing chain.
func NewWriter(path string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "walog: open for append")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "walog: stat log file")
	}

	w := &Writer{
		file:    f,
		buf:     bufio.NewWriterSize(f, opts.BufferSize),
		options: opts,
		pos:     info.Size(),
		done:    make(chan struct{}),
	}

	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}

	return w, nil
}

// Append writes the full byte sequence to the log, applies the
// configured sync policy, and returns the pointer (offset before the
// write, length written).
func (w *Writer) Append(data []byte) (Pointer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ptr := Pointer{Offset: w.pos, Length: int64(len(data))}

	n, err := w.buf.Write(data)
	if err != nil {
		return Pointer{}, errors.Wrap(err, "walog: append")
	}

	w.pos += int64(n)
	w.batchBytes += int64(n)

	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		if err := w.syncLocked(); err != nil {
			return Pointer{}, err
		}
	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			if err := w.syncLocked(); err != nil {
				return Pointer{}, err
			}
		} else if err := w.buf.Flush(); err != nil {
			// Below the threshold: flush so readers see the bytes,
			// leaving the fsync for when the threshold is crossed.
			return Pointer{}, errors.Wrap(err, "walog: flush")
		}
	default:
		// SyncInterval: flush so readers opened on the same file see
		// the bytes, but leave the fsync to the background ticker.
		if err := w.buf.Flush(); err != nil {
			return Pointer{}, errors.Wrap(err, "walog: flush")
		}
	}

	return ptr, nil
}

// Sync flushes the write buffer and fsyncs the underlying file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "walog: flush")
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "walog: fsync")
	}
	w.batchBytes = 0
	return nil
}

// Offset reports the current write cursor, in bytes.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// Close flushes and fsyncs any remaining buffered bytes, stops the
// background sync goroutine if running, and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync()
		case <-w.done:
			return
		}
	}
}

// Reader provides random-access reads against the log file, used by
// the engine to resolve a single index pointer without re-reading the
// whole log.
type Reader struct {
	mu   sync.Mutex
	file *os.File
}

// NewReader opens path read-only.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "walog: open for read")
	}
	return &Reader{file: f}, nil
}

// ReadAt returns the raw bytes at ptr.
func (r *Reader) ReadAt(ptr Pointer) ([]byte, error) {
	buf := make([]byte, ptr.Length)
	r.mu.Lock()
	_, err := r.file.ReadAt(buf, ptr.Offset)
	r.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "walog: read at pointer")
	}
	return buf, nil
}

// ReadAll returns the full current contents of the log file, for the
// reverse-walk resolver and recovery load, both of which operate over
// a single in-memory snapshot of the log (§9 notes this as the
// optimization point for a future indexed variant).
func (r *Reader) ReadAll() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "walog: seek to start")
	}
	data, err := io.ReadAll(r.file)
	if err != nil {
		return nil, errors.Wrap(err, "walog: read all")
	}
	return data, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
