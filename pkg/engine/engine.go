// Package engine implements the storage engine: log writer, buffered
// reader, in-memory index, chain height, and transaction manager,
// exposing set/get/remove/revert/inspect/transaction operations over
// the append-only instruction log.
package engine

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/immux-go/internal/config"
	"github.com/bobboyms/immux-go/internal/diagnostics"
	"github.com/bobboyms/immux-go/internal/lockfile"
	"github.com/bobboyms/immux-go/internal/logging"
	"github.com/bobboyms/immux-go/internal/metrics"
	"github.com/bobboyms/immux-go/pkg/instruction"
	"github.com/bobboyms/immux-go/pkg/txmanager"
	"github.com/bobboyms/immux-go/pkg/walog"
)

// LogFileName is the default name of the log file within a data
// directory, used when a caller constructs a Config without setting
// LogFileName explicitly.
const LogFileName = "store.log"

// Engine is the storage engine. Every public method holds e.mu for its
// whole duration, so calls from several goroutines run one at a time;
// the executor's Worker additionally funnels requests through a single
// goroutine.
type Engine struct {
	mu sync.Mutex // guards against accidental concurrent misuse; not part of the engine's own concurrency story

	writer *walog.Writer
	reader *walog.Reader
	lock   *lockfile.Lock

	logger  logging.Logger
	metrics *metrics.Collectors
	diag    *diagnostics.Reporter

	index  *index
	txmgr  *txmanager.Manager
	height uint64

	// resolveCache memoizes reverse-walk resolutions keyed by
	// resolveCacheKey, so repeated reads through the same
	// RevertOne/RevertAll pointer don't re-walk the log. It is a pure
	// read-side accelerator: nothing durable is derived from it, and a
	// miss always falls back to resolveHistorical.
	resolveCache sync.Map
}

type resolveCacheKey struct {
	key    string
	height uint64
}

type resolveCacheEntry struct {
	value []byte
	ok    bool
}

// Open acquires an exclusive lock on cfg.DirPath, opens the log file
// within it for append and for read, runs the recovery load against
// the existing contents, and sets the chain height to the number of
// instructions consumed.
func Open(cfg config.Config) (*Engine, error) {
	dir := cfg.DirPath

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "engine: ensure data directory")
	}

	lock, err := lockfile.Acquire(dir)
	if err != nil {
		return nil, errors.Wrap(err, "engine: acquire data directory lock")
	}

	logFileName := cfg.LogFileName
	if logFileName == "" {
		logFileName = LogFileName
	}
	path := filepath.Join(dir, logFileName)

	writer, err := walog.NewWriter(path, cfg.WALOptions())
	if err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "engine: open log for append")
	}

	reader, err := walog.NewReader(path)
	if err != nil {
		writer.Close()
		lock.Release()
		return nil, errors.Wrap(err, "engine: open log for read")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	diag, err := diagnostics.NewReporter(cfg.SentryDSN)
	if err != nil {
		writer.Close()
		reader.Close()
		lock.Release()
		return nil, errors.Wrap(err, "engine: init diagnostics reporter")
	}

	eng := &Engine{
		writer:  writer,
		reader:  reader,
		lock:    lock,
		logger:  logger,
		metrics: cfg.Metrics,
		diag:    diag,
		index:   newIndex(),
		txmgr:   txmanager.New(),
	}

	if err := eng.recover(); err != nil {
		writer.Close()
		reader.Close()
		lock.Release()
		return nil, err
	}

	logger.Printf("recovered %d instructions from %s, chain height %d", eng.height, path, eng.height)
	if eng.metrics != nil {
		eng.metrics.ChainHeight.Set(float64(eng.height))
	}

	return eng, nil
}

// recover runs the recovery load against the current log contents.
func (e *Engine) recover() error {
	data, err := e.reader.ReadAll()
	if err != nil {
		return errors.Wrap(err, "engine: read log for recovery")
	}

	records, err := walog.All(data)
	if err != nil {
		err = e.toCorruptLogError(err)
		e.reportCorruption(err)
		return err
	}

	result, err := replay(records, len(records))
	if err != nil {
		e.reportCorruption(err)
		return err
	}

	e.index = result.index
	e.txmgr = result.txmgr
	e.height = result.height
	return nil
}

// toCorruptLogError converts a *walog.CorruptError surfaced by the
// parser into the engine's own *CorruptLogError, preserving offset and
// cause. Errors of any other shape pass through unchanged.
func (e *Engine) toCorruptLogError(err error) error {
	var parseErr *walog.CorruptError
	if errors.As(err, &parseErr) {
		return &CorruptLogError{Offset: parseErr.Offset, Cause: parseErr.Cause}
	}
	return err
}

// reportCorruption forwards a *CorruptLogError to the diagnostics
// reporter and the logger. Any other error, or a nil one, is ignored.
func (e *Engine) reportCorruption(err error) {
	var corrupt *CorruptLogError
	if !errors.As(err, &corrupt) {
		return
	}
	if e.logger != nil {
		e.logger.Printf("corrupt log detected at offset %d: %v", corrupt.Offset, corrupt.Cause)
	}
	if e.diag != nil {
		e.diag.ReportCorruption(corrupt.Offset, corrupt.Cause)
	}
}

// Close flushes and closes the writer and reader handles and releases
// the data directory lock, aggregating any errors encountered.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	record := func(err error, context string) {
		if err == nil {
			return
		}
		wrapped := errors.Wrap(err, context)
		if first == nil {
			first = wrapped
		} else if e.logger != nil {
			e.logger.Printf("close: additional error after %v: %v", first, wrapped)
		}
	}

	record(e.writer.Close(), "engine: close writer")
	record(e.reader.Close(), "engine: close reader")
	record(e.lock.Release(), "engine: release lock")
	return first
}

// Height returns the current chain height: the number of instructions
// successfully applied so far.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

func (e *Engine) checkKeyLength(key []byte) error {
	if len(key) > instruction.MaxKeyLength {
		return &KeyTooLongError{Length: len(key), Max: instruction.MaxKeyLength}
	}
	return nil
}

func (e *Engine) checkRevertTarget(targetHeight uint64) error {
	if targetHeight > e.height {
		return &RevertOutOfRangeError{TargetHeight: targetHeight, CurrentHeight: e.height}
	}
	return nil
}

// observeOp records an operation's outcome and the current live-
// transaction gauge. No-op when metrics collection is disabled.
func (e *Engine) observeOp(operation string, err *error) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveOperation(operation, *err)
	e.metrics.LiveTransactions.Set(float64(e.txmgr.LiveCount()))
}

func (e *Engine) append(instr instruction.Instruction) (walog.Pointer, error) {
	start := time.Now()
	ptr, err := e.writer.Append(instruction.Serialize(instr))
	if e.metrics != nil {
		e.metrics.AppendLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return walog.Pointer{}, errors.Wrap(err, "engine: append instruction")
	}
	if e.height == ^uint64(0) {
		return walog.Pointer{}, &ChainHeightOutOfRangeError{}
	}
	e.height++
	if e.metrics != nil {
		e.metrics.ChainHeight.Set(float64(e.height))
	}
	return ptr, nil
}

// Set writes value under key, optionally within transaction tid.
func (e *Engine) Set(key, value []byte, tid *instruction.TransactionID) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("set", &err)

	if err = e.checkKeyLength(key); err != nil {
		return err
	}
	if tid != nil {
		if err = e.txmgr.Validate(*tid); err != nil {
			return err
		}
	}

	var instr instruction.Instruction
	if tid != nil {
		instr = instruction.TransactionalSet{Key: key, Value: value, TID: *tid}
	} else {
		instr = instruction.Set{Key: key, Value: value}
	}

	ptr, err := e.append(instr)
	if err != nil {
		return err
	}

	if tid != nil {
		e.txmgr.Touch(*tid, string(key))
		e.index.setTentative(string(key), *tid, ptr)
	} else {
		e.index.setCommitted(string(key), ptr)
	}
	return nil
}

// RemoveOne marks key as absent, optionally within transaction tid.
func (e *Engine) RemoveOne(key []byte, tid *instruction.TransactionID) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("remove_one", &err)

	if err = e.checkKeyLength(key); err != nil {
		return err
	}
	if tid != nil {
		if err = e.txmgr.Validate(*tid); err != nil {
			return err
		}
	}

	var instr instruction.Instruction
	if tid != nil {
		instr = instruction.TransactionalRemoveOne{Key: key, TID: *tid}
	} else {
		instr = instruction.RemoveOne{Key: key}
	}

	ptr, err := e.append(instr)
	if err != nil {
		return err
	}

	if tid != nil {
		e.txmgr.Touch(*tid, string(key))
		e.index.setTentative(string(key), *tid, ptr)
	} else {
		e.index.setCommitted(string(key), ptr)
	}
	return nil
}

// RemoveAll clears every key's committed slot. Live transactions'
// shadow slots are untouched.
func (e *Engine) RemoveAll() (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("remove_all", &err)

	if _, err = e.append(instruction.RemoveAll{}); err != nil {
		return err
	}
	e.index.clearCommitted()
	return nil
}

// RevertOne points key's slot at a marker resolved at read time to
// the value it held at targetHeight.
func (e *Engine) RevertOne(key []byte, targetHeight uint64, tid *instruction.TransactionID) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("revert_one", &err)

	if err = e.checkKeyLength(key); err != nil {
		return err
	}
	if err = e.checkRevertTarget(targetHeight); err != nil {
		return err
	}
	if tid != nil {
		if err = e.txmgr.Validate(*tid); err != nil {
			return err
		}
	}

	var instr instruction.Instruction
	if tid != nil {
		instr = instruction.TransactionalRevertOne{Key: key, TargetHeight: instruction.Height(targetHeight), TID: *tid}
	} else {
		instr = instruction.RevertOne{Key: key, TargetHeight: instruction.Height(targetHeight)}
	}

	ptr, err := e.append(instr)
	if err != nil {
		return err
	}

	if tid != nil {
		e.txmgr.Touch(*tid, string(key))
		e.index.setTentative(string(key), *tid, ptr)
	} else {
		e.index.setCommitted(string(key), ptr)
	}
	return nil
}

// RevertAll rewinds the whole store to targetHeight: it appends a
// RevertAll marker, then replays the log prefix [0, targetHeight] to
// rebuild a fresh index and transaction manager, discarding any
// transactions that were live at the time of the revert.
func (e *Engine) RevertAll(targetHeight uint64) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("revert_all", &err)

	if err = e.checkRevertTarget(targetHeight); err != nil {
		return err
	}

	if _, err = e.append(instruction.RevertAll{TargetHeight: instruction.Height(targetHeight)}); err != nil {
		return err
	}

	data, err := e.reader.ReadAll()
	if err != nil {
		return errors.Wrap(err, "engine: read log for revert_all rebuild")
	}
	records, err := walog.All(data)
	if err != nil {
		err = e.toCorruptLogError(err)
		e.reportCorruption(err)
		return err
	}

	prevCounter := e.txmgr.Counter()
	result, err := replay(records, int(targetHeight)+1)
	if err != nil {
		e.reportCorruption(err)
		return err
	}
	// Carry the id counter's high-water mark over to the rebuilt
	// manager so that no transaction id is handed out twice.
	if tid := instruction.TransactionID(prevCounter); tid > 0 && !result.txmgr.IsLive(tid) {
		if err = result.txmgr.AdvanceTo(tid); err != nil {
			return err
		}
		result.txmgr.Forget(tid)
	}
	e.index = result.index
	e.txmgr = result.txmgr
	e.resolveCache = sync.Map{}
	return nil
}

// Get returns the value at key, optionally viewed within transaction
// tid, or absent if the key has no resolvable value.
func (e *Engine) Get(key []byte, tid *instruction.TransactionID) (value []byte, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("get", &err)

	ptr, found := e.index.lookup(string(key), tid)
	if !found {
		return nil, false, nil
	}

	raw, err := e.reader.ReadAt(ptr)
	if err != nil {
		return nil, false, errors.Wrap(err, "engine: read instruction at pointer")
	}

	instr, _, err := instruction.Parse(raw)
	if err != nil {
		return nil, false, errors.Wrap(err, "engine: parse instruction at pointer")
	}

	switch v := instr.(type) {
	case instruction.Set:
		return v.Value, true, nil
	case instruction.TransactionalSet:
		return v.Value, true, nil
	case instruction.RemoveOne, instruction.TransactionalRemoveOne:
		return nil, false, nil
	case instruction.RevertOne:
		return e.resolveRevert(v.Key, uint64(v.TargetHeight))
	case instruction.TransactionalRevertOne:
		return e.resolveRevert(v.Key, uint64(v.TargetHeight))
	default:
		return nil, false, &PointToUnexpectedInstructionError{Key: string(key), Tag: byte(instr.Tag())}
	}
}

func (e *Engine) resolveRevert(key []byte, targetHeight uint64) ([]byte, bool, error) {
	cacheKey := resolveCacheKey{key: string(key), height: targetHeight}
	if cached, found := e.resolveCache.Load(cacheKey); found {
		entry := cached.(resolveCacheEntry)
		return entry.value, entry.ok, nil
	}

	data, err := e.reader.ReadAll()
	if err != nil {
		return nil, false, errors.Wrap(err, "engine: read log for revert resolution")
	}
	records, err := walog.All(data)
	if err != nil {
		err = e.toCorruptLogError(err)
		e.reportCorruption(err)
		return nil, false, err
	}
	value, ok := resolveHistorical(records, key, targetHeight)

	e.resolveCache.Store(cacheKey, resolveCacheEntry{value: value, ok: ok})
	return value, ok, nil
}

// StartTransaction allocates a new transaction id, appends its start
// marker, and returns the id.
func (e *Engine) StartTransaction() (tid instruction.TransactionID, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("start_transaction", &err)

	tid, err = e.txmgr.Start()
	if err != nil {
		return 0, err
	}
	if _, err = e.append(instruction.TransactionStart{TID: tid}); err != nil {
		return 0, err
	}
	return tid, nil
}

// CommitTransaction validates tid, appends its commit marker, and
// promotes every affected key's shadow slot into the committed slot.
func (e *Engine) CommitTransaction(tid instruction.TransactionID) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("commit_transaction", &err)

	if err = e.txmgr.Validate(tid); err != nil {
		return err
	}

	keys, err := e.txmgr.Affected(tid)
	if err != nil {
		return err
	}

	if _, err = e.append(instruction.TransactionCommit{TID: tid}); err != nil {
		return err
	}

	for _, key := range keys {
		e.index.promoteTentative(key, tid)
	}
	e.txmgr.Forget(tid)
	return nil
}

// AbortTransaction validates tid, appends its abort marker, and
// discards every affected key's shadow slot.
func (e *Engine) AbortTransaction(tid instruction.TransactionID) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeOp("abort_transaction", &err)

	if err = e.txmgr.Validate(tid); err != nil {
		return err
	}

	keys, err := e.txmgr.Affected(tid)
	if err != nil {
		return err
	}

	if _, err = e.append(instruction.TransactionAbort{TID: tid}); err != nil {
		return err
	}

	for _, key := range keys {
		e.index.dropTentative(key, tid)
	}
	e.txmgr.Forget(tid)
	return nil
}

// InspectedRecord pairs a decoded instruction with the chain height at
// which it was applied, the unit returned by inspect_all/inspect_one.
type InspectedRecord struct {
	Instruction instruction.Instruction
	Height      uint64
}

// InspectAll returns every instruction in the log, in log order, each
// paired with its height.
func (e *Engine) InspectAll() ([]InspectedRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inspect(nil)
}

// InspectOne returns the instructions in the log that touch
// targetKey, each paired with its height.
func (e *Engine) InspectOne(targetKey []byte) ([]InspectedRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inspect(targetKey)
}

func (e *Engine) inspect(targetKey []byte) ([]InspectedRecord, error) {
	data, err := e.reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "engine: read log for inspect")
	}
	records, err := walog.All(data)
	if err != nil {
		err = e.toCorruptLogError(err)
		e.reportCorruption(err)
		return nil, err
	}

	if targetKey == nil {
		out := make([]InspectedRecord, 0, len(records))
		for i, rec := range records {
			out = append(out, InspectedRecord{Instruction: rec.Instruction, Height: uint64(i)})
		}
		return out, nil
	}

	observed := make(map[string]struct{})
	var out []InspectedRecord

	keyOf := func(k []byte) string { return string(k) }

	for i, rec := range records {
		touches := false

		switch instr := rec.Instruction.(type) {
		case instruction.Set:
			if keyOf(instr.Key) == string(targetKey) {
				touches = true
			}
		case instruction.RemoveOne:
			if keyOf(instr.Key) == string(targetKey) {
				touches = true
			}
		case instruction.RevertOne:
			if keyOf(instr.Key) == string(targetKey) {
				touches = true
			}
		case instruction.TransactionalSet:
			if keyOf(instr.Key) == string(targetKey) {
				touches = true
			}
		case instruction.TransactionalRemoveOne:
			if keyOf(instr.Key) == string(targetKey) {
				touches = true
			}
		case instruction.TransactionalRevertOne:
			if keyOf(instr.Key) == string(targetKey) {
				touches = true
			}
		case instruction.RemoveAll:
			if _, ok := observed[string(targetKey)]; ok {
				touches = true
			}
		case instruction.RevertAll:
			if _, ok := observed[string(targetKey)]; ok {
				touches = true
			}
		}

		if touches {
			observed[string(targetKey)] = struct{}{}
			out = append(out, InspectedRecord{Instruction: rec.Instruction, Height: uint64(i)})
		}
	}

	return out, nil
}
